package controller

import (
	"os"

	"github.com/nvr-ai/stillcount/util"
	"github.com/pkg/errors"
)

// Discover turns an input path into jobs.
//
// A file is a single job. A directory containing videos yields one job per
// video in name order. A directory with no videos but with frame images is a
// single image-sequence job.
//
// Arguments:
//   - path: Video file, folder of videos or folder of frames.
//
// Returns:
//   - []Job: Jobs in processing order.
//   - error: If path is missing or holds nothing analysable.
func Discover(path string) ([]Job, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	if !info.IsDir() {
		return []Job{{Subject: util.SubjectName(path), Path: path}}, nil
	}

	videos, err := util.ListVideoFiles(path)
	if err != nil {
		return nil, err
	}
	if len(videos) > 0 {
		jobs := make([]Job, 0, len(videos))
		for _, v := range videos {
			jobs = append(jobs, Job{Subject: util.SubjectName(v), Path: v})
		}
		return jobs, nil
	}

	frames, err := util.LoadDirectoryImageFiles(path)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, errors.Errorf("%s contains no videos or frame images", path)
	}
	return []Job{{Subject: util.SubjectName(path), Path: path}}, nil
}
