// Package util - Discovery of input recordings on disk.
package util

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// VideoExtensions lists the container extensions picked up by ListVideoFiles.
var VideoExtensions = []string{".mp4", ".avi", ".mov", ".mkv", ".wmv"}

// ImageExtensions lists the still-image extensions picked up by LoadDirectoryImageFiles.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}

// ImageFile represents an image file.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Data is the raw bytes of the image file.
	Data []byte
	// Frame is the frame number of the image file.
	Frame int
}

// LoadDirectoryImageFiles reads all image files from a directory.
//
// File names are expected to look like "frame-<n>.<ext>" or "<n>.<ext>"; the
// number is the frame index and the result is sorted by it.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []ImageFile: Slice of ImageFile, each containing the raw bytes of an image file.
// - error: Error if loading fails.
func LoadDirectoryImageFiles(dir string) ([]ImageFile, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read directory %s", dir)
	}

	var images []ImageFile
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(file.Name()))
		if !hasExtension(ext, ImageExtensions) {
			continue
		}

		imgPath := filepath.Join(dir, file.Name())
		frame, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(file.Name(), "frame-"), filepath.Ext(file.Name())))
		if err != nil {
			return nil, errors.Wrapf(err, "parse frame index from %s", file.Name())
		}
		data, err := os.ReadFile(imgPath)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", imgPath)
		}
		images = append(images, ImageFile{
			Path:  imgPath,
			Data:  data,
			Frame: frame,
		})
	}

	sort.Slice(images, func(i, j int) bool {
		return images[i].Frame < images[j].Frame
	})

	return images, nil
}

// ListVideoFiles returns the video files directly inside dir, sorted by name.
func ListVideoFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read directory %s", dir)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if hasExtension(strings.ToLower(filepath.Ext(entry.Name())), VideoExtensions) {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// SubjectName derives the subject identifier of a recording from its path:
// the full base name without extension. Dashes are kept, so "m1-day1" and
// "m1-day2" stay separate subjects.
func SubjectName(path string) string {
	base := filepath.Base(filepath.Clean(path))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func hasExtension(ext string, allowed []string) bool {
	for _, a := range allowed {
		if ext == a {
			return true
		}
	}
	return false
}
