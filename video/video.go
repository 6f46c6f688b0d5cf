// Package video - Sequential frame sources backed by gocv.
//
// A Handle yields frames in increasing index order until it is exhausted. Two
// implementations are provided: Capture wraps a gocv.VideoCapture over a file,
// and Sequence replays a directory of numbered still images at a fixed rate.
package video

import (
	"os"
	"path/filepath"

	"github.com/nvr-ai/stillcount/images"
	"github.com/nvr-ai/stillcount/util"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ErrOpen is returned when a recording cannot be opened for reading.
var ErrOpen = errors.New("cannot open video")

// DefaultSequenceFPS is the frame rate assumed for image sequences when none is given.
const DefaultSequenceFPS = 30.0

// Handle is an opaque, sequentially readable source of frames.
type Handle interface {
	// Read decodes the next frame into dst and reports whether a frame was produced.
	Read(dst *gocv.Mat) bool
	// FPS is the declared frame rate. It may be 0.
	FPS() float64
	// FrameCount is the declared, possibly approximate, number of frames.
	FrameCount() int
	// Close releases the underlying resources.
	Close() error
}

// Open opens path as a Handle. Directories are read as image sequences played
// back at sequenceFPS (DefaultSequenceFPS when <= 0); anything else goes
// through gocv.VideoCapture.
func Open(path string, sequenceFPS float64) (Handle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(ErrOpen, "%s: %v", path, err)
	}
	if info.IsDir() {
		return OpenSequence(path, sequenceFPS)
	}
	return OpenCapture(path)
}

// Capture reads frames from a video file.
type Capture struct {
	cap    *gocv.VideoCapture
	fps    float64
	frames int
}

// OpenCapture opens a video file with gocv.
//
// Arguments:
//   - path: Path of the video file.
//
// Returns:
//   - *Capture: The opened capture; call Close when done.
//   - error: ErrOpen wrapped with the cause if the file cannot be decoded.
//
// @example
// vc, err := video.OpenCapture("mouse_01.mp4")
// if err != nil {
//     return err
// }
// defer vc.Close()
func OpenCapture(path string) (*Capture, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		if vc != nil {
			vc.Close()
		}
		return nil, errors.Wrapf(ErrOpen, "%s: %v", path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, errors.Wrapf(ErrOpen, "%s", path)
	}

	fps := vc.Get(gocv.VideoCaptureFPS)
	if fps < 0 {
		fps = 0
	}
	frames := int(vc.Get(gocv.VideoCaptureFrameCount))
	if frames < 0 {
		frames = 0
	}

	return &Capture{cap: vc, fps: fps, frames: frames}, nil
}

// Read implements Handle.
func (c *Capture) Read(dst *gocv.Mat) bool {
	if ok := c.cap.Read(dst); !ok {
		return false
	}
	return !dst.Empty()
}

// FPS implements Handle.
func (c *Capture) FPS() float64 { return c.fps }

// FrameCount implements Handle.
func (c *Capture) FrameCount() int { return c.frames }

// Close implements Handle.
func (c *Capture) Close() error {
	return c.cap.Close()
}

// Sequence replays numbered still images as frames.
type Sequence struct {
	files []util.ImageFile
	fps   float64
	next  int
}

// OpenSequence loads every numbered image in dir. Frames are produced in
// ascending frame-number order; gaps in numbering are not filled.
func OpenSequence(dir string, fps float64) (*Sequence, error) {
	files, err := util.LoadDirectoryImageFiles(dir)
	if err != nil {
		return nil, errors.Wrapf(ErrOpen, "%s: %v", dir, err)
	}
	if len(files) == 0 {
		return nil, errors.Wrapf(ErrOpen, "%s: no image frames", dir)
	}
	if fps <= 0 {
		fps = DefaultSequenceFPS
	}
	return &Sequence{files: files, fps: fps}, nil
}

// Read implements Handle. An image that fails to decode ends the sequence.
func (s *Sequence) Read(dst *gocv.Mat) bool {
	if s.next >= len(s.files) {
		return false
	}
	f := s.files[s.next]
	mat, err := images.DecodeFrame(f.Data, images.FormatFromExt(filepath.Ext(f.Path)))
	s.next++
	if err != nil {
		mat.Close()
		s.next = len(s.files)
		return false
	}
	defer mat.Close()
	mat.CopyTo(dst)
	return true
}

// FPS implements Handle.
func (s *Sequence) FPS() float64 { return s.fps }

// FrameCount implements Handle.
func (s *Sequence) FrameCount() int { return len(s.files) }

// Close implements Handle.
func (s *Sequence) Close() error {
	s.files = nil
	return nil
}
