// Package motion - Per-frame changed-pixel signal extracted from a video region.
package motion

import (
	"context"
	"image"
	"math"

	"github.com/nvr-ai/stillcount/images"
	"github.com/nvr-ai/stillcount/logger"
	"github.com/nvr-ai/stillcount/video"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

// ErrInvalidParams is returned for parameters outside their allowed range.
var ErrInvalidParams = errors.New("invalid signal parameters")

const (
	// PreviewRateHz caps how often previews are emitted per second of video.
	PreviewRateHz = 2.0
	// DefaultPreviewStride is used when the frame rate is unknown.
	DefaultPreviewStride = 15
	// DefaultPreviewWidth bounds the width of preview images.
	DefaultPreviewWidth = 480
)

// Params controls signal extraction.
type Params struct {
	// ROI is the monitored region in source pixel coordinates.
	ROI images.ROI
	// BinarizationThreshold: pixel differences strictly above it count as changed.
	BinarizationThreshold int
	// FrameInterval is the sliding window capacity; frames FrameInterval-1 apart are compared.
	FrameInterval int
}

// Validate checks the parameter ranges.
func (p Params) Validate() error {
	if p.BinarizationThreshold < 0 || p.BinarizationThreshold > 255 {
		return errors.Wrapf(ErrInvalidParams, "binarization threshold %d outside [0,255]", p.BinarizationThreshold)
	}
	if p.FrameInterval < 1 {
		return errors.Wrapf(ErrInvalidParams, "frame interval %d must be >= 1", p.FrameInterval)
	}
	return nil
}

// Signal is the raw changed-pixel count per frame.
type Signal struct {
	Values []int
	// FPS is the frame rate declared by the source.
	FPS float64
	// DecodedFrames is how many frames were actually read; the rest of Values is padding.
	DecodedFrames int
}

// Len returns the number of frames in the signal.
func (s Signal) Len() int {
	return len(s.Values)
}

// Preview is a low-rate annotated snapshot emitted during a scan.
type Preview struct {
	Frame int
	Total int
	Image image.Image
}

// PreviewFunc receives previews. It runs on the scanning goroutine.
type PreviewFunc func(Preview)

// ProgressFunc receives the index of the frame just processed and the declared total.
type ProgressFunc func(frame, total int)

// Scanner extracts signals from video handles. The zero value is usable but
// logs nothing.
type Scanner struct {
	Logger       zerolog.Logger
	Preview      PreviewFunc
	PreviewWidth int
	Progress     ProgressFunc
}

// NewScanner creates a scanner that logs to log.
func NewScanner(log zerolog.Logger) *Scanner {
	return &Scanner{
		Logger:       logger.Component(log, "motion"),
		PreviewWidth: DefaultPreviewWidth,
	}
}

// ComputeSignal scans h with a default scanner.
func ComputeSignal(ctx context.Context, h video.Handle, p Params) (Signal, error) {
	return (&Scanner{Logger: zerolog.Nop()}).Scan(ctx, h, p)
}

// ScanFile opens path, scans it and closes it. If the path cannot be opened the
// returned signal is empty and the error wraps video.ErrOpen.
func (s *Scanner) ScanFile(ctx context.Context, path string, sequenceFPS float64, p Params) (Signal, error) {
	h, err := video.Open(path, sequenceFPS)
	if err != nil {
		return Signal{}, err
	}
	defer h.Close()
	return s.Scan(ctx, h, p)
}

// Scan reads h to exhaustion and returns one changed-pixel count per frame.
//
// Each frame's ROI is clamped to that frame's size and converted to grayscale
// before entering the sliding window. Until the window holds FrameInterval
// crops the value is 0; afterwards it is the number of pixels whose absolute
// difference between the oldest and newest crop exceeds the binarization
// threshold. A zero-area region contributes a placeholder and a value of 0.
// When the source ends early the signal is padded with zeros up to its declared
// frame count.
//
// The context is checked before every frame read. On cancellation no signal is
// returned.
//
// Arguments:
//   - ctx: Cancellation for the scan.
//   - h: Frame source, owned by the caller.
//   - p: ROI, binarization threshold and frame interval.
//
// Returns:
//   - Signal: Values per frame plus the source frame rate.
//   - error: ErrInvalidParams, or the context error on cancellation.
func (s *Scanner) Scan(ctx context.Context, h video.Handle, p Params) (Signal, error) {
	if err := p.Validate(); err != nil {
		return Signal{}, err
	}

	fps := h.FPS()
	total := max(h.FrameCount(), 0)
	stride := previewStride(fps)

	frame := gocv.NewMat()
	defer frame.Close()

	win := images.NewDiffWindow(p.FrameInterval, p.BinarizationThreshold)
	defer win.Close()

	values := make([]int, 0, total)
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			s.Logger.Debug().Int("frame", idx).Msg("scan cancelled")
			return Signal{}, errors.Wrapf(err, "scan cancelled at frame %d", idx)
		}
		if !h.Read(&frame) {
			break
		}

		rect := p.ROI.Clamp(frame.Cols(), frame.Rows())
		if idx == 0 {
			if clamped := images.ROIFromRect(rect); clamped != p.ROI {
				s.Logger.Warn().Stringer("roi", p.ROI).Stringer("clamped", clamped).Msg("roi exceeds frame")
			}
		}
		win.Push(images.GrayCrop(frame, rect))
		values = append(values, win.ChangedPixels())

		if s.Preview != nil && idx%stride == 0 {
			s.emitPreview(frame, rect, win, idx, total)
		}
		if s.Progress != nil {
			s.Progress(idx, total)
		}
	}

	decoded := len(values)
	for len(values) < total {
		values = append(values, 0)
	}

	s.Logger.Debug().
		Int("decoded", decoded).
		Int("declared", total).
		Float64("fps", fps).
		Msg("signal computed")

	return Signal{Values: values, FPS: fps, DecodedFrames: decoded}, nil
}

func (s *Scanner) emitPreview(frame gocv.Mat, rect image.Rectangle, win *images.DiffWindow, idx, total int) {
	binary := gocv.NewMat()
	defer binary.Close()
	if win.HasBinary() {
		win.Binary.CopyTo(&binary)
	}

	annotated := images.Annotate(frame, rect, binary)
	defer annotated.Close()

	img, err := images.Thumbnail(annotated, s.PreviewWidth)
	if err != nil {
		s.Logger.Warn().Err(err).Int("frame", idx).Msg("preview conversion failed")
		return
	}
	s.Preview(Preview{Frame: idx, Total: total, Image: img})
}

func previewStride(fps float64) int {
	if fps <= 0 {
		return DefaultPreviewStride
	}
	return max(1, int(math.Round(fps/PreviewRateHz)))
}
