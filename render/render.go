// Package render - Re-encodes a recording at reduced resolution with a marker
// burned into every frame that belongs to an immobility bout.
package render

import (
	"context"
	"image"
	"image/color"

	"github.com/nvr-ai/stillcount/immobility"
	"github.com/nvr-ai/stillcount/logger"
	"github.com/nvr-ai/stillcount/video"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

// ErrOpenOutput is returned when the output video cannot be created.
var ErrOpenOutput = errors.New("cannot open output video")

const (
	// Scale is the linear downscale factor applied to width and height.
	Scale = 3
	// DefaultCodec is the FourCC used for the output container.
	DefaultCodec = "mp4v"
	// MarkerRadius is the radius in output pixels of the bout marker.
	MarkerRadius = 10
)

var (
	// MarkerCenter is the fixed canvas position of the marker.
	MarkerCenter = image.Pt(20, 20)
	// MarkerColor is the fill of the marker (red in BGR frames).
	MarkerColor = color.RGBA{255, 0, 0, 0}
)

// ProgressFunc receives the index of the frame just written and the declared total.
type ProgressFunc func(frame, total int)

// Renderer writes marked videos.
type Renderer struct {
	Codec string
	// SequenceFPS is the playback rate of frame-image folders opened by RenderFile.
	SequenceFPS float64
	Logger      zerolog.Logger
	Progress    ProgressFunc
}

// NewRenderer creates a renderer using DefaultCodec.
func NewRenderer(log zerolog.Logger) *Renderer {
	return &Renderer{
		Codec:  DefaultCodec,
		Logger: logger.Component(log, "render"),
	}
}

// RenderFile opens src, renders it to dst and closes it. Folders of frame
// images play back at SequenceFPS.
func (r *Renderer) RenderFile(ctx context.Context, src, dst string, events []immobility.Event) error {
	h, err := video.Open(src, r.SequenceFPS)
	if err != nil {
		return err
	}
	defer h.Close()
	return r.Render(ctx, h, dst, events)
}

// Render copies every frame of h to dst at 1/Scale resolution, in order,
// drawing the marker on frames covered by any event.
//
// The output is opened when the first frame arrives, using the first frame's
// size and the source frame rate (video.DefaultSequenceFPS when the source
// declares none). Frames are never dropped or duplicated. On failure or
// cancellation the output is closed with whatever was already written.
//
// Arguments:
//   - ctx: Cancellation, checked once per frame.
//   - h: Source frames, owned by the caller.
//   - dst: Output path; the container is chosen from its extension.
//   - events: Bouts whose frames receive the marker.
//
// Returns:
//   - error: ErrOpenOutput if dst cannot be created or h yields no frames, or
//     the context error.
func (r *Renderer) Render(ctx context.Context, h video.Handle, dst string, events []immobility.Event) error {
	marked := immobility.NewFrameSet(events)
	total := h.FrameCount()
	fps := h.FPS()
	if fps <= 0 {
		fps = video.DefaultSequenceFPS
	}

	codec := r.Codec
	if codec == "" {
		codec = DefaultCodec
	}

	frame := gocv.NewMat()
	defer frame.Close()
	small := gocv.NewMat()
	defer small.Close()

	var writer *gocv.VideoWriter
	defer func() {
		if writer != nil {
			writer.Close()
		}
	}()

	written := 0
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "render cancelled at frame %d", idx)
		}
		if !h.Read(&frame) {
			break
		}

		size := image.Pt(frame.Cols()/Scale, frame.Rows()/Scale)
		if writer == nil {
			w, err := openWriter(dst, codec, fps, size)
			if err != nil {
				return err
			}
			writer = w
		}

		gocv.Resize(frame, &small, size, 0, 0, gocv.InterpolationArea)
		if marked.Contains(idx) {
			gocv.Circle(&small, MarkerCenter, MarkerRadius, MarkerColor, -1)
		}
		if err := writer.Write(small); err != nil {
			return errors.Wrapf(err, "write frame %d", idx)
		}
		written++

		if r.Progress != nil {
			r.Progress(idx, total)
		}
	}
	if written == 0 {
		return errors.Wrapf(ErrOpenOutput, "%s: source has no frames", dst)
	}

	r.Logger.Info().
		Str("output", dst).
		Int("frames", written).
		Int("marked", len(marked)).
		Msg("marked video written")
	return nil
}

func openWriter(dst, codec string, fps float64, size image.Point) (*gocv.VideoWriter, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, errors.Wrapf(ErrOpenOutput, "%s: frame too small for 1/%d scale", dst, Scale)
	}
	w, err := gocv.VideoWriterFile(dst, codec, fps, size.X, size.Y, true)
	if err != nil {
		if w != nil {
			w.Close()
		}
		return nil, errors.Wrapf(ErrOpenOutput, "%s: %v", dst, err)
	}
	if !w.IsOpened() {
		w.Close()
		return nil, errors.Wrapf(ErrOpenOutput, "%s", dst)
	}
	return w, nil
}
