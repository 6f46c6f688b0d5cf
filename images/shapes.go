// Package images - Region of interest geometry and the gocv primitives used to
// turn video frames into a changed-pixel signal.
package images

import (
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ROI is an axis-aligned rectangle in source-video pixel coordinates.
type ROI struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Rect returns the ROI as an image.Rectangle (max corner exclusive).
func (r ROI) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Area is Width*Height, or 0 for a degenerate ROI.
func (r ROI) Area() int {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// Clamp intersects the ROI with a frame of the given size.
//
// The intersection corners are the maximum of the minimum corners and the
// minimum of the maximum corners. When the two do not overlap the result has
// zero width or height, which is a valid degenerate region rather than an error.
//
// Arguments:
//   - width: Frame width in pixels.
//   - height: Frame height in pixels.
//
// Returns:
//   - image.Rectangle: The clamped region, possibly empty.
//
// @example
// roi := images.ROI{X: 600, Y: 400, Width: 100, Height: 100}
// rect := roi.Clamp(640, 480) // (600,400)-(640,480)
func (r ROI) Clamp(width, height int) image.Rectangle {
	x1 := clampInt(r.X, 0, width)
	y1 := clampInt(r.Y, 0, height)
	x2 := clampInt(r.X+max(r.Width, 0), 0, width)
	y2 := clampInt(r.Y+max(r.Height, 0), 0, height)

	if x2 < x1 {
		x2 = x1
	}
	if y2 < y1 {
		y2 = y1
	}
	return image.Rect(x1, y1, x2, y2)
}

// ParseROI parses "x,y,width,height".
func ParseROI(s string) (ROI, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return ROI{}, errors.Errorf("roi %q: want x,y,width,height", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return ROI{}, errors.Wrapf(err, "roi %q", s)
		}
		v[i] = n
	}
	return ROI{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}

// String formats the ROI the way ParseROI reads it.
func (r ROI) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", r.X, r.Y, r.Width, r.Height)
}

// ROIFromRect converts an image.Rectangle to an ROI.
func ROIFromRect(rect image.Rectangle) ROI {
	rect = rect.Canon()
	return ROI{X: rect.Min.X, Y: rect.Min.Y, Width: rect.Dx(), Height: rect.Dy()}
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
