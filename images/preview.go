package images

import (
	"image"
	"image/color"

	"github.com/nfnt/resize"
	"gocv.io/x/gocv"
)

var (
	// ROIColor outlines the region of interest on previews.
	ROIColor = color.RGBA{0, 255, 0, 0}
)

// Annotate returns a copy of frame with the region outlined and, when binary is
// non-empty and matches the region size, the binary mask blended over the
// region at 50% opacity.
//
// The caller owns the returned Mat.
func Annotate(frame gocv.Mat, rect image.Rectangle, binary gocv.Mat) gocv.Mat {
	out := frame.Clone()
	if out.Empty() {
		return out
	}
	if out.Channels() == 1 {
		gocv.CvtColor(frame, &out, gocv.ColorGrayToBGR)
	}
	if rect.Empty() {
		return out
	}

	if !binary.Empty() && binary.Rows() == rect.Dy() && binary.Cols() == rect.Dx() {
		overlay := gocv.NewMat()
		defer overlay.Close()
		gocv.CvtColor(binary, &overlay, gocv.ColorGrayToBGR)

		region := out.Region(rect)
		defer region.Close()

		blended := gocv.NewMat()
		defer blended.Close()
		gocv.AddWeighted(region, 0.5, overlay, 0.5, 0, &blended)
		blended.CopyTo(&region)
	}

	gocv.Rectangle(&out, rect, ROIColor, 2)
	return out
}

// Thumbnail converts mat to an image.Image no wider than maxWidth, keeping the
// aspect ratio. A maxWidth of 0 disables resizing.
func Thumbnail(mat gocv.Mat, maxWidth int) (image.Image, error) {
	img, err := mat.ToImage()
	if err != nil {
		return nil, err
	}
	if maxWidth <= 0 || img.Bounds().Dx() <= maxWidth {
		return img, nil
	}
	return resize.Resize(uint(maxWidth), 0, img, resize.Bilinear), nil
}
