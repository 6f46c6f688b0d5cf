package images

import (
	"bytes"
	"strings"

	"github.com/chai2010/webp"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// FrameFormat is the encoding of a still frame on disk.
type FrameFormat int

const (
	// FormatOpenCV covers every encoding gocv.IMDecode understands (JPEG, PNG, BMP).
	FormatOpenCV FrameFormat = iota
	// FormatWebP is decoded in Go since OpenCV builds often lack libwebp.
	FormatWebP
)

// FormatFromExt picks the decoder for a file extension such as ".webp".
func FormatFromExt(ext string) FrameFormat {
	if strings.EqualFold(ext, ".webp") {
		return FormatWebP
	}
	return FormatOpenCV
}

// DecodeFrame decodes an encoded still into a 3-channel Mat.
//
// Arguments:
//   - data: The encoded image bytes.
//   - format: Which decoder to use.
//
// Returns:
//   - gocv.Mat: The decoded frame, owned by the caller.
//   - error: An error if the bytes cannot be decoded.
func DecodeFrame(data []byte, format FrameFormat) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), errors.New("empty image data")
	}

	switch format {
	case FormatWebP:
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return gocv.NewMat(), errors.Wrap(err, "decode webp")
		}
		mat, err := gocv.ImageToMatRGB(img)
		if err != nil {
			return gocv.NewMat(), errors.Wrap(err, "convert webp frame")
		}
		return mat, nil
	default:
		mat, err := gocv.IMDecode(data, gocv.IMReadColor)
		if err != nil {
			return gocv.NewMat(), errors.Wrap(err, "decode image")
		}
		if mat.Empty() {
			mat.Close()
			return gocv.NewMat(), errors.New("decoded image is empty")
		}
		return mat, nil
	}
}
