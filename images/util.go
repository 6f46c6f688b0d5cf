package images

import (
	"crypto/md5"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// ComputeMatChecksum generates a deterministic checksum for a Mat to verify idempotency.
//
// Arguments:
// - mat: The Mat to compute checksum for.
//
// Returns:
// - A hex-encoded MD5 checksum string.
//
// Example:
//
// ```go
//
//	checksum := ComputeMatChecksum(crop)
//	fmt.Printf("Crop checksum: %s\n", checksum)
//
// ```
func ComputeMatChecksum(mat gocv.Mat) string {
	if mat.Empty() {
		return "empty"
	}

	data, err := mat.DataPtrUint8()
	if err != nil {
		return "invalid"
	}
	hash := md5.New()
	hash.Write(data)
	return fmt.Sprintf("%x", hash.Sum(nil))
}

// GrayCrop copies the rect region of frame into a new single-channel Mat.
//
// The caller owns the returned Mat. An empty rect or frame yields an empty Mat,
// which DiffWindow treats as a placeholder.
func GrayCrop(frame gocv.Mat, rect image.Rectangle) gocv.Mat {
	gray := gocv.NewMat()
	if frame.Empty() || rect.Empty() {
		return gray
	}

	region := frame.Region(rect)
	defer region.Close()

	switch frame.Channels() {
	case 1:
		region.CopyTo(&gray)
	case 4:
		gocv.CvtColor(region, &gray, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(region, &gray, gocv.ColorBGRToGray)
	}
	return gray
}
