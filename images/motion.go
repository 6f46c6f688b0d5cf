// Package images - This file contains the sliding-window frame differencing
// used to measure motion inside a region of interest.
//
// The DiffWindow keeps the last N grayscale crops. Once full, the oldest and
// newest crops are compared:
//
// ┌────────────────────┐
// │ Grayscale ROI crop │
// └──────┬─────────────┘
// ┌────────────────────────────────────┐
// │ FIFO window (capacity = interval)  │
// └──────┬─────────────────────────────┘
// ┌────────────────────────────┐
// │ AbsDiff(oldest, newest)    │
// └──────┬─────────────────────┘
// ┌────────────────────────────┐
// │ Thresholding (binary mask) │
// └──────┬─────────────────────┘
// ┌────────────────────────────┐
// │ CountNonZero               │
// └────────────────────────────┘
//
// Usage:
//
//	win := images.NewDiffWindow(5, 30)
//	defer win.Close()
//
//	for {
//	    win.Push(images.GrayCrop(frame, rect))
//	    changed := win.ChangedPixels()
//	}
//
// Note: You must call Close() when finished to release native resources.
package images

import "gocv.io/x/gocv"

// DiffWindow is a fixed-capacity FIFO of grayscale crops. It owns every Mat
// pushed into it.
type DiffWindow struct {
	Diff   gocv.Mat // Absolute difference of oldest and newest crop
	Binary gocv.Mat // Thresholded difference

	capacity  int
	threshold float32
	frames    []gocv.Mat
	hasBinary bool
}

// NewDiffWindow creates a window comparing frames capacity-1 apart. Pixels whose
// absolute difference is strictly greater than threshold count as changed.
// A capacity below 1 is treated as 1.
func NewDiffWindow(capacity int, threshold int) *DiffWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &DiffWindow{
		Diff:      gocv.NewMat(),
		Binary:    gocv.NewMat(),
		capacity:  capacity,
		threshold: float32(threshold),
		frames:    make([]gocv.Mat, 0, capacity),
	}
}

// Push appends a crop, evicting the oldest one when the window is full. An empty
// Mat is a valid placeholder for a frame whose region had zero area.
func (w *DiffWindow) Push(crop gocv.Mat) {
	if len(w.frames) == w.capacity {
		w.frames[0].Close()
		copy(w.frames, w.frames[1:])
		w.frames = w.frames[:len(w.frames)-1]
	}
	w.frames = append(w.frames, crop)
}

// Len returns the number of crops currently held.
func (w *DiffWindow) Len() int {
	return len(w.frames)
}

// Full reports whether the window holds exactly capacity crops.
func (w *DiffWindow) Full() bool {
	return len(w.frames) == w.capacity
}

// ChangedPixels returns the number of pixels that differ by more than the
// threshold between the oldest and newest crop.
//
// Returns 0 before the window is full, when either end is a placeholder, or when
// the two crops have different sizes.
func (w *DiffWindow) ChangedPixels() int {
	w.hasBinary = false
	if !w.Full() {
		return 0
	}

	oldest := w.frames[0]
	newest := w.frames[len(w.frames)-1]
	if oldest.Empty() || newest.Empty() {
		return 0
	}
	if oldest.Rows() != newest.Rows() || oldest.Cols() != newest.Cols() {
		return 0
	}

	gocv.AbsDiff(oldest, newest, &w.Diff)
	gocv.Threshold(w.Diff, &w.Binary, w.threshold, 255, gocv.ThresholdBinary)
	w.hasBinary = true

	return gocv.CountNonZero(w.Binary)
}

// HasBinary reports whether Binary holds the mask of the last ChangedPixels call.
func (w *DiffWindow) HasBinary() bool {
	return w.hasBinary
}

// Reset drops every crop while keeping the scratch matrices.
func (w *DiffWindow) Reset() {
	for _, m := range w.frames {
		m.Close()
	}
	w.frames = w.frames[:0]
	w.hasBinary = false
}

// Close releases all OpenCV native resources used by the window.
func (w *DiffWindow) Close() {
	w.Reset()
	w.Diff.Close()
	w.Binary.Close()
}
