// Package immobility - Conversion of a per-frame motion signal into persistent
// immobility bouts, time-binned summaries and START/STOP event rows.
//
// Nothing in this package touches video or native resources; every function is
// a pure transformation of slices so it can be driven from recorded signals as
// well as from a live scan.
package immobility

import (
	"github.com/pkg/errors"
)

// ErrInvalidWindow is returned when the persistence window is smaller than one frame.
var ErrInvalidWindow = errors.New("persistence window must be at least 1 frame")

// Event is one maximal run of immobile frames. Start and Stop are both inclusive
// frame indices.
type Event struct {
	Start int `json:"start" yaml:"start"`
	Stop  int `json:"stop" yaml:"stop"`
}

// Frames returns the number of frames covered by the event.
func (e Event) Frames() int {
	if e.Stop < e.Start {
		return 0
	}
	return e.Stop - e.Start + 1
}

// Detection is the output of Detect for one signal.
type Detection struct {
	// Mask marks frames that belong to a persistent immobility bout.
	Mask []bool
	// Events groups consecutive true entries of Mask in index order.
	Events []Event
	// TotalSeconds is the number of immobile frames divided by the frame rate,
	// or 0 when the frame rate is 0.
	TotalSeconds float64
}

// Detect classifies every frame of a raw changed-pixel signal as immobile or not.
//
// A frame is instantly still when its value is strictly below threshold. A frame
// is immobile when it and the following window-1 frames are all instantly still.
// Frames too close to the end of the signal for the full window to fit are never
// immobile.
//
// Arguments:
//   - raw: Changed-pixel count per frame.
//   - threshold: Strict upper bound for an instantly still frame.
//   - window: Number of consecutive still frames required, at least 1.
//   - fps: Frame rate used to convert frame counts to seconds.
//
// Returns:
//   - Detection: Mask, events and total immobile seconds.
//   - error: ErrInvalidWindow if window < 1.
//
// @example
// det, err := immobility.Detect([]int{5, 5, 5, 5, 5}, 10, 3, 5)
// // det.Mask == [true true true false false], det.TotalSeconds == 0.6
func Detect(raw []int, threshold int, window int, fps float64) (Detection, error) {
	if window < 1 {
		return Detection{}, errors.Wrapf(ErrInvalidWindow, "got %d", window)
	}

	mask := PersistentMask(InstantMask(raw, threshold), window)

	return Detection{
		Mask:         mask,
		Events:       Events(mask),
		TotalSeconds: FramesToSeconds(CountTrue(mask), fps),
	}, nil
}

// InstantMask reports, per frame, whether raw[i] < threshold.
func InstantMask(raw []int, threshold int) []bool {
	still := make([]bool, len(raw))
	for i, v := range raw {
		still[i] = v < threshold
	}
	return still
}

// PersistentMask applies a forward-looking rolling AND of width window.
//
// The scan runs backwards keeping the length of the still run that starts at
// each index, so the cost is O(n) regardless of window.
func PersistentMask(still []bool, window int) []bool {
	mask := make([]bool, len(still))
	if window < 1 {
		return mask
	}

	run := 0
	for i := len(still) - 1; i >= 0; i-- {
		if still[i] {
			run++
		} else {
			run = 0
		}
		mask[i] = run >= window
	}
	return mask
}

// Events groups maximal runs of true values into inclusive [Start, Stop] pairs.
func Events(mask []bool) []Event {
	events := make([]Event, 0)
	start := -1
	for i, v := range mask {
		switch {
		case v && start < 0:
			start = i
		case !v && start >= 0:
			events = append(events, Event{Start: start, Stop: i - 1})
			start = -1
		}
	}
	if start >= 0 {
		events = append(events, Event{Start: start, Stop: len(mask) - 1})
	}
	return events
}

// CountTrue returns the number of true entries.
func CountTrue(mask []bool) int {
	n := 0
	for _, v := range mask {
		if v {
			n++
		}
	}
	return n
}

// FramesToSeconds divides a frame count by fps. A zero or negative fps yields 0.
func FramesToSeconds(frames int, fps float64) float64 {
	if fps <= 0 {
		return 0.0
	}
	return float64(frames) / fps
}
