package immobility

import (
	"math"

	"github.com/pkg/errors"
)

// ErrInvalidBins is returned when fewer than one bin is requested.
var ErrInvalidBins = errors.New("bin count must be at least 1")

// BinTable holds immobile seconds per equal-length window of a recording.
type BinTable struct {
	// Bins has exactly the requested number of entries.
	Bins []float64 `json:"bins" yaml:"bins"`
	// Remainder covers frames left over after the equal bins. Only meaningful
	// when HasRemainder is set.
	Remainder    float64 `json:"remainder,omitempty" yaml:"remainder,omitempty"`
	HasRemainder bool    `json:"has_remainder" yaml:"has_remainder"`
}

// Values returns the bins followed by the remainder when present.
func (t BinTable) Values() []float64 {
	out := make([]float64, 0, len(t.Bins)+1)
	out = append(out, t.Bins...)
	if t.HasRemainder {
		out = append(out, t.Remainder)
	}
	return out
}

// Sum returns the total seconds across all bins including the remainder.
func (t BinTable) Sum() float64 {
	total := 0.0
	for _, v := range t.Values() {
		total += v
	}
	return total
}

// OffsetFrames converts a time adjustment to a whole number of frames.
func OffsetFrames(adjustSeconds float64, fps float64) int {
	if fps <= 0 || adjustSeconds <= 0 {
		return 0
	}
	return int(math.Floor(adjustSeconds * fps))
}

// Aggregate partitions the mask after the time adjustment into numBins equal
// windows and reports immobile seconds for each.
//
// When the adjusted length does not divide evenly, the leftover frames form a
// remainder bin. A recording shorter than the adjustment yields numBins zeros.
//
// Arguments:
//   - mask: Immobility mask for the whole recording.
//   - numBins: Number of equal bins, at least 1.
//   - fps: Frame rate; 0 makes every bin 0.
//   - adjustSeconds: Leading time to skip before binning.
//
// Returns:
//   - BinTable: Seconds per bin.
//   - error: ErrInvalidBins if numBins < 1.
func Aggregate(mask []bool, numBins int, fps float64, adjustSeconds float64) (BinTable, error) {
	if numBins < 1 {
		return BinTable{}, errors.Wrapf(ErrInvalidBins, "got %d", numBins)
	}

	table := BinTable{Bins: make([]float64, numBins)}

	offset := OffsetFrames(adjustSeconds, fps)
	effective := len(mask) - offset
	if effective <= 0 {
		return table, nil
	}

	size := effective / numBins
	for i := 0; i < numBins; i++ {
		lo := offset + i*size
		hi := offset + (i+1)*size
		table.Bins[i] = FramesToSeconds(countWindow(mask, lo, hi), fps)
	}

	if effective%numBins != 0 {
		lo := clamp(offset+numBins*size, 0, len(mask))
		if lo < len(mask) {
			table.Remainder = FramesToSeconds(countWindow(mask, lo, len(mask)), fps)
			table.HasRemainder = true
		}
	}

	return table, nil
}

func countWindow(mask []bool, lo, hi int) int {
	lo = clamp(lo, 0, len(mask))
	hi = clamp(hi, 0, len(mask))
	if hi <= lo {
		return 0
	}
	return CountTrue(mask[lo:hi])
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
