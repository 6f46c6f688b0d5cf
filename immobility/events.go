package immobility

import (
	"sort"

	"github.com/pkg/errors"
)

// Behavior is the constant behavior label written on every event row.
const Behavior = "immobility"

// EventType marks a row as the beginning or the end of a bout.
type EventType string

const (
	// EventStart opens a bout.
	EventStart EventType = "START"
	// EventStop closes a bout.
	EventStop EventType = "STOP"
)

// ErrUnmatchedStop is returned when a STOP row has no open START to close.
var ErrUnmatchedStop = errors.New("STOP row without an open START")

// EventRow is one line of the persisted event log.
type EventRow struct {
	Behavior string    `json:"behavior"`
	Type     EventType `json:"behavior_type"`
	// Time is Frame divided by the frame rate, or 0 when the rate is 0.
	Time  float64 `json:"time"`
	Frame int     `json:"image_index"`
}

// EncodeEvents expands each event into a START row at its first frame and a STOP
// row at its last frame.
func EncodeEvents(events []Event, fps float64) []EventRow {
	rows := make([]EventRow, 0, len(events)*2)
	for _, e := range events {
		rows = append(rows,
			EventRow{Behavior: Behavior, Type: EventStart, Time: FramesToSeconds(e.Start, fps), Frame: e.Start},
			EventRow{Behavior: Behavior, Type: EventStop, Time: FramesToSeconds(e.Stop, fps), Frame: e.Stop},
		)
	}
	return rows
}

// ReconstructEvents pairs START and STOP rows back into events.
//
// Rows are visited in ascending frame order, with a START placed before a STOP
// on the same frame so single-frame bouts survive any input order. Each
// STOP closes the earliest START that is still open. STARTs left open at the end
// are dropped.
//
// Returns:
//   - []Event: Events in the order their STOP rows were seen.
//   - error: ErrUnmatchedStop when a STOP arrives with nothing open.
func ReconstructEvents(rows []EventRow) ([]Event, error) {
	ordered := make([]EventRow, len(rows))
	copy(ordered, rows)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Frame != ordered[j].Frame {
			return ordered[i].Frame < ordered[j].Frame
		}
		return ordered[i].Type == EventStart && ordered[j].Type == EventStop
	})

	var open []int
	events := make([]Event, 0, len(rows)/2)
	for _, row := range ordered {
		switch row.Type {
		case EventStart:
			open = append(open, row.Frame)
		case EventStop:
			if len(open) == 0 {
				return nil, errors.Wrapf(ErrUnmatchedStop, "frame %d", row.Frame)
			}
			events = append(events, Event{Start: open[0], Stop: row.Frame})
			open = open[1:]
		}
	}
	return events, nil
}

// ReconstructMask rebuilds an immobility mask of the given length from event rows.
// The mask grows if an event reaches past length.
func ReconstructMask(rows []EventRow, length int) ([]bool, error) {
	events, err := ReconstructEvents(rows)
	if err != nil {
		return nil, err
	}
	return MaskFromEvents(events, length), nil
}

// MaskFromEvents marks every frame covered by any event.
func MaskFromEvents(events []Event, length int) []bool {
	for _, e := range events {
		if e.Stop+1 > length {
			length = e.Stop + 1
		}
	}
	mask := make([]bool, max(length, 0))
	for _, e := range events {
		for i := max(e.Start, 0); i <= e.Stop; i++ {
			mask[i] = true
		}
	}
	return mask
}

// FrameSet is the union of all frame indices covered by a list of events.
type FrameSet map[int]struct{}

// NewFrameSet builds the set of frames covered by events.
func NewFrameSet(events []Event) FrameSet {
	set := make(FrameSet)
	for _, e := range events {
		for i := e.Start; i <= e.Stop; i++ {
			set[i] = struct{}{}
		}
	}
	return set
}

// Contains reports whether frame belongs to any event.
func (s FrameSet) Contains(frame int) bool {
	_, ok := s[frame]
	return ok
}
