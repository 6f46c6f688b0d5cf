package export

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/nvr-ai/stillcount/immobility"
	"github.com/pkg/errors"
)

// Event table column names.
const (
	ColumnBehavior     = "Behavior"
	ColumnBehaviorType = "Behavior type"
	ColumnTime         = "Time"
	ColumnImageIndex   = "Image index"
)

// EventHeader is the column order of the event log.
var EventHeader = []string{ColumnBehavior, ColumnBehaviorType, ColumnTime, ColumnImageIndex}

// WriteEvents writes event rows as a tab-separated table.
func WriteEvents(w io.Writer, rows []immobility.EventRow) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'

	if err := cw.Write(EventHeader); err != nil {
		return errors.Wrap(err, "write event header")
	}
	for _, r := range rows {
		behavior := r.Behavior
		if behavior == "" {
			behavior = immobility.Behavior
		}
		record := []string{behavior, string(r.Type), formatFloat(r.Time), strconv.Itoa(r.Frame)}
		if err := cw.Write(record); err != nil {
			return errors.Wrapf(err, "write event at frame %d", r.Frame)
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush events")
}

// ReadEvents parses a tab-separated event table. Columns are located by header
// name, so extra columns and reordering are tolerated. Rows whose behavior
// type is neither START nor STOP are skipped, as are rows labelled with a
// behavior other than immobility. A missing or blank Behavior is accepted.
func ReadEvents(r io.Reader) ([]immobility.EventRow, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read event header")
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{ColumnBehaviorType, ColumnImageIndex} {
		if _, ok := cols[required]; !ok {
			return nil, errors.Errorf("event log is missing column %q", required)
		}
	}

	var rows []immobility.EventRow
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read event line %d", line)
		}

		typ := immobility.EventType(strings.ToUpper(strings.TrimSpace(field(record, cols, ColumnBehaviorType))))
		if typ != immobility.EventStart && typ != immobility.EventStop {
			continue
		}

		behavior := strings.TrimSpace(field(record, cols, ColumnBehavior))
		if behavior != "" && !strings.EqualFold(behavior, immobility.Behavior) {
			continue
		}

		frame, err := strconv.Atoi(strings.TrimSpace(field(record, cols, ColumnImageIndex)))
		if err != nil {
			return nil, errors.Wrapf(err, "line %d: image index", line)
		}

		row := immobility.EventRow{
			Behavior: behavior,
			Type:     typ,
			Frame:    frame,
		}
		if s := strings.TrimSpace(field(record, cols, ColumnTime)); s != "" {
			if row.Time, err = strconv.ParseFloat(s, 64); err != nil {
				return nil, errors.Wrapf(err, "line %d: time", line)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteEventsFile writes the event log to path, creating parent directories.
func WriteEventsFile(path string, rows []immobility.EventRow) error {
	return writeFile(path, func(w io.Writer) error { return WriteEvents(w, rows) })
}

// ReadEventsFile parses the event log at path.
func ReadEventsFile(path string) ([]immobility.EventRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	return ReadEvents(f)
}

func field(record []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(record) {
		return ""
	}
	return record[i]
}
