// Package export - Tabular writers and readers for analysis results.
//
// Three tables are produced: a per-run summary (one row per video), a
// tab-separated START/STOP event table, and a per-frame signal table.
package export

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/nvr-ai/stillcount/immobility"
	"github.com/pkg/errors"
)

// Column names of the summary table.
const (
	ColumnVideo     = "video"
	ColumnTotal     = "total_immobility"
	ColumnRemainder = "Bin_remainder"
)

// SummaryRow is one video of the run summary.
type SummaryRow struct {
	Video        string
	TotalSeconds float64
	Bins         immobility.BinTable
}

// SummaryHeader builds the header for rows: video, total_immobility, Bin_1..Bin_N
// and Bin_remainder when any row has a remainder.
func SummaryHeader(rows []SummaryRow) []string {
	bins := 0
	remainder := false
	for _, r := range rows {
		bins = max(bins, len(r.Bins.Bins))
		remainder = remainder || r.Bins.HasRemainder
	}

	header := []string{ColumnVideo, ColumnTotal}
	for i := 1; i <= bins; i++ {
		header = append(header, "Bin_"+strconv.Itoa(i))
	}
	if remainder {
		header = append(header, ColumnRemainder)
	}
	return header
}

// WriteSummary writes rows as CSV. Cells for bins a row does not have are left empty.
func WriteSummary(w io.Writer, rows []SummaryRow) error {
	header := SummaryHeader(rows)
	bins := len(header) - 2
	withRemainder := len(header) > 0 && header[len(header)-1] == ColumnRemainder
	if withRemainder {
		bins--
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, "write summary header")
	}
	for _, r := range rows {
		record := make([]string, 0, len(header))
		record = append(record, r.Video, formatFloat(r.TotalSeconds))
		for i := 0; i < bins; i++ {
			if i < len(r.Bins.Bins) {
				record = append(record, formatFloat(r.Bins.Bins[i]))
			} else {
				record = append(record, "")
			}
		}
		if withRemainder {
			if r.Bins.HasRemainder {
				record = append(record, formatFloat(r.Bins.Remainder))
			} else {
				record = append(record, "")
			}
		}
		if err := cw.Write(record); err != nil {
			return errors.Wrapf(err, "write summary row %s", r.Video)
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush summary")
}

// WriteFrames writes one row per frame: index, time in seconds, raw signal and
// 0/1 immobility flag. raw and mask must have the same length.
func WriteFrames(w io.Writer, raw []int, mask []bool, fps float64) error {
	if len(raw) != len(mask) {
		return errors.Errorf("signal has %d frames but mask has %d", len(raw), len(mask))
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"frame", "time", "raw_signal", "immobile"}); err != nil {
		return errors.Wrap(err, "write frames header")
	}
	for i := range raw {
		immobile := "0"
		if mask[i] {
			immobile = "1"
		}
		record := []string{
			strconv.Itoa(i),
			formatFloat(immobility.FramesToSeconds(i, fps)),
			strconv.Itoa(raw[i]),
			immobile,
		}
		if err := cw.Write(record); err != nil {
			return errors.Wrapf(err, "write frame %d", i)
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush frames")
}

// WriteSummaryFile writes the summary CSV to path, creating parent directories.
func WriteSummaryFile(path string, rows []SummaryRow) error {
	return writeFile(path, func(w io.Writer) error { return WriteSummary(w, rows) })
}

// WriteFramesFile writes the per-frame CSV to path, creating parent directories.
func WriteFramesFile(path string, raw []int, mask []bool, fps float64) error {
	return writeFile(path, func(w io.Writer) error { return WriteFrames(w, raw, mask, fps) })
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "close %s", path)
		}
	}()
	return write(f)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
