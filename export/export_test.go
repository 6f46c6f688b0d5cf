package export

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvr-ai/stillcount/immobility"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSummary(t *testing.T) {
	rows := []SummaryRow{
		{Video: "mouse_a", TotalSeconds: 1.5, Bins: immobility.BinTable{Bins: []float64{0.5, 1}}},
		{Video: "mouse_b", TotalSeconds: 2.25, Bins: immobility.BinTable{Bins: []float64{1, 1}, Remainder: 0.25, HasRemainder: true}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, rows))

	expected := strings.Join([]string{
		"video,total_immobility,Bin_1,Bin_2,Bin_remainder",
		"mouse_a,1.5,0.5,1,",
		"mouse_b,2.25,1,1,0.25",
		"",
	}, "\n")
	assert.Equal(t, expected, buf.String())
}

func TestWriteSummaryWithoutRemainder(t *testing.T) {
	rows := []SummaryRow{
		{Video: "mouse_a", TotalSeconds: 1, Bins: immobility.BinTable{Bins: []float64{0.5, 0.5, 0}}},
	}
	assert.Equal(t, []string{"video", "total_immobility", "Bin_1", "Bin_2", "Bin_3"}, SummaryHeader(rows))

	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, rows))
	assert.Equal(t, "video,total_immobility,Bin_1,Bin_2,Bin_3\nmouse_a,1,0.5,0.5,0\n", buf.String())
}

func TestWriteFrames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrames(&buf, []int{0, 12, 3}, []bool{false, false, true}, 2))

	assert.Equal(t, "frame,time,raw_signal,immobile\n0,0,0,0\n1,0.5,12,0\n2,1,3,1\n", buf.String())

	assert.Error(t, WriteFrames(&buf, []int{1}, nil, 2))
}

func TestEventsRoundTrip(t *testing.T) {
	mask := []bool{false, true, true, true, false, false, true, false, true, true}
	rows := immobility.EncodeEvents(immobility.Events(mask), 4)

	var buf bytes.Buffer
	require.NoError(t, WriteEvents(&buf, rows))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, "Behavior\tBehavior type\tTime\tImage index", lines[0])
	assert.Equal(t, "immobility\tSTART\t0.25\t1", lines[1])
	assert.Equal(t, "immobility\tSTOP\t0.75\t3", lines[2])

	parsed, err := ReadEvents(&buf)
	require.NoError(t, err)
	assert.Equal(t, rows, parsed)

	got, err := immobility.ReconstructMask(parsed, len(mask))
	require.NoError(t, err)
	assert.Equal(t, mask, got)
}

func TestReadEventsToleratesExtraColumns(t *testing.T) {
	input := "Subject\tImage index\tBehavior type\tBehavior\tTime\n" +
		"m1\t4\tSTART\timmobility\t\n" +
		"m1\t5\tPOINT\timmobility\t\n" +
		"m1\t9\tstop\timmobility\t0.3\n"

	rows, err := ReadEvents(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []immobility.EventRow{
		{Behavior: "immobility", Type: immobility.EventStart, Frame: 4},
		{Behavior: "immobility", Type: immobility.EventStop, Time: 0.3, Frame: 9},
	}, rows)
}

func TestReadEventsIgnoresOtherBehaviors(t *testing.T) {
	input := "Behavior\tBehavior type\tTime\tImage index\n" +
		"immobility\tSTART\t0.1\t1\n" +
		"grooming\tSTART\t0.2\t2\n" +
		"Immobility\tSTOP\t0.3\t3\n" +
		"grooming\tSTOP\t0.6\t6\n" +
		"\tSTART\t0.8\t8\n" +
		"\tSTOP\t0.9\t9\n"

	rows, err := ReadEvents(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []immobility.EventRow{
		{Behavior: "immobility", Type: immobility.EventStart, Time: 0.1, Frame: 1},
		{Behavior: "Immobility", Type: immobility.EventStop, Time: 0.3, Frame: 3},
		{Type: immobility.EventStart, Time: 0.8, Frame: 8},
		{Type: immobility.EventStop, Time: 0.9, Frame: 9},
	}, rows)

	events, err := immobility.ReconstructEvents(rows)
	require.NoError(t, err)
	assert.Equal(t, []immobility.Event{{Start: 1, Stop: 3}, {Start: 8, Stop: 9}}, events)
}

func TestReadEventsErrors(t *testing.T) {
	_, err := ReadEvents(strings.NewReader("Behavior\tTime\nimmobility\t1\n"))
	assert.Error(t, err, "missing columns")

	_, err = ReadEvents(strings.NewReader("Behavior type\tImage index\nSTART\tabc\n"))
	assert.Error(t, err, "bad index")

	_, err = ReadEvents(strings.NewReader(""))
	assert.Error(t, err, "empty input")
}

func TestFileHelpers(t *testing.T) {
	dir := t.TempDir()
	rows := immobility.EncodeEvents([]immobility.Event{{Start: 2, Stop: 5}}, 10)

	path := filepath.Join(dir, "nested", "mouse.tsv")
	require.NoError(t, WriteEventsFile(path, rows))

	parsed, err := ReadEventsFile(path)
	require.NoError(t, err)
	assert.Equal(t, rows, parsed)

	summary := filepath.Join(dir, "summary.csv")
	require.NoError(t, WriteSummaryFile(summary, []SummaryRow{{Video: "m", Bins: immobility.BinTable{Bins: []float64{0}}}}))
	data, err := os.ReadFile(summary)
	require.NoError(t, err)
	assert.Equal(t, "video,total_immobility,Bin_1\nm,0,0\n", string(data))

	frames := filepath.Join(dir, "frames.csv")
	require.NoError(t, WriteFramesFile(frames, []int{7}, []bool{true}, 0))
	data, err = os.ReadFile(frames)
	require.NoError(t, err)
	assert.Equal(t, "frame,time,raw_signal,immobile\n0,0,7,1\n", string(data))

	_, err = ReadEventsFile(filepath.Join(dir, "missing.tsv"))
	assert.Error(t, err)
}
