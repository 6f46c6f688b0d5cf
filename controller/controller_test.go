// Package controller - Run controller tests with scripted signal sources
package controller

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nvr-ai/stillcount/config"
	"github.com/nvr-ai/stillcount/immobility"
	"github.com/nvr-ai/stillcount/images"
	"github.com/nvr-ai/stillcount/metrics"
	"github.com/nvr-ai/stillcount/motion"
	"github.com/nvr-ai/stillcount/video"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ SignalSource = (*motion.Scanner)(nil)

// MockSource returns scripted signals keyed by path
type MockSource struct {
	signals map[string]motion.Signal
	errs    map[string]error
	onScan  func(path string)
	scanned []string
}

func (m *MockSource) ScanFile(ctx context.Context, path string, _ float64, _ motion.Params) (motion.Signal, error) {
	m.scanned = append(m.scanned, path)
	if m.onScan != nil {
		m.onScan(path)
	}
	if err := ctx.Err(); err != nil {
		return motion.Signal{}, errors.Wrap(err, "scan cancelled")
	}
	if err, ok := m.errs[path]; ok {
		return motion.Signal{}, err
	}
	return m.signals[path], nil
}

// stateRecorder collects transitions per subject
type stateRecorder struct {
	mu     sync.Mutex
	states map[string][]State
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{states: make(map[string][]State)}
}

func (s *stateRecorder) record(job Job, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[job.Subject] = append(s.states[job.Subject], state)
}

func testParams() Params {
	return Params{
		Signal:              motion.Params{ROI: images.ROI{Width: 10, Height: 10}, BinarizationThreshold: 30, FrameInterval: 2},
		ImmobilityThreshold: 10,
		WindowSize:          3,
		NumBins:             1,
	}
}

func jobs(subjects ...string) []Job {
	out := make([]Job, 0, len(subjects))
	for _, s := range subjects {
		out = append(out, Job{Subject: s, Path: "/videos/" + s + ".mp4"})
	}
	return out
}

func signal(fps float64, values ...int) motion.Signal {
	return motion.Signal{Values: values, FPS: fps, DecodedFrames: len(values)}
}

// TestRunScenarioA checks a single video end to end through the state machine
func TestRunScenarioA(t *testing.T) {
	source := &MockSource{signals: map[string]motion.Signal{
		"/videos/a.mp4": signal(5, 5, 5, 5, 5, 5),
	}}
	rec := newStateRecorder()
	runner := NewRunner(source, testParams(), Options{Logger: zerolog.Nop(), OnState: rec.record})
	store := NewStore()

	report, err := runner.Run(context.Background(), jobs("a"), store)
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.False(t, report.Cancelled)
	assert.Empty(t, report.Failures)
	require.Len(t, report.Results, 1)

	res, ok := store.Get("a")
	require.True(t, ok)
	assert.Equal(t, []bool{true, true, true, false, false}, res.Detection.Mask)
	assert.Equal(t, []immobility.Event{{Start: 0, Stop: 2}}, res.Detection.Events)
	assert.InDelta(t, 0.6, res.Detection.TotalSeconds, 1e-9)
	assert.InDeltaSlice(t, []float64{0.6}, res.Bins.Bins, 1e-9)
	assert.False(t, res.Bins.HasRemainder)

	assert.Equal(t, []State{StateIdle, StateScanning, StateDetecting, StateBinning, StateDone}, rec.states["a"])

	for _, stage := range []string{StageScan, StageDetect, StageBin} {
		assert.Equal(t, 1, report.Stages[stage].Count, stage)
	}
}

// TestRunScenarioD checks that an all-zero signal is a valid, empty result
func TestRunScenarioD(t *testing.T) {
	source := &MockSource{signals: map[string]motion.Signal{
		"/videos/empty_roi.mp4": signal(25, 0, 0, 0, 0),
	}}
	params := testParams()
	params.ImmobilityThreshold = 0

	report, err := NewRunner(source, params, Options{}).Run(context.Background(), jobs("empty_roi"), NewStore())
	require.NoError(t, err)
	require.Len(t, report.Results, 1)

	det := report.Results[0].Detection
	assert.Equal(t, []bool{false, false, false, false}, det.Mask)
	assert.Empty(t, det.Events)
	assert.Equal(t, 0.0, det.TotalSeconds)
}

// TestRunContinuesAfterFailure checks that an unopenable video does not abort the batch
func TestRunContinuesAfterFailure(t *testing.T) {
	source := &MockSource{
		signals: map[string]motion.Signal{
			"/videos/a.mp4": signal(10, 0, 0, 0),
			"/videos/c.mp4": signal(10, 50, 50, 50),
		},
		errs: map[string]error{
			"/videos/b.mp4": errors.Wrap(video.ErrOpen, "/videos/b.mp4"),
		},
	}
	rec := newStateRecorder()
	store := NewStore()

	report, err := NewRunner(source, testParams(), Options{OnState: rec.record}).
		Run(context.Background(), jobs("a", "b", "c"), store)
	require.NoError(t, err)

	assert.False(t, report.Cancelled)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "b", report.Failures[0].Job.Subject)
	assert.True(t, errors.Is(report.Failures[0].Err, video.ErrOpen))

	assert.Equal(t, 2, store.Len())
	assert.Equal(t, []string{"a", "c"}, subjects(store.Results()))
	assert.Equal(t, []State{StateIdle, StateScanning, StateFailed}, rec.states["b"])
	assert.Equal(t, []string{"/videos/a.mp4", "/videos/b.mp4", "/videos/c.mp4"}, source.scanned)
}

// TestRunCancellation checks that cancelling mid-scan keeps finished results and skips the rest
func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &MockSource{
		signals: map[string]motion.Signal{
			"/videos/a.mp4": signal(10, 1, 1, 1, 1),
		},
		onScan: func(path string) {
			if path == "/videos/b.mp4" {
				cancel()
			}
		},
	}
	rec := newStateRecorder()
	store := NewStore()

	report, err := NewRunner(source, testParams(), Options{OnState: rec.record}).
		Run(ctx, jobs("a", "b", "c"), store)
	require.NoError(t, err)

	assert.True(t, report.Cancelled)
	assert.Empty(t, report.Failures)
	assert.Equal(t, []string{"a"}, subjects(report.Results))
	assert.Equal(t, jobs("b", "c"), report.Skipped)

	_, ok := store.Get("a")
	assert.True(t, ok)
	_, ok = store.Get("b")
	assert.False(t, ok)

	assert.Equal(t, []State{StateIdle, StateScanning, StateCancelled}, rec.states["b"])
	assert.NotContains(t, rec.states, "c")
	assert.Equal(t, []string{"/videos/a.mp4", "/videos/b.mp4"}, source.scanned)
}

func TestRunAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := &MockSource{}
	report, err := NewRunner(source, testParams(), Options{}).Run(ctx, jobs("a", "b"), NewStore())
	require.NoError(t, err)

	assert.True(t, report.Cancelled)
	assert.Equal(t, jobs("a", "b"), report.Skipped)
	assert.Empty(t, source.scanned)
}

func TestRunRejectsInvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
		target error
	}{
		{"zero window", func(p *Params) { p.WindowSize = 0 }, immobility.ErrInvalidWindow},
		{"zero bins", func(p *Params) { p.NumBins = 0 }, immobility.ErrInvalidBins},
		{"zero frame interval", func(p *Params) { p.Signal.FrameInterval = 0 }, motion.ErrInvalidParams},
		{"negative adjustment", func(p *Params) { p.TimeAdjustmentSeconds = -1 }, config.ErrInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := testParams()
			tt.mutate(&params)
			source := &MockSource{}

			_, err := NewRunner(source, params, Options{}).Run(context.Background(), jobs("a"), NewStore())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target))
			assert.Empty(t, source.scanned, "no partial computation")
		})
	}
}

func TestRunAsync(t *testing.T) {
	source := &MockSource{signals: map[string]motion.Signal{
		"/videos/a.mp4": signal(10, 0, 0, 0, 0),
		"/videos/b.mp4": signal(10, 0, 0, 0, 0),
	}}
	var completed []string
	runner := NewRunner(source, testParams(), Options{
		OnResult: func(res AnalysisResult) { completed = append(completed, res.Subject) },
	})

	out := runner.RunAsync(context.Background(), jobs("a", "b"), NewStore())
	outcome, ok := <-out
	require.True(t, ok)
	require.NoError(t, outcome.Err)
	assert.Len(t, outcome.Report.Results, 2)
	assert.Equal(t, []string{"a", "b"}, completed)

	_, ok = <-out
	assert.False(t, ok, "channel closed after the outcome")
}

func TestRunMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := &MockSource{
		signals: map[string]motion.Signal{
			"/videos/a.mp4": signal(10, 0, 0, 0, 0, 0),
		},
		errs: map[string]error{"/videos/b.mp4": video.ErrOpen},
		onScan: func(path string) {
			if path == "/videos/c.mp4" {
				cancel()
			}
		},
	}

	_, err := NewRunner(source, testParams(), Options{Metrics: m}).Run(ctx, jobs("a", "b", "c", "d"), NewStore())
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.VideosProcessed.WithLabelValues(metrics.StatusSucceeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VideosProcessed.WithLabelValues(metrics.StatusFailed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.VideosProcessed.WithLabelValues(metrics.StatusSkipped)))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.FramesScanned))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveRuns))
	assert.Equal(t, 3, testutil.CollectAndCount(m.StageDuration))
}

func TestStore(t *testing.T) {
	store := NewStore()
	store.Put(AnalysisResult{Subject: "b", Detection: immobility.Detection{TotalSeconds: 1}})
	store.Put(AnalysisResult{Subject: "a", Detection: immobility.Detection{TotalSeconds: 2}})
	store.Put(AnalysisResult{Subject: "b", Detection: immobility.Detection{TotalSeconds: 3}})

	assert.Equal(t, 2, store.Len())
	assert.Equal(t, []string{"b", "a"}, subjects(store.Results()))

	res, ok := store.Get("b")
	require.True(t, ok)
	assert.Equal(t, 3.0, res.Detection.TotalSeconds)

	rows := store.SummaryRows()
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0].Video)
	assert.Equal(t, 3.0, rows[0].TotalSeconds)
}

func TestAnalysisResultEventRows(t *testing.T) {
	res := AnalysisResult{
		Signal:    signal(4, 0, 0, 0, 0),
		Detection: immobility.Detection{Events: []immobility.Event{{Start: 1, Stop: 2}}},
	}
	rows := res.EventRows()
	require.Len(t, rows, 2)
	assert.Equal(t, immobility.EventStart, rows[0].Type)
	assert.Equal(t, 0.25, rows[0].Time)
	assert.Equal(t, 2, rows[1].Frame)
}

func TestParamsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Analysis.ROI = images.ROI{X: 1, Y: 2, Width: 3, Height: 4}
	cfg.Analysis.TimeAdjustmentSeconds = 7

	p := ParamsFromConfig(cfg)
	assert.Equal(t, cfg.Analysis.ROI, p.Signal.ROI)
	assert.Equal(t, cfg.Analysis.WindowSize, p.WindowSize)
	assert.Equal(t, cfg.Analysis.NumBins, p.NumBins)
	assert.Equal(t, 7.0, p.TimeAdjustmentSeconds)
	assert.Equal(t, cfg.SequenceFPS, p.SequenceFPS)
	assert.NoError(t, p.Validate())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "scanning", StateScanning.String())
	assert.Equal(t, "cancelled", StateCancelled.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"m2.avi", "m1.mp4", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	got, err := Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, []Job{
		{Subject: "m1", Path: filepath.Join(dir, "m1.mp4")},
		{Subject: "m2", Path: filepath.Join(dir, "m2.avi")},
	}, got)

	single, err := Discover(filepath.Join(dir, "m2.avi"))
	require.NoError(t, err)
	assert.Equal(t, []Job{{Subject: "m2", Path: filepath.Join(dir, "m2.avi")}}, single)

	frames := filepath.Join(t.TempDir(), "cage3")
	require.NoError(t, os.MkdirAll(frames, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(frames, "frame-0.png"), []byte("x"), 0o644))
	seq, err := Discover(frames)
	require.NoError(t, err)
	assert.Equal(t, []Job{{Subject: "cage3", Path: frames}}, seq)

	_, err = Discover(t.TempDir())
	assert.Error(t, err, "empty directory")

	_, err = Discover(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func subjects(results []AnalysisResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Subject)
	}
	return out
}
