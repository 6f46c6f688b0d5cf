// Package controller - This file contains the run controller that drives videos through signal
// extraction, immobility detection and binning, one video at a time.
package controller

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nvr-ai/stillcount/config"
	"github.com/nvr-ai/stillcount/immobility"
	"github.com/nvr-ai/stillcount/logger"
	"github.com/nvr-ai/stillcount/metrics"
	"github.com/nvr-ai/stillcount/motion"
	"github.com/nvr-ai/stillcount/profiler"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrCancelled wraps the error of a video whose scan was interrupted.
var ErrCancelled = errors.New("analysis cancelled")

// Stage names used for profiling and metrics.
const (
	StageScan   = "scan"
	StageDetect = "detect"
	StageBin    = "bin"
)

// State is the position of one video in the analysis state machine.
type State int

const (
	// StateIdle is the state before any frame is read.
	StateIdle State = iota
	// StateScanning is reading frames into a raw signal.
	StateScanning
	// StateDetecting is applying the persistence filter.
	StateDetecting
	// StateBinning is splitting the mask into time bins.
	StateBinning
	// StateDone means the result has been stored.
	StateDone
	// StateCancelled is only reachable from StateScanning.
	StateCancelled
	// StateFailed means the video could not be opened or analysed.
	StateFailed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateDetecting:
		return "detecting"
	case StateBinning:
		return "binning"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SignalSource produces the raw signal of one video. *motion.Scanner satisfies it.
type SignalSource interface {
	ScanFile(ctx context.Context, path string, sequenceFPS float64, p motion.Params) (motion.Signal, error)
}

// Params are the analysis parameters shared by every video of a run.
type Params struct {
	Signal                motion.Params
	ImmobilityThreshold   int
	WindowSize            int
	NumBins               int
	TimeAdjustmentSeconds float64
	// SequenceFPS is the frame rate of image-sequence inputs.
	SequenceFPS float64
}

// ParamsFromConfig extracts run parameters from a validated configuration.
func ParamsFromConfig(cfg config.Config) Params {
	return Params{
		Signal:                cfg.Analysis.SignalParams(),
		ImmobilityThreshold:   cfg.Analysis.ImmobilityThreshold,
		WindowSize:            cfg.Analysis.WindowSize,
		NumBins:               cfg.Analysis.NumBins,
		TimeAdjustmentSeconds: cfg.Analysis.TimeAdjustmentSeconds,
		SequenceFPS:           cfg.SequenceFPS,
	}
}

// Validate rejects parameters that would make every video fail.
func (p Params) Validate() error {
	if err := p.Signal.Validate(); err != nil {
		return err
	}
	if p.WindowSize < 1 {
		return errors.Wrapf(immobility.ErrInvalidWindow, "window size %d", p.WindowSize)
	}
	if p.NumBins < 1 {
		return errors.Wrapf(immobility.ErrInvalidBins, "bin count %d", p.NumBins)
	}
	if p.ImmobilityThreshold < 0 || p.TimeAdjustmentSeconds < 0 {
		return errors.Wrapf(config.ErrInvalid, "immobility threshold %d and time adjustment %v must be >= 0",
			p.ImmobilityThreshold, p.TimeAdjustmentSeconds)
	}
	return nil
}

// Job is one video to analyse.
type Job struct {
	// Subject identifies the animal or recording in exports.
	Subject string
	// Path is a video file or a directory of frame images.
	Path string
}

// Failure records why one video produced no result.
type Failure struct {
	Job Job
	Err error
}

// Report summarises a run. Results holds the videos completed by this run in
// processing order.
type Report struct {
	RunID     string
	Results   []AnalysisResult
	Failures  []Failure
	Skipped   []Job
	Cancelled bool
	Stages    map[string]profiler.StageStats
	Duration  time.Duration
}

// Outcome is delivered by RunAsync.
type Outcome struct {
	Report Report
	Err    error
}

// StateFunc observes state transitions. It runs on the worker goroutine.
type StateFunc func(job Job, state State)

// Options are the optional collaborators of a Runner.
type Options struct {
	Logger zerolog.Logger
	// Metrics may be nil.
	Metrics *metrics.Metrics
	// OnState may be nil.
	OnState StateFunc
	// OnResult is called after each completed video, before the next starts.
	OnResult func(AnalysisResult)
}

// Runner processes videos strictly sequentially.
type Runner struct {
	source   SignalSource
	params   Params
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	profiler *profiler.StageProfiler
	onState  StateFunc
	onResult func(AnalysisResult)
}

// NewRunner creates a runner.
//
// Arguments:
//   - source: Produces the raw signal for each video.
//   - params: Analysis parameters applied to every video.
//   - opts: Logger, metrics and callbacks.
//
// Returns:
//   - *Runner: The runner.
//
// @example
// runner := controller.NewRunner(motion.NewScanner(log), params, controller.Options{Logger: log})
// report, err := runner.Run(ctx, jobs, controller.NewStore())
func NewRunner(source SignalSource, params Params, opts Options) *Runner {
	var observe profiler.Observer
	if opts.Metrics != nil {
		observe = opts.Metrics.ObserveStage
	}
	return &Runner{
		source:   source,
		params:   params,
		logger:   logger.Component(opts.Logger, "controller"),
		metrics:  opts.Metrics,
		profiler: profiler.New(observe),
		onState:  opts.OnState,
		onResult: opts.OnResult,
	}
}

// Profiler exposes the stage timings accumulated by the runner.
func (r *Runner) Profiler() *profiler.StageProfiler {
	return r.profiler
}

// Run analyses jobs in order and stores each completed result in store.
//
// A video that cannot be opened or analysed is recorded as a failure and the
// batch continues. Cancelling ctx stops the current scan; that video and every
// later one are reported as skipped while results already stored stay intact.
// Cancellation is reported through Report.Cancelled, not as an error.
//
// Arguments:
//   - ctx: Cancellation for the whole batch.
//   - jobs: Videos in processing order.
//   - store: Receives results; owned by the caller.
//
// Returns:
//   - Report: Per-run outcome.
//   - error: Only for invalid parameters, before any video is touched.
func (r *Runner) Run(ctx context.Context, jobs []Job, store *Store) (Report, error) {
	if err := r.params.Validate(); err != nil {
		return Report{}, err
	}

	start := time.Now()
	report := Report{RunID: uuid.NewString()}
	log := r.logger.With().Str("run_id", report.RunID).Logger()
	log.Info().Int("videos", len(jobs)).Msg("run started")

	if r.metrics != nil {
		r.metrics.ActiveRuns.Inc()
		defer r.metrics.ActiveRuns.Dec()
	}

	for i, job := range jobs {
		if ctx.Err() != nil {
			r.skip(&report, jobs[i:])
			break
		}

		res, err := r.Analyze(ctx, job)
		if errors.Is(err, ErrCancelled) {
			r.skip(&report, jobs[i:])
			break
		}
		if err != nil {
			log.Error().Err(err).Str("video", job.Subject).Msg("video failed")
			report.Failures = append(report.Failures, Failure{Job: job, Err: err})
			r.countVideo(metrics.StatusFailed, 1)
			continue
		}

		store.Put(res)
		report.Results = append(report.Results, res)
		r.countVideo(metrics.StatusSucceeded, 1)
		if r.onResult != nil {
			r.onResult(res)
		}
	}

	report.Stages = r.profiler.Snapshot()
	report.Duration = time.Since(start)

	log.Info().
		Int("completed", len(report.Results)).
		Int("failed", len(report.Failures)).
		Int("skipped", len(report.Skipped)).
		Bool("cancelled", report.Cancelled).
		Dur("duration", report.Duration).
		Msg("run finished")

	return report, nil
}

// RunAsync runs the batch on its own goroutine. The channel receives exactly one
// Outcome and is then closed.
func (r *Runner) RunAsync(ctx context.Context, jobs []Job, store *Store) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		report, err := r.Run(ctx, jobs, store)
		out <- Outcome{Report: report, Err: err}
	}()
	return out
}

// Analyze runs one video through scanning, detection and binning.
//
// Returns:
//   - AnalysisResult: The complete result bundle.
//   - error: ErrCancelled when ctx ended during the scan, otherwise the open or
//     parameter error. Degenerate inputs never fail.
func (r *Runner) Analyze(ctx context.Context, job Job) (AnalysisResult, error) {
	log := r.logger.With().Str("video", job.Subject).Logger()
	started := time.Now()
	r.transition(job, StateIdle)

	r.transition(job, StateScanning)
	done := r.profiler.StartOperation(StageScan)
	sig, err := r.source.ScanFile(ctx, job.Path, r.params.SequenceFPS, r.params.Signal)
	done()
	if err != nil {
		if ctx.Err() != nil {
			r.transition(job, StateCancelled)
			log.Warn().Msg("scan cancelled")
			return AnalysisResult{}, errors.Wrapf(ErrCancelled, "%s: %v", job.Subject, err)
		}
		r.transition(job, StateFailed)
		return AnalysisResult{}, errors.Wrapf(err, "scan %s", job.Subject)
	}
	if r.metrics != nil {
		r.metrics.FramesScanned.Add(float64(sig.Len()))
	}

	r.transition(job, StateDetecting)
	done = r.profiler.StartOperation(StageDetect)
	det, err := immobility.Detect(sig.Values, r.params.ImmobilityThreshold, r.params.WindowSize, sig.FPS)
	done()
	if err != nil {
		r.transition(job, StateFailed)
		return AnalysisResult{}, errors.Wrapf(err, "detect %s", job.Subject)
	}

	r.transition(job, StateBinning)
	done = r.profiler.StartOperation(StageBin)
	bins, err := immobility.Aggregate(det.Mask, r.params.NumBins, sig.FPS, r.params.TimeAdjustmentSeconds)
	done()
	if err != nil {
		r.transition(job, StateFailed)
		return AnalysisResult{}, errors.Wrapf(err, "bin %s", job.Subject)
	}

	res := AnalysisResult{
		Subject:   job.Subject,
		Path:      job.Path,
		Signal:    sig,
		Detection: det,
		Bins:      bins,
		Elapsed:   time.Since(started),
	}
	if r.metrics != nil {
		r.metrics.ImmobileSeconds.Observe(det.TotalSeconds)
	}
	r.transition(job, StateDone)

	log.Info().
		Int("frames", sig.Len()).
		Int("decoded", sig.DecodedFrames).
		Float64("fps", sig.FPS).
		Int("events", len(det.Events)).
		Float64("immobile_seconds", det.TotalSeconds).
		Msg("video analysed")

	return res, nil
}

func (r *Runner) skip(report *Report, rest []Job) {
	report.Cancelled = true
	report.Skipped = append(report.Skipped, rest...)
	r.countVideo(metrics.StatusSkipped, len(rest))
}

func (r *Runner) countVideo(status string, n int) {
	if r.metrics != nil && n > 0 {
		r.metrics.VideosProcessed.WithLabelValues(status).Add(float64(n))
	}
}

func (r *Runner) transition(job Job, s State) {
	r.logger.Debug().Str("video", job.Subject).Stringer("state", s).Msg("state")
	if r.onState != nil {
		r.onState(job, s)
	}
}
