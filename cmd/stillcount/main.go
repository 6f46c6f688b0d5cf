// Command stillcount measures immobility in recordings of a single animal.
//
// It scans a region of every video in a folder (or a single video, or a
// folder of frame images), classifies persistent stillness, and writes a
// summary table, one START/STOP event table per video and optionally per-frame
// signals and marked videos.
package main

import (
	"context"
	"flag"
	"fmt"
	"image/jpeg"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/nvr-ai/stillcount/config"
	"github.com/nvr-ai/stillcount/controller"
	"github.com/nvr-ai/stillcount/export"
	"github.com/nvr-ai/stillcount/images"
	"github.com/nvr-ai/stillcount/immobility"
	"github.com/nvr-ai/stillcount/logger"
	"github.com/nvr-ai/stillcount/metrics"
	"github.com/nvr-ai/stillcount/motion"
	"github.com/nvr-ai/stillcount/render"
	"github.com/nvr-ai/stillcount/util"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

const (
	// SummaryFile is written to the output directory after every run.
	SummaryFile = "summary.csv"
	// PreviewDir holds preview snapshots when -preview is set.
	PreviewDir = "previews"
)

// flags mirrors every command line option. Analysis flags override the
// preset only when given explicitly.
type flags struct {
	configPath  string
	saveConfig  string
	input       string
	renderFrom  string
	roi         string
	binarize    int
	immobility  int
	interval    int
	window      int
	bins        int
	adjust      float64
	sequenceFPS float64
	output      string
	render      bool
	frames      bool
	preview     bool
	codec       string
	logLevel    string
	metricsAddr string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "stillcount: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "YAML preset to load")
	flag.StringVar(&f.saveConfig, "save-config", "", "Write the effective preset to this path and exit")
	flag.StringVar(&f.input, "input", "", "Video file, folder of videos, or folder of frame images")
	flag.StringVar(&f.renderFrom, "render-from", "", "Render -input using events from this event table instead of analysing it")
	flag.StringVar(&f.roi, "roi", "", "Region of interest as x,y,width,height")
	flag.IntVar(&f.binarize, "binarization", 0, "Pixel difference threshold in [0,255]")
	flag.IntVar(&f.immobility, "immobility", 0, "Changed-pixel count below which a frame is still")
	flag.IntVar(&f.interval, "frame-interval", 0, "Sliding window size; compares frames interval-1 apart")
	flag.IntVar(&f.window, "window", 0, "Consecutive still frames required for immobility")
	flag.IntVar(&f.bins, "bins", 0, "Number of time bins")
	flag.Float64Var(&f.adjust, "time-adjust", 0, "Seconds skipped at the start of each video before binning")
	flag.Float64Var(&f.sequenceFPS, "sequence-fps", 0, "Frame rate of frame-image folders")
	flag.StringVar(&f.output, "output", "", "Output directory")
	flag.BoolVar(&f.render, "render", false, "Write marked videos")
	flag.BoolVar(&f.frames, "frames", false, "Write per-frame signal tables")
	flag.BoolVar(&f.preview, "preview", false, "Save preview snapshots while scanning")
	flag.StringVar(&f.codec, "codec", "", "FourCC of marked videos")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level")
	flag.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	flag.Parse()

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	if err := applyFlags(&cfg, f); err != nil {
		return err
	}
	if f.renderFrom == "" {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	if f.saveConfig != "" {
		return config.Save(f.saveConfig, cfg)
	}
	if f.input == "" {
		flag.Usage()
		return errors.New("-input is required")
	}

	log, err := logger.New(logger.Options{Level: cfg.LogLevel, Console: cfg.LogConsole})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		metrics.Serve(ctx, cfg.MetricsAddr, reg, log)
	}

	if f.renderFrom != "" {
		return renderFromEvents(ctx, cfg, f.input, f.renderFrom, log)
	}
	return analyse(ctx, cfg, f, m, log)
}

func analyse(ctx context.Context, cfg config.Config, f flags, m *metrics.Metrics, log zerolog.Logger) error {
	jobs, err := controller.Discover(f.input)
	if err != nil {
		return err
	}

	var current string
	scanner := motion.NewScanner(log)
	if f.preview {
		scanner.Preview = savePreview(filepath.Join(cfg.Output.Dir, PreviewDir), &current, log)
	}

	runner := controller.NewRunner(scanner, controller.ParamsFromConfig(cfg), controller.Options{
		Logger:  log,
		Metrics: m,
		OnState: func(job controller.Job, s controller.State) {
			current = job.Subject
			log.Info().Str("video", job.Subject).Stringer("state", s).Msg("progress")
		},
		OnResult: func(res controller.AnalysisResult) {
			if err := writeResult(cfg, res); err != nil {
				log.Error().Err(err).Str("video", res.Subject).Msg("write results")
			}
		},
	})

	store := controller.NewStore()
	outcome := <-runner.RunAsync(ctx, jobs, store)
	if outcome.Err != nil {
		return outcome.Err
	}
	report := outcome.Report

	if store.Len() > 0 {
		path := filepath.Join(cfg.Output.Dir, SummaryFile)
		if err := export.WriteSummaryFile(path, store.SummaryRows()); err != nil {
			return err
		}
		log.Info().Str("path", path).Int("videos", store.Len()).Msg("summary written")
	}

	if cfg.Output.RenderVideos && !report.Cancelled {
		renderer := render.NewRenderer(log)
		renderer.Codec = cfg.Output.Codec
		renderer.SequenceFPS = cfg.SequenceFPS
		for _, res := range report.Results {
			dst := markedPath(cfg.Output.Dir, res.Subject, cfg.Output.Codec)
			if err := renderer.RenderFile(ctx, res.Path, dst, res.Detection.Events); err != nil {
				log.Error().Err(err).Str("video", res.Subject).Msg("render failed")
				continue
			}
			log.Info().Str("video", res.Subject).Str("path", dst).Msg("marked video written")
		}
	}

	runner.Profiler().Report(log)

	for _, fail := range report.Failures {
		log.Warn().Str("video", fail.Job.Subject).Err(fail.Err).Msg("no result")
	}
	if report.Cancelled {
		log.Warn().Str("interrupted", current).Int("skipped", len(report.Skipped)).Msg("run cancelled")
	}
	if len(report.Results) == 0 && len(report.Failures) > 0 {
		return errors.Errorf("all %d videos failed", len(report.Failures))
	}
	return nil
}

func writeResult(cfg config.Config, res controller.AnalysisResult) error {
	events := filepath.Join(cfg.Output.Dir, res.Subject+"_events.tsv")
	if err := export.WriteEventsFile(events, res.EventRows()); err != nil {
		return err
	}
	if !cfg.Output.WriteFrames {
		return nil
	}
	frames := filepath.Join(cfg.Output.Dir, res.Subject+"_frames.csv")
	return export.WriteFramesFile(frames, res.Signal.Values, res.Detection.Mask, res.Signal.FPS)
}

func renderFromEvents(ctx context.Context, cfg config.Config, input, tsv string, log zerolog.Logger) error {
	rows, err := export.ReadEventsFile(tsv)
	if err != nil {
		return err
	}
	events, err := immobility.ReconstructEvents(rows)
	if err != nil {
		return err
	}

	renderer := render.NewRenderer(log)
	renderer.Codec = cfg.Output.Codec
	renderer.SequenceFPS = cfg.SequenceFPS
	dst := markedPath(cfg.Output.Dir, util.SubjectName(input), cfg.Output.Codec)
	if err := renderer.RenderFile(ctx, input, dst, events); err != nil {
		return err
	}
	log.Info().Str("path", dst).Int("events", len(events)).Msg("marked video written")
	return nil
}

// savePreview writes each preview as a JPEG named after the video being
// scanned. subject is updated by the state callback on the same goroutine.
func savePreview(dir string, subject *string, log zerolog.Logger) motion.PreviewFunc {
	return func(p motion.Preview) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Warn().Err(err).Msg("preview directory")
			return
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%06d.jpg", *subject, p.Frame))
		out, err := os.Create(path)
		if err != nil {
			log.Warn().Err(err).Msg("preview file")
			return
		}
		defer out.Close()
		if err := jpeg.Encode(out, p.Image, &jpeg.Options{Quality: 80}); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("preview encode")
		}
	}
}

func applyFlags(cfg *config.Config, f flags) error {
	var err error
	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "roi":
			var roi images.ROI
			if roi, err = images.ParseROI(f.roi); err == nil {
				cfg.Analysis.ROI = roi
			}
		case "binarization":
			cfg.Analysis.BinarizationThreshold = f.binarize
		case "immobility":
			cfg.Analysis.ImmobilityThreshold = f.immobility
		case "frame-interval":
			cfg.Analysis.FrameInterval = f.interval
		case "window":
			cfg.Analysis.WindowSize = f.window
		case "bins":
			cfg.Analysis.NumBins = f.bins
		case "time-adjust":
			cfg.Analysis.TimeAdjustmentSeconds = f.adjust
		case "sequence-fps":
			cfg.SequenceFPS = f.sequenceFPS
		case "output":
			cfg.Output.Dir = f.output
		case "render":
			cfg.Output.RenderVideos = f.render
		case "frames":
			cfg.Output.WriteFrames = f.frames
		case "codec":
			cfg.Output.Codec = f.codec
		case "log-level":
			cfg.LogLevel = f.logLevel
		case "metrics-addr":
			cfg.MetricsAddr = f.metricsAddr
		}
	})
	return err
}

func markedPath(dir, subject, codec string) string {
	ext := ".mp4"
	if strings.EqualFold(codec, "MJPG") || strings.EqualFold(codec, "XVID") {
		ext = ".avi"
	}
	return filepath.Join(dir, subject+"_marked"+ext)
}
