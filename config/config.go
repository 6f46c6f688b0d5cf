// Package config - Analysis presets loaded from YAML with environment overrides.
package config

import (
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/nvr-ai/stillcount/images"
	"github.com/nvr-ai/stillcount/motion"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate for out-of-range parameters.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete configuration of an analysis run.
type Config struct {
	Analysis Analysis `yaml:"analysis"`
	Output   Output   `yaml:"output"`

	// SequenceFPS is the frame rate assumed for image-sequence inputs.
	SequenceFPS float64 `yaml:"sequence_fps" env:"STILLCOUNT_SEQUENCE_FPS"`
	LogLevel    string  `yaml:"log_level" env:"STILLCOUNT_LOG_LEVEL"`
	LogConsole  bool    `yaml:"log_console" env:"STILLCOUNT_LOG_CONSOLE"`
	// MetricsAddr serves Prometheus metrics when non-empty, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr" env:"STILLCOUNT_METRICS_ADDR"`
}

// Analysis holds the parameters handed to the core pipeline.
type Analysis struct {
	ROI                   images.ROI `yaml:"roi"`
	BinarizationThreshold int        `yaml:"binarization_threshold" env:"STILLCOUNT_BINARIZATION_THRESHOLD"`
	ImmobilityThreshold   int        `yaml:"immobility_threshold" env:"STILLCOUNT_IMMOBILITY_THRESHOLD"`
	FrameInterval         int        `yaml:"frame_interval" env:"STILLCOUNT_FRAME_INTERVAL"`
	WindowSize            int        `yaml:"window_size" env:"STILLCOUNT_WINDOW_SIZE"`
	NumBins               int        `yaml:"num_bins" env:"STILLCOUNT_NUM_BINS"`
	TimeAdjustmentSeconds float64    `yaml:"time_adjustment_seconds" env:"STILLCOUNT_TIME_ADJUSTMENT"`
}

// Output controls which files a run writes.
type Output struct {
	Dir          string `yaml:"dir" env:"STILLCOUNT_OUTPUT_DIR"`
	WriteFrames  bool   `yaml:"write_frames" env:"STILLCOUNT_WRITE_FRAMES"`
	RenderVideos bool   `yaml:"render_videos" env:"STILLCOUNT_RENDER_VIDEOS"`
	Codec        string `yaml:"codec" env:"STILLCOUNT_CODEC"`
}

// Default returns the built-in preset. The ROI is left empty and must be set.
func Default() Config {
	return Config{
		Analysis: Analysis{
			BinarizationThreshold: 30,
			ImmobilityThreshold:   100,
			FrameInterval:         5,
			WindowSize:            15,
			NumBins:               6,
		},
		Output: Output{
			Dir:   "results",
			Codec: "mp4v",
		},
		SequenceFPS: 30,
		LogLevel:    "info",
		LogConsole:  true,
	}
}

// Load reads the YAML preset at path on top of Default, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parse config %s", path)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse environment")
	}
	return cfg, nil
}

// Save writes cfg as a YAML preset, creating parent directories.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "encode config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "write config %s", path)
}

// Validate checks every analysis parameter against its allowed range.
func (c Config) Validate() error {
	a := c.Analysis
	switch {
	case a.ROI.Width <= 0 || a.ROI.Height <= 0:
		return errors.Wrapf(ErrInvalid, "roi %dx%d: a region with positive width and height is required", a.ROI.Width, a.ROI.Height)
	case a.BinarizationThreshold < 0 || a.BinarizationThreshold > 255:
		return errors.Wrapf(ErrInvalid, "binarization_threshold %d outside [0,255]", a.BinarizationThreshold)
	case a.ImmobilityThreshold < 0:
		return errors.Wrapf(ErrInvalid, "immobility_threshold %d must be >= 0", a.ImmobilityThreshold)
	case a.FrameInterval < 1:
		return errors.Wrapf(ErrInvalid, "frame_interval %d must be >= 1", a.FrameInterval)
	case a.WindowSize < 1:
		return errors.Wrapf(ErrInvalid, "window_size %d must be >= 1", a.WindowSize)
	case a.NumBins < 1:
		return errors.Wrapf(ErrInvalid, "num_bins %d must be >= 1", a.NumBins)
	case a.TimeAdjustmentSeconds < 0:
		return errors.Wrapf(ErrInvalid, "time_adjustment_seconds %v must be >= 0", a.TimeAdjustmentSeconds)
	case c.SequenceFPS < 0:
		return errors.Wrapf(ErrInvalid, "sequence_fps %v must be >= 0", c.SequenceFPS)
	}
	return nil
}

// SignalParams returns the parameters for signal extraction.
func (a Analysis) SignalParams() motion.Params {
	return motion.Params{
		ROI:                   a.ROI,
		BinarizationThreshold: a.BinarizationThreshold,
		FrameInterval:         a.FrameInterval,
	}
}
