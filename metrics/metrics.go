// Package metrics - Prometheus instrumentation for analysis runs.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Video outcome labels.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Metrics holds the collectors of one registry.
type Metrics struct {
	VideosProcessed *prometheus.CounterVec
	FramesScanned   prometheus.Counter
	StageDuration   *prometheus.HistogramVec
	ImmobileSeconds prometheus.Histogram
	ActiveRuns      prometheus.Gauge
}

// New registers the collectors on reg. A nil reg yields unregistered
// collectors, which is what callers without an exporter want.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		VideosProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stillcount_videos_processed_total",
			Help: "Videos analysed, by outcome",
		}, []string{"status"}),
		FramesScanned: f.NewCounter(prometheus.CounterOpts{
			Name: "stillcount_frames_scanned_total",
			Help: "Signal frames produced across all videos",
		}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stillcount_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"stage"}),
		ImmobileSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stillcount_immobile_seconds",
			Help:    "Total immobility per video",
			Buckets: []float64{1, 10, 30, 60, 120, 300, 600},
		}),
		ActiveRuns: f.NewGauge(prometheus.GaugeOpts{
			Name: "stillcount_active_runs",
			Help: "Runs currently in progress",
		}),
	}
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Serve exposes reg on addr at /metrics with a /healthz probe. The server
// shuts down when ctx is cancelled.
func Serve(ctx context.Context, addr string, reg prometheus.Gatherer, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("metrics server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return srv
}
