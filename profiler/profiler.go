// Package profiler - Per-stage timing and memory reporting for analysis runs.
package profiler

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Observer receives every completed stage timing, e.g. a histogram.
type Observer func(stage string, d time.Duration)

// StageStats summarises the timings recorded for one stage.
type StageStats struct {
	Count int
	Total time.Duration
	Min   time.Duration
	Max   time.Duration
}

// Mean is Total/Count, or 0 before the first sample.
func (s StageStats) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// StageProfiler accumulates pipeline stage timings. It is safe for
// concurrent use.
type StageProfiler struct {
	mu        sync.Mutex
	startTime time.Time
	stages    map[string]*StageStats
	observer  Observer
	now       func() time.Time
}

// New creates a profiler. observer may be nil.
//
// Arguments:
//   - observer: Called after each recorded stage, outside the lock.
//
// Returns:
//   - *StageProfiler: A profiler whose uptime starts now.
func New(observer Observer) *StageProfiler {
	return &StageProfiler{
		startTime: time.Now(),
		stages:    make(map[string]*StageStats),
		observer:  observer,
		now:       time.Now,
	}
}

// StartOperation begins timing a stage.
//
// Returns:
//   - func(): Call when the stage completes.
//
// @example
//
//	done := p.StartOperation("scan")
//	defer done()
func (p *StageProfiler) StartOperation(name string) func() {
	start := p.now()
	return func() {
		p.Record(name, p.now().Sub(start))
	}
}

// Record adds one timing for name.
func (p *StageProfiler) Record(name string, d time.Duration) {
	p.mu.Lock()
	s, ok := p.stages[name]
	if !ok {
		s = &StageStats{Min: d, Max: d}
		p.stages[name] = s
	}
	s.Count++
	s.Total += d
	if d < s.Min {
		s.Min = d
	}
	if d > s.Max {
		s.Max = d
	}
	p.mu.Unlock()

	if p.observer != nil {
		p.observer(name, d)
	}
}

// Snapshot copies the current per-stage statistics.
func (p *StageProfiler) Snapshot() map[string]StageStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]StageStats, len(p.stages))
	for name, s := range p.stages {
		out[name] = *s
	}
	return out
}

// Report logs uptime, heap usage and every stage in name order.
func (p *StageProfiler) Report(log zerolog.Logger) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	log.Info().
		Dur("uptime", time.Since(p.startTime).Truncate(time.Millisecond)).
		Str("heap_alloc", formatBytes(mem.HeapAlloc)).
		Str("sys", formatBytes(mem.Sys)).
		Uint32("gc_cycles", mem.NumGC).
		Int("goroutines", runtime.NumGoroutine()).
		Msg("profiler report")

	stats := p.Snapshot()
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s := stats[name]
		log.Info().
			Str("stage", name).
			Int("count", s.Count).
			Dur("avg", s.Mean().Truncate(time.Microsecond)).
			Dur("min", s.Min.Truncate(time.Microsecond)).
			Dur("max", s.Max.Truncate(time.Microsecond)).
			Msg("stage timing")
	}
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
