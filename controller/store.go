package controller

import (
	"sync"
	"time"

	"github.com/nvr-ai/stillcount/export"
	"github.com/nvr-ai/stillcount/immobility"
	"github.com/nvr-ai/stillcount/motion"
)

// AnalysisResult is everything computed for one video.
type AnalysisResult struct {
	Subject   string
	Path      string
	Signal    motion.Signal
	Detection immobility.Detection
	Bins      immobility.BinTable
	Elapsed   time.Duration
}

// SummaryRow converts the result into a summary table row.
func (a AnalysisResult) SummaryRow() export.SummaryRow {
	return export.SummaryRow{
		Video:        a.Subject,
		TotalSeconds: a.Detection.TotalSeconds,
		Bins:         a.Bins,
	}
}

// EventRows encodes the result's bouts as START/STOP rows.
func (a AnalysisResult) EventRows() []immobility.EventRow {
	return immobility.EncodeEvents(a.Detection.Events, a.Signal.FPS)
}

// Store holds results keyed by subject. Storing a subject again replaces the
// earlier result but keeps its original position.
type Store struct {
	mu      sync.RWMutex
	results map[string]AnalysisResult
	order   []string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{results: make(map[string]AnalysisResult)}
}

// Put stores res under res.Subject.
func (s *Store) Put(res AnalysisResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.results[res.Subject]; !ok {
		s.order = append(s.order, res.Subject)
	}
	s.results[res.Subject] = res
}

// Get returns the result stored for subject.
func (s *Store) Get(subject string) (AnalysisResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.results[subject]
	return res, ok
}

// Len is the number of stored subjects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Results returns the stored results in insertion order.
func (s *Store) Results() []AnalysisResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]AnalysisResult, 0, len(s.order))
	for _, subject := range s.order {
		out = append(out, s.results[subject])
	}
	return out
}

// SummaryRows returns one summary row per stored result, in insertion order.
func (s *Store) SummaryRows() []export.SummaryRow {
	results := s.Results()
	rows := make([]export.SummaryRow, 0, len(results))
	for _, res := range results {
		rows = append(rows, res.SummaryRow())
	}
	return rows
}
