package crawler

import (
	"sync/atomic"
	"time"
)

// RunStats summarises one scrape run.
type RunStats struct {
	RunID        string        `json:"run_id"`
	Mode         string        `json:"mode"`
	Institutions int           `json:"institutions"`
	Candidates   int           `json:"candidates"`
	Filtered     int           `json:"filtered"`
	Scraped      int           `json:"scraped"`
	Rejected     int           `json:"rejected"`
	Failed       int           `json:"failed"`
	Total        int           `json:"total_programs"`
	Elapsed      time.Duration `json:"elapsed"`
	Error        string        `json:"error,omitempty"`
}

// Metrics accumulates counters across runs for the worker's metrics endpoint.
type Metrics struct {
	Runs            atomic.Int64
	FailedRuns      atomic.Int64
	Discoveries     atomic.Int64
	ProgramsScraped atomic.Int64
	PagesRejected   atomic.Int64
	PagesFailed     atomic.Int64
	CurrentActive   atomic.Int64
	LastRunAt       atomic.Value // time.Time
	LastRunMs       atomic.Int64
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.LastRunAt.Store(time.Time{})
	return m
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Runs            int64     `json:"runs"`
	FailedRuns      int64     `json:"failed_runs"`
	Discoveries     int64     `json:"discoveries"`
	ProgramsScraped int64     `json:"programs_scraped"`
	PagesRejected   int64     `json:"pages_rejected"`
	PagesFailed     int64     `json:"pages_failed"`
	CurrentActive   int64     `json:"current_active"`
	LastRunAt       time.Time `json:"last_run_at"`
	LastRunMs       int64     `json:"last_run_ms"`
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	last, _ := m.LastRunAt.Load().(time.Time)
	return MetricsSnapshot{
		Runs:            m.Runs.Load(),
		FailedRuns:      m.FailedRuns.Load(),
		Discoveries:     m.Discoveries.Load(),
		ProgramsScraped: m.ProgramsScraped.Load(),
		PagesRejected:   m.PagesRejected.Load(),
		PagesFailed:     m.PagesFailed.Load(),
		CurrentActive:   m.CurrentActive.Load(),
		LastRunAt:       last,
		LastRunMs:       m.LastRunMs.Load(),
	}
}

func (m *Metrics) recordRun(s RunStats, finished time.Time) {
	m.Runs.Add(1)
	if s.Error != "" {
		m.FailedRuns.Add(1)
	}
	m.ProgramsScraped.Add(int64(s.Scraped))
	m.PagesRejected.Add(int64(s.Rejected))
	m.PagesFailed.Add(int64(s.Failed))
	m.LastRunAt.Store(finished)
	m.LastRunMs.Store(s.Elapsed.Milliseconds())
}
