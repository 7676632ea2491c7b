package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alqutdigital/funding-crawler/internal/crawler"
	"github.com/alqutdigital/funding-crawler/internal/institution"
	"github.com/alqutdigital/funding-crawler/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockRunner records what the scheduler asked for.
type MockRunner struct {
	mu         sync.Mutex
	registry   institution.Registry
	scrapes    []crawler.RunOptions
	discovered []string
	budgets    []time.Duration
	kept       []int
	scrapeErr  string
	cleanupErr error
	block      chan struct{}
	panicOn    string
}

func (m *MockRunner) ScrapeAll(ctx context.Context, opts crawler.RunOptions) crawler.RunResult {
	if m.block != nil {
		<-m.block
	}
	if m.panicOn == JobFull {
		panic("boom")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scrapes = append(m.scrapes, opts)
	return crawler.RunResult{Stats: crawler.RunStats{Error: m.scrapeErr}}
}

func (m *MockRunner) DiscoverURLsOnly(ctx context.Context, inst institution.Config, budget time.Duration, mode string) crawler.DiscoverySummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discovered = append(m.discovered, inst.Name)
	m.budgets = append(m.budgets, budget)
	return crawler.DiscoverySummary{NewURLs: 1, TotalURLs: 5}
}

func (m *MockRunner) Cleanup(ctx context.Context, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kept = append(m.kept, keep)
	return m.cleanupErr
}

func (m *MockRunner) Registry() institution.Registry { return m.registry }

func newRunner() *MockRunner {
	return &MockRunner{registry: institution.Registry{
		{ID: "aws", Name: "AWS"},
		{ID: "ffg", Name: "FFG"},
	}}
}

func jobStatus(t *testing.T, s *Scheduler, name string) JobStatus {
	t.Helper()
	for _, st := range s.Status() {
		if st.Name == name {
			return st
		}
	}
	t.Fatalf("job %s not registered", name)
	return JobStatus{}
}

func waitForRuns(t *testing.T, s *Scheduler, name string, runs int) JobStatus {
	t.Helper()
	require.Eventually(t, func() bool {
		st := jobStatus(t, s, name)
		return st.Runs >= runs && !st.Running
	}, 2*time.Second, 10*time.Millisecond)
	return jobStatus(t, s, name)
}

func TestNewRegistersJobs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cleanup = ""

	s, err := New(cfg, newRunner(), logger.Discard())
	require.NoError(t, err)

	status := s.Status()
	require.Len(t, status, 2)
	assert.Equal(t, JobFull, status[0].Name)
	assert.Equal(t, "0 2 * * *", status[0].Spec)
	assert.Equal(t, JobQuick, status[1].Name)
}

func TestNewRejectsBadSpec(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Full = "every day"

	_, err := New(cfg, newRunner(), logger.Discard())
	assert.Error(t, err)
}

func TestTriggerQuickDiscovery(t *testing.T) {
	runner := newRunner()
	cfg := DefaultConfig()
	cfg.Run.Targets = []string{"ffg"}
	s, err := New(cfg, runner, logger.Discard())
	require.NoError(t, err)

	require.NoError(t, s.Trigger(JobQuick))
	st := waitForRuns(t, s, JobQuick, 1)

	assert.Empty(t, st.LastError)
	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []string{"FFG"}, runner.discovered)
	assert.Equal(t, []time.Duration{30 * time.Second}, runner.budgets)
}

func TestTriggerFullScrape(t *testing.T) {
	runner := newRunner()
	runner.scrapeErr = "data directory is locked by another crawler process"
	s, err := New(DefaultConfig(), runner, logger.Discard())
	require.NoError(t, err)

	require.NoError(t, s.Trigger(JobFull))
	st := waitForRuns(t, s, JobFull, 1)

	assert.Equal(t, runner.scrapeErr, st.LastError)
	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.scrapes, 1)
	assert.True(t, runner.scrapes[0].CycleOnly)
	assert.Equal(t, crawler.ModeIncremental, runner.scrapes[0].Mode)
}

func TestTriggerCleanup(t *testing.T) {
	runner := newRunner()
	runner.cleanupErr = errors.New("bucket gone")
	s, err := New(DefaultConfig(), runner, logger.Discard())
	require.NoError(t, err)

	require.NoError(t, s.Trigger(JobCleanup))
	st := waitForRuns(t, s, JobCleanup, 1)
	assert.Equal(t, "bucket gone", st.LastError)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []int{7}, runner.kept)
}

func TestTriggerErrors(t *testing.T) {
	runner := newRunner()
	runner.block = make(chan struct{})
	s, err := New(DefaultConfig(), runner, logger.Discard())
	require.NoError(t, err)

	assert.ErrorIs(t, s.Trigger("nightly"), ErrUnknownJob)

	require.NoError(t, s.Trigger(JobFull))
	require.Eventually(t, func() bool { return jobStatus(t, s, JobFull).Running }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.Trigger(JobFull), ErrJobRunning)

	close(runner.block)
	waitForRuns(t, s, JobFull, 1)
	require.NoError(t, s.Stop(context.Background()))
}

func TestPanickingJobIsRecovered(t *testing.T) {
	runner := newRunner()
	runner.panicOn = JobFull
	s, err := New(DefaultConfig(), runner, logger.Discard())
	require.NoError(t, err)

	require.NoError(t, s.Trigger(JobFull))
	st := waitForRuns(t, s, JobFull, 1)
	assert.Contains(t, st.LastError, "panicked")
	assert.False(t, st.Running)
}

func TestStartStop(t *testing.T) {
	s, err := New(DefaultConfig(), newRunner(), logger.Discard())
	require.NoError(t, err)

	s.Start()
	assert.False(t, jobStatus(t, s, JobQuick).Next.IsZero())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
