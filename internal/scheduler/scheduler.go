// Package scheduler runs the recurring crawl jobs of the worker: a quick
// discovery sweep, a full scrape and snapshot cleanup.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alqutdigital/funding-crawler/internal/crawler"
	"github.com/alqutdigital/funding-crawler/internal/institution"
	"github.com/alqutdigital/funding-crawler/pkg/logger"
	"github.com/robfig/cron/v3"
)

// Job names.
const (
	JobQuick   = "quick"
	JobFull    = "full"
	JobCleanup = "cleanup"
)

// ErrUnknownJob is returned by Trigger for a job that is not registered.
var ErrUnknownJob = errors.New("unknown job")

// ErrJobRunning is returned by Trigger while the job is already running.
var ErrJobRunning = errors.New("job already running")

// Config holds the cron specs. An empty spec disables that job.
type Config struct {
	Quick       string
	Full        string
	Cleanup     string
	QuickBudget time.Duration
	// Retention is the number of snapshots kept by the cleanup job.
	Retention int
	// Run is the template for the full scrape.
	Run      crawler.RunOptions
	Location *time.Location
}

// DefaultConfig returns the default schedule.
func DefaultConfig() Config {
	return Config{
		Quick:       "0 */6 * * *",
		Full:        "0 2 * * *",
		Cleanup:     "0 3 * * *",
		QuickBudget: 30 * time.Second,
		Retention:   7,
		Run:         crawler.RunOptions{Mode: crawler.ModeIncremental, CycleOnly: true},
		Location:    time.UTC,
	}
}

// Runner is the work the scheduler triggers. *crawler.Orchestrator implements it.
type Runner interface {
	ScrapeAll(ctx context.Context, opts crawler.RunOptions) crawler.RunResult
	DiscoverURLsOnly(ctx context.Context, inst institution.Config, budget time.Duration, mode string) crawler.DiscoverySummary
	Cleanup(ctx context.Context, keep int) error
	Registry() institution.Registry
}

// JobStatus describes one registered job.
type JobStatus struct {
	Name      string    `json:"name"`
	Spec      string    `json:"spec"`
	Running   bool      `json:"running"`
	Runs      int       `json:"runs"`
	LastStart time.Time `json:"last_start,omitempty"`
	LastEnd   time.Time `json:"last_end,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Next      time.Time `json:"next,omitempty"`
}

type job struct {
	name    string
	spec    string
	entry   cron.EntryID
	run     func(ctx context.Context) error
	mu      sync.Mutex
	running bool
	status  JobStatus
}

// Scheduler owns the cron loop.
type Scheduler struct {
	config Config
	runner Runner
	cron   *cron.Cron
	jobs   map[string]*job
	log    *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New registers the configured jobs. Nothing runs until Start.
func New(cfg Config, runner Runner, log *logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	log = log.WithComponent("scheduler")

	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		config: cfg,
		runner: runner,
		cron:   c,
		jobs:   make(map[string]*job),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}

	for _, j := range []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{JobQuick, cfg.Quick, s.quickDiscovery},
		{JobFull, cfg.Full, s.fullScrape},
		{JobCleanup, cfg.Cleanup, s.cleanup},
	} {
		if j.spec == "" {
			log.Info("job disabled", "job", j.name)
			continue
		}
		if err := s.add(j.name, j.spec, j.run); err != nil {
			cancel()
			return nil, err
		}
	}

	return s, nil
}

func (s *Scheduler) add(name, spec string, run func(ctx context.Context) error) error {
	j := &job{name: name, spec: spec, run: run, status: JobStatus{Name: name, Spec: spec}}
	id, err := s.cron.AddFunc(spec, func() { s.execute(j) })
	if err != nil {
		return fmt.Errorf("failed to schedule %s job %q: %w", name, spec, err)
	}
	j.entry = id
	s.jobs[name] = j
	s.log.Info("job scheduled", "job", name, "spec", spec)
	return nil
}

// Start begins the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop stops scheduling, cancels running jobs and waits for them to return or
// for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.log.Info("stopping scheduler")
	cronCtx := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler did not stop in time: %w", ctx.Err())
	}
}

// Trigger runs a job now, outside its schedule. It returns once the job has
// started.
func (s *Scheduler) Trigger(name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	j.mu.Lock()
	running := j.running
	j.mu.Unlock()
	if running {
		return ErrJobRunning
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(j)
	}()
	return nil
}

// Status returns the registered jobs sorted by name.
func (s *Scheduler) Status() []JobStatus {
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		j.mu.Lock()
		st := j.status
		st.Running = j.running
		j.mu.Unlock()
		st.Next = s.cron.Entry(j.entry).Next
		out = append(out, st)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// execute runs j unless it is already running.
func (s *Scheduler) execute(j *job) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		s.log.Info("job still running, skipping", "job", j.name)
		return
	}
	j.running = true
	j.status.LastStart = time.Now().UTC()
	j.mu.Unlock()

	log := s.log.WithFields(map[string]any{"job": j.name})
	log.Info("job started")
	err := s.safeRun(j)

	j.mu.Lock()
	j.running = false
	j.status.Runs++
	j.status.LastEnd = time.Now().UTC()
	j.status.LastError = ""
	if err != nil {
		j.status.LastError = err.Error()
	}
	elapsed := j.status.LastEnd.Sub(j.status.LastStart)
	j.mu.Unlock()

	if err != nil {
		log.WithError(err).Error("job failed", "elapsed", elapsed)
		return
	}
	log.Info("job finished", "elapsed", elapsed)
}

// safeRun turns a panicking job into a failed run so it is not left marked as
// running.
func (s *Scheduler) safeRun(j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.LogPanic(r)
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return j.run(s.ctx)
}

func (s *Scheduler) quickDiscovery(ctx context.Context) error {
	institutions := s.runner.Registry().Filter(s.config.Run.Targets)
	var newURLs, total int
	for _, inst := range institutions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		summary := s.runner.DiscoverURLsOnly(ctx, inst, s.config.QuickBudget, crawler.ModeIncremental)
		newURLs += summary.NewURLs
		total += summary.TotalURLs
	}
	s.log.Info("quick discovery sweep finished", "institutions", len(institutions), "new", newURLs, "total", total)
	return nil
}

func (s *Scheduler) fullScrape(ctx context.Context) error {
	result := s.runner.ScrapeAll(ctx, s.config.Run)
	if result.Stats.Error != "" {
		return errors.New(result.Stats.Error)
	}
	return nil
}

func (s *Scheduler) cleanup(ctx context.Context) error {
	return s.runner.Cleanup(ctx, s.config.Retention)
}

// cronLogger adapts the logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.WithError(err).Error(msg, keysAndValues...)
}
