// Package scheduler runs periodic background jobs, such as refreshing the
// symbol catalog, on a time.Ticker independent of incoming requests.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Job is a periodic task.
type Job interface {
	Name() string
	Execute(ctx context.Context) error
}

// Config configures the scheduler behavior
type Config struct {
	// TickInterval is how often due jobs are looked for.
	TickInterval time.Duration
	// JobTimeout bounds a single execution.
	JobTimeout time.Duration
	// MaxConcurrentJobs caps jobs running at once. Due jobs over the cap wait
	// for the next tick.
	MaxConcurrentJobs int
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		TickInterval:      time.Second,
		JobTimeout:        5 * time.Minute,
		MaxConcurrentJobs: 2,
	}
}

// Stats provides scheduler metrics
type Stats struct {
	TotalJobs     int
	RunningJobs   int
	CompletedJobs int64
	FailedJobs    int64
	LastRunTime   time.Time
	UptimeSeconds int64
}

type entry struct {
	job      Job
	interval time.Duration
	nextRun  time.Time
	running  bool
}

// Scheduler executes registered jobs every interval.
type Scheduler struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	isRunning int32
	startTime time.Time

	jobs   []*entry
	jobsMu sync.Mutex

	jobSemaphore chan struct{}
	runningJobs  int32

	completedJobs int64
	failedJobs    int64
	lastRunTime   atomic.Value // time.Time

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. Zero config fields take the defaults.
func New(config Config, logger *slog.Logger) *Scheduler {
	def := DefaultConfig()
	if config.TickInterval <= 0 {
		config.TickInterval = def.TickInterval
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = def.JobTimeout
	}
	if config.MaxConcurrentJobs <= 0 {
		config.MaxConcurrentJobs = def.MaxConcurrentJobs
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		config:       config,
		logger:       logger.With("component", "scheduler"),
		now:          time.Now,
		jobSemaphore: make(chan struct{}, config.MaxConcurrentJobs),
	}
}

// AddJob registers job to run every interval. When runNow is true the first
// run happens on the next tick, otherwise one interval after registration.
func (s *Scheduler) AddJob(job Job, interval time.Duration, runNow bool) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive, got %v", job.Name(), interval)
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	for _, e := range s.jobs {
		if e.job.Name() == job.Name() {
			return fmt.Errorf("job %s is already registered", job.Name())
		}
	}

	next := s.now().Add(interval)
	if runNow {
		next = s.now()
	}
	s.jobs = append(s.jobs, &entry{job: job, interval: interval, nextRun: next})

	s.logger.Info("registered job", "job", job.Name(), "interval", interval, "next_run", next)
	return nil
}

// Start begins the scheduler operation
func (s *Scheduler) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.isRunning, 0, 1) {
		return fmt.Errorf("scheduler is already running")
	}

	s.startTime = s.now()
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.schedulingLoop(time.NewTicker(s.config.TickInterval))

	s.logger.Info("scheduler started",
		"tick_interval", s.config.TickInterval,
		"max_concurrent_jobs", s.config.MaxConcurrentJobs)
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.isRunning, 1, 0) {
		return fmt.Errorf("scheduler is not running")
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out", "error", ctx.Err())
		return ctx.Err()
	}
}

// IsRunning reports whether Start has been called without Stop.
func (s *Scheduler) IsRunning() bool {
	return atomic.LoadInt32(&s.isRunning) == 1
}

// GetStats returns current scheduler statistics
func (s *Scheduler) GetStats() Stats {
	s.jobsMu.Lock()
	total := len(s.jobs)
	s.jobsMu.Unlock()

	var last time.Time
	if v, ok := s.lastRunTime.Load().(time.Time); ok {
		last = v
	}
	var uptime int64
	if s.IsRunning() {
		uptime = int64(s.now().Sub(s.startTime).Seconds())
	}

	return Stats{
		TotalJobs:     total,
		RunningJobs:   int(atomic.LoadInt32(&s.runningJobs)),
		CompletedJobs: atomic.LoadInt64(&s.completedJobs),
		FailedJobs:    atomic.LoadInt64(&s.failedJobs),
		LastRunTime:   last,
		UptimeSeconds: uptime,
	}
}

func (s *Scheduler) schedulingLoop(ticker *time.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	s.processScheduledJobs()
	for {
		select {
		case <-ticker.C:
			s.processScheduledJobs()
		case <-s.ctx.Done():
			return
		}
	}
}

// processScheduledJobs starts every due job that is not already running.
func (s *Scheduler) processScheduledJobs() {
	now := s.now()

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	for _, e := range s.jobs {
		if e.running || now.Before(e.nextRun) {
			continue
		}

		select {
		case s.jobSemaphore <- struct{}{}:
		default:
			s.logger.Debug("no available slots for job", "job", e.job.Name(),
				"max_concurrent", s.config.MaxConcurrentJobs)
			continue
		}

		e.running = true
		atomic.AddInt32(&s.runningJobs, 1)
		s.lastRunTime.Store(now)

		s.wg.Add(1)
		go s.executeJob(e)
	}
}

func (s *Scheduler) executeJob(e *entry) {
	defer s.wg.Done()
	defer func() {
		<-s.jobSemaphore
		atomic.AddInt32(&s.runningJobs, -1)

		s.jobsMu.Lock()
		e.running = false
		e.nextRun = s.now().Add(e.interval)
		s.jobsMu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(s.ctx, s.config.JobTimeout)
	defer cancel()

	startTime := s.now()
	err := e.job.Execute(ctx)
	duration := time.Since(startTime)

	if err != nil {
		atomic.AddInt64(&s.failedJobs, 1)
		s.logger.Error("scheduled job failed", "job", e.job.Name(), "error", err, "duration", duration)
		return
	}
	atomic.AddInt64(&s.completedJobs, 1)
	s.logger.Debug("scheduled job completed", "job", e.job.Name(), "duration", duration)
}
