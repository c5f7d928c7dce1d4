package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/johnayoung/go-kline-cache/internal/errors"
	applog "github.com/johnayoung/go-kline-cache/internal/logger"
	"github.com/johnayoung/go-kline-cache/internal/models"
)

// DefaultJobRetention is how long finished jobs stay queryable.
const DefaultJobRetention = time.Hour

// RunFunc performs one background download and returns the number of
// candles cached.
type RunFunc func(ctx context.Context, symbol string, tf models.Timeframe) (int, error)

// Jobs runs history downloads in the background. At most one job runs per
// (symbol, timeframe); submitting the same key again returns the running job.
type Jobs struct {
	run       RunFunc
	retention time.Duration
	logger    *slog.Logger
	newID     func() string
	now       func() time.Time

	mu     sync.Mutex
	jobs   map[string]*models.Job
	active map[string]string // key -> job id

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJobs creates a tracker. retention <= 0 uses DefaultJobRetention.
func NewJobs(run RunFunc, retention time.Duration, logger *slog.Logger) *Jobs {
	if retention <= 0 {
		retention = DefaultJobRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Jobs{
		run:       run,
		retention: retention,
		logger:    logger.With("component", "jobs"),
		newID:     uuid.NewString,
		now:       time.Now,
		jobs:      make(map[string]*models.Job),
		active:    make(map[string]string),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func jobKey(symbol string, tf models.Timeframe) string {
	return tf.String() + "/" + symbol
}

// Submit starts a download for symbol at tf unless one is already running,
// and returns a snapshot of the job. created is false for a running job.
func (j *Jobs) Submit(symbol string, tf models.Timeframe) (job *models.Job, created bool, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.ctx.Err() != nil {
		return nil, false, fmt.Errorf("job tracker is closed")
	}

	key := jobKey(symbol, tf)
	if id, ok := j.active[key]; ok {
		return j.jobs[id].Clone(), false, nil
	}

	j.pruneLocked()

	job = models.NewJob(j.newID(), symbol, tf)
	j.jobs[job.ID] = job
	j.active[key] = job.ID

	j.wg.Add(1)
	go j.execute(job.ID, key, symbol, tf)

	j.logger.Info("submitted background download", "job_id", job.ID, "symbol", symbol, "timeframe", tf)
	return job.Clone(), true, nil
}

// Get returns a snapshot of job id or an error wrapping apperrors.ErrNotFound.
func (j *Jobs) Get(id string) (*models.Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	job, ok := j.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", apperrors.ErrNotFound, id)
	}
	return job.Clone(), nil
}

// Close cancels running jobs and waits for them until ctx is done.
func (j *Jobs) Close(ctx context.Context) error {
	j.mu.Lock()
	j.cancel()
	j.mu.Unlock()

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Jobs) execute(id, key, symbol string, tf models.Timeframe) {
	defer j.wg.Done()

	ctx := applog.WithJobID(j.ctx, id)
	ctx = applog.WithSymbol(ctx, symbol)
	ctx = applog.WithTimeframe(ctx, tf.String())
	ctx, _ = applog.EnsureTraceID(ctx)
	logger := applog.FromContext(ctx, j.logger)

	j.update(id, func(job *models.Job) error { return job.Start() })

	start := j.now()
	candles, err := j.run(ctx, symbol, tf)

	j.mu.Lock()
	delete(j.active, key)
	job := j.jobs[id]
	if err != nil {
		_ = job.Fail(err.Error())
	} else {
		_ = job.Complete(candles)
	}
	j.mu.Unlock()

	if err != nil {
		logger.Error("background download failed", "error", err, "duration", time.Since(start))
		return
	}
	logger.Info("background download finished", "candles", candles, "duration", time.Since(start))
}

func (j *Jobs) update(id string, fn func(*models.Job) error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if job, ok := j.jobs[id]; ok {
		if err := fn(job); err != nil {
			j.logger.Warn("invalid job transition", "job_id", id, "error", err)
		}
	}
}

// pruneLocked drops finished jobs older than the retention window.
func (j *Jobs) pruneLocked() {
	cutoff := j.now().Add(-j.retention)
	for id, job := range j.jobs {
		if job.IsFinished() && job.UpdatedAt.Before(cutoff) {
			delete(j.jobs, id)
		}
	}
}
