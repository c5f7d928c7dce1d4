package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/johnayoung/go-kline-cache/internal/models"
)

// WorkerJob is one window fetch handed to the worker pool.
type WorkerJob struct {
	Index     int
	Symbol    string
	Timeframe models.Timeframe
	Window    models.Window
}

// WorkFunc executes a job. It runs on a pool worker.
type WorkFunc func(ctx context.Context, job *WorkerJob) (models.Series, error)

// WorkerPoolStats is a snapshot of pool activity.
type WorkerPoolStats struct {
	ActiveWorkers  int
	QueuedJobs     int
	CompletedJobs  int64
	FailedJobs     int64
	AvgJobDuration time.Duration
}

// WorkerPool runs window fetches on a fixed number of workers.
type WorkerPool struct {
	workerCount int
	work        WorkFunc
	logger      *slog.Logger

	// Channels for job distribution
	jobQueue    chan *jobWrapper
	workerQueue chan chan *jobWrapper

	// Worker management
	workers []*Worker
	quit    chan struct{}
	wg      sync.WaitGroup

	stats     *workerPoolStats
	isStarted int32
}

// jobWrapper wraps a job with its callback
type jobWrapper struct {
	job      *WorkerJob
	callback func(models.Series, error)
	ctx      context.Context
}

// Worker represents a single worker in the pool
type Worker struct {
	ID          int
	WorkerQueue chan chan *jobWrapper
	JobChannel  chan *jobWrapper
	quit        <-chan struct{}
	work        WorkFunc
	logger      *slog.Logger
	stats       *workerPoolStats
}

type workerPoolStats struct {
	activeWorkers int32
	queuedJobs    int32
	completedJobs int64
	failedJobs    int64
	totalJobTime  int64 // nanoseconds
}

// NewWorkerPool creates a pool of workerCount workers executing work.
func NewWorkerPool(workerCount int, work WorkFunc, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		workerCount: workerCount,
		work:        work,
		logger:      logger,
		jobQueue:    make(chan *jobWrapper, workerCount*2),
		workerQueue: make(chan chan *jobWrapper, workerCount),
		quit:        make(chan struct{}),
		stats:       &workerPoolStats{},
	}
}

// Start initializes and starts all workers
func (wp *WorkerPool) Start(ctx context.Context) error {
	if wp.workerCount <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", wp.workerCount)
	}
	if !atomic.CompareAndSwapInt32(&wp.isStarted, 0, 1) {
		return fmt.Errorf("worker pool is already started")
	}

	wp.logger.Debug("starting worker pool", "worker_count", wp.workerCount)

	wp.workers = make([]*Worker, wp.workerCount)
	for i := 0; i < wp.workerCount; i++ {
		worker := &Worker{
			ID:          i + 1,
			WorkerQueue: wp.workerQueue,
			JobChannel:  make(chan *jobWrapper),
			quit:        wp.quit,
			work:        wp.work,
			logger:      wp.logger,
			stats:       wp.stats,
		}

		wp.workers[i] = worker
		wp.wg.Add(1)
		go worker.Start(wp.wg.Done)
		atomic.AddInt32(&wp.stats.activeWorkers, 1)
	}

	wp.wg.Add(1)
	go wp.dispatch()

	return nil
}

// Stop shuts the pool down and waits for workers to exit. Jobs still queued
// are failed through their callbacks.
func (wp *WorkerPool) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&wp.isStarted, 1, 0) {
		return fmt.Errorf("worker pool is not started")
	}

	close(wp.quit)

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Debug("worker pool stopped", "stats", wp.GetStats())
		return nil
	case <-ctx.Done():
		wp.logger.Warn("worker pool stop timed out")
		return ctx.Err()
	}
}

// Submit queues a job. callback is invoked exactly once with the job's result
// and must not block.
func (wp *WorkerPool) Submit(ctx context.Context, job *WorkerJob, callback func(models.Series, error)) {
	atomic.AddInt32(&wp.stats.queuedJobs, 1)

	wrapper := &jobWrapper{
		job:      job,
		callback: callback,
		ctx:      ctx,
	}

	select {
	case wp.jobQueue <- wrapper:
	case <-ctx.Done():
		atomic.AddInt32(&wp.stats.queuedJobs, -1)
		wrapper.finish(nil, ctx.Err())
	case <-wp.quit:
		atomic.AddInt32(&wp.stats.queuedJobs, -1)
		wrapper.finish(nil, fmt.Errorf("worker pool is shutting down"))
	}
}

// GetStats returns current worker pool statistics
func (wp *WorkerPool) GetStats() WorkerPoolStats {
	completed := atomic.LoadInt64(&wp.stats.completedJobs)
	failed := atomic.LoadInt64(&wp.stats.failedJobs)

	avgJobDuration := time.Duration(0)
	if n := completed + failed; n > 0 {
		avgJobDuration = time.Duration(atomic.LoadInt64(&wp.stats.totalJobTime) / n)
	}

	return WorkerPoolStats{
		ActiveWorkers:  int(atomic.LoadInt32(&wp.stats.activeWorkers)),
		QueuedJobs:     int(atomic.LoadInt32(&wp.stats.queuedJobs)),
		CompletedJobs:  completed,
		FailedJobs:     failed,
		AvgJobDuration: avgJobDuration,
	}
}

// dispatch distributes jobs to available workers
func (wp *WorkerPool) dispatch() {
	defer wp.wg.Done()

	for {
		select {
		case job := <-wp.jobQueue:
			atomic.AddInt32(&wp.stats.queuedJobs, -1)

			var jobChannel chan *jobWrapper
			select {
			case jobChannel = <-wp.workerQueue:
			case <-wp.quit:
				job.finish(nil, fmt.Errorf("worker pool is shutting down"))
				wp.drain()
				return
			}

			select {
			case jobChannel <- job:
			case <-wp.quit:
				job.finish(nil, fmt.Errorf("worker pool is shutting down"))
				wp.drain()
				return
			}

		case <-wp.quit:
			wp.drain()
			return
		}
	}
}

// drain fails every job left in the queue after shutdown.
func (wp *WorkerPool) drain() {
	for {
		select {
		case job := <-wp.jobQueue:
			atomic.AddInt32(&wp.stats.queuedJobs, -1)
			job.finish(nil, fmt.Errorf("worker pool is shutting down"))
		default:
			return
		}
	}
}

// Start starts the worker and begins processing jobs
func (w *Worker) Start(done func()) {
	defer done()
	defer atomic.AddInt32(&w.stats.activeWorkers, -1)

	for {
		select {
		case w.WorkerQueue <- w.JobChannel:
		case <-w.quit:
			return
		}

		select {
		case job := <-w.JobChannel:
			w.processJob(job)
		case <-w.quit:
			return
		}
	}
}

// processJob runs one job and reports its outcome.
func (w *Worker) processJob(jw *jobWrapper) {
	if err := jw.ctx.Err(); err != nil {
		atomic.AddInt64(&w.stats.failedJobs, 1)
		jw.finish(nil, err)
		return
	}

	startTime := time.Now()
	series, err := w.work(jw.ctx, jw.job)
	duration := time.Since(startTime)
	atomic.AddInt64(&w.stats.totalJobTime, duration.Nanoseconds())

	if err != nil {
		atomic.AddInt64(&w.stats.failedJobs, 1)
		w.logger.Debug("job failed",
			"worker_id", w.ID,
			"symbol", jw.job.Symbol,
			"window", jw.job.Index,
			"error", err,
			"duration", duration,
		)
	} else {
		atomic.AddInt64(&w.stats.completedJobs, 1)
	}

	jw.finish(series, err)
}

func (jw *jobWrapper) finish(series models.Series, err error) {
	if jw.callback != nil {
		jw.callback(series, err)
	}
}
