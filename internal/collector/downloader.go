// Package collector downloads a time range of candles by splitting it into
// exchange-sized windows and fetching them sequentially or on a bounded
// worker pool.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/johnayoung/go-kline-cache/internal/errors"
	"github.com/johnayoung/go-kline-cache/internal/exchange"
	"github.com/johnayoung/go-kline-cache/internal/metrics"
	"github.com/johnayoung/go-kline-cache/internal/models"
	"github.com/johnayoung/go-kline-cache/internal/planner"
)

// Concurrency bounds for a download. -1 and 1 both mean sequential.
const (
	Sequential     = -1
	MaxConcurrency = 50
)

// DownloadRequest describes one range download.
type DownloadRequest struct {
	Symbol      string
	Timeframe   models.Timeframe
	Start       int64
	End         int64
	Concurrency int
}

// Downloader fetches every window of a range and merges the results.
type Downloader struct {
	fetcher exchange.KlineFetcher
	limit   int
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// NewDownloader creates a downloader. limit is the exchange's candles per call;
// zero selects planner.DefaultExchangeLimit.
func NewDownloader(fetcher exchange.KlineFetcher, limit int, logger *slog.Logger, recorder *metrics.Recorder) *Downloader {
	if limit == 0 {
		limit = planner.DefaultExchangeLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		fetcher: fetcher,
		limit:   limit,
		logger:  logger.With("component", "collector"),
		metrics: recorder,
	}
}

// ValidConcurrency reports whether n is an accepted concurrency setting.
func ValidConcurrency(n int) bool {
	return n == Sequential || (n >= 1 && n <= MaxConcurrency)
}

// Download returns the normalized candles of req's range. The result does not
// depend on the concurrency. The first failing window cancels the rest and its
// error is returned.
func (d *Downloader) Download(ctx context.Context, req DownloadRequest) (models.Series, error) {
	if !ValidConcurrency(req.Concurrency) {
		return nil, fmt.Errorf("%w: concurrency must be -1 or between 1 and %d, got %d",
			apperrors.ErrInvalidConfiguration, MaxConcurrency, req.Concurrency)
	}

	windows, err := planner.PlanWindows(req.Start, req.End, req.Timeframe, d.limit)
	if err != nil {
		return nil, err
	}

	startTime := time.Now()
	d.logger.Debug("downloading range",
		"symbol", req.Symbol,
		"timeframe", req.Timeframe,
		"start", req.Start,
		"end", req.End,
		"windows", len(windows),
		"concurrency", req.Concurrency)

	var parts []models.Series
	if req.Concurrency == Sequential || req.Concurrency == 1 || len(windows) == 1 {
		parts, err = d.downloadSequential(ctx, req, windows)
	} else {
		parts, err = d.downloadParallel(ctx, req, windows)
	}
	if err != nil {
		return nil, fmt.Errorf("download %s %s: %w", req.Symbol, req.Timeframe, err)
	}

	total := 0
	for _, p := range parts {
		total += len(p)
	}
	merged := make(models.Series, 0, total)
	for _, p := range parts {
		merged = append(merged, p...)
	}
	series := models.Normalize(merged)

	elapsed := time.Since(startTime)
	d.metrics.RecordDownload(req.Timeframe.String(), elapsed)
	d.logger.Info("range downloaded",
		"symbol", req.Symbol,
		"timeframe", req.Timeframe,
		"windows", len(windows),
		"candles", len(series),
		"duration", elapsed)

	return series, nil
}

func (d *Downloader) downloadSequential(ctx context.Context, req DownloadRequest, windows []models.Window) ([]models.Series, error) {
	parts := make([]models.Series, len(windows))
	for i, w := range windows {
		series, err := d.fetcher.FetchKlines(ctx, req.Symbol, req.Timeframe, w.Start, w.End)
		if err != nil {
			return nil, fmt.Errorf("window %d [%d, %d]: %w", i, w.Start, w.End, err)
		}
		parts[i] = series
	}
	return parts, nil
}

func (d *Downloader) downloadParallel(ctx context.Context, req DownloadRequest, windows []models.Window) ([]models.Series, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := req.Concurrency
	if workers > len(windows) {
		workers = len(windows)
	}

	pool := NewWorkerPool(workers, func(ctx context.Context, job *WorkerJob) (models.Series, error) {
		return d.fetcher.FetchKlines(ctx, job.Symbol, job.Timeframe, job.Window.Start, job.Window.End)
	}, d.logger)
	if err := pool.Start(ctx); err != nil {
		return nil, err
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
		parts    = make([]models.Series, len(windows))
	)

	for i, w := range windows {
		job := &WorkerJob{Index: i, Symbol: req.Symbol, Timeframe: req.Timeframe, Window: w}
		wg.Add(1)
		pool.Submit(ctx, job, func(series models.Series, err error) {
			defer wg.Done()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("window %d [%d, %d]: %w", job.Index, job.Window.Start, job.Window.End, err)
					cancel()
				}
				return
			}
			parts[job.Index] = series
		})
	}

	wg.Wait()
	if err := pool.Stop(context.Background()); err != nil {
		d.logger.Warn("failed to stop worker pool", "error", err)
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return parts, nil
}
