// Package service is the entry point callers use to read cached candle
// history and the symbol catalog. It validates requests before any cache or
// exchange I/O and hands slow first-time downloads to a background tracker.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	apperrors "github.com/johnayoung/go-kline-cache/internal/errors"
	applog "github.com/johnayoung/go-kline-cache/internal/logger"
	"github.com/johnayoung/go-kline-cache/internal/models"
)

// HistoryCache is the subset of history.Store the service needs.
type HistoryCache interface {
	Exists(ctx context.Context, symbol string, tf models.Timeframe) (bool, error)
	RefreshOrDownload(ctx context.Context, symbol string, tf models.Timeframe, since time.Time) (models.Series, error)
}

// SymbolCatalog is the subset of catalog.Catalog the service needs.
type SymbolCatalog interface {
	Refresh(ctx context.Context) ([]string, error)
	List(ctx context.Context, base, quote string) ([]string, error)
	Validate(ctx context.Context, symbol string) error
}

// Options configures a Service.
type Options struct {
	// Since is where full downloads start.
	Since time.Time
	// Location parses HistoryQuery.Since dates.
	Location *time.Location
	// Deferred timeframes are downloaded in the background when nothing is
	// cached yet.
	Deferred []models.Timeframe
	// JobRetention keeps finished background jobs queryable.
	JobRetention time.Duration
}

// HistoryQuery narrows a history request.
type HistoryQuery struct {
	Symbol    string
	Timeframe string
	// Since is an optional dd-mm-yyyy lower bound.
	Since string
	// Limit keeps only the last Limit candles when positive.
	Limit int
}

// Service is the kline cache façade.
type Service struct {
	history  HistoryCache
	catalog  SymbolCatalog
	jobs     *Jobs
	since    time.Time
	location *time.Location
	deferred []models.Timeframe
	logger   *slog.Logger
}

// New creates a Service.
func New(history HistoryCache, catalog SymbolCatalog, opts Options, logger *slog.Logger) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		history:  history,
		catalog:  catalog,
		since:    opts.Since,
		location: opts.Location,
		deferred: slices.Clone(opts.Deferred),
		logger:   logger.With("component", "service"),
	}
	s.jobs = NewJobs(s.download, opts.JobRetention, logger)
	return s
}

// GetHistory returns the full cached history of symbol, refreshing it first.
// The timeframe and then the symbol are validated before any cache I/O.
func (s *Service) GetHistory(ctx context.Context, symbol, timeframe string) (models.Series, error) {
	tf, err := s.validate(ctx, symbol, timeframe)
	if err != nil {
		return nil, err
	}
	return s.refresh(ctx, symbol, tf)
}

// QueryHistory is GetHistory narrowed by q.Since and q.Limit.
func (s *Service) QueryHistory(ctx context.Context, q HistoryQuery) (models.Series, error) {
	tf, from, err := s.validateQuery(ctx, q)
	if err != nil {
		return nil, err
	}

	series, err := s.refresh(ctx, q.Symbol, tf)
	if err != nil {
		return nil, err
	}
	return narrow(series, from, q.Limit), nil
}

// RequestHistory answers q synchronously, or starts a background download and
// returns its job when ShouldDefer holds. Exactly one of the results is set.
func (s *Service) RequestHistory(ctx context.Context, q HistoryQuery) (models.Series, *models.Job, error) {
	tf, from, err := s.validateQuery(ctx, q)
	if err != nil {
		return nil, nil, err
	}

	deferred, err := s.shouldDefer(ctx, q.Symbol, tf)
	if err != nil {
		return nil, nil, err
	}
	if deferred {
		job, _, err := s.jobs.Submit(q.Symbol, tf)
		if err != nil {
			return nil, nil, err
		}
		return nil, job, nil
	}

	series, err := s.refresh(ctx, q.Symbol, tf)
	if err != nil {
		return nil, nil, err
	}
	return narrow(series, from, q.Limit), nil, nil
}

// ListSymbols returns the catalog symbols matching base and quote.
func (s *Service) ListSymbols(ctx context.Context, base, quote string) ([]string, error) {
	return s.catalog.List(ctx, strings.TrimSpace(base), strings.TrimSpace(quote))
}

// CheckCached reports whether history for symbol at timeframe is cached.
func (s *Service) CheckCached(ctx context.Context, symbol, timeframe string) (bool, error) {
	tf, err := models.ParseTimeframe(timeframe)
	if err != nil {
		return false, err
	}
	return s.history.Exists(ctx, symbol, tf)
}

// RefreshCatalog replaces the symbol catalog snapshot.
func (s *Service) RefreshCatalog(ctx context.Context) error {
	_, err := s.catalog.Refresh(ctx)
	return err
}

// ShouldDefer reports whether a request for symbol at timeframe should be
// answered by a background download: the timeframe is configured as deferred
// and nothing is cached yet.
func (s *Service) ShouldDefer(ctx context.Context, symbol, timeframe string) (bool, error) {
	tf, err := models.ParseTimeframe(timeframe)
	if err != nil {
		return false, err
	}
	return s.shouldDefer(ctx, symbol, tf)
}

// SubmitHistory starts a background download for symbol at timeframe.
func (s *Service) SubmitHistory(ctx context.Context, symbol, timeframe string) (*models.Job, error) {
	tf, err := s.validate(ctx, symbol, timeframe)
	if err != nil {
		return nil, err
	}
	job, _, err := s.jobs.Submit(symbol, tf)
	return job, err
}

// Job returns the status of a background download.
func (s *Service) Job(id string) (*models.Job, error) {
	return s.jobs.Get(id)
}

// Close stops background downloads.
func (s *Service) Close(ctx context.Context) error {
	return s.jobs.Close(ctx)
}

func (s *Service) validate(ctx context.Context, symbol, timeframe string) (models.Timeframe, error) {
	tf, err := models.ParseTimeframe(timeframe)
	if err != nil {
		return "", err
	}
	if err := s.catalog.Validate(ctx, symbol); err != nil {
		return "", err
	}
	return tf, nil
}

func (s *Service) validateQuery(ctx context.Context, q HistoryQuery) (models.Timeframe, int64, error) {
	tf, err := models.ParseTimeframe(q.Timeframe)
	if err != nil {
		return "", 0, err
	}
	if q.Limit < 0 {
		return "", 0, fmt.Errorf("%w: limit must not be negative, got %d", apperrors.ErrInvalidRange, q.Limit)
	}

	var from int64
	if q.Since != "" {
		t, err := models.ParseDate(q.Since, s.location)
		if err != nil {
			return "", 0, err
		}
		from = t.Unix()
	}

	if err := s.catalog.Validate(ctx, q.Symbol); err != nil {
		return "", 0, err
	}
	return tf, from, nil
}

func (s *Service) shouldDefer(ctx context.Context, symbol string, tf models.Timeframe) (bool, error) {
	if !slices.Contains(s.deferred, tf) {
		return false, nil
	}
	cached, err := s.history.Exists(ctx, symbol, tf)
	if err != nil {
		return false, err
	}
	return !cached, nil
}

func (s *Service) refresh(ctx context.Context, symbol string, tf models.Timeframe) (models.Series, error) {
	ctx = applog.WithSymbol(ctx, symbol)
	ctx = applog.WithTimeframe(ctx, tf.String())

	var series models.Series
	err := applog.TimedOperationWithContext(ctx, s.logger, "get_history", func() error {
		var err error
		series, err = s.history.RefreshOrDownload(ctx, symbol, tf, s.since)
		return err
	})
	return series, err
}

func (s *Service) download(ctx context.Context, symbol string, tf models.Timeframe) (int, error) {
	series, err := s.history.RefreshOrDownload(ctx, symbol, tf, s.since)
	return len(series), err
}

func narrow(series models.Series, from int64, limit int) models.Series {
	return series.Since(from).Tail(limit)
}
