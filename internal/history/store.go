// Package history caches candle series per (symbol, timeframe) and refreshes
// them incrementally so past days are never downloaded twice.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/johnayoung/go-kline-cache/internal/collector"
	apperrors "github.com/johnayoung/go-kline-cache/internal/errors"
	"github.com/johnayoung/go-kline-cache/internal/metrics"
	"github.com/johnayoung/go-kline-cache/internal/models"
	"github.com/johnayoung/go-kline-cache/internal/storage"
)

// Downloader fetches a range of candles.
type Downloader interface {
	Download(ctx context.Context, req collector.DownloadRequest) (models.Series, error)
}

// Options tunes a Store.
type Options struct {
	// Location decides which calendar day a candle belongs to.
	Location *time.Location
	// Concurrency is passed to every download.
	Concurrency int
	// Now returns the current time. Tests replace it.
	Now func() time.Time
}

// Store is the history cache.
type Store struct {
	blobs      storage.BlobStore
	downloader Downloader
	location   *time.Location
	concurrent int
	now        func() time.Time
	locks      *keyedMutex
	logger     *slog.Logger
	metrics    *metrics.Recorder
}

// NewStore creates a history cache over blobs.
func NewStore(blobs storage.BlobStore, downloader Downloader, opts Options, logger *slog.Logger, recorder *metrics.Recorder) *Store {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		blobs:      blobs,
		downloader: downloader,
		location:   opts.Location,
		concurrent: opts.Concurrency,
		now:        opts.Now,
		locks:      newKeyedMutex(),
		logger:     logger.With("component", "history"),
		metrics:    recorder,
	}
}

// Key returns the storage key of a series.
func Key(symbol string, tf models.Timeframe) string {
	return tf.String() + "/" + symbol + ".csv"
}

// Exists reports whether a series is cached.
func (s *Store) Exists(ctx context.Context, symbol string, tf models.Timeframe) (bool, error) {
	return s.blobs.Exists(ctx, Key(symbol, tf))
}

// Load returns the cached series or an error wrapping apperrors.ErrNotFound.
func (s *Store) Load(ctx context.Context, symbol string, tf models.Timeframe) (models.Series, error) {
	key := Key(symbol, tf)
	data, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	series, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return series, nil
}

// Save replaces the cached series.
func (s *Store) Save(ctx context.Context, symbol string, tf models.Timeframe, series models.Series) error {
	unlock := s.locks.Lock(Key(symbol, tf))
	defer unlock()
	return s.save(ctx, symbol, tf, series)
}

func (s *Store) save(ctx context.Context, symbol string, tf models.Timeframe, series models.Series) error {
	data, err := Encode(models.Normalize(series))
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", symbol, tf, err)
	}
	return s.blobs.Put(ctx, Key(symbol, tf), data)
}

// RefreshOrDownload returns the full history of symbol at tf, touching the
// exchange only for what is missing:
//   - nothing cached: download [since, now] and save it;
//   - the last cached candle is from today: return the cache as is;
//   - otherwise download from midnight of the last cached day, merge and save.
func (s *Store) RefreshOrDownload(ctx context.Context, symbol string, tf models.Timeframe, since time.Time) (models.Series, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidTimeframe, tf)
	}

	unlock := s.locks.Lock(Key(symbol, tf))
	defer unlock()

	now := s.now()
	logger := s.logger.With("symbol", symbol, "timeframe", tf)

	cached, err := s.Load(ctx, symbol, tf)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	last, ok := cached.Last()
	if !ok {
		logger.Info("no cached history, downloading", "since", since.Format(time.DateOnly))
		series, err := s.download(ctx, symbol, tf, since.Unix(), now.Unix())
		if err != nil {
			return nil, err
		}
		if err := s.save(ctx, symbol, tf, series); err != nil {
			return nil, err
		}
		s.metrics.RecordCacheOutcome(metrics.CacheFull)
		s.logGaps(logger, series, tf)
		return series, nil
	}

	if models.SameDay(last.Time(), now, s.location) {
		logger.Debug("cached history is up to date", "last", last.Time())
		s.metrics.RecordCacheOutcome(metrics.CacheFresh)
		return cached, nil
	}

	from := models.StartOfDay(last.Time(), s.location)
	logger.Info("refreshing cached history", "from", from.Format(time.DateOnly), "cached", len(cached))
	fresh, err := s.download(ctx, symbol, tf, from.Unix(), now.Unix())
	if err != nil {
		return nil, err
	}

	merged := models.Merge(cached, fresh)
	if err := s.save(ctx, symbol, tf, merged); err != nil {
		return nil, err
	}
	s.metrics.RecordCacheOutcome(metrics.CacheIncremental)
	s.logGaps(logger, merged, tf)
	return merged, nil
}

func (s *Store) download(ctx context.Context, symbol string, tf models.Timeframe, start, end int64) (models.Series, error) {
	return s.downloader.Download(ctx, collector.DownloadRequest{
		Symbol:      symbol,
		Timeframe:   tf,
		Start:       start,
		End:         end,
		Concurrency: s.concurrent,
	})
}

func (s *Store) logGaps(logger *slog.Logger, series models.Series, tf models.Timeframe) {
	gaps := series.Gaps(tf.Seconds())
	if len(gaps) == 0 {
		return
	}
	missing := 0
	for _, g := range gaps {
		missing += g.Missing
	}
	logger.Debug("history has gaps", "gaps", len(gaps), "missing_candles", missing)
}
