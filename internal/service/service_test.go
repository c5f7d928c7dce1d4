package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-kline-cache/internal/catalog"
	"github.com/johnayoung/go-kline-cache/internal/collector"
	apperrors "github.com/johnayoung/go-kline-cache/internal/errors"
	"github.com/johnayoung/go-kline-cache/internal/history"
	"github.com/johnayoung/go-kline-cache/internal/models"
	"github.com/johnayoung/go-kline-cache/internal/storage"
)

const day = int64(86400)

// MockHistory is a testify mock of HistoryCache.
type MockHistory struct {
	mock.Mock
}

func (m *MockHistory) Exists(ctx context.Context, symbol string, tf models.Timeframe) (bool, error) {
	args := m.Called(ctx, symbol, tf)
	return args.Bool(0), args.Error(1)
}

func (m *MockHistory) RefreshOrDownload(ctx context.Context, symbol string, tf models.Timeframe, since time.Time) (models.Series, error) {
	args := m.Called(ctx, symbol, tf, since)
	var series models.Series
	if s := args.Get(0); s != nil {
		series = s.(models.Series)
	}
	return series, args.Error(1)
}

// MockCatalog is a testify mock of SymbolCatalog.
type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) Refresh(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	var symbols []string
	if s := args.Get(0); s != nil {
		symbols = s.([]string)
	}
	return symbols, args.Error(1)
}

func (m *MockCatalog) List(ctx context.Context, base, quote string) ([]string, error) {
	args := m.Called(ctx, base, quote)
	var symbols []string
	if s := args.Get(0); s != nil {
		symbols = s.([]string)
	}
	return symbols, args.Error(1)
}

func (m *MockCatalog) Validate(ctx context.Context, symbol string) error {
	return m.Called(ctx, symbol).Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var since = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

func dailySeries(from int64, count int) models.Series {
	s := make(models.Series, 0, count)
	for i := 0; i < count; i++ {
		price := float64(100 + i)
		s = append(s, models.Candle{Timestamp: from + int64(i)*day, Open: price, High: price, Low: price, Close: price})
	}
	return s
}

func newTestService(h HistoryCache, c SymbolCatalog, deferred ...models.Timeframe) *Service {
	return New(h, c, Options{Since: since, Location: time.UTC, Deferred: deferred}, testLogger())
}

func TestGetHistoryValidatesBeforeIO(t *testing.T) {
	ctx := context.Background()
	h := &MockHistory{}
	c := &MockCatalog{}
	c.On("Validate", mock.Anything, "FOO-BAR").Return(apperrors.ErrUnknownSymbol)
	svc := newTestService(h, c)

	_, err := svc.GetHistory(ctx, "BTC-USDT", "7min")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTimeframe)
	c.AssertNotCalled(t, "Validate", mock.Anything, mock.Anything)

	_, err = svc.GetHistory(ctx, "FOO-BAR", "1day")
	assert.ErrorIs(t, err, apperrors.ErrUnknownSymbol)

	h.AssertNotCalled(t, "RefreshOrDownload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	h.AssertNotCalled(t, "Exists", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetHistoryRefreshesFromConfiguredStart(t *testing.T) {
	series := dailySeries(since.Unix(), 5)
	h := &MockHistory{}
	h.On("RefreshOrDownload", mock.Anything, "BTC-USDT", models.Timeframe("1day"), since).Return(series, nil).Once()
	c := &MockCatalog{}
	c.On("Validate", mock.Anything, "BTC-USDT").Return(nil)

	got, err := newTestService(h, c).GetHistory(context.Background(), "BTC-USDT", "1day")

	require.NoError(t, err)
	assert.Equal(t, series, got)
	h.AssertExpectations(t)
}

func TestQueryHistoryNarrows(t *testing.T) {
	series := dailySeries(since.Unix(), 10)
	h := &MockHistory{}
	h.On("RefreshOrDownload", mock.Anything, "ETH-USDT", models.Timeframe("1day"), since).Return(series, nil)
	c := &MockCatalog{}
	c.On("Validate", mock.Anything, "ETH-USDT").Return(nil)
	svc := newTestService(h, c)
	ctx := context.Background()

	tests := []struct {
		name  string
		query HistoryQuery
		want  models.Series
	}{
		{"everything", HistoryQuery{}, series},
		{"since", HistoryQuery{Since: "05-01-2022"}, series[4:]},
		{"limit", HistoryQuery{Limit: 3}, series[7:]},
		{"since and limit", HistoryQuery{Since: "03-01-2022", Limit: 100}, series[2:]},
		{"since after last", HistoryQuery{Since: "01-01-2030"}, models.Series{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.query
			q.Symbol, q.Timeframe = "ETH-USDT", "1day"
			got, err := svc.QueryHistory(ctx, q)
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), len(got))
			if len(tt.want) > 0 {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestQueryHistoryRejectsBadInput(t *testing.T) {
	h := &MockHistory{}
	c := &MockCatalog{}
	c.On("Validate", mock.Anything, mock.Anything).Return(nil)
	svc := newTestService(h, c)
	ctx := context.Background()

	_, err := svc.QueryHistory(ctx, HistoryQuery{Symbol: "BTC-USDT", Timeframe: "1day", Since: "2022-01-01"})
	assert.ErrorIs(t, err, apperrors.ErrMalformedDate)

	_, err = svc.QueryHistory(ctx, HistoryQuery{Symbol: "BTC-USDT", Timeframe: "1day", Limit: -1})
	assert.ErrorIs(t, err, apperrors.ErrInvalidRange)

	_, err = svc.QueryHistory(ctx, HistoryQuery{Symbol: "BTC-USDT", Timeframe: "2min"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidTimeframe)

	h.AssertNotCalled(t, "RefreshOrDownload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCatalogPassThrough(t *testing.T) {
	ctx := context.Background()
	h := &MockHistory{}
	c := &MockCatalog{}
	c.On("List", mock.Anything, "BTC", "").Return([]string{"BTC-USDT", "BTC-EUR"}, nil)
	c.On("Refresh", mock.Anything).Return([]string{"BTC-USDT"}, nil)
	svc := newTestService(h, c)

	symbols, err := svc.ListSymbols(ctx, " BTC ", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC-USDT", "BTC-EUR"}, symbols)

	require.NoError(t, svc.RefreshCatalog(ctx))
	c.AssertExpectations(t)
}

func TestCheckCached(t *testing.T) {
	ctx := context.Background()
	h := &MockHistory{}
	h.On("Exists", mock.Anything, "BTC-USDT", models.Timeframe("1hour")).Return(true, nil)
	svc := newTestService(h, &MockCatalog{})

	ok, err := svc.CheckCached(ctx, "BTC-USDT", "1hour")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.CheckCached(ctx, "BTC-USDT", "7min")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTimeframe)
}

func TestShouldDefer(t *testing.T) {
	ctx := context.Background()
	h := &MockHistory{}
	h.On("Exists", mock.Anything, "BTC-USDT", models.Timeframe("1min")).Return(false, nil)
	h.On("Exists", mock.Anything, "ETH-USDT", models.Timeframe("1min")).Return(true, nil)
	svc := newTestService(h, &MockCatalog{}, "1min", "3min")

	tests := []struct {
		symbol    string
		timeframe string
		want      bool
	}{
		{"BTC-USDT", "1min", true},
		{"ETH-USDT", "1min", false},
		{"BTC-USDT", "1day", false},
	}
	for _, tt := range tests {
		got, err := svc.ShouldDefer(ctx, tt.symbol, tt.timeframe)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s %s", tt.symbol, tt.timeframe)
	}

	_, err := svc.ShouldDefer(ctx, "BTC-USDT", "7min")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTimeframe)
}

func TestRequestHistoryDefersFirstDownload(t *testing.T) {
	ctx := context.Background()
	series := dailySeries(since.Unix(), 3)
	release := make(chan time.Time)

	h := &MockHistory{}
	h.On("Exists", mock.Anything, "BTC-USDT", models.Timeframe("1min")).Return(false, nil)
	h.On("RefreshOrDownload", mock.Anything, "BTC-USDT", models.Timeframe("1min"), since).
		WaitUntil(release).Return(series, nil).Once()
	c := &MockCatalog{}
	c.On("Validate", mock.Anything, "BTC-USDT").Return(nil)
	svc := newTestService(h, c, "1min")
	defer svc.Close(ctx)

	got, job, err := svc.RequestHistory(ctx, HistoryQuery{Symbol: "BTC-USDT", Timeframe: "1min"})
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NotNil(t, job)

	again, job2, err := svc.RequestHistory(ctx, HistoryQuery{Symbol: "BTC-USDT", Timeframe: "1min"})
	require.NoError(t, err)
	assert.Nil(t, again)
	assert.Equal(t, job.ID, job2.ID, "a running download is reused")

	close(release)
	assert.Eventually(t, func() bool {
		j, err := svc.Job(job.ID)
		return err == nil && j.Status == models.StatusDone
	}, time.Second, 5*time.Millisecond)

	done, err := svc.Job(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, done.Candles)
}

func TestRequestHistoryAnswersSynchronouslyWhenNotDeferred(t *testing.T) {
	series := dailySeries(since.Unix(), 4)
	h := &MockHistory{}
	h.On("RefreshOrDownload", mock.Anything, "BTC-USDT", models.Timeframe("1day"), since).Return(series, nil)
	c := &MockCatalog{}
	c.On("Validate", mock.Anything, "BTC-USDT").Return(nil)
	svc := newTestService(h, c, "1min")

	got, job, err := svc.RequestHistory(context.Background(), HistoryQuery{Symbol: "BTC-USDT", Timeframe: "1day", Limit: 2})
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Equal(t, series[2:], got)
	h.AssertNotCalled(t, "Exists", mock.Anything, mock.Anything, mock.Anything)
}

func TestJobsLifecycle(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("exchange down")
	var calls int32

	jobs := NewJobs(func(ctx context.Context, symbol string, tf models.Timeframe) (int, error) {
		atomic.AddInt32(&calls, 1)
		if symbol == "BAD-USDT" {
			return 0, boom
		}
		return 7, nil
	}, 0, testLogger())

	ok, created, err := jobs.Submit("BTC-USDT", "1day")
	require.NoError(t, err)
	assert.True(t, created)

	failed, _, err := jobs.Submit("BAD-USDT", "1day")
	require.NoError(t, err)

	require.NoError(t, jobs.Close(ctx))

	got, err := jobs.Get(ok.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, got.Status)
	assert.Equal(t, 7, got.Candles)

	got, err = jobs.Get(failed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "exchange down", got.Error)

	_, err = jobs.Get("missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, _, err = jobs.Submit("ETH-USDT", "1day")
	assert.Error(t, err, "closed tracker rejects work")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestJobsCloseCancelsRunningWork(t *testing.T) {
	started := make(chan struct{})
	jobs := NewJobs(func(ctx context.Context, symbol string, tf models.Timeframe) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	}, 0, testLogger())

	job, _, err := jobs.Submit("BTC-USDT", "1min")
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, jobs.Close(ctx))

	got, err := jobs.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestJobsPrunesFinishedJobs(t *testing.T) {
	jobs := NewJobs(func(ctx context.Context, symbol string, tf models.Timeframe) (int, error) {
		return 1, nil
	}, time.Minute, testLogger())

	first, _, err := jobs.Submit("BTC-USDT", "1day")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		j, err := jobs.Get(first.ID)
		return err == nil && j.IsFinished()
	}, time.Second, 5*time.Millisecond)

	jobs.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, _, err = jobs.Submit("ETH-USDT", "1day")
	require.NoError(t, err)

	_, err = jobs.Get(first.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	require.NoError(t, jobs.Close(context.Background()))
}

// windowFetcher returns one daily candle per day in [start, end] and counts calls.
type windowFetcher struct {
	calls int32
}

func (f *windowFetcher) FetchKlines(ctx context.Context, symbol string, tf models.Timeframe, start, end int64) (models.Series, error) {
	atomic.AddInt32(&f.calls, 1)
	var out models.Series
	for ts := start; ts <= end; ts += tf.Seconds() {
		out = append(out, models.Candle{Timestamp: ts, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10, Amount: 15})
	}
	// newest first, like the exchange
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func TestGetHistoryEndToEnd(t *testing.T) {
	ctx := context.Background()
	now := since.Add(4000 * 24 * time.Hour)

	blobs := storage.NewMemoryStore()
	fetcher := &windowFetcher{}
	downloader := collector.NewDownloader(fetcher, 1500, testLogger(), nil)
	store := history.NewStore(blobs, downloader, history.Options{
		Location:    time.UTC,
		Concurrency: 4,
		Now:         func() time.Time { return now },
	}, testLogger(), nil)

	lister := &staticLister{symbols: []string{"BTC-USDT", "ETH-USDT"}}
	cat := catalog.New(blobs, lister, testLogger(), nil)
	svc := New(store, cat, Options{Since: since, Location: time.UTC}, testLogger())

	require.NoError(t, svc.RefreshCatalog(ctx))

	series, err := svc.GetHistory(ctx, "BTC-USDT", "1day")
	require.NoError(t, err)

	assert.Equal(t, int32(3), atomic.LoadInt32(&fetcher.calls), "4000 days need three 1500-candle windows")
	assert.True(t, series.IsNormalized())
	assert.Len(t, series, 4001)
	assert.Equal(t, since.Unix(), series[0].Timestamp)

	keys, err := blobs.List(ctx, "1day/")
	require.NoError(t, err)
	assert.Equal(t, []string{"1day/BTC-USDT.csv"}, keys)

	cached, err := svc.CheckCached(ctx, "BTC-USDT", "1day")
	require.NoError(t, err)
	assert.True(t, cached)

	again, err := svc.GetHistory(ctx, "BTC-USDT", "1day")
	require.NoError(t, err)
	assert.Equal(t, series, again)
	assert.Equal(t, int32(3), atomic.LoadInt32(&fetcher.calls), "same-day refresh does not fetch")

	_, err = svc.GetHistory(ctx, "DOGE-USDT", "1day")
	assert.ErrorIs(t, err, apperrors.ErrUnknownSymbol)
}

type staticLister struct {
	symbols []string
}

func (l *staticLister) ListSymbols(ctx context.Context) ([]string, error) {
	return l.symbols, nil
}
