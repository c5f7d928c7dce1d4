package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	apperrors "github.com/johnayoung/go-kline-cache/internal/errors"
	"github.com/johnayoung/go-kline-cache/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const day = int64(86400)

// MockFetcher is a testify mock of exchange.KlineFetcher.
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) FetchKlines(ctx context.Context, symbol string, tf models.Timeframe, start, end int64) (models.Series, error) {
	args := m.Called(ctx, symbol, tf, start, end)
	var series models.Series
	if s := args.Get(0); s != nil {
		series = s.(models.Series)
	}
	return series, args.Error(1)
}

// syntheticFetcher returns one candle per step in [start, end], boundaries included.
type syntheticFetcher struct {
	calls int32
	fail  func(start int64) error
}

func (f *syntheticFetcher) FetchKlines(ctx context.Context, symbol string, tf models.Timeframe, start, end int64) (models.Series, error) {
	atomic.AddInt32(&f.calls, 1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.fail != nil {
		if err := f.fail(start); err != nil {
			return nil, err
		}
	}
	step := tf.Seconds()
	first := (start + step - 1) / step * step
	var out models.Series
	for ts := first; ts <= end; ts += step {
		price := float64(ts%1000 + 1)
		out = append(out, models.Candle{Timestamp: ts, Open: price, High: price, Low: price, Close: price, Volume: 1, Amount: price})
	}
	// Newest first like the exchange, to exercise normalization.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDownloadThreeWindows(t *testing.T) {
	end := int64(1700000000) / day * day
	start := end - 4000*day

	fetcher := &MockFetcher{}
	fetcher.On("FetchKlines", mock.Anything, "BTC-USDT", models.Timeframe("1day"), mock.Anything, mock.Anything).
		Return(models.Series{}, nil)

	d := NewDownloader(fetcher, 0, testLogger(), nil)
	series, err := d.Download(context.Background(), DownloadRequest{
		Symbol: "BTC-USDT", Timeframe: "1day", Start: start, End: end, Concurrency: 4,
	})

	require.NoError(t, err)
	assert.Empty(t, series)
	fetcher.AssertNumberOfCalls(t, "FetchKlines", 3)
	fetcher.AssertCalled(t, "FetchKlines", mock.Anything, "BTC-USDT", models.Timeframe("1day"), start, end-3000*day)
	fetcher.AssertCalled(t, "FetchKlines", mock.Anything, "BTC-USDT", models.Timeframe("1day"), end-1500*day, end)
}

func TestDownloadDeterministicAcrossConcurrency(t *testing.T) {
	start := int64(1600000000)
	end := start + 7*day

	var baseline models.Series
	for _, concurrency := range []int{Sequential, 1, 2, 7, MaxConcurrency} {
		d := NewDownloader(&syntheticFetcher{}, 100, testLogger(), nil)
		series, err := d.Download(context.Background(), DownloadRequest{
			Symbol: "ETH-USDT", Timeframe: "15min", Start: start, End: end, Concurrency: concurrency,
		})
		require.NoError(t, err, "concurrency %d", concurrency)
		require.True(t, series.IsNormalized())

		if baseline == nil {
			baseline = series
			require.NotEmpty(t, baseline)
			continue
		}
		assert.Equal(t, baseline, series, "concurrency %d", concurrency)
	}
}

func TestDownloadInvalidConcurrency(t *testing.T) {
	fetcher := &syntheticFetcher{}
	d := NewDownloader(fetcher, 100, testLogger(), nil)

	for _, c := range []int{0, -2, 51, 1000} {
		_, err := d.Download(context.Background(), DownloadRequest{
			Symbol: "BTC-USDT", Timeframe: "1min", Start: 0, End: 600, Concurrency: c,
		})
		assert.ErrorIs(t, err, apperrors.ErrInvalidConfiguration, "concurrency %d", c)
	}
	assert.Zero(t, atomic.LoadInt32(&fetcher.calls))
}

func TestDownloadPlannerErrors(t *testing.T) {
	d := NewDownloader(&syntheticFetcher{}, 100, testLogger(), nil)

	_, err := d.Download(context.Background(), DownloadRequest{
		Symbol: "BTC-USDT", Timeframe: "7min", Start: 0, End: 600, Concurrency: 1,
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidTimeframe)

	_, err = d.Download(context.Background(), DownloadRequest{
		Symbol: "BTC-USDT", Timeframe: "1min", Start: 600, End: 600, Concurrency: 1,
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidRange)
}

func TestDownloadFirstErrorWins(t *testing.T) {
	start := int64(1600000000)
	end := start + 30*day
	boom := errors.New("boom")

	for _, concurrency := range []int{1, 8} {
		fetcher := &syntheticFetcher{fail: func(windowStart int64) error {
			if windowStart == start {
				return boom
			}
			return nil
		}}
		d := NewDownloader(fetcher, 24, testLogger(), nil)

		series, err := d.Download(context.Background(), DownloadRequest{
			Symbol: "BTC-USDT", Timeframe: "1hour", Start: start, End: end, Concurrency: concurrency,
		})

		assert.Nil(t, series)
		assert.ErrorIs(t, err, boom, "concurrency %d", concurrency)
	}
}

func TestDownloadSequentialStopsAtFirstError(t *testing.T) {
	start := int64(1600000000)
	fetcher := &syntheticFetcher{fail: func(int64) error { return apperrors.ErrFetchFailed }}
	d := NewDownloader(fetcher, 24, testLogger(), nil)

	_, err := d.Download(context.Background(), DownloadRequest{
		Symbol: "BTC-USDT", Timeframe: "1hour", Start: start, End: start + 10*day, Concurrency: Sequential,
	})

	assert.ErrorIs(t, err, apperrors.ErrFetchFailed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetcher.calls))
}
