package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/johnayoung/go-kline-cache/internal/errors"
	"github.com/johnayoung/go-kline-cache/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
		Jitter:          0.5,
	}
}

func rateLimited() error {
	return apperrors.New(apperrors.ErrorTypeRateLimit, "kucoin", "get_candles", errors.New("rate limited"))
}

func TestNewRetryingFetcherDefaults(t *testing.T) {
	r := NewRetryingFetcher(&MockFetcher{}, RetryPolicy{}, nil, nil)
	assert.Equal(t, DefaultRetryPolicy(), r.policy)
}

func TestRetryingFetcher(t *testing.T) {
	ctx := context.Background()
	series := models.Series{{Timestamp: 60, Open: 1, High: 1, Low: 1, Close: 1}}

	t.Run("succeeds after rate limits", func(t *testing.T) {
		fetcher := &MockFetcher{}
		fetcher.On("FetchKlines", mock.Anything, btcUSDTPair, models.Timeframe("1min"), int64(0), int64(600)).
			Return(nil, rateLimited()).Twice()
		fetcher.On("FetchKlines", mock.Anything, btcUSDTPair, models.Timeframe("1min"), int64(0), int64(600)).
			Return(series, nil).Once()

		r := NewRetryingFetcher(fetcher, fastPolicy(5), createTestLogger(), nil)
		got, err := r.FetchKlines(ctx, btcUSDTPair, "1min", 0, 600)

		require.NoError(t, err)
		assert.Equal(t, series, got)
		fetcher.AssertNumberOfCalls(t, "FetchKlines", 3)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		fetcher := &MockFetcher{}
		fetcher.On("FetchKlines", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, rateLimited())

		r := NewRetryingFetcher(fetcher, fastPolicy(4), createTestLogger(), nil)
		_, err := r.FetchKlines(ctx, btcUSDTPair, "1min", 0, 600)

		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrFetchFailed)
		assert.Equal(t, apperrors.ErrorTypeRateLimit, apperrors.GetErrorType(err))
		fetcher.AssertNumberOfCalls(t, "FetchKlines", 4)
	})

	t.Run("does not retry permanent errors", func(t *testing.T) {
		fetcher := &MockFetcher{}
		fetcher.On("FetchKlines", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, apperrors.New(apperrors.ErrorTypeBadRequest, "kucoin", "get_candles", errors.New("client error 400")))

		r := NewRetryingFetcher(fetcher, fastPolicy(5), createTestLogger(), nil)
		_, err := r.FetchKlines(ctx, btcUSDTPair, "1min", 0, 600)

		assert.ErrorIs(t, err, apperrors.ErrFetchFailed)
		fetcher.AssertNumberOfCalls(t, "FetchKlines", 1)
	})

	t.Run("passes validation errors through", func(t *testing.T) {
		fetcher := &MockFetcher{}
		fetcher.On("FetchKlines", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, apperrors.ErrInvalidRange)

		r := NewRetryingFetcher(fetcher, fastPolicy(5), createTestLogger(), nil)
		_, err := r.FetchKlines(ctx, btcUSDTPair, "1min", 600, 0)

		assert.ErrorIs(t, err, apperrors.ErrInvalidRange)
		assert.NotErrorIs(t, err, apperrors.ErrFetchFailed)
		fetcher.AssertNumberOfCalls(t, "FetchKlines", 1)
	})

	t.Run("stops when context is canceled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		fetcher := &MockFetcher{}
		fetcher.On("FetchKlines", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { cancel() }).
			Return(nil, rateLimited())

		r := NewRetryingFetcher(fetcher, fastPolicy(50), createTestLogger(), nil)
		_, err := r.FetchKlines(cctx, btcUSDTPair, "1min", 0, 600)

		assert.ErrorIs(t, err, context.Canceled)
		fetcher.AssertNumberOfCalls(t, "FetchKlines", 1)
	})
}
