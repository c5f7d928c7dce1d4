package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	apperrors "github.com/johnayoung/go-kline-cache/internal/errors"
	"github.com/johnayoung/go-kline-cache/internal/metrics"
	"github.com/johnayoung/go-kline-cache/internal/models"
)

// RetryingFetcher retries a KlineFetcher with jittered exponential backoff.
// Retries stop when the policy's attempt budget is spent, the context is done,
// or the error is not retryable.
type RetryingFetcher struct {
	next    KlineFetcher
	policy  RetryPolicy
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// NewRetryingFetcher wraps next. Zero policy fields take the defaults.
func NewRetryingFetcher(next KlineFetcher, policy RetryPolicy, logger *slog.Logger, recorder *metrics.Recorder) *RetryingFetcher {
	def := DefaultRetryPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = def.InitialInterval
	}
	if policy.MaxInterval <= 0 {
		policy.MaxInterval = def.MaxInterval
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = def.Multiplier
	}
	if policy.Jitter < 0 || policy.Jitter > 1 {
		policy.Jitter = def.Jitter
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RetryingFetcher{
		next:    next,
		policy:  policy,
		logger:  logger.With("component", "retry"),
		metrics: recorder,
	}
}

// FetchKlines implements KlineFetcher. Exchange failures are returned wrapped
// in apperrors.ErrFetchFailed together with the last underlying cause.
func (r *RetryingFetcher) FetchKlines(ctx context.Context, symbol string, tf models.Timeframe, start, end int64) (models.Series, error) {
	var (
		result   models.Series
		lastErr  error
		attempts int
	)

	operation := func() error {
		attempts++
		series, err := r.next.FetchKlines(ctx, symbol, tf, start, end)
		if err == nil {
			result = series
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !apperrors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		errType := apperrors.GetErrorType(err)
		r.metrics.RecordRetry(string(errType))
		r.logger.Warn("fetch failed, retrying",
			"symbol", symbol,
			"timeframe", tf,
			"start", start,
			"end", end,
			"attempt", attempts,
			"error_type", errType,
			"wait", wait,
			"error", err)
	}

	err := backoff.RetryNotify(operation, r.backoff(ctx), notify)
	if err == nil {
		return result, nil
	}

	if lastErr == nil {
		lastErr = err
	}
	if apperrors.IsValidation(lastErr) {
		return nil, lastErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("fetch %s %s [%d, %d] canceled after %d attempts: %w",
			symbol, tf, start, end, attempts, errors.Join(ctxErr, lastErr))
	}
	return nil, fmt.Errorf("%w: %s %s [%d, %d] after %d attempts: %w",
		apperrors.ErrFetchFailed, symbol, tf, start, end, attempts, lastErr)
}

func (r *RetryingFetcher) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialInterval
	b.MaxInterval = r.policy.MaxInterval
	b.Multiplier = r.policy.Multiplier
	b.RandomizationFactor = r.policy.Jitter
	b.MaxElapsedTime = 0 // bounded by attempts and context
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.policy.MaxAttempts-1)), ctx)
}
