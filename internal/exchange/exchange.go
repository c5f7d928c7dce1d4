// Package exchange defines the interfaces the kline cache needs from an
// exchange and provides the KuCoin implementation plus a retrying decorator.
//
// The interfaces are kept small so the collector, the catalog and the tests
// can depend on exactly the capability they use.
package exchange

import (
	"context"
	"time"

	"github.com/johnayoung/go-kline-cache/internal/models"
)

// KlineFetcher retrieves candles for one window.
type KlineFetcher interface {
	// FetchKlines returns the candles of symbol at timeframe tf whose open time
	// falls in [start, end] (epoch seconds). The result is ascending by
	// timestamp. An empty window yields an empty series and no error.
	FetchKlines(ctx context.Context, symbol string, tf models.Timeframe, start, end int64) (models.Series, error)
}

// SymbolLister retrieves the tradable symbols of an exchange.
type SymbolLister interface {
	// ListSymbols returns every tradable BASE-QUOTE symbol.
	ListSymbols(ctx context.Context) ([]string, error)
}

// Exchange is the full capability set of an exchange adapter.
type Exchange interface {
	KlineFetcher
	SymbolLister
}

// Config holds the connection settings of an exchange adapter.
type Config struct {
	BaseURL           string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	UserAgent         string
}

// RetryPolicy bounds how a RetryingFetcher retries a window.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64
}

// DefaultRetryPolicy waits 100ms to 1s between attempts with full jitter
// around the current interval and gives up after eight attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     8,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2.0,
		Jitter:          0.5,
	}
}
