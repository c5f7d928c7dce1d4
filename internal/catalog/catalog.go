// Package catalog keeps the snapshot of tradable symbols and prepares the
// storage layout the history cache writes into.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	apperrors "github.com/johnayoung/go-kline-cache/internal/errors"
	"github.com/johnayoung/go-kline-cache/internal/exchange"
	"github.com/johnayoung/go-kline-cache/internal/metrics"
	"github.com/johnayoung/go-kline-cache/internal/models"
	"github.com/johnayoung/go-kline-cache/internal/storage"
)

const (
	// ListingPrefix holds the symbol snapshot.
	ListingPrefix = "list_available"
	// ListingKey is the storage key of the snapshot.
	ListingKey = ListingPrefix + "/listing.json"
)

// Listing is the persisted snapshot.
type Listing struct {
	Listing []string `json:"listing"`
}

// Catalog reads and refreshes the symbol snapshot.
type Catalog struct {
	blobs   storage.BlobStore
	lister  exchange.SymbolLister
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// New creates a catalog.
func New(blobs storage.BlobStore, lister exchange.SymbolLister, logger *slog.Logger, recorder *metrics.Recorder) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		blobs:   blobs,
		lister:  lister,
		logger:  logger.With("component", "catalog"),
		metrics: recorder,
	}
}

// Layout returns every prefix the cache writes under: one per timeframe plus
// the listing prefix.
func Layout() []string {
	prefixes := append([]string{}, models.TimeframeLabels()...)
	return append(prefixes, ListingPrefix)
}

// Refresh prepares the storage layout, fetches the tradable symbols and
// replaces the snapshot.
func (c *Catalog) Refresh(ctx context.Context) ([]string, error) {
	if err := storage.Prepare(ctx, c.blobs, Layout()...); err != nil {
		return nil, fmt.Errorf("prepare storage layout: %w", err)
	}

	symbols, err := c.lister.ListSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}

	data, err := json.Marshal(Listing{Listing: symbols})
	if err != nil {
		return nil, fmt.Errorf("encode listing: %w", err)
	}
	if err := c.blobs.Put(ctx, ListingKey, data); err != nil {
		return nil, err
	}

	c.metrics.SetCatalogSize(len(symbols))
	c.logger.Info("symbol catalog refreshed", "symbols", len(symbols))
	return symbols, nil
}

// Load returns the whole snapshot, or an error wrapping apperrors.ErrNotFound
// when no refresh has happened yet.
func (c *Catalog) Load(ctx context.Context) ([]string, error) {
	data, err := c.blobs.Get(ctx, ListingKey)
	if err != nil {
		return nil, fmt.Errorf("symbol catalog: %w", err)
	}
	var listing Listing
	if err := json.Unmarshal(data, &listing); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ListingKey, err)
	}
	if listing.Listing == nil {
		listing.Listing = []string{}
	}
	return listing.Listing, nil
}

// List returns the symbols matching base and quote. Empty filters match
// anything; filters are compared upper-cased.
func (c *Catalog) List(ctx context.Context, base, quote string) ([]string, error) {
	symbols, err := c.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, s := range symbols {
		if models.MatchesSymbol(s, base, quote) {
			out = append(out, s)
		}
	}
	return out, nil
}

// Contains reports whether symbol is in the snapshot.
func (c *Catalog) Contains(ctx context.Context, symbol string) (bool, error) {
	symbols, err := c.Load(ctx)
	if err != nil {
		return false, err
	}
	for _, s := range symbols {
		if s == symbol {
			return true, nil
		}
	}
	return false, nil
}

// Validate returns an error wrapping apperrors.ErrUnknownSymbol when symbol
// is not tradable.
func (c *Catalog) Validate(ctx context.Context, symbol string) error {
	ok, err := c.Contains(ctx, symbol)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrUnknownSymbol, symbol)
	}
	return nil
}

// Refresher adapts a Catalog to scheduler.Job.
type Refresher struct {
	Catalog *Catalog
}

// Name implements scheduler.Job.
func (r Refresher) Name() string {
	return "catalog-refresh"
}

// Execute implements scheduler.Job.
func (r Refresher) Execute(ctx context.Context) error {
	_, err := r.Catalog.Refresh(ctx)
	return err
}
