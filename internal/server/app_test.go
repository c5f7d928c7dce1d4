package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-kline-cache/internal/api"
	"github.com/johnayoung/go-kline-cache/internal/catalog"
	"github.com/johnayoung/go-kline-cache/internal/models"
	"github.com/johnayoung/go-kline-cache/internal/scheduler"
	"github.com/johnayoung/go-kline-cache/internal/service"
	"github.com/johnayoung/go-kline-cache/internal/storage"
)

type staticLister struct {
	symbols []string
}

func (l *staticLister) ListSymbols(ctx context.Context) ([]string, error) {
	return l.symbols, nil
}

type emptyHistory struct{}

func (emptyHistory) Exists(ctx context.Context, symbol string, tf models.Timeframe) (bool, error) {
	return false, nil
}

func (emptyHistory) RefreshOrDownload(ctx context.Context, symbol string, tf models.Timeframe, since time.Time) (models.Series, error) {
	return models.Series{}, nil
}

func TestAppServesUntilCancelled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cat := catalog.New(storage.NewMemoryStore(), &staticLister{symbols: []string{"BTC-USDT", "ETH-USDT"}}, logger, nil)
	svc := service.New(emptyHistory{}, cat, service.Options{}, logger)

	sched := scheduler.New(scheduler.Config{TickInterval: 10 * time.Millisecond, JobTimeout: time.Second}, logger)
	require.NoError(t, sched.AddJob(catalog.Refresher{Catalog: cat}, time.Hour, true))

	httpServer := api.NewServer(api.NewHandler(svc, nil, logger), api.ServerConfig{}, nil, logger)
	app := New(httpServer, sched, svc, time.Second, logger)
	assert.Same(t, svc, app.Service())

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, l) }()

	url := "http://" + l.Addr().String() + "/api/v1/crypto/available?base_currency=eth"
	var symbols []string
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		return json.NewDecoder(resp.Body).Decode(&symbols) == nil
	}, 5*time.Second, 20*time.Millisecond, "catalog refresh job should populate the listing")
	assert.Equal(t, []string{"ETH-USDT"}, symbols)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not shut down")
	}
	assert.False(t, sched.IsRunning())
}

func TestAppReportsListenFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cat := catalog.New(storage.NewMemoryStore(), &staticLister{}, logger, nil)
	svc := service.New(emptyHistory{}, cat, service.Options{}, logger)

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	httpServer := api.NewServer(api.NewHandler(svc, nil, logger), api.ServerConfig{Address: busy.Addr().String()}, nil, logger)
	app := New(httpServer, scheduler.New(scheduler.Config{}, logger), svc, time.Second, logger)

	err = app.Serve(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen on")
}
