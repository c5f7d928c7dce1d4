// Package di wires the application together with google/wire. Providers
// translate configuration into constructor arguments; wire_gen.go calls them
// in dependency order.
package di

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/johnayoung/go-kline-cache/internal/api"
	"github.com/johnayoung/go-kline-cache/internal/catalog"
	"github.com/johnayoung/go-kline-cache/internal/collector"
	"github.com/johnayoung/go-kline-cache/internal/config"
	"github.com/johnayoung/go-kline-cache/internal/exchange"
	"github.com/johnayoung/go-kline-cache/internal/history"
	"github.com/johnayoung/go-kline-cache/internal/logger"
	"github.com/johnayoung/go-kline-cache/internal/metrics"
	"github.com/johnayoung/go-kline-cache/internal/scheduler"
	"github.com/johnayoung/go-kline-cache/internal/server"
	"github.com/johnayoung/go-kline-cache/internal/service"
	"github.com/johnayoung/go-kline-cache/internal/storage"
)

// ProvideLoggerManager creates the logger manager. The cleanup closes a
// rotating log file when one is configured.
func ProvideLoggerManager(cfg *config.AppConfig) (*logger.LoggerManager, func(), error) {
	lm, err := logger.NewLoggerManager(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return lm, func() { _ = lm.Close() }, nil
}

// ProvideLogger returns the root logger.
func ProvideLogger(lm *logger.LoggerManager) *slog.Logger {
	return lm.GetLogger()
}

// ProvideMetrics creates the Prometheus recorder, or nil when metrics are
// disabled. Every recorder method is nil-safe.
func ProvideMetrics(cfg *config.AppConfig) *metrics.Recorder {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.New(cfg.Metrics.Namespace)
}

// ProvideBlobStore opens the configured storage backend.
func ProvideBlobStore(cfg *config.AppConfig, log *slog.Logger) (storage.BlobStore, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := storage.New(ctx, storage.Options{
		Backend:       cfg.Storage.Backend,
		Root:          cfg.Storage.Root,
		DuckDBPath:    cfg.Storage.DuckDBPath,
		RedisAddr:     cfg.Storage.RedisAddr,
		RedisPassword: cfg.Storage.RedisPassword,
		RedisDB:       cfg.Storage.RedisDB,
		RedisPrefix:   cfg.Storage.RedisPrefix,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: %w", err)
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			log.Error("close storage", "error", err)
		}
	}
	return store, cleanup, nil
}

// ProvideKucoinAdapter creates the rate-limited KuCoin client.
func ProvideKucoinAdapter(cfg *config.AppConfig, log *slog.Logger, recorder *metrics.Recorder) *exchange.KucoinAdapter {
	return exchange.NewKucoinAdapter(exchange.Config{
		BaseURL:           cfg.Exchange.BaseURL,
		RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
		Burst:             cfg.Exchange.Burst,
		Timeout:           config.Duration(cfg.Exchange.Timeout, 30*time.Second),
		UserAgent:         cfg.Exchange.UserAgent,
	}, log, recorder)
}

// ProvideKlineFetcher wraps the adapter with bounded retries.
func ProvideKlineFetcher(adapter *exchange.KucoinAdapter, cfg *config.AppConfig, log *slog.Logger, recorder *metrics.Recorder) exchange.KlineFetcher {
	def := exchange.DefaultRetryPolicy()
	rp := cfg.Exchange.RetryPolicy
	return exchange.NewRetryingFetcher(adapter, exchange.RetryPolicy{
		MaxAttempts:     rp.MaxAttempts,
		InitialInterval: config.Duration(rp.InitialDelay, def.InitialInterval),
		MaxInterval:     config.Duration(rp.MaxDelay, def.MaxInterval),
		Multiplier:      rp.Multiplier,
		Jitter:          rp.Jitter,
	}, log, recorder)
}

// ProvideDownloader creates the windowed downloader.
func ProvideDownloader(fetcher exchange.KlineFetcher, cfg *config.AppConfig, log *slog.Logger, recorder *metrics.Recorder) *collector.Downloader {
	return collector.NewDownloader(fetcher, cfg.Collector.RecordLimit, log, recorder)
}

// ProvideHistoryStore creates the per-symbol history cache.
func ProvideHistoryStore(blobs storage.BlobStore, downloader *collector.Downloader, cfg *config.AppConfig, log *slog.Logger, recorder *metrics.Recorder) (*history.Store, error) {
	loc, err := cfg.History.Location()
	if err != nil {
		return nil, fmt.Errorf("history timezone: %w", err)
	}
	return history.NewStore(blobs, downloader, history.Options{
		Location:    loc,
		Concurrency: cfg.Collector.Concurrency,
	}, log, recorder), nil
}

// ProvideCatalog creates the symbol catalog backed by the KuCoin ticker list.
func ProvideCatalog(blobs storage.BlobStore, adapter *exchange.KucoinAdapter, log *slog.Logger, recorder *metrics.Recorder) *catalog.Catalog {
	return catalog.New(blobs, adapter, log, recorder)
}

// ProvideService creates the service façade. The cleanup cancels background
// downloads.
func ProvideService(store *history.Store, cat *catalog.Catalog, cfg *config.AppConfig, log *slog.Logger) (*service.Service, func(), error) {
	since, err := cfg.History.Since()
	if err != nil {
		return nil, nil, fmt.Errorf("history start date: %w", err)
	}
	loc, err := cfg.History.Location()
	if err != nil {
		return nil, nil, fmt.Errorf("history timezone: %w", err)
	}

	svc := service.New(store, cat, service.Options{
		Since:    since,
		Location: loc,
		Deferred: cfg.History.Deferred(),
	}, log)
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), config.Duration(cfg.Server.ShutdownTimeout, 30*time.Second))
		defer cancel()
		if err := svc.Close(ctx); err != nil {
			log.Warn("close service", "error", err)
		}
	}
	return svc, cleanup, nil
}

// ProvideScheduler creates the scheduler with the catalog refresh job.
func ProvideScheduler(cat *catalog.Catalog, cfg *config.AppConfig, log *slog.Logger) (*scheduler.Scheduler, error) {
	sched := scheduler.New(scheduler.Config{
		JobTimeout: config.Duration(cfg.Catalog.JobTimeout, 5*time.Minute),
	}, log)
	interval := config.Duration(cfg.Catalog.RefreshInterval, 24*time.Hour)
	if err := sched.AddJob(catalog.Refresher{Catalog: cat}, interval, cfg.Catalog.RefreshOnStart); err != nil {
		return nil, fmt.Errorf("schedule catalog refresh: %w", err)
	}
	return sched, nil
}

// ProvideHandler creates the HTTP handler, with the storage health check when
// the backend supports one.
func ProvideHandler(svc *service.Service, blobs storage.BlobStore, log *slog.Logger) *api.Handler {
	var health api.HealthFunc
	if hc, ok := blobs.(storage.HealthChecker); ok {
		health = hc.HealthCheck
	}
	return api.NewHandler(svc, health, log)
}

// ProvideHTTPServer creates the echo server.
func ProvideHTTPServer(handler *api.Handler, cfg *config.AppConfig, recorder *metrics.Recorder, log *slog.Logger) *api.Server {
	return api.NewServer(handler, api.ServerConfig{
		Address:         cfg.Server.Address,
		ReadTimeout:     config.Duration(cfg.Server.ReadTimeout, 30*time.Second),
		WriteTimeout:    config.Duration(cfg.Server.WriteTimeout, 5*time.Minute),
		ShutdownTimeout: config.Duration(cfg.Server.ShutdownTimeout, 30*time.Second),
		MetricsPath:     cfg.Metrics.Path,
	}, recorder, log)
}

// ProvideApp assembles the application.
func ProvideApp(httpServer *api.Server, sched *scheduler.Scheduler, svc *service.Service, cfg *config.AppConfig, lm *logger.LoggerManager) *server.App {
	return server.New(httpServer, sched, svc, config.Duration(cfg.Server.ShutdownTimeout, 30*time.Second), lm.GetComponentLogger("app"))
}
