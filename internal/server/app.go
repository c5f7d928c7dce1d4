// Package server owns the process lifecycle: it starts the background
// scheduler and the HTTP server, waits for a signal and shuts both down.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/johnayoung/go-kline-cache/internal/api"
	"github.com/johnayoung/go-kline-cache/internal/scheduler"
	"github.com/johnayoung/go-kline-cache/internal/service"
)

// DefaultShutdownTimeout bounds the shutdown of background work.
const DefaultShutdownTimeout = 30 * time.Second

// App encapsulates the entire application lifecycle.
type App struct {
	http            *api.Server
	scheduler       *scheduler.Scheduler
	service         *service.Service
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// New creates a new App instance with all dependencies.
func New(
	httpServer *api.Server,
	sched *scheduler.Scheduler,
	svc *service.Service,
	shutdownTimeout time.Duration,
	logger *slog.Logger,
) *App {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		http:            httpServer,
		scheduler:       sched,
		service:         svc,
		shutdownTimeout: shutdownTimeout,
		logger:          logger,
	}
}

// Service returns the kline cache service, for one-shot CLI commands.
func (a *App) Service() *service.Service {
	return a.service
}

// Run serves on the configured address until ctx is cancelled or SIGINT or
// SIGTERM is received.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Serve(ctx, nil)
}

// Serve starts the scheduler and serves HTTP on l, or on the configured
// address when l is nil, until ctx is done.
func (a *App) Serve(ctx context.Context, l net.Listener) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if l != nil {
			errCh <- a.http.Serve(l)
			return
		}
		errCh <- a.http.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		if runErr != nil {
			a.logger.Error("http server failed", "error", runErr)
		}
	}

	return errors.Join(runErr, a.shutdown())
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.http.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.scheduler.IsRunning() {
		if err := a.scheduler.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
		}
	}
	if err := a.service.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close service: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	a.logger.Info("shutdown complete")
	return nil
}
