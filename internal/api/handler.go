// Package api exposes the kline cache over HTTP with echo. Handlers only
// bind and validate query parameters, call the service and map errors.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/johnayoung/go-kline-cache/internal/models"
	"github.com/johnayoung/go-kline-cache/internal/service"
)

// Service is what the handlers need from service.Service.
type Service interface {
	RequestHistory(ctx context.Context, q service.HistoryQuery) (models.Series, *models.Job, error)
	ListSymbols(ctx context.Context, base, quote string) ([]string, error)
	CheckCached(ctx context.Context, symbol, timeframe string) (bool, error)
	RefreshCatalog(ctx context.Context) error
	Job(id string) (*models.Job, error)
}

// HealthFunc reports whether a dependency is usable.
type HealthFunc func(ctx context.Context) error

// Handler serves the kline cache endpoints.
type Handler struct {
	svc    Service
	health HealthFunc
	logger *slog.Logger
}

// NewHandler creates a handler. health may be nil.
func NewHandler(svc Service, health HealthFunc, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, health: health, logger: logger.With("component", "api")}
}

type availableRequest struct {
	BaseCurrency  string `query:"base_currency" validate:"omitempty,alphanum,max=20"`
	QuoteCurrency string `query:"quote_currency" validate:"omitempty,alphanum,max=20"`
}

type historyRequest struct {
	Symbol    string `query:"symbol" validate:"required,max=40"`
	Timeframe string `query:"timeframe" default:"15min" validate:"required"`
	Since     string `query:"since"`
	Limit     int    `query:"limit" validate:"gte=0"`
}

type cachedRequest struct {
	Symbol    string `query:"symbol" validate:"required,max=40"`
	Timeframe string `query:"timeframe" default:"15min" validate:"required"`
}

// JobResponse is returned when a download runs in the background.
type JobResponse struct {
	Status string      `json:"status"`
	JobID  string      `json:"job_id"`
	Job    *models.Job `json:"job"`
}

// RegisterRoutes registers the endpoints on e.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	v1 := e.Group("/api/v1")
	v1.GET("/crypto/available", h.Available)
	v1.GET("/crypto/history", h.History)
	v1.GET("/crypto/cached", h.Cached)
	v1.POST("/crypto/catalog/refresh", h.RefreshCatalog)
	v1.GET("/jobs/:id", h.GetJob)
}

// Available lists tradable symbols, optionally filtered by currency.
func (h *Handler) Available(c echo.Context) error {
	var req availableRequest
	if err := bindQuery(c, &req); err != nil {
		return err
	}

	symbols, err := h.svc.ListSymbols(c.Request().Context(), req.BaseCurrency, req.QuoteCurrency)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, symbols)
}

// History returns candles, or 202 with a job when the first download of a
// deferred timeframe runs in the background.
func (h *Handler) History(c echo.Context) error {
	var req historyRequest
	if err := bindQuery(c, &req); err != nil {
		return err
	}

	series, job, err := h.svc.RequestHistory(c.Request().Context(), service.HistoryQuery{
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		Since:     req.Since,
		Limit:     req.Limit,
	})
	if err != nil {
		return err
	}
	if job != nil {
		c.Response().Header().Set("Location", "/api/v1/jobs/"+job.ID)
		return c.JSON(http.StatusAccepted, JobResponse{Status: "in_progress", JobID: job.ID, Job: job})
	}
	if series == nil {
		series = models.Series{}
	}
	return c.JSON(http.StatusOK, series)
}

// Cached reports whether history is cached.
func (h *Handler) Cached(c echo.Context) error {
	var req cachedRequest
	if err := bindQuery(c, &req); err != nil {
		return err
	}

	cached, err := h.svc.CheckCached(c.Request().Context(), req.Symbol, req.Timeframe)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"cached": cached})
}

// RefreshCatalog refreshes the symbol catalog.
func (h *Handler) RefreshCatalog(c echo.Context) error {
	if err := h.svc.RefreshCatalog(c.Request().Context()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// GetJob returns a background download's status.
func (h *Handler) GetJob(c echo.Context) error {
	job, err := h.svc.Job(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}

// Health reports service health.
func (h *Handler) Health(c echo.Context) error {
	if h.health != nil {
		if err := h.health(c.Request().Context()); err != nil {
			h.logger.Warn("health check failed", "error", err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
