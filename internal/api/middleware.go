package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/labstack/echo/v4"

	applog "github.com/johnayoung/go-kline-cache/internal/logger"
	"github.com/johnayoung/go-kline-cache/internal/metrics"
)

// RequestIDHeader carries the trace ID back to the client.
const RequestIDHeader = echo.HeaderXRequestID

// Recover turns handler panics into 500 responses.
func Recover(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					perr, ok := r.(error)
					if !ok {
						perr = fmt.Errorf("%v", r)
					}
					logger.Error("panic in handler", "error", perr, "stack", string(debug.Stack()))
					err = NewAppError("ERR_INTERNAL", http.StatusText(http.StatusInternalServerError),
						http.StatusInternalServerError).WithError(perr)
				}
			}()
			return next(c)
		}
	}
}

// RequestLogging attaches a trace ID to the request context, logs the
// request and records its metrics.
func RequestLogging(logger *slog.Logger, recorder *metrics.Recorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			start := time.Now()

			ctx := req.Context()
			if id := req.Header.Get(RequestIDHeader); id != "" {
				ctx = applog.WithTraceID(ctx, id)
			}
			ctx, traceID := applog.EnsureTraceID(ctx)
			c.SetRequest(req.WithContext(ctx))
			c.Response().Header().Set(RequestIDHeader, traceID)

			err := next(c)
			if err != nil {
				// Let the error handler write the response so the status is known.
				c.Error(err)
			}

			status := c.Response().Status
			latency := time.Since(start)
			recorder.RecordHTTPRequest(c.Path(), req.Method, status, latency)

			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			applog.FromContext(ctx, logger).Log(ctx, level, "http request",
				"method", req.Method,
				"path", c.Path(),
				"uri", req.RequestURI,
				"status", status,
				"latency", latency)
			return nil
		}
	}
}
