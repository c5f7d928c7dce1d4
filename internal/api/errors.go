package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "github.com/johnayoung/go-kline-cache/internal/errors"
)

// AppError is the JSON error body returned by every endpoint.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details []ValidationError `json:"details,omitempty"`
	Status  int               `json:"-"`
	Err     error             `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new application error.
func NewAppError(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

// WithError wraps an underlying error.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// BadRequestError creates a 400 error.
func BadRequestError(message string) *AppError {
	return NewAppError("ERR_BAD_REQUEST", message, http.StatusBadRequest)
}

// NotFoundError creates a 404 error.
func NotFoundError(message string) *AppError {
	return NewAppError("ERR_NOT_FOUND", message, http.StatusNotFound)
}

// errorMapping pairs an error kind with its HTTP status and code.
var errorMapping = []struct {
	kind   error
	status int
	code   string
}{
	{apperrors.ErrInvalidRange, http.StatusBadRequest, "ERR_INVALID_RANGE"},
	{apperrors.ErrInvalidTimeframe, http.StatusBadRequest, "ERR_INVALID_TIMEFRAME"},
	{apperrors.ErrInvalidConfiguration, http.StatusBadRequest, "ERR_INVALID_CONFIGURATION"},
	{apperrors.ErrMalformedDate, http.StatusBadRequest, "ERR_MALFORMED_DATE"},
	{apperrors.ErrUnknownSymbol, http.StatusNotFound, "ERR_UNKNOWN_SYMBOL"},
	{apperrors.ErrNotFound, http.StatusNotFound, "ERR_NOT_FOUND"},
	{apperrors.ErrFetchFailed, http.StatusBadGateway, "ERR_FETCH_FAILED"},
}

// FromError maps err to an AppError using the error kinds.
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return NewAppError("ERR_HTTP", fmt.Sprint(he.Message), he.Code).WithError(err)
	}

	for _, m := range errorMapping {
		if errors.Is(err, m.kind) {
			return NewAppError(m.code, err.Error(), m.status).WithError(err)
		}
	}
	return NewAppError("ERR_INTERNAL", http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError).WithError(err)
}

// ErrorHandler renders handler errors as AppError JSON bodies.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		appErr := FromError(err)
		if appErr.Status >= http.StatusInternalServerError {
			logger.Error("request failed",
				"method", c.Request().Method,
				"path", c.Path(),
				"status", appErr.Status,
				"error", err)
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(appErr.Status)
		} else {
			writeErr = c.JSON(appErr.Status, appErr)
		}
		if writeErr != nil {
			logger.Warn("failed to write error response", "error", writeErr)
		}
	}
}
