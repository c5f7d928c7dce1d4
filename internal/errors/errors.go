// Package errors defines the error kinds surfaced by the kline cache and the
// classification used to decide whether an exchange failure is worth retrying.
//
// Validation kinds (invalid range, timeframe, configuration, unknown symbol,
// malformed date, not found) are local failures and are never retried. Exchange
// failures are wrapped in a ClassifiedError so the retry layer can tell a
// rate limit apart from a rejected request.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Error kinds. Callers match them with errors.Is.
var (
	ErrInvalidRange         = errors.New("invalid range")
	ErrInvalidTimeframe     = errors.New("invalid timeframe")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrUnknownSymbol        = errors.New("unknown symbol")
	ErrNotFound             = errors.New("not found")
	ErrMalformedDate        = errors.New("malformed date")
	ErrFetchFailed          = errors.New("fetch failed")
)

// ErrorType represents the classification of an exchange error
type ErrorType string

const (
	// Retryable error types
	ErrorTypeNetwork     ErrorType = "network"      // Network connectivity issues
	ErrorTypeTimeout     ErrorType = "timeout"      // Request timeout
	ErrorTypeRateLimit   ErrorType = "rate_limit"   // Rate limiting from the exchange
	ErrorTypeServerError ErrorType = "server_error" // HTTP 5xx errors

	// Non-retryable error types
	ErrorTypeBadRequest ErrorType = "bad_request" // HTTP 4xx errors (except rate limit)
	ErrorTypeDecode     ErrorType = "decode"      // Response body could not be decoded
	ErrorTypeCanceled   ErrorType = "canceled"    // Caller gave up

	ErrorTypeUnknown ErrorType = "unknown"
)

// ClassifiedError represents an error with metadata for retry decisions
type ClassifiedError struct {
	Err       error     `json:"error"`
	Type      ErrorType `json:"type"`
	Retryable bool      `json:"retryable"`
	Component string    `json:"component"`
	Operation string    `json:"operation"`
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	return fmt.Sprintf("[%s/%s] %s: %v", ce.Component, ce.Type, ce.Operation, ce.Err)
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Is matches another ClassifiedError by type, otherwise defers to the wrapped error.
func (ce *ClassifiedError) Is(target error) bool {
	if t, ok := target.(*ClassifiedError); ok {
		return ce.Type == t.Type
	}
	return errors.Is(ce.Err, target)
}

// New builds a ClassifiedError whose retryability follows its type.
func New(errType ErrorType, component, operation string, err error) *ClassifiedError {
	return &ClassifiedError{
		Err:       err,
		Type:      errType,
		Retryable: retryableType(errType),
		Component: component,
		Operation: operation,
	}
}

// Classify inspects an arbitrary error and returns it classified. Errors that are
// already classified are returned unchanged.
func Classify(err error, component, operation string) *ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	return New(classifyErrorType(err), component, operation, err)
}

// IsRetryable reports whether err is worth another attempt.
// Local validation kinds are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsValidation(err) {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return retryableType(classifyErrorType(err))
}

// IsValidation reports whether err is one of the local validation kinds.
func IsValidation(err error) bool {
	for _, kind := range []error{
		ErrInvalidRange,
		ErrInvalidTimeframe,
		ErrInvalidConfiguration,
		ErrUnknownSymbol,
		ErrMalformedDate,
		ErrNotFound,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// GetErrorType returns the classification of err, or ErrorTypeUnknown.
func GetErrorType(err error) ErrorType {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ErrorTypeUnknown
}

func retryableType(t ErrorType) bool {
	switch t {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	case ErrorTypeBadRequest, ErrorTypeDecode, ErrorTypeCanceled:
		return false
	default:
		// Unknown errors are retryable with caution
		return true
	}
}

func classifyErrorType(err error) ErrorType {
	if errors.Is(err, context.Canceled) {
		return ErrorTypeCanceled
	}
	if isTimeoutError(err) {
		return ErrorTypeTimeout
	}
	if isNetworkError(err) {
		return ErrorTypeNetwork
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") {
		return ErrorTypeRateLimit
	}
	if strings.Contains(errStr, "server error") ||
		strings.Contains(errStr, "service unavailable") {
		return ErrorTypeServerError
	}
	return ErrorTypeUnknown
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"no route to host",
		"network unreachable",
		"eof",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
