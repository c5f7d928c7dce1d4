// Package storage defines the blob store used for the candle history and the
// symbol catalog, with file, in-memory, DuckDB and Redis backends.
//
// Keys are slash separated relative paths such as "1day/BTC-USDT.csv". A Put
// replaces the whole object atomically, so readers never observe a partially
// written value.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	apperrors "github.com/johnayoung/go-kline-cache/internal/errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = apperrors.ErrNotFound

// Backend names accepted by New.
const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendDuckDB = "duckdb"
	BackendRedis  = "redis"
)

// BlobStore persists opaque values by key.
type BlobStore interface {
	// Get returns the value stored at key, or an error wrapping ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put atomically replaces the value at key.
	Put(ctx context.Context, key string, data []byte) error

	// Exists reports whether key holds a value.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns the keys starting with prefix in ascending order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the backend's resources.
	Close() error
}

// Preparer is implemented by backends that need a layout created up front,
// such as one directory per prefix.
type Preparer interface {
	Prepare(ctx context.Context, prefixes ...string) error
}

// HealthChecker is implemented by backends that can verify connectivity.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Options selects and configures a backend.
type Options struct {
	Backend string

	// file
	Root string

	// duckdb
	DuckDBPath string

	// redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// New opens the backend named by opts.Backend.
func New(ctx context.Context, opts Options, logger *slog.Logger) (BlobStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "storage", "backend", opts.Backend)

	switch opts.Backend {
	case BackendFile, "":
		return NewFileStore(opts.Root, logger)
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendDuckDB:
		store, err := NewDuckDBStore(opts.DuckDBPath, logger)
		if err != nil {
			return nil, err
		}
		if err := store.Initialize(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	case BackendRedis:
		return NewRedisStore(ctx, logger,
			WithRedisAddr(opts.RedisAddr),
			WithRedisPassword(opts.RedisPassword),
			WithRedisDB(opts.RedisDB),
			WithRedisPrefix(opts.RedisPrefix),
		)
	default:
		return nil, fmt.Errorf("%w: unsupported storage backend %q", apperrors.ErrInvalidConfiguration, opts.Backend)
	}
}

// Prepare calls store.Prepare when the backend supports it.
func Prepare(ctx context.Context, store BlobStore, prefixes ...string) error {
	if p, ok := store.(Preparer); ok {
		return p.Prepare(ctx, prefixes...)
	}
	return nil
}

// ValidateKey rejects keys that are empty, absolute, or escape the store root.
func ValidateKey(key string) error {
	if key == "" {
		return NewStorageError("validate", key, fmt.Errorf("empty key"))
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return NewStorageError("validate", key, fmt.Errorf("key must be a relative slash separated path"))
	}
	if cleaned := path.Clean(key); cleaned != key || cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return NewStorageError("validate", key, fmt.Errorf("key is not a clean relative path"))
	}
	return nil
}

// StorageError represents errors that occur during storage operations.
type StorageError struct {
	// Operation is the storage operation that failed (e.g., "put", "list")
	Operation string

	// Key is the blob key involved in the operation (may be empty)
	Key string

	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for StorageError.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage operation %s on key %s failed: %v", e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError with the provided details.
func NewStorageError(operation, key string, err error) *StorageError {
	return &StorageError{
		Operation: operation,
		Key:       key,
		Err:       err,
	}
}

func notFound(key string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, key)
}
