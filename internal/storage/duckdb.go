package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
)

const blobsTable = "blobs"

// DuckDBStore keeps every key as a row of a single table. The path can be
// ":memory:" for an in-memory database or a file path for persistent storage.
type DuckDBStore struct {
	db     *sql.DB
	dbPath string
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewDuckDBStore opens the database. Call Initialize before use.
func NewDuckDBStore(dbPath string, logger *slog.Logger) (*DuckDBStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, NewStorageError("open", "", fmt.Errorf("failed to open DuckDB database: %w", err))
	}

	// Single writer, as recommended for DuckDB
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &DuckDBStore{
		db:     db,
		dbPath: dbPath,
		logger: logger,
	}, nil
}

// Initialize brings the schema up to date.
func (d *DuckDBStore) Initialize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := NewMigrationManager(d.db, d.logger).MigrateToLatest(ctx); err != nil {
		return NewStorageError("initialize", "", err)
	}

	d.logger.Info("DuckDB storage initialized", "db_path", d.dbPath)
	return nil
}

func (d *DuckDBStore) conn() (*sql.DB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return nil, errors.New("database connection is closed")
	}
	return d.db, nil
}

// Get implements BlobStore.
func (d *DuckDBStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	db, err := d.conn()
	if err != nil {
		return nil, NewStorageError("get", key, err)
	}

	var data []byte
	err = db.QueryRowContext(ctx, `SELECT data FROM `+blobsTable+` WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, NewStorageError("get", key, err)
	}
	return data, nil
}

// Put implements BlobStore. The row is replaced inside a transaction.
func (d *DuckDBStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	db, err := d.conn()
	if err != nil {
		return NewStorageError("put", key, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return NewStorageError("put", key, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if data == nil {
		data = []byte{}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO `+blobsTable+` (key, data, updated_at) VALUES (?, ?, ?)`,
		key, data, time.Now().UTC())
	if err != nil {
		return NewStorageError("put", key, err)
	}
	if err := tx.Commit(); err != nil {
		return NewStorageError("put", key, fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// Exists implements BlobStore.
func (d *DuckDBStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	db, err := d.conn()
	if err != nil {
		return false, NewStorageError("exists", key, err)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+blobsTable+` WHERE key = ?`, key).Scan(&count); err != nil {
		return false, NewStorageError("exists", key, err)
	}
	return count > 0, nil
}

// List implements BlobStore.
func (d *DuckDBStore) List(ctx context.Context, prefix string) ([]string, error) {
	db, err := d.conn()
	if err != nil {
		return nil, NewStorageError("list", prefix, err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT key FROM `+blobsTable+` WHERE starts_with(key, ?) ORDER BY key`, prefix)
	if err != nil {
		return nil, NewStorageError("list", prefix, err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, NewStorageError("list", prefix, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("list", prefix, err)
	}
	return keys, nil
}

// Delete implements BlobStore.
func (d *DuckDBStore) Delete(ctx context.Context, key string) error {
	db, err := d.conn()
	if err != nil {
		return NewStorageError("delete", key, err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM `+blobsTable+` WHERE key = ?`, key); err != nil {
		return NewStorageError("delete", key, err)
	}
	return nil
}

// HealthCheck performs a lightweight query to verify database connectivity.
func (d *DuckDBStore) HealthCheck(ctx context.Context) error {
	db, err := d.conn()
	if err != nil {
		return NewStorageError("health_check", "", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return NewStorageError("health_check", "", fmt.Errorf("database health check failed: %w", err))
	}
	if result != 1 {
		return NewStorageError("health_check", "", fmt.Errorf("unexpected health check result: %d", result))
	}
	return nil
}

// Close implements BlobStore.
func (d *DuckDBStore) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		d.logger.Info("closing DuckDB storage")
		if err := d.db.Close(); err != nil {
			return NewStorageError("close", "", fmt.Errorf("failed to close database: %w", err))
		}
		d.db = nil
	}
	return nil
}
