package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Migration is one versioned change to the DuckDB schema.
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, tx *sql.Tx) error
	Down        func(ctx context.Context, tx *sql.Tx) error
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version     int
	Description string
	AppliedAt   time.Time
	Duration    time.Duration
}

// MigrationManager applies schema migrations in version order, each in its
// own transaction.
type MigrationManager struct {
	db         *sql.DB
	logger     *slog.Logger
	migrations []Migration
}

// NewMigrationManager creates a manager for the blob schema.
func NewMigrationManager(db *sql.DB, logger *slog.Logger) *MigrationManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &MigrationManager{
		db:         db,
		logger:     logger,
		migrations: blobMigrations(),
	}
}

// Latest returns the highest known version.
func (m *MigrationManager) Latest() int {
	if len(m.migrations) == 0 {
		return 0
	}
	return m.migrations[len(m.migrations)-1].Version
}

// MigrateToLatest applies every pending migration.
func (m *MigrationManager) MigrateToLatest(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version        INTEGER PRIMARY KEY,
			description    VARCHAR NOT NULL,
			applied_at     TIMESTAMP NOT NULL,
			execution_time BIGINT NOT NULL
		)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	applied := 0
	for _, migration := range m.migrations {
		if migration.Version <= current {
			continue
		}
		if err := m.apply(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", migration.Version, err)
		}
		applied++
	}

	if applied > 0 {
		m.logger.Info("migrations applied", "migrations_run", applied, "version", m.Latest())
	}
	return nil
}

// Rollback reverts migrations above target, newest first.
func (m *MigrationManager) Rollback(ctx context.Context, target int) error {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	for i := len(m.migrations) - 1; i >= 0; i-- {
		migration := m.migrations[i]
		if migration.Version <= target || migration.Version > current {
			continue
		}
		if migration.Down == nil {
			return fmt.Errorf("migration %d has no rollback function", migration.Version)
		}
		if err := m.inTx(ctx, func(tx *sql.Tx) error {
			if err := migration.Down(ctx, tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = ?`, migration.Version)
			return err
		}); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", migration.Version, err)
		}
		m.logger.Info("migration rolled back", "version", migration.Version)
	}
	return nil
}

// CurrentVersion returns the highest applied version, 0 when none.
func (m *MigrationManager) CurrentVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	if err := m.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return int(version.Int64), nil
}

// Applied lists the applied migrations in version order.
func (m *MigrationManager) Applied(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT version, description, applied_at, execution_time FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var (
			a  AppliedMigration
			ns int64
		)
		if err := rows.Scan(&a.Version, &a.Description, &a.AppliedAt, &ns); err != nil {
			return nil, err
		}
		a.Duration = time.Duration(ns)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (m *MigrationManager) apply(ctx context.Context, migration Migration) error {
	start := time.Now()
	m.logger.Info("applying migration", "version", migration.Version, "description", migration.Description)

	return m.inTx(ctx, func(tx *sql.Tx) error {
		if err := migration.Up(ctx, tx); err != nil {
			return fmt.Errorf("migration execution failed: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, description, applied_at, execution_time) VALUES (?, ?, ?, ?)`,
			migration.Version, migration.Description, start.UTC(), time.Since(start).Nanoseconds())
		if err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		return nil
	})
}

func (m *MigrationManager) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func blobMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "create blobs table",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `
					CREATE TABLE IF NOT EXISTS `+blobsTable+` (
						key        VARCHAR PRIMARY KEY,
						data       BLOB NOT NULL,
						updated_at TIMESTAMP NOT NULL
					)`)
				return err
			},
			Down: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+blobsTable)
				return err
			},
		},
	}
}
