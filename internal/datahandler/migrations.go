package datahandler

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/johnayoung/go-ohlcv-research/internal/logger"
)

// Migration represents a single schema migration with version and implementation.
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, tx *sql.Tx) error
}

// MigrationStatus reports the schema state of a database.
type MigrationStatus struct {
	CurrentVersion    int
	LatestVersion     int
	PendingMigrations int
}

// MigrationManager applies schema migrations. The SQL it issues is
// understood by both DuckDB and SQLite.
type MigrationManager struct {
	db         *sql.DB
	logger     *slog.Logger
	migrations []Migration
}

// NewMigrationManager creates a new migration manager instance.
func NewMigrationManager(db *sql.DB, log *slog.Logger) *MigrationManager {
	return &MigrationManager{
		db:         db,
		logger:     logger.OrNop(log),
		migrations: candleMigrations(),
	}
}

// Initialize creates the migrations table if it doesn't exist.
func (m *MigrationManager) Initialize(ctx context.Context) error {
	createMigrationsTable := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description VARCHAR NOT NULL,
			applied_at BIGINT NOT NULL
		)`

	if _, err := m.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// MigrateToLatest runs all pending migrations.
func (m *MigrationManager) MigrateToLatest(ctx context.Context) error {
	if err := m.Initialize(ctx); err != nil {
		return err
	}

	current, err := m.currentVersion(ctx)
	if err != nil {
		return err
	}

	applied := 0
	for _, migration := range m.migrations {
		if migration.Version <= current {
			continue
		}
		if err := m.runMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", migration.Version, err)
		}
		applied++
	}

	if applied > 0 {
		m.logger.Debug("migrations completed", "migrations_run", applied, "from_version", current)
	}
	return nil
}

// GetStatus returns the current migration status.
func (m *MigrationManager) GetStatus(ctx context.Context) (*MigrationStatus, error) {
	current, err := m.currentVersion(ctx)
	if err != nil {
		return nil, err
	}

	status := &MigrationStatus{CurrentVersion: current}
	for _, migration := range m.migrations {
		status.LatestVersion = migration.Version
		if migration.Version > current {
			status.PendingMigrations++
		}
	}
	return status, nil
}

// runMigration executes a single migration inside a transaction.
func (m *MigrationManager) runMigration(ctx context.Context, migration Migration) error {
	start := time.Now()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := migration.Up(ctx, tx); err != nil {
		return fmt.Errorf("migration execution failed: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`,
		migration.Version, migration.Description, start.UnixMilli()); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	m.logger.Debug("migration applied",
		"version", migration.Version,
		"description", migration.Description,
		"duration", time.Since(start))
	return nil
}

// currentVersion returns the highest applied migration version.
func (m *MigrationManager) currentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

func candleMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "create candles table",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `
					CREATE TABLE IF NOT EXISTS candles (
						pair VARCHAR NOT NULL,
						timeframe VARCHAR NOT NULL,
						candle_type VARCHAR NOT NULL,
						ts BIGINT NOT NULL,
						open DOUBLE,
						high DOUBLE,
						low DOUBLE,
						close DOUBLE,
						volume DOUBLE,
						PRIMARY KEY (pair, timeframe, candle_type, ts)
					)`)
				return err
			},
		},
		{
			Version:     2,
			Description: "index series keys",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx,
					"CREATE INDEX IF NOT EXISTS idx_candles_series ON candles (pair, timeframe, candle_type)")
				return err
			},
		},
	}
}
