package datahandler

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

// bulkWriter inserts candles of one series on conn, inside the transaction
// that removed the previous rows of the series.
type bulkWriter func(ctx context.Context, conn *sql.Conn, key SeriesKey, candles []models.Candle) error

// sqlBackend holds the parts shared by the DuckDB and SQLite backends.
type sqlBackend struct {
	db     *sql.DB
	dbPath string
	format Format
	logger *slog.Logger
	write  bulkWriter
	mu     sync.RWMutex
}

// openSQL opens a database, applies migrations and returns the shared backend.
func openSQL(ctx context.Context, driver, dsn, dbPath string, format Format, log *slog.Logger, write bulkWriter) (*sqlBackend, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, NewStorageError(format, "open", SeriesKey{}, fmt.Errorf("failed to open database: %w", err))
	}

	// Single writer pattern
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, NewStorageError(format, "open", SeriesKey{}, fmt.Errorf("failed to connect: %w", err))
	}

	if err := NewMigrationManager(db, log).MigrateToLatest(ctx); err != nil {
		db.Close()
		return nil, NewStorageError(format, "migrate", SeriesKey{}, err)
	}

	log.Debug("opened candle database", "format", format, "db_path", dbPath)
	return &sqlBackend{db: db, dbPath: dbPath, format: format, logger: log, write: write}, nil
}

func (s *sqlBackend) handle() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errClosed
	}
	return s.db, nil
}

// Format implements Backend.
func (s *sqlBackend) Format() Format { return s.format }

// Read implements Backend. NULL prices, which SQLite stores for NaN, are
// read back as NaN.
func (s *sqlBackend) Read(ctx context.Context, key SeriesKey) ([]models.Candle, error) {
	db, err := s.handle()
	if err != nil {
		return nil, NewStorageError(s.format, "read", key, err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM candles
		WHERE pair = ? AND timeframe = ? AND candle_type = ?
		ORDER BY ts ASC`,
		key.Pair, key.Timeframe, string(key.CandleType))
	if err != nil {
		return nil, NewStorageError(s.format, "read", key, err)
	}
	defer rows.Close()

	candles := make([]models.Candle, 0)
	for rows.Next() {
		var ts int64
		var open, high, low, closePrice, volume sql.NullFloat64
		if err := rows.Scan(&ts, &open, &high, &low, &closePrice, &volume); err != nil {
			return nil, NewStorageError(s.format, "read", key, fmt.Errorf("failed to scan row: %w", err))
		}
		candles = append(candles, models.Candle{
			Timestamp: time.UnixMilli(ts).UTC(),
			Open:      nullToNaN(open),
			High:      nullToNaN(high),
			Low:       nullToNaN(low),
			Close:     nullToNaN(closePrice),
			Volume:    nullToNaN(volume),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError(s.format, "read", key, fmt.Errorf("row iteration error: %w", err))
	}

	if len(candles) == 0 {
		return nil, notFound(key)
	}
	return candles, nil
}

// Write implements Backend. The previous rows of the series are replaced in
// one transaction, so a failed write leaves them in place.
func (s *sqlBackend) Write(ctx context.Context, key SeriesKey, candles []models.Candle) error {
	db, err := s.handle()
	if err != nil {
		return NewStorageError(s.format, "write", key, err)
	}

	start := time.Now()
	conn, err := db.Conn(ctx)
	if err != nil {
		return NewStorageError(s.format, "write", key, fmt.Errorf("failed to get connection: %w", err))
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN TRANSACTION"); err != nil {
		return NewStorageError(s.format, "write", key, fmt.Errorf("failed to start transaction: %w", err))
	}
	if err := s.replaceSeries(ctx, conn, key, candles); err != nil {
		// ctx may be done already; the rollback must still reach the connection.
		if _, rbErr := conn.ExecContext(context.Background(), "ROLLBACK"); rbErr != nil {
			s.logger.Warn("rollback failed", "series", key.String(), "error", rbErr)
		}
		return NewStorageError(s.format, "write", key, err)
	}

	s.logger.Debug("stored candles batch",
		"format", s.format,
		"series", key.String(),
		"count", len(candles),
		"duration", time.Since(start))
	return nil
}

func (s *sqlBackend) replaceSeries(ctx context.Context, conn *sql.Conn, key SeriesKey, candles []models.Candle) error {
	if _, err := conn.ExecContext(ctx,
		"DELETE FROM candles WHERE pair = ? AND timeframe = ? AND candle_type = ?",
		key.Pair, key.Timeframe, string(key.CandleType)); err != nil {
		return fmt.Errorf("failed to clear series: %w", err)
	}
	if len(candles) > 0 {
		if err := s.write(ctx, conn, key, candles); err != nil {
			return err
		}
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Purge implements Backend.
func (s *sqlBackend) Purge(ctx context.Context, key SeriesKey) (bool, error) {
	db, err := s.handle()
	if err != nil {
		return false, NewStorageError(s.format, "purge", key, err)
	}

	res, err := db.ExecContext(ctx,
		"DELETE FROM candles WHERE pair = ? AND timeframe = ? AND candle_type = ?",
		key.Pair, key.Timeframe, string(key.CandleType))
	if err != nil {
		return false, NewStorageError(s.format, "purge", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, NewStorageError(s.format, "purge", key, err)
	}
	return n > 0, nil
}

// List implements Backend.
func (s *sqlBackend) List(ctx context.Context, mode models.TradingMode) ([]SeriesKey, error) {
	db, err := s.handle()
	if err != nil {
		return nil, NewStorageError(s.format, "list", SeriesKey{}, err)
	}

	rows, err := db.QueryContext(ctx, "SELECT DISTINCT pair, timeframe, candle_type FROM candles")
	if err != nil {
		return nil, NewStorageError(s.format, "list", SeriesKey{}, err)
	}
	defer rows.Close()

	keys := make([]SeriesKey, 0)
	for rows.Next() {
		var key SeriesKey
		var ct string
		if err := rows.Scan(&key.Pair, &key.Timeframe, &ct); err != nil {
			return nil, NewStorageError(s.format, "list", SeriesKey{}, err)
		}
		key.CandleType = models.CandleType(ct)
		if modeMatches(key.CandleType, mode) {
			keys = append(keys, key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError(s.format, "list", SeriesKey{}, err)
	}

	SortKeys(keys)
	return keys, nil
}

// HealthCheck performs a lightweight query to verify the database is reachable.
func (s *sqlBackend) HealthCheck(ctx context.Context) error {
	db, err := s.handle()
	if err != nil {
		return NewStorageError(s.format, "health_check", SeriesKey{}, err)
	}
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return NewStorageError(s.format, "health_check", SeriesKey{}, err)
	}
	return nil
}

// Close implements Backend.
func (s *sqlBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return NewStorageError(s.format, "close", SeriesKey{}, err)
	}
	return nil
}

func nullToNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
