package datahandler

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path"

	_ "github.com/mattn/go-sqlite3"

	"github.com/johnayoung/go-ohlcv-research/internal/logger"
	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

// SQLiteFile is the database file name used inside a data directory.
const SQLiteFile = "candles.sqlite"

// SQLiteBackend stores every series in one SQLite database. NaN prices are
// stored as NULL.
type SQLiteBackend struct {
	*sqlBackend
}

// NewSQLiteBackend opens (or creates) the database at dbPath. The dbPath can
// be ":memory:" for an in-memory database.
func NewSQLiteBackend(ctx context.Context, dbPath string, log *slog.Logger) (*SQLiteBackend, error) {
	log = logger.OrNop(log).With("backend", "sqlite")

	dsn := dbPath
	if dbPath != ":memory:" {
		dsn = "file:" + dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	base, err := openSQL(ctx, "sqlite3", dsn, dbPath, FormatSQLite, log, insertCandles)
	if err != nil {
		return nil, err
	}
	return &SQLiteBackend{sqlBackend: base}, nil
}

// SQLitePath returns the database path inside dataDir.
func SQLitePath(dataDir string) string {
	return path.Join(dataDir, SQLiteFile)
}

// insertCandles writes rows with one prepared statement on the caller's
// transaction.
func insertCandles(ctx context.Context, conn *sql.Conn, key SeriesKey, candles []models.Candle) error {
	stmt, err := conn.PrepareContext(ctx, `
		INSERT INTO candles (pair, timeframe, candle_type, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range candles {
		c := candles[i]
		if _, err := stmt.ExecContext(ctx,
			key.Pair, key.Timeframe, string(key.CandleType), c.UnixMilli(),
			c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("failed to insert candle %s: %w", c.String(), err)
		}
	}
	return nil
}

var _ Backend = (*SQLiteBackend)(nil)
