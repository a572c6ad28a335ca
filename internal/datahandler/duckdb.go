package datahandler

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/johnayoung/go-ohlcv-research/internal/logger"
	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

// DuckDBFile is the database file name used inside a data directory.
const DuckDBFile = "candles.duckdb"

// DuckDBBackend stores every series in one DuckDB database and bulk loads
// rows through the Appender API.
type DuckDBBackend struct {
	*sqlBackend
}

// NewDuckDBBackend opens (or creates) the database at dbPath. The dbPath can
// be ":memory:" for an in-memory database.
func NewDuckDBBackend(ctx context.Context, dbPath string, log *slog.Logger) (*DuckDBBackend, error) {
	log = logger.OrNop(log).With("backend", "duckdb")

	dsn := dbPath
	if dbPath == ":memory:" {
		dsn = ""
	}

	base, err := openSQL(ctx, "duckdb", dsn, dbPath, FormatDuckDB, log, appendCandles)
	if err != nil {
		return nil, err
	}
	return &DuckDBBackend{sqlBackend: base}, nil
}

// DuckDBPath returns the database path inside dataDir.
func DuckDBPath(dataDir string) string {
	return path.Join(dataDir, DuckDBFile)
}

// appendCandles uses the DuckDB Appender API for bulk inserts. The appender
// flushes into the transaction open on conn.
func appendCandles(ctx context.Context, conn *sql.Conn, key SeriesKey, candles []models.Candle) error {
	var driverConn *duckdb.Conn
	err := conn.Raw(func(dc interface{}) error {
		var ok bool
		driverConn, ok = dc.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("underlying connection is not a DuckDB connection")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to get DuckDB connection: %w", err)
	}

	appender, err := duckdb.NewAppenderFromConn(driverConn, "", "candles")
	if err != nil {
		return fmt.Errorf("failed to create appender: %w", err)
	}
	defer appender.Close()

	for i := range candles {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c := candles[i]
		if err := appender.AppendRow(
			key.Pair,
			key.Timeframe,
			string(key.CandleType),
			c.UnixMilli(),
			c.Open,
			c.High,
			c.Low,
			c.Close,
			c.Volume,
		); err != nil {
			return fmt.Errorf("failed to append candle %s: %w", c.String(), err)
		}
	}

	if err := appender.Flush(); err != nil {
		return fmt.Errorf("failed to flush appender: %w", err)
	}
	return nil
}

var _ Backend = (*DuckDBBackend)(nil)
