package datahandler

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/afero"

	"github.com/johnayoung/go-ohlcv-research/internal/config"
	apperrors "github.com/johnayoung/go-ohlcv-research/internal/errors"
	"github.com/johnayoung/go-ohlcv-research/internal/logger"
	"github.com/johnayoung/go-ohlcv-research/internal/metrics"
)

type openOptions struct {
	fs         afero.Fs
	classifier *apperrors.ErrorClassifier
	metrics    metrics.Recorder
	memory     *MemoryBackend
}

// Option customizes Open.
type Option func(*openOptions)

// WithFs sets the filesystem used by the CSV backend.
func WithFs(fs afero.Fs) Option {
	return func(o *openOptions) { o.fs = fs }
}

// WithRetry sets the classifier whose retry policy guards database opens.
func WithRetry(classifier *apperrors.ErrorClassifier) Option {
	return func(o *openOptions) { o.classifier = classifier }
}

// WithMetrics sets the recorder used by the handler.
func WithMetrics(rec metrics.Recorder) Option {
	return func(o *openOptions) { o.metrics = rec }
}

// WithMemoryBackend makes the memory format reuse backend instead of
// creating an empty one.
func WithMemoryBackend(backend *MemoryBackend) Option {
	return func(o *openOptions) { o.memory = backend }
}

// Open creates a DataHandler for format rooted at dataDir. Opening database
// backends is retried with the classifier's "datahandler" policy.
func Open(ctx context.Context, format Format, dataDir string, log *slog.Logger, opts ...Option) (*DataHandler, error) {
	log = logger.OrNop(log)
	o := &openOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.classifier == nil {
		o.classifier = apperrors.NewErrorClassifier(config.DefaultConfig().ErrorHandling, log)
	}

	var backend Backend
	switch format {
	case FormatMemory:
		if o.memory != nil {
			backend = o.memory
		} else {
			backend = NewMemoryBackend()
		}
	case FormatCSV:
		backend = NewCSVBackend(o.fs, dataDir)
	case FormatDuckDB, FormatSQLite:
		err := o.classifier.Retry(ctx, "datahandler", "open_"+string(format), func() error {
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return NewStorageError(format, "open", SeriesKey{}, err)
			}
			var err error
			backend, err = openDatabase(ctx, format, dataDir, log)
			return err
		})
		if err != nil {
			return nil, err
		}
	default:
		_, err := ParseFormat(string(format))
		return nil, err
	}

	log.Debug("opened data handler", "format", string(format), "datadir", dataDir)
	return New(backend, log, o.metrics), nil
}

func openDatabase(ctx context.Context, format Format, dataDir string, log *slog.Logger) (Backend, error) {
	if format == FormatDuckDB {
		backend, err := NewDuckDBBackend(ctx, DuckDBPath(dataDir), log)
		if err != nil {
			return nil, err
		}
		return backend, nil
	}
	backend, err := NewSQLiteBackend(ctx, SQLitePath(dataDir), log)
	if err != nil {
		return nil, err
	}
	return backend, nil
}
