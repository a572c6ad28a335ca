package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/johnayoung/go-ohlcv-research/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(level string) (*LoggerManager, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	cfg := config.LoggingConfig{Level: level, Format: "json"}
	return NewLoggerManagerWithWriter(cfg, buf), buf
}

func TestComponentLogger_IncludesComponent(t *testing.T) {
	lm, buf := newTestManager("info")

	lm.GetComponentLogger("converter").Info("filled gaps", "pair", "BTC/USDT")

	out := buf.String()
	assert.Contains(t, out, `"component":"converter"`)
	assert.Contains(t, out, `"pair":"BTC/USDT"`)
	assert.Contains(t, out, `"level":"INFO"`)
}

func TestComponentLogger_RespectsBaseLevel(t *testing.T) {
	lm, buf := newTestManager("warn")

	lm.GetComponentLogger("converter").Info("hidden")
	lm.GetLogger().Info("hidden too")
	assert.Empty(t, buf.String())

	lm.GetComponentLogger("converter").Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestReduceAndRestoreVerbosity(t *testing.T) {
	lm, buf := newTestManager("debug")
	noisy := lm.GetComponentLogger("datahandler")
	other := lm.GetComponentLogger("analysis")

	lm.ReduceVerbosity("datahandler")
	assert.Equal(t, slog.LevelWarn, lm.ComponentLevel("datahandler"))

	noisy.Info("suppressed")
	other.Info("kept")
	assert.NotContains(t, buf.String(), "suppressed")
	assert.Contains(t, buf.String(), "kept")

	lm.RestoreVerbosity()
	assert.Equal(t, slog.LevelDebug, lm.ComponentLevel("datahandler"))

	noisy.Debug("visible again")
	assert.Contains(t, buf.String(), "visible again")
}

func TestReduceVerbosity_Nested(t *testing.T) {
	lm, _ := newTestManager("info")

	lm.ReduceVerbosity("a")
	lm.ReduceVerbosity("a", "b")
	lm.RestoreVerbosity()
	assert.Equal(t, slog.LevelWarn, lm.ComponentLevel("a"))
	assert.Equal(t, slog.LevelInfo, lm.ComponentLevel("b"))

	lm.RestoreVerbosity()
	assert.Equal(t, slog.LevelInfo, lm.ComponentLevel("a"))

	// Restoring with nothing saved is a no-op.
	lm.RestoreVerbosity()
	assert.Equal(t, slog.LevelInfo, lm.ComponentLevel("a"))
}

func TestReduceVerbosity_DoesNotLowerQuieterLevel(t *testing.T) {
	lm, _ := newTestManager("error")

	lm.ReduceVerbosity("x")
	assert.Equal(t, slog.LevelError, lm.ComponentLevel("x"))
	lm.RestoreVerbosity()
	assert.Equal(t, slog.LevelError, lm.ComponentLevel("x"))
}

func TestContextAttributes(t *testing.T) {
	lm, buf := newTestManager("info")

	ctx := WithRunID(WithTraceID(context.Background(), "trace-1"), "run-1")
	lm.WithComponentContext(ctx, "analysis").Info("run finished")

	out := buf.String()
	assert.Contains(t, out, `"component":"analysis"`)
	assert.Contains(t, out, `"trace_id":"trace-1"`)
	assert.Contains(t, out, `"run_id":"run-1"`)
	assert.NotContains(t, out, `"operation"`)
	assert.Equal(t, "run-1", GetRunID(ctx))
	assert.Empty(t, GetOperation(ctx))
}

func TestNewTraceID(t *testing.T) {
	id := NewTraceID()
	assert.Len(t, id, 36)
	assert.NotEqual(t, id, NewTraceID())
	assert.Equal(t, id, GetTraceID(WithTraceID(context.Background(), id)))
}

func TestLogOperation(t *testing.T) {
	lm, buf := newTestManager("info")
	cl := lm.GetComponentLogger("cli")
	ctx := WithTraceID(context.Background(), "trace-2")

	var inner string
	err := cl.LogOperation(ctx, "convert-data", func(ctx context.Context) error {
		inner = GetOperation(ctx)
		return errors.New("boom")
	})

	require.Error(t, err)
	assert.Equal(t, "convert-data", inner)
	out := buf.String()
	assert.Contains(t, out, "operation started")
	assert.Contains(t, out, "operation failed")
	assert.Contains(t, out, `"operation":"convert-data"`)
	assert.Contains(t, out, `"trace_id":"trace-2"`)
	assert.Contains(t, out, "boom")
}

func TestLogOperation_Completed(t *testing.T) {
	lm, buf := newTestManager("info")

	err := lm.GetComponentLogger("cli").LogOperation(context.Background(), "list-data", func(context.Context) error {
		return nil
	})

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "operation completed")
	assert.NotContains(t, buf.String(), "operation failed")
}

func TestWarnWithContext(t *testing.T) {
	lm, buf := newTestManager("info")
	ctx := WithOperation(context.Background(), "download-data")

	lm.GetComponentLogger("cli").WarnWithContext(ctx, "series failed", "failed", 2)

	out := buf.String()
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"operation":"download-data"`)
	assert.Contains(t, out, `"failed":2`)
}

func TestTimedOperation(t *testing.T) {
	lm, buf := newTestManager("debug")
	log := lm.GetComponentLogger("download").Logger

	require.NoError(t, TimedOperation(log, "store", func() error { return nil }))
	assert.Contains(t, buf.String(), "step completed")
	assert.Contains(t, buf.String(), `"step":"store"`)

	buf.Reset()
	err := TimedOperation(log, "store", func() error { return errors.New("disk full") })
	require.EqualError(t, err, "disk full")
	assert.Contains(t, buf.String(), "step failed")
	assert.Contains(t, buf.String(), `"error":"disk full"`)
}

func TestNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	assert.False(t, Nop().Enabled(context.Background(), slog.LevelError))
}
