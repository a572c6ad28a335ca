// Package logger provides structured logging with context propagation for the OHLCV research toolkit.
// This module implements context-aware logging using the standard library's slog package,
// with support for run tracing, component-specific loggers with adjustable levels, and
// configurable output formats.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/johnayoung/go-ohlcv-research/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ContextKey represents keys for context values
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// OperationKey is the context key for operation name
	OperationKey ContextKey = "operation"
	// RunIDKey is the context key for an analysis or backtest run
	RunIDKey ContextKey = "run_id"
)

// LoggerManager manages structured logging for the application
type LoggerManager struct {
	baseLogger  *slog.Logger
	baseHandler slog.Handler
	baseLevel   slog.Level
	config      config.LoggingConfig
	writer      io.WriteCloser

	mu             sync.Mutex
	componentCache map[string]*slog.Logger
	levels         map[string]*slog.LevelVar
	saved          []savedLevel
}

type savedLevel struct {
	component string
	level     slog.Level
}

// ComponentLogger represents a logger for a specific component
type ComponentLogger struct {
	*slog.Logger
	component string
}

// NewLoggerManager creates a new logger manager with the specified configuration
func NewLoggerManager(cfg config.LoggingConfig) (*LoggerManager, error) {
	// Create the appropriate writer based on configuration
	writer, err := createWriter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create log writer: %w", err)
	}
	return newLoggerManager(cfg, writer), nil
}

// NewLoggerManagerWithWriter creates a logger manager writing to w regardless of cfg.Output.
func NewLoggerManagerWithWriter(cfg config.LoggingConfig, w io.Writer) *LoggerManager {
	return newLoggerManager(cfg, nopWriteCloser{w})
}

func newLoggerManager(cfg config.LoggingConfig, writer io.WriteCloser) *LoggerManager {
	level := parseLogLevel(cfg.Level)

	// The handler itself accepts everything; levels are enforced per component.
	opts := &slog.HandlerOptions{
		Level:     slog.Level(-8),
		AddSource: cfg.Level == "debug",
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				// Use ISO 8601 format for timestamps
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339Nano))
				}
			case slog.LevelKey:
				// Use uppercase level names
				if level, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(strings.ToUpper(level.String()))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		handler = slog.NewJSONHandler(writer, opts)
	}

	baseAttrs := make([]slog.Attr, 0, len(cfg.ContextFields))
	for key, value := range cfg.ContextFields {
		baseAttrs = append(baseAttrs, slog.String(key, value))
	}
	if len(baseAttrs) > 0 {
		handler = handler.WithAttrs(baseAttrs)
	}

	baseVar := new(slog.LevelVar)
	baseVar.Set(level)

	return &LoggerManager{
		baseLogger:     slog.New(&levelHandler{level: baseVar, next: handler}),
		baseHandler:    handler,
		baseLevel:      level,
		config:         cfg,
		writer:         writer,
		componentCache: make(map[string]*slog.Logger),
		levels:         make(map[string]*slog.LevelVar),
	}
}

// createWriter creates the appropriate writer based on configuration
func createWriter(cfg config.LoggingConfig) (io.WriteCloser, error) {
	switch cfg.Output {
	case "stdout":
		return nopWriteCloser{os.Stdout}, nil
	case "stderr":
		return nopWriteCloser{os.Stderr}, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file path is required when output is 'file'")
		}

		// Ensure directory exists
		dir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		// Create rotating file logger
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize, // MB
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge, // days
			Compress:   cfg.Compress,
		}
		return lj, nil
	default:
		return nopWriteCloser{os.Stderr}, nil
	}
}

// nopWriteCloser wraps an io.Writer to provide a Close method
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// parseLogLevel converts string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// levelHandler filters records against a mutable level before delegating.
type levelHandler struct {
	level *slog.LevelVar
	next  slog.Handler
}

func (h *levelHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.level.Level() && h.next.Enabled(ctx, l)
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.next.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, next: h.next.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, next: h.next.WithGroup(name)}
}

// GetLogger returns the base logger instance
func (lm *LoggerManager) GetLogger() *slog.Logger {
	return lm.baseLogger
}

// GetComponentLogger returns a logger for the specified component
func (lm *LoggerManager) GetComponentLogger(component string) *ComponentLogger {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if cached, exists := lm.componentCache[component]; exists {
		return &ComponentLogger{Logger: cached, component: component}
	}

	componentLogger := slog.New(&levelHandler{
		level: lm.levelVarLocked(component),
		next:  lm.baseHandler,
	}).With(slog.String("component", component))
	lm.componentCache[component] = componentLogger

	return &ComponentLogger{Logger: componentLogger, component: component}
}

func (lm *LoggerManager) levelVarLocked(component string) *slog.LevelVar {
	if v, ok := lm.levels[component]; ok {
		return v
	}
	v := new(slog.LevelVar)
	v.Set(lm.baseLevel)
	lm.levels[component] = v
	return v
}

// ComponentLevel returns the current level of a component logger.
func (lm *LoggerManager) ComponentLevel(component string) slog.Level {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.levelVarLocked(component).Level()
}

// ReduceVerbosity raises the named components to WARN until RestoreVerbosity
// is called. Nested calls stack; each restore undoes the most recent reduce.
func (lm *LoggerManager) ReduceVerbosity(components ...string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.saved = append(lm.saved, savedLevel{component: ""})
	for _, c := range components {
		v := lm.levelVarLocked(c)
		lm.saved = append(lm.saved, savedLevel{component: c, level: v.Level()})
		if v.Level() < slog.LevelWarn {
			v.Set(slog.LevelWarn)
		}
	}
}

// RestoreVerbosity undoes the most recent ReduceVerbosity call.
func (lm *LoggerManager) RestoreVerbosity() {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	for len(lm.saved) > 0 {
		last := lm.saved[len(lm.saved)-1]
		lm.saved = lm.saved[:len(lm.saved)-1]
		if last.component == "" {
			return
		}
		lm.levels[last.component].Set(last.level)
	}
}

// WithComponentContext creates a component logger that includes context values
func (lm *LoggerManager) WithComponentContext(ctx context.Context, component string) *ComponentLogger {
	cl := lm.GetComponentLogger(component)
	attrs := extractContextAttributes(ctx)
	if len(attrs) == 0 {
		return cl
	}
	return &ComponentLogger{Logger: cl.Logger.With(attrs...), component: component}
}

// extractContextAttributes extracts logging attributes from context
func extractContextAttributes(ctx context.Context) []interface{} {
	var attrs []interface{}

	if traceID := GetTraceID(ctx); traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}

	if runID := GetRunID(ctx); runID != "" {
		attrs = append(attrs, slog.String("run_id", runID))
	}

	if operation := GetOperation(ctx); operation != "" {
		attrs = append(attrs, slog.String("operation", operation))
	}

	return attrs
}

// Close closes the logger and any associated resources
func (lm *LoggerManager) Close() error {
	if lm.writer != nil {
		return lm.writer.Close()
	}
	return nil
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithOperation adds an operation name to the context
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, OperationKey, operation)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// GetTraceID extracts the trace ID from context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetOperation extracts the operation name from context
func GetOperation(ctx context.Context) string {
	if operation, ok := ctx.Value(OperationKey).(string); ok {
		return operation
	}
	return ""
}

// GetRunID extracts the run ID from context
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		return runID
	}
	return ""
}

// WithDuration logs an operation with its duration
func (cl *ComponentLogger) WithDuration(operation string, duration time.Duration, level slog.Level, msg string, args ...interface{}) {
	cl.Log(context.Background(), level, msg,
		append([]interface{}{
			slog.String("operation", operation),
			slog.Duration("duration", duration),
		}, args...)...)
}

// ErrorWithContext logs an error with full context information
func (cl *ComponentLogger) ErrorWithContext(ctx context.Context, msg string, err error, args ...interface{}) {
	attrs := extractContextAttributes(ctx)
	attrs = append(attrs, slog.Any("error", err))
	attrs = append(attrs, args...)
	cl.Error(msg, attrs...)
}

// WarnWithContext logs a warning with full context information
func (cl *ComponentLogger) WarnWithContext(ctx context.Context, msg string, args ...interface{}) {
	attrs := extractContextAttributes(ctx)
	attrs = append(attrs, args...)
	cl.Warn(msg, attrs...)
}

// InfoWithContext logs info with full context information
func (cl *ComponentLogger) InfoWithContext(ctx context.Context, msg string, args ...interface{}) {
	attrs := extractContextAttributes(ctx)
	attrs = append(attrs, args...)
	cl.Info(msg, attrs...)
}

// LogOperation logs the start and end of an operation with timing. fn runs
// with the operation name added to ctx.
func (cl *ComponentLogger) LogOperation(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx = WithOperation(ctx, operation)
	cl.InfoWithContext(ctx, "operation started")

	err := fn(ctx)
	duration := time.Since(start)

	if err != nil {
		cl.ErrorWithContext(ctx, "operation failed", err, slog.Duration("duration", duration))
		return err
	}

	cl.InfoWithContext(ctx, "operation completed", slog.Duration("duration", duration))
	return nil
}

// NewTraceID generates a random trace or run identifier.
func NewTraceID() string {
	return uuid.NewString()
}

// Nop returns a logger that discards everything. Useful as a default for
// optional logger parameters and in tests.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// TimedOperation runs fn and logs how long the step took at debug, or the
// error when it fails.
func TimedOperation(log *slog.Logger, step string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	if err != nil {
		LogError(log, err, "step failed", slog.String("step", step), slog.Duration("duration", elapsed))
		return err
	}
	log.Debug("step completed", slog.String("step", step), slog.Duration("duration", elapsed))
	return nil
}

// LogError logs an error with structured context
func LogError(logger *slog.Logger, err error, msg string, attrs ...interface{}) {
	allAttrs := append([]interface{}{slog.Any("error", err)}, attrs...)
	logger.Error(msg, allAttrs...)
}
