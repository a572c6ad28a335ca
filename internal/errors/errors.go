// Package errors provides error classification, retry handling and structured
// error reporting for the OHLCV research toolkit.
// Errors are classified into types that drive retry decisions, so storage
// backends can be retried while malformed data fails fast.
package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/johnayoung/go-ohlcv-research/internal/config"
)

// Sentinel errors shared across packages. Wrap them with %w so Classify can
// recognise the category.
var (
	// ErrDataFormat marks raw rows that cannot be coerced into candles.
	ErrDataFormat = errors.New("data format error")
	// ErrStorage marks failures of a datahandler backend.
	ErrStorage = errors.New("storage error")
	// ErrNotFound marks missing series, strategies or backends.
	ErrNotFound = errors.New("not found")
	// ErrConfiguration marks invalid user configuration.
	ErrConfiguration = errors.New("configuration error")
)

// ErrorType represents the classification of an error
type ErrorType string

const (
	// Retryable error types
	ErrorTypeStorage   ErrorType = "storage"   // Backend read/write failures
	ErrorTypeTimeout   ErrorType = "timeout"   // Deadline exceeded
	ErrorTypeTemporary ErrorType = "temporary" // Temporary failures

	// Non-retryable error types
	ErrorTypeDataFormat    ErrorType = "data_format"   // Malformed raw rows
	ErrorTypeValidation    ErrorType = "validation"    // Data validation errors
	ErrorTypeConfiguration ErrorType = "configuration" // Configuration errors
	ErrorTypeNotFound      ErrorType = "not_found"     // Missing resources
	ErrorTypeCanceled      ErrorType = "canceled"      // Context cancellation
	ErrorTypeInternal      ErrorType = "internal"      // Internal application errors

	// Special error types
	ErrorTypeUnknown ErrorType = "unknown" // Unclassified errors
)

// Severity represents the severity level of an error
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ClassifiedError represents an error with metadata for handling decisions
type ClassifiedError struct {
	Err         error                  `json:"error"`
	Type        ErrorType              `json:"type"`
	Severity    Severity               `json:"severity"`
	Retryable   bool                   `json:"retryable"`
	Component   string                 `json:"component"`
	Operation   string                 `json:"operation"`
	Context     map[string]interface{} `json:"context"`
	Timestamp   time.Time              `json:"timestamp"`
	Attempts    int                    `json:"attempts"`
	LastAttempt time.Time              `json:"last_attempt"`
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	return fmt.Sprintf("[%s/%s] %s: %v", ce.Component, ce.Type, ce.Operation, ce.Err)
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Is checks if the error is of the specified type
func (ce *ClassifiedError) Is(target error) bool {
	if t, ok := target.(*ClassifiedError); ok {
		return ce.Type == t.Type
	}
	return false
}

// ErrorClassifier handles error classification and retry logic
type ErrorClassifier struct {
	config config.ErrorHandlingConfig
	logger *slog.Logger
	mu     sync.RWMutex
	stats  map[ErrorType]ErrorStats
}

// ErrorStats tracks error statistics for monitoring
type ErrorStats struct {
	Count     int64     `json:"count"`
	LastSeen  time.Time `json:"last_seen"`
	FirstSeen time.Time `json:"first_seen"`
}

// NewErrorClassifier creates a new error classifier with the given configuration
func NewErrorClassifier(config config.ErrorHandlingConfig, logger *slog.Logger) *ErrorClassifier {
	if logger == nil {
		logger = slog.Default()
	}

	return &ErrorClassifier{
		config: config,
		logger: logger,
		stats:  make(map[ErrorType]ErrorStats),
	}
}

// Classify analyzes an error and returns a ClassifiedError with retry metadata
func (ec *ErrorClassifier) Classify(err error, component, operation string) *ClassifiedError {
	if err == nil {
		return nil
	}

	// Check if already classified
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	errorType := ClassifyType(err)
	severity := determineSeverity(errorType)
	retryable := ec.isRetryable(errorType)

	classified := &ClassifiedError{
		Err:       err,
		Type:      errorType,
		Severity:  severity,
		Retryable: retryable,
		Component: component,
		Operation: operation,
		Context:   make(map[string]interface{}),
		Timestamp: time.Now(),
	}

	ec.updateStats(errorType)

	ec.logger.Debug("error classified",
		"type", errorType,
		"severity", severity.String(),
		"retryable", retryable,
		"component", component,
		"operation", operation,
		"error", err.Error())

	return classified
}

// ClassifyType determines the error type from sentinel errors and context
// errors, falling back to message patterns.
func ClassifyType(err error) ErrorType {
	switch {
	case errors.Is(err, context.Canceled):
		return ErrorTypeCanceled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, ErrDataFormat):
		return ErrorTypeDataFormat
	case errors.Is(err, ErrStorage):
		return ErrorTypeStorage
	case errors.Is(err, ErrNotFound), errors.Is(err, os.ErrNotExist):
		return ErrorTypeNotFound
	case errors.Is(err, ErrConfiguration):
		return ErrorTypeConfiguration
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "resource temporarily unavailable") ||
		strings.Contains(errStr, "could not set lock") {
		return ErrorTypeTemporary
	}

	if strings.Contains(errStr, "validation") ||
		strings.Contains(errStr, "invalid") ||
		strings.Contains(errStr, "malformed") {
		return ErrorTypeValidation
	}

	if strings.Contains(errStr, "config") ||
		strings.Contains(errStr, "missing required") {
		return ErrorTypeConfiguration
	}

	return ErrorTypeUnknown
}

// determineSeverity assigns a severity level based on error type
func determineSeverity(errorType ErrorType) Severity {
	switch errorType {
	case ErrorTypeInternal:
		return SeverityCritical
	case ErrorTypeConfiguration, ErrorTypeDataFormat:
		return SeverityHigh
	case ErrorTypeValidation, ErrorTypeStorage, ErrorTypeNotFound:
		return SeverityMedium
	case ErrorTypeTimeout, ErrorTypeTemporary, ErrorTypeCanceled:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// isRetryable determines if an error type should be retried
func (ec *ErrorClassifier) isRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeCanceled, ErrorTypeDataFormat, ErrorTypeValidation,
		ErrorTypeConfiguration, ErrorTypeNotFound, ErrorTypeInternal:
		return false
	}

	for _, retryableType := range ec.config.GlobalRetryPolicy.RetryableErrors {
		if string(errorType) == retryableType {
			return true
		}
	}

	return errorType == ErrorTypeTemporary
}

// updateStats updates error statistics
func (ec *ErrorClassifier) updateStats(errorType ErrorType) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	stats := ec.stats[errorType]
	stats.Count++
	stats.LastSeen = time.Now()

	if stats.FirstSeen.IsZero() {
		stats.FirstSeen = stats.LastSeen
	}

	ec.stats[errorType] = stats
}

// Retry executes a function with retry logic based on classified errors
func (ec *ErrorClassifier) Retry(ctx context.Context, component, operation string, fn func() error) error {
	policy := ec.getRetryPolicy(component)
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	attempts := 0
	var lastErr error

	op := func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}

		classified := ec.Classify(err, component, operation)
		classified.Attempts = attempts
		classified.LastAttempt = time.Now()
		lastErr = classified

		ec.logger.Warn("operation failed",
			"component", component,
			"operation", operation,
			"attempt", attempts,
			"max_attempts", maxAttempts,
			"error_type", classified.Type,
			"retryable", classified.Retryable,
			"error", err.Error())

		if !classified.Retryable {
			return backoff.Permanent(classified)
		}
		return classified
	}

	strategy := backoff.WithContext(createBackoffStrategy(policy, maxAttempts), ctx)
	if err := backoff.Retry(op, strategy); err != nil {
		if ctx.Err() != nil && lastErr == nil {
			return fmt.Errorf("context canceled during retry: %w", ctx.Err())
		}
		ec.logger.Error("operation failed after all retries",
			"component", component,
			"operation", operation,
			"attempts", attempts)
		if lastErr == nil {
			lastErr = err
		}
		return fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
	}

	ec.logger.Debug("operation succeeded",
		"component", component,
		"operation", operation,
		"attempts", attempts)
	return nil
}

// getRetryPolicy returns the retry policy for a component
func (ec *ErrorClassifier) getRetryPolicy(component string) config.RetryPolicyConfig {
	if policy, exists := ec.config.ComponentPolicies[component]; exists {
		return policy
	}
	return ec.config.GlobalRetryPolicy
}

// createBackoffStrategy creates a backoff strategy based on configuration
func createBackoffStrategy(policy config.RetryPolicyConfig, maxAttempts int) backoff.BackOff {
	initialDelay := policy.InitialDelayDuration()
	maxDelay := policy.MaxDelayDuration()

	var strategy backoff.BackOff

	switch policy.BackoffStrategy {
	case "fixed":
		strategy = backoff.NewConstantBackOff(initialDelay)
	case "linear":
		strategy = &LinearBackoff{
			interval: initialDelay,
			max:      maxDelay,
		}
	default:
		exponential := backoff.NewExponentialBackOff()
		exponential.InitialInterval = initialDelay
		exponential.MaxInterval = maxDelay
		exponential.MaxElapsedTime = 0
		if !policy.Jitter {
			exponential.RandomizationFactor = 0
		}
		strategy = exponential
	}

	return backoff.WithMaxRetries(strategy, uint64(maxAttempts-1))
}

// GetStats returns error statistics
func (ec *ErrorClassifier) GetStats() map[ErrorType]ErrorStats {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	stats := make(map[ErrorType]ErrorStats, len(ec.stats))
	for k, v := range ec.stats {
		stats[k] = v
	}
	return stats
}

// LinearBackoff implements a simple linear backoff strategy
type LinearBackoff struct {
	interval time.Duration
	max      time.Duration
	current  time.Duration
}

// NextBackOff returns the next backoff interval
func (lb *LinearBackoff) NextBackOff() time.Duration {
	lb.current += lb.interval
	if lb.current > lb.max {
		lb.current = lb.max
	}
	return lb.current
}

// Reset resets the backoff to its initial state
func (lb *LinearBackoff) Reset() {
	lb.current = 0
}

// Utility functions

// WrapError wraps an error with additional context
func WrapError(err error, component, operation, message string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s in %s.%s: %w", message, component, operation, err)
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// GetErrorType extracts the error type from an error, classifying it when needed
func GetErrorType(err error) ErrorType {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Type
	}
	if err == nil {
		return ErrorTypeUnknown
	}
	return ClassifyType(err)
}
