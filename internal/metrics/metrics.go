// Package metrics provides in-process metrics collection for the OHLCV research
// toolkit. Counters, gauges and duration histograms are kept in memory and
// exposed as snapshots for reporting at the end of a command.
package metrics

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/johnayoung/go-ohlcv-research/internal/config"
	"github.com/johnayoung/go-ohlcv-research/internal/logger"
	"github.com/montanaflynn/stats"
)

// historyLimit bounds the data points kept per metric.
const historyLimit = 100

// Recorder is the subset of the collector used by instrumented components.
type Recorder interface {
	RecordCounter(name, description string, labels map[string]string)
	RecordGauge(name string, value float64, description string, labels map[string]string)
	RecordError(name, description string, labels map[string]string)
	RecordDuration(name string, duration time.Duration, description string, labels map[string]string)
}

// Nop returns a Recorder that drops every measurement.
func Nop() Recorder { return nopRecorder{} }

type nopRecorder struct{}

func (nopRecorder) RecordCounter(string, string, map[string]string)                 {}
func (nopRecorder) RecordGauge(string, float64, string, map[string]string)          {}
func (nopRecorder) RecordError(string, string, map[string]string)                   {}
func (nopRecorder) RecordDuration(string, time.Duration, string, map[string]string) {}

// OrNop returns r, or a Recorder that drops everything when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop()
	}
	return r
}

// MetricsCollector manages application metrics
type MetricsCollector struct {
	config    config.MetricsConfig
	logger    *logger.ComponentLogger
	mu        sync.RWMutex
	metrics   map[string]Metric
	startTime time.Time

	// Performance counters
	eventCount int64
	errorCount int64
}

// Metric represents a single metric with metadata
type Metric struct {
	Name        string            `json:"name"`
	Type        MetricType        `json:"type"`
	Value       float64           `json:"value"`
	Count       int64             `json:"count"`
	Labels      map[string]string `json:"labels,omitempty"`
	Description string            `json:"description"`
	UpdatedAt   time.Time         `json:"updated_at"`
	History     []MetricDataPoint `json:"history,omitempty"`
}

// MetricType represents different types of metrics
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// MetricDataPoint represents a time-series data point
type MetricDataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// HistogramSummary summarizes the recorded samples of a histogram metric.
type HistogramSummary struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	Max   float64 `json:"max"`
}

// MetricsSnapshot represents a snapshot of all metrics at a point in time
type MetricsSnapshot struct {
	Timestamp     time.Time         `json:"timestamp"`
	Uptime        time.Duration     `json:"uptime"`
	Metrics       map[string]Metric `json:"metrics"`
	SystemMetrics SystemMetrics     `json:"system_metrics"`
	EventCount    int64             `json:"event_count"`
	ErrorCount    int64             `json:"error_count"`
	ErrorRate     float64           `json:"error_rate"`
}

// SystemMetrics represents system-level metrics
type SystemMetrics struct {
	GoroutineCount int    `json:"goroutine_count"`
	NumGC          uint32 `json:"num_gc"`
	HeapAlloc      uint64 `json:"heap_alloc"`
	HeapInuse      uint64 `json:"heap_inuse"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(cfg config.MetricsConfig, loggerMgr *logger.LoggerManager) *MetricsCollector {
	return &MetricsCollector{
		config:    cfg,
		logger:    loggerMgr.GetComponentLogger("metrics"),
		metrics:   make(map[string]Metric),
		startTime: time.Now(),
	}
}

// Enabled reports whether metrics collection is switched on.
func (mc *MetricsCollector) Enabled() bool {
	return mc.config.Enabled
}

// RecordCounter increments a counter metric
func (mc *MetricsCollector) RecordCounter(name, description string, labels map[string]string) {
	mc.recordMetric(name, MetricTypeCounter, 1, description, labels)
	atomic.AddInt64(&mc.eventCount, 1)
}

// RecordGauge sets a gauge metric value
func (mc *MetricsCollector) RecordGauge(name string, value float64, description string, labels map[string]string) {
	mc.recordMetric(name, MetricTypeGauge, value, description, labels)
}

// RecordError records an error metric
func (mc *MetricsCollector) RecordError(name, description string, labels map[string]string) {
	mc.recordMetric(name, MetricTypeCounter, 1, description, labels)
	atomic.AddInt64(&mc.errorCount, 1)
}

// RecordDuration records a duration metric in milliseconds
func (mc *MetricsCollector) RecordDuration(name string, duration time.Duration, description string, labels map[string]string) {
	ms := float64(duration.Nanoseconds()) / float64(time.Millisecond)
	mc.recordMetric(name, MetricTypeHistogram, ms, description, labels)
}

// recordMetric is the internal method for recording metrics
func (mc *MetricsCollector) recordMetric(name string, metricType MetricType, value float64, description string, labels map[string]string) {
	if !mc.config.Enabled {
		return
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := time.Now()

	existing, exists := mc.metrics[name]
	if !exists {
		mc.metrics[name] = Metric{
			Name:        name,
			Type:        metricType,
			Value:       value,
			Count:       1,
			Labels:      labels,
			Description: description,
			UpdatedAt:   now,
			History:     []MetricDataPoint{{Timestamp: now, Value: value}},
		}
		return
	}

	if metricType == MetricTypeCounter {
		existing.Value += value
	} else {
		existing.Value = value
	}
	existing.Count++
	existing.UpdatedAt = now

	// Histograms keep raw samples; counters and gauges keep the running value.
	point := existing.Value
	if metricType == MetricTypeHistogram {
		point = value
	}
	existing.History = append(existing.History, MetricDataPoint{Timestamp: now, Value: point})
	if len(existing.History) > historyLimit {
		existing.History = existing.History[1:]
	}

	mc.metrics[name] = existing
}

// Summary returns percentile statistics for a histogram metric. ok is false
// when the metric is unknown or not a histogram.
func (mc *MetricsCollector) Summary(name string) (HistogramSummary, bool) {
	mc.mu.RLock()
	m, exists := mc.metrics[name]
	mc.mu.RUnlock()
	if !exists || m.Type != MetricTypeHistogram {
		return HistogramSummary{}, false
	}

	samples := make(stats.Float64Data, len(m.History))
	for i, p := range m.History {
		samples[i] = p.Value
	}

	summary := HistogramSummary{Count: m.Count}
	summary.Mean, _ = samples.Mean()
	summary.P50, _ = samples.Percentile(50)
	summary.P95, _ = samples.Percentile(95)
	summary.Max, _ = samples.Max()
	return summary, true
}

// Names returns the recorded metric names in sorted order.
func (mc *MetricsCollector) Names() []string {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	names := make([]string, 0, len(mc.metrics))
	for name := range mc.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetSnapshot returns a snapshot of all current metrics
func (mc *MetricsCollector) GetSnapshot() MetricsSnapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	metricsCopy := make(map[string]Metric, len(mc.metrics))
	for k, v := range mc.metrics {
		metricsCopy[k] = v
	}

	eventCount := atomic.LoadInt64(&mc.eventCount)
	errorCount := atomic.LoadInt64(&mc.errorCount)
	var errorRate float64
	if eventCount > 0 {
		errorRate = float64(errorCount) / float64(eventCount) * 100
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return MetricsSnapshot{
		Timestamp: time.Now(),
		Uptime:    time.Since(mc.startTime),
		Metrics:   metricsCopy,
		SystemMetrics: SystemMetrics{
			GoroutineCount: runtime.NumGoroutine(),
			NumGC:          m.NumGC,
			HeapAlloc:      m.HeapAlloc,
			HeapInuse:      m.HeapInuse,
		},
		EventCount: eventCount,
		ErrorCount: errorCount,
		ErrorRate:  errorRate,
	}
}

// LogSnapshot writes the current counters to the metrics logger at DEBUG.
func (mc *MetricsCollector) LogSnapshot() {
	snapshot := mc.GetSnapshot()
	for _, name := range mc.Names() {
		m := snapshot.Metrics[name]
		mc.logger.Debug("metric", "name", name, "type", m.Type, "value", m.Value, "count", m.Count)
	}
}
