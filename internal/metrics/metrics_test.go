package metrics

import (
	"io"
	"testing"
	"time"

	"github.com/johnayoung/go-ohlcv-research/internal/config"
	"github.com/johnayoung/go-ohlcv-research/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(enabled bool) *MetricsCollector {
	lm := logger.NewLoggerManagerWithWriter(config.LoggingConfig{Level: "error", Format: "json"}, io.Discard)
	return NewMetricsCollector(config.MetricsConfig{Enabled: enabled}, lm)
}

func TestMetricsCollector_Counters(t *testing.T) {
	mc := newTestCollector(true)

	mc.RecordCounter("converter_tables", "tables normalized", nil)
	mc.RecordCounter("converter_tables", "tables normalized", nil)
	mc.RecordError("converter_failures", "failed tables", map[string]string{"pair": "BTC/USDT"})

	snapshot := mc.GetSnapshot()
	assert.Equal(t, 2.0, snapshot.Metrics["converter_tables"].Value)
	assert.Equal(t, int64(2), snapshot.Metrics["converter_tables"].Count)
	assert.Equal(t, int64(2), snapshot.EventCount)
	assert.Equal(t, int64(1), snapshot.ErrorCount)
	assert.Equal(t, 50.0, snapshot.ErrorRate)
	assert.Equal(t, []string{"converter_failures", "converter_tables"}, mc.Names())
}

func TestMetricsCollector_Gauge(t *testing.T) {
	mc := newTestCollector(true)

	mc.RecordGauge("frame_bytes", 100, "", nil)
	mc.RecordGauge("frame_bytes", 40, "", nil)

	assert.Equal(t, 40.0, mc.GetSnapshot().Metrics["frame_bytes"].Value)
}

func TestMetricsCollector_DurationSummary(t *testing.T) {
	mc := newTestCollector(true)

	for _, ms := range []int{10, 20, 30, 40} {
		mc.RecordDuration("analysis_run", time.Duration(ms)*time.Millisecond, "run duration", nil)
	}

	summary, ok := mc.Summary("analysis_run")
	require.True(t, ok)
	assert.Equal(t, int64(4), summary.Count)
	assert.InDelta(t, 25.0, summary.Mean, 1e-9)
	assert.InDelta(t, 40.0, summary.Max, 1e-9)

	_, ok = mc.Summary("missing")
	assert.False(t, ok)
}

func TestMetricsCollector_Disabled(t *testing.T) {
	mc := newTestCollector(false)

	mc.RecordCounter("ignored", "", nil)

	assert.False(t, mc.Enabled())
	assert.Empty(t, mc.GetSnapshot().Metrics)
}

func TestMetricsCollector_HistoryBounded(t *testing.T) {
	mc := newTestCollector(true)

	for i := 0; i < historyLimit+10; i++ {
		mc.RecordDuration("d", time.Millisecond, "", nil)
	}

	assert.Len(t, mc.GetSnapshot().Metrics["d"].History, historyLimit)
	assert.Equal(t, int64(historyLimit+10), mc.GetSnapshot().Metrics["d"].Count)
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = OrNop(nil)
	r.RecordCounter("x", "", nil)
	r.RecordDuration("x", time.Second, "", nil)
	assert.NotNil(t, r)
}
