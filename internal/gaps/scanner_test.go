package gaps

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-research/internal/datahandler"
	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

type stubDetector struct {
	calls int32
	fail  map[string]error
}

func (s *stubDetector) DetectGaps(ctx context.Context, req DetectRequest) ([]models.Gap, error) {
	atomic.AddInt32(&s.calls, 1)
	if err := s.fail[req.Pair]; err != nil {
		return nil, err
	}
	return []models.Gap{{Pair: req.Pair, Timeframe: req.Timeframe, StartTime: day, EndTime: day, Missing: 1}}, nil
}

func (s *stubDetector) DetectGapsInSequence(candles []models.Candle, pair, timeframe string) ([]models.Gap, error) {
	return nil, nil
}

func TestScanner_ScanKeepsRequestOrder(t *testing.T) {
	h := datahandler.New(datahandler.NewMemoryBackend(), nil, nil)
	ctx := context.Background()
	var reqs []DetectRequest
	for i := 0; i < 6; i++ {
		pair := fmt.Sprintf("P%d/USDT", i)
		// pair i is missing i hourly candles after the first
		times := []time.Time{day, day.Add(time.Duration(i+1) * time.Hour)}
		require.NoError(t, h.Store(ctx, models.NewCandleTable(pair, "1h", models.CandleTypeSpot).WithCandles(candlesAt(times...))))
		reqs = append(reqs, DetectRequest{Pair: pair, Timeframe: "1h", CandleType: models.CandleTypeSpot})
	}

	scanner := NewScanner(NewGapDetector(h, nil), 3, nil, nil)
	results, err := scanner.Scan(ctx, reqs)
	require.NoError(t, err)
	require.Len(t, results, 6)

	for i, result := range results {
		assert.Equal(t, reqs[i], result.Request)
		require.NoError(t, result.Err)
		if i == 0 {
			assert.Empty(t, result.Gaps)
			continue
		}
		require.Len(t, result.Gaps, 1)
		assert.Equal(t, i, result.Gaps[0].Missing)
	}

	stats := scanner.Stats()
	assert.Equal(t, 3, stats.Workers)
	assert.Equal(t, int64(6), stats.CompletedScans)
	assert.Zero(t, stats.FailedScans)
}

func TestScanner_FailuresDoNotStopOtherRequests(t *testing.T) {
	boom := errors.New("boom")
	detector := &stubDetector{fail: map[string]error{"ETH/USDT": boom}}
	scanner := NewScanner(detector, 2, nil, nil)

	results, err := scanner.Scan(context.Background(), []DetectRequest{
		{Pair: "BTC/USDT", Timeframe: "5m"},
		{Pair: "ETH/USDT", Timeframe: "5m"},
		{Pair: "SOL/USDT", Timeframe: "5m"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, boom)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&detector.calls))

	stats := scanner.Stats()
	assert.Equal(t, int64(2), stats.CompletedScans)
	assert.Equal(t, int64(1), stats.FailedScans)
}

func TestScanner_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scanner := NewScanner(&stubDetector{}, 1, nil, nil)
	_, err := scanner.Scan(ctx, []DetectRequest{{Pair: "BTC/USDT", Timeframe: "5m"}, {Pair: "ETH/USDT", Timeframe: "5m"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanner_Empty(t *testing.T) {
	results, err := NewScanner(&stubDetector{}, 4, nil, nil).Scan(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, NewLimiter(0))
	limiter := NewLimiter(20)
	require.NotNil(t, limiter)
	assert.InDelta(t, 20, float64(limiter.Limit()), 1e-9)
}
