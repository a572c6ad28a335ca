package gaps

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/johnayoung/go-ohlcv-research/internal/logger"
	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

// ScanResult is the outcome of one DetectRequest.
type ScanResult struct {
	Request  DetectRequest
	Gaps     []models.Gap
	Err      error
	Duration time.Duration
}

// ScanStats reports what a Scanner has done so far.
type ScanStats struct {
	Workers        int
	CompletedScans int64
	FailedScans    int64
	AvgScanTime    time.Duration
}

// Scanner runs gap detection for many series on a fixed pool of workers.
// Every series load waits on the limiter, so a scan over a shared database
// can be throttled.
type Scanner struct {
	detector GapDetector
	workers  int
	limiter  *rate.Limiter
	logger   *slog.Logger

	completed int64
	failed    int64
	totalTime int64 // nanoseconds
}

// NewScanner creates a scanner with workers goroutines. A nil limiter does not
// throttle.
func NewScanner(detector GapDetector, workers int, limiter *rate.Limiter, log *slog.Logger) *Scanner {
	if workers <= 0 {
		workers = 1
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Scanner{
		detector: detector,
		workers:  workers,
		limiter:  limiter,
		logger:   logger.OrNop(log),
	}
}

// NewLimiter returns a limiter allowing perSecond series loads per second, or
// nil for no limit.
func NewLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// Scan detects gaps for every request. Results are returned in request order;
// a failing request records its error in its result and does not stop the
// others. Scan returns an error only when ctx ends before all requests ran.
func (s *Scanner) Scan(ctx context.Context, reqs []DetectRequest) ([]ScanResult, error) {
	results := make([]ScanResult, len(reqs))
	jobs := make(chan int)

	workers := s.workers
	if workers > len(reqs) {
		workers = len(reqs)
	}
	s.logger.Debug("starting gap scan", "series", len(reqs), "workers", workers)

	var wg sync.WaitGroup
	for w := 1; w <= workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := range jobs {
				results[i] = s.scanOne(ctx, id, reqs[i])
			}
		}(w)
	}

	var err error
dispatch:
	for i := range reqs {
		if err = ctx.Err(); err != nil {
			break
		}
		select {
		case jobs <- i:
		case <-ctx.Done():
			err = ctx.Err()
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	if err != nil {
		return nil, fmt.Errorf("gap scan interrupted: %w", err)
	}
	return results, nil
}

func (s *Scanner) scanOne(ctx context.Context, worker int, req DetectRequest) ScanResult {
	started := time.Now()
	result := ScanResult{Request: req}

	if err := s.limiter.Wait(ctx); err != nil {
		result.Err = fmt.Errorf("rate limiting failed: %w", err)
	} else {
		result.Gaps, result.Err = s.detector.DetectGaps(ctx, req)
	}
	result.Duration = time.Since(started)

	atomic.AddInt64(&s.totalTime, result.Duration.Nanoseconds())
	if result.Err != nil {
		atomic.AddInt64(&s.failed, 1)
		s.logger.Error("gap scan failed", "worker_id", worker, "pair", req.Pair, "timeframe", req.Timeframe, "error", result.Err)
		return result
	}
	atomic.AddInt64(&s.completed, 1)
	s.logger.Debug("gap scan completed", "worker_id", worker, "pair", req.Pair,
		"gaps", len(result.Gaps), "duration", result.Duration)
	return result
}

// Stats returns the scanner's counters.
func (s *Scanner) Stats() ScanStats {
	completed := atomic.LoadInt64(&s.completed)
	failed := atomic.LoadInt64(&s.failed)
	stats := ScanStats{Workers: s.workers, CompletedScans: completed, FailedScans: failed}
	if n := completed + failed; n > 0 {
		stats.AvgScanTime = time.Duration(atomic.LoadInt64(&s.totalTime) / n)
	}
	return stats
}
