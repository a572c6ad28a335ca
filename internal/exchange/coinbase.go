package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/johnayoung/go-ohlcv-research/internal/converter"
	apperrors "github.com/johnayoung/go-ohlcv-research/internal/errors"
	"github.com/johnayoung/go-ohlcv-research/internal/logger"
	"github.com/johnayoung/go-ohlcv-research/internal/timeframe"
)

const (
	// Coinbase Advanced Trade API base URL
	coinbaseBaseURL = "https://api.coinbase.com"

	candlesEndpoint = "/api/v3/brokerage/market/products/%s/candles"

	// Rate limiting configuration
	maxRequestsPerSecond = 10
	rateLimitBurst       = 1

	// Request configuration
	maxCandlesPerRequest = 300
	requestTimeout       = 30 * time.Second

	// Retry configuration
	maxRetries        = 3
	initialRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 30 * time.Second
	retryMultiplier   = 2.0
	retryJitter       = 0.5
)

// granularities maps timeframes onto Coinbase's candle granularity names.
var granularities = map[string]string{
	"1m":  "ONE_MINUTE",
	"5m":  "FIVE_MINUTE",
	"15m": "FIFTEEN_MINUTE",
	"30m": "THIRTY_MINUTE",
	"1h":  "ONE_HOUR",
	"2h":  "TWO_HOUR",
	"6h":  "SIX_HOUR",
	"1d":  "ONE_DAY",
}

// CoinbaseAdapter downloads candles from the public Coinbase Advanced Trade
// market data endpoints.
type CoinbaseAdapter struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	logger      *slog.Logger
	maxRetries  uint64
	newBackOff  func() backoff.BackOff
}

// CoinbaseOption configures a CoinbaseAdapter.
type CoinbaseOption func(*CoinbaseAdapter)

// WithBaseURL points the adapter at another host, such as a test server.
func WithBaseURL(baseURL string) CoinbaseOption {
	return func(c *CoinbaseAdapter) { c.baseURL = baseURL }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) CoinbaseOption {
	return func(c *CoinbaseAdapter) { c.httpClient = client }
}

// WithLogger sets the adapter's logger.
func WithLogger(log *slog.Logger) CoinbaseOption {
	return func(c *CoinbaseAdapter) { c.logger = logger.OrNop(log) }
}

// WithRateLimit caps requests per second. A non-positive rate disables the
// limit.
func WithRateLimit(perSecond float64, burst int) CoinbaseOption {
	return func(c *CoinbaseAdapter) {
		if perSecond <= 0 {
			c.rateLimiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.rateLimiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithBackOff replaces the retry schedule and attempt count.
func WithBackOff(retries uint64, newBackOff func() backoff.BackOff) CoinbaseOption {
	return func(c *CoinbaseAdapter) {
		c.maxRetries = retries
		c.newBackOff = newBackOff
	}
}

// NewCoinbaseAdapter creates a Coinbase adapter with default limits.
func NewCoinbaseAdapter(opts ...CoinbaseOption) *CoinbaseAdapter {
	c := &CoinbaseAdapter{
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimiter: rate.NewLimiter(rate.Limit(maxRequestsPerSecond), rateLimitBurst),
		baseURL:     coinbaseBaseURL,
		logger:      logger.Nop(),
		maxRetries:  maxRetries,
		newBackOff:  defaultBackOff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialRetryDelay
	b.MaxInterval = maxRetryDelay
	b.Multiplier = retryMultiplier
	b.RandomizationFactor = retryJitter
	b.MaxElapsedTime = 0 // bounded by the retry count and the context
	return b
}

// Name implements CandleFetcher.
func (c *CoinbaseAdapter) Name() string { return "coinbase" }

// Granularity returns the Coinbase granularity for a timeframe.
func Granularity(tf string) (string, error) {
	g, ok := granularities[tf]
	if !ok {
		return "", fmt.Errorf("%w: coinbase does not serve %s candles", apperrors.ErrConfiguration, tf)
	}
	return g, nil
}

// FetchCandles implements CandleFetcher. The window is split into requests of
// at most maxCandlesPerRequest candles.
func (c *CoinbaseAdapter) FetchCandles(ctx context.Context, req FetchRequest) ([]converter.RawRow, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid request: %v", apperrors.ErrConfiguration, err)
	}
	granularity, err := Granularity(req.Timeframe)
	if err != nil {
		return nil, err
	}
	tf, err := timeframe.Parse(req.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
	}

	chunks := calculateChunks(req.Start, req.End, tf.Duration())
	c.logger.Debug("fetching candles from Coinbase",
		"pair", req.Pair,
		"timeframe", req.Timeframe,
		"start", req.Start,
		"end", req.End,
		"requests", len(chunks))

	var rows []converter.RawRow
	for i, chunk := range chunks {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait failed: %w", err)
		}
		candles, err := c.fetchCandleChunk(ctx, ProductID(req.Pair), chunk, granularity)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch chunk %d of %s: %w", i, req.Pair, err)
		}
		for _, candle := range candles {
			rows = append(rows, candle.rawRow())
		}
	}

	c.logger.Debug("successfully fetched candles", "pair", req.Pair, "count", len(rows))
	return rows, nil
}

type timeChunk struct {
	start time.Time
	end   time.Time
}

// calculateChunks splits [start, end) into windows of at most
// maxCandlesPerRequest candles. Coinbase treats end as inclusive, so each
// chunk ends one second before the next begins.
func calculateChunks(start, end time.Time, width time.Duration) []timeChunk {
	span := time.Duration(maxCandlesPerRequest) * width
	var chunks []timeChunk
	for current := start; current.Before(end); current = current.Add(span) {
		chunkEnd := current.Add(span)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		chunks = append(chunks, timeChunk{start: current, end: chunkEnd.Add(-time.Second)})
	}
	return chunks
}

func (c *CoinbaseAdapter) fetchCandleChunk(ctx context.Context, product string, chunk timeChunk, granularity string) ([]coinbaseCandle, error) {
	params := url.Values{}
	params.Add("start", strconv.FormatInt(chunk.start.Unix(), 10))
	params.Add("end", strconv.FormatInt(chunk.end.Unix(), 10))
	params.Add("granularity", granularity)
	fullURL := fmt.Sprintf(c.baseURL+candlesEndpoint, url.PathEscape(product)) + "?" + params.Encode()

	body, err := c.makeRequestWithRetry(ctx, fullURL)
	if err != nil {
		return nil, err
	}

	var apiResponse struct {
		Candles []coinbaseCandle `json:"candles"`
	}
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return nil, fmt.Errorf("%w: failed to parse candles response: %v", apperrors.ErrDataFormat, err)
	}
	return apiResponse.Candles, nil
}

func (c *CoinbaseAdapter) makeRequestWithRetry(ctx context.Context, requestURL string) ([]byte, error) {
	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "go-ohlcv-research/1.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			if retryAfter := parseRetryAfter(resp.Header.Get("Retry-After")); retryAfter > 0 {
				c.logger.Warn("rate limited, waiting", "retry_after", retryAfter)
				select {
				case <-time.After(retryAfter):
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				}
			}
			return fmt.Errorf("rate limited by %s", req.URL.Host)
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: %s", apperrors.ErrNotFound, string(data)))
		case resp.StatusCode >= 500:
			return fmt.Errorf("server error %d: %s", resp.StatusCode, string(data))
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("client error %d: %s", resp.StatusCode, string(data)))
		}
		body = data
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("request failed, retrying", "error", err, "wait", wait)
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return body, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		return time.Until(t)
	}
	return 0
}

// API response structures

type coinbaseCandle struct {
	Start  string `json:"start"`
	Low    string `json:"low"`
	High   string `json:"high"`
	Open   string `json:"open"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

// rawRow reorders a Coinbase candle into the normalizer's row layout. The
// start field is in seconds.
func (c coinbaseCandle) rawRow() converter.RawRow {
	var ts any = c.Start
	if sec, err := strconv.ParseInt(c.Start, 10, 64); err == nil {
		ts = sec * 1000
	}
	return converter.RawRow{ts, c.Open, c.High, c.Low, c.Close, c.Volume}
}
