// Package flarum implements the upstream forum API client: the discussion
// fetch pipeline, the index paginator, and post content sanitization.
package flarum

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/threadmill/flarum-crawler/internal/metrics"
)

// postBatchSize is the practical page size of the upstream filter-by-id
// posts endpoint.
const postBatchSize = 20

// listingPageSize is the fixed page size of the discussions listing.
const listingPageSize = 20

// Config describes a Client. Concurrency bounds the number of simultaneously
// outstanding HTTP requests process-wide; RequestsPerSecond additionally
// rate-limits request starts (0 disables).
type Config struct {
	BaseURL           string
	Concurrency       int
	Timeout           time.Duration
	RequestsPerSecond float64
}

// Client talks to one Flarum instance. It is constructed once per crawl
// invocation and shared by reference; the embedded semaphore caps total
// outstanding requests across every worker and batch fan-out.
type Client struct {
	httpClient *http.Client
	baseURL    string
	sem        *semaphore.Weighted
	limiter    *rate.Limiter
	sanitizer  *Sanitizer
	logger     *zap.Logger
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = postBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		sem:        semaphore.NewWeighted(int64(cfg.Concurrency)),
		limiter:    rate.NewLimiter(limit, 1),
		sanitizer:  NewSanitizer(),
		logger:     logger,
	}
}

// getJSON performs one upstream GET. The concurrency permit is held for the
// request/decode span only, never across processing or persistence. On a
// 2xx response the body is decoded into out; the status code is returned
// either way so callers can classify non-2xx responses themselves.
func (c *Client) getJSON(ctx context.Context, endpoint, url string, out any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit wait: %w", err)
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return 0, fmt.Errorf("acquire fetch permit: %w", err)
	}
	defer c.sem.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.api+json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveUpstreamRequest(endpoint, "error", time.Since(start))
		return 0, fmt.Errorf("get %s: %w", url, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("close response body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(resp.Body)
	metrics.ObserveUpstreamRequest(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read %s: %w", url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s: %w", url, err)
	}
	return resp.StatusCode, nil
}
