package search

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fenwicklabs/atomicresearch/llm/retry"
)

// SharedHTTPConfig configures the process-wide HTTP client every provider
// shares, per spec.md §5 "Shared resources". It is constructed once at
// startup and never mutated afterward.
type SharedHTTPConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration

	RetryPolicy *retry.RetryPolicy

	// RateLimitRPS and RateLimitBurst configure the per-provider-name
	// token bucket; zero RateLimitRPS disables rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int
}

// DefaultSharedHTTPConfig matches the teacher's DefaultRetryPolicy (3
// retries after the first attempt, 1s initial backoff doubling to a 30s cap, jittered) plus a
// conservative connection pool.
func DefaultSharedHTTPConfig() SharedHTTPConfig {
	return SharedHTTPConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         5 * time.Second,
		RetryPolicy:         retry.DefaultRetryPolicy(),
		RateLimitRPS:        10,
		RateLimitBurst:      20,
	}
}

// SharedHTTPClient is the process-wide singleton of spec.md §5: one
// connection pool, one retry policy, and one rate limiter bucket per
// provider name, threaded explicitly into every provider constructor
// instead of hidden behind package-level globals (§9's module-level mutable
// singletons design note).
type SharedHTTPClient struct {
	client  *http.Client
	retryer retry.Retryer
	logger  *zap.Logger

	cfg SharedHTTPConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewSharedHTTPClient builds the shared client. Call Close at process
// shutdown to release idle connections.
func NewSharedHTTPClient(cfg SharedHTTPConfig, logger *zap.Logger) *SharedHTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DialContext: (&net.Dialer{
			Timeout: cfg.DialTimeout,
		}).DialContext,
	}

	return &SharedHTTPClient{
		client:   &http.Client{Transport: transport},
		retryer:  retry.NewBackoffRetryer(cfg.RetryPolicy, logger),
		logger:   logger,
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Close releases pooled connections.
func (c *SharedHTTPClient) Close() {
	c.client.CloseIdleConnections()
}

// limiterFor returns (creating if needed) the rate limiter for a provider
// name. Providers are registered once at startup, so the map is safe to
// grow lazily under a mutex without becoming a bottleneck.
func (c *SharedHTTPClient) limiterFor(provider string) *rate.Limiter {
	if c.cfg.RateLimitRPS <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[provider]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.cfg.RateLimitRPS), c.cfg.RateLimitBurst)
		c.limiters[provider] = l
	}
	return l
}

// Do executes req under the shared retry policy and per-provider rate
// limit. Retries are bounded to the closed set of retryable error classes
// (network, timeout, rate-limit 429, 5xx) per spec.md §5/§7; other 4xx
// responses are returned immediately without retry.
func (c *SharedHTTPClient) Do(ctx context.Context, provider string, req *http.Request) (*http.Response, error) {
	if l := c.limiterFor(provider); l != nil {
		if err := l.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	result, err := c.retryer.DoWithResult(ctx, func() (any, error) {
		resp, err := c.client.Do(req.Clone(ctx))
		if err != nil {
			return nil, retry.WrapRetryable(err)
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			return nil, retry.WrapRetryable(fmt.Errorf("upstream %s: status %d", provider, resp.StatusCode))
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}
