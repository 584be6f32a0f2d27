// Package httpx implements the rate-paced, retrying HTTP executor shared by
// the three REST upstreams (Gamma, data API, CLOB).
//
// Every request goes through four gates, in order: a bounded-concurrency
// semaphore, a token-bucket pacer, a per-upstream circuit breaker, and the
// resty retry loop (5xx and transport errors, exponential backoff with
// jitter). A 429 answer widens the pacer instead of failing the caller;
// subsequent requests are delayed and the pacer recovers gradually on
// success. No upstream-specific logic lives here.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"polymercado/internal/metrics"
)

// ErrThrottled marks a request rejected or truncated because the upstream
// asked us to slow down. Jobs treat it as partial progress, not failure.
var ErrThrottled = errors.New("upstream throttled")

// StatusError is a non-2xx answer that survived the retry loop.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

const (
	defaultRatePerSecond = 10
	minRatePerSecond     = 0.5
	recoverFactor        = 1.25 // pacing recovery multiplier per successful request
	slowdownFactor       = 0.5  // pacing cut on each 429
)

// Options tunes one pool client.
type Options struct {
	Timeout     time.Duration // per-request timeout, default 10s
	Concurrency int           // bounded in-flight requests, default 10
	RetryCount  int           // attempts after the first, default 3
	RatePerSec  float64       // steady-state pacing, default 10 req/s
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 10
	}
	if o.RetryCount <= 0 {
		o.RetryCount = 3
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = defaultRatePerSecond
	}
	return o
}

// Client is a rate-paced REST client for a single upstream base URL.
type Client struct {
	http     *resty.Client
	sem      chan struct{}
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	upstream string
	baseRate float64
	logger   *slog.Logger
}

// New creates a pool client for one upstream. The upstream name tags logs
// and metrics.
func New(upstream, baseURL string, opts Options, logger *slog.Logger) *Client {
	opts = opts.withDefaults()

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        upstream,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 8
		},
	})

	return &Client{
		http:     httpClient,
		sem:      make(chan struct{}, opts.Concurrency),
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSec), int(opts.RatePerSec)+1),
		breaker:  breaker,
		upstream: upstream,
		baseRate: opts.RatePerSec,
		logger:   logger.With("component", "httpx", "upstream", upstream),
	}
}

// GetJSON issues a GET with query params and decodes the JSON answer into out.
func (c *Client) GetJSON(ctx context.Context, path string, query map[string]string, out any) error {
	return c.do(ctx, func() (*resty.Response, error) {
		req := c.http.R().SetContext(ctx).SetResult(out)
		if len(query) > 0 {
			req.SetQueryParams(query)
		}
		return req.Get(path)
	})
}

// GetJSONValues is GetJSON for endpoints that take repeated query keys,
// like the batched open-interest lookup.
func (c *Client) GetJSONValues(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, func() (*resty.Response, error) {
		req := c.http.R().SetContext(ctx).SetResult(out)
		if len(query) > 0 {
			req.SetQueryParamsFromValues(query)
		}
		return req.Get(path)
	})
}

// PostJSON issues a POST with a JSON body and decodes the JSON answer into out.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, func() (*resty.Response, error) {
		return c.http.R().SetContext(ctx).SetBody(body).SetResult(out).Post(path)
	})
}

func (c *Client) do(ctx context.Context, send func() (*resty.Response, error)) error {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	res, err := c.breaker.Execute(func() (any, error) {
		resp, err := send()
		if err != nil {
			return nil, fmt.Errorf("%s request: %w", c.upstream, err)
		}
		return resp, nil
	})
	metrics.UpstreamLatency.WithLabelValues(c.upstream).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(c.upstream, "error").Inc()
		return err
	}

	resp := res.(*resty.Response)
	metrics.UpstreamRequests.WithLabelValues(c.upstream, strconv.Itoa(resp.StatusCode())).Inc()

	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		c.slowdown()
		return fmt.Errorf("%s: %w", c.upstream, ErrThrottled)
	case resp.StatusCode() >= 300:
		return &StatusError{Code: resp.StatusCode(), Body: truncate(resp.String(), 256)}
	default:
		c.recover()
		return nil
	}
}

// slowdown halves the pacing rate after a 429. The floor keeps the pool
// making progress even under sustained throttling.
func (c *Client) slowdown() {
	cur := float64(c.limiter.Limit())
	next := cur * slowdownFactor
	if next < minRatePerSecond {
		next = minRatePerSecond
	}
	c.limiter.SetLimit(rate.Limit(next))
	c.logger.Warn("throttled by upstream, widening request gap",
		"rate_per_sec", next,
	)
}

// recover nudges the pacing rate back toward steady state on success.
func (c *Client) recover() {
	cur := float64(c.limiter.Limit())
	if cur >= c.baseRate {
		return
	}
	next := cur * recoverFactor
	if next > c.baseRate {
		next = c.baseRate
	}
	c.limiter.SetLimit(rate.Limit(next))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
