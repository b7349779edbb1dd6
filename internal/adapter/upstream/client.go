// Package upstream proxies a fixed set of third-party JSON endpoints. Each
// upstream gets its own circuit breaker, request coalescing and a short
// response cache so that a burst of viewers costs one outbound call.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/DziriM/playground-stream/internal/adapter/metrics"
	"github.com/DziriM/playground-stream/internal/domain"
	apperrors "github.com/DziriM/playground-stream/internal/platform/errors"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

const (
	defaultContentType = "application/json"
	maxBodyBytes       = 1 << 20

	breakerFailureThreshold = 5
	breakerDelay            = 30 * time.Second
)

// Response is an upstream body forwarded as-is.
type Response struct {
	Body        []byte
	ContentType string
	Status      int
}

// Client fetches one upstream URL.
type Client struct {
	name    string
	url     string
	http    *http.Client
	clock   clockwork.Clock
	breaker circuitbreaker.CircuitBreaker[any]
	group   singleflight.Group
	cache   *responseCache

	metrics      *metrics.UpstreamMetrics
	cacheMetrics *metrics.CacheMetrics

	timeout          time.Duration
	breakerThreshold uint
	breakerDelay     time.Duration
	cacheTTL         time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the default client built from the timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithCacheTTL enables the response cache. Zero disables it.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) { c.cacheTTL = ttl }
}

func WithMetrics(m *metrics.UpstreamMetrics, cm *metrics.CacheMetrics) Option {
	return func(c *Client) {
		c.metrics = m
		c.cacheMetrics = cm
	}
}

// WithBreaker overrides the consecutive-failure threshold and open delay.
func WithBreaker(threshold uint, delay time.Duration) Option {
	return func(c *Client) {
		c.breakerThreshold = threshold
		c.breakerDelay = delay
	}
}

// New creates a client for url. name labels logs and metrics.
func New(name, url string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		name:             name,
		url:              url,
		http:             &http.Client{Timeout: timeout},
		timeout:          timeout,
		clock:            clockwork.NewRealClock(),
		breakerThreshold: breakerFailureThreshold,
		breakerDelay:     breakerDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil || c.cacheMetrics == nil {
		reg := prometheus.NewRegistry()
		c.metrics = metrics.NewUpstreamMetrics(reg)
		c.cacheMetrics = metrics.NewCacheMetrics(reg)
	}

	c.cache = newResponseCache(c.clock, c.cacheTTL)
	c.breaker = circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(c.breakerThreshold).
		WithDelay(c.breakerDelay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"upstream", c.name,
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			c.metrics.BreakerState.WithLabelValues(c.name).Set(stateToFloat(e.NewState))
		}).
		Build()
	c.metrics.BreakerState.WithLabelValues(c.name).Set(0)

	return c
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

func (c *Client) Name() string { return c.name }

// Fetch returns the upstream body. Failures come back as 502 structured
// errors wrapping domain.ErrUpstreamUnavailable.
//
// The outbound call is shared by every coalesced caller, so it runs detached
// from ctx and bounded by the client timeout. A caller that goes away gets
// ctx.Err() without cancelling the call or counting against the breaker.
func (c *Client) Fetch(ctx context.Context) (Response, error) {
	if resp, ok := c.cache.get(); ok {
		c.cacheMetrics.Hits.WithLabelValues(c.name).Inc()
		return resp, nil
	}
	c.cacheMetrics.Misses.WithLabelValues(c.name).Inc()

	ch := c.group.DoChan(c.name, func() (any, error) {
		fetchCtx, cancel := c.detach(ctx)
		defer cancel()
		return c.fetch(fetchCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Response{}, res.Err
		}
		return res.Val.(Response), nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (c *Client) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if c.timeout <= 0 {
		return context.WithCancel(detached)
	}
	return context.WithTimeout(detached, c.timeout)
}

func (c *Client) fetch(ctx context.Context) (Response, error) {
	if !c.breaker.TryAcquirePermit() {
		c.metrics.RequestsTotal.WithLabelValues(c.name, "open").Inc()
		return Response{}, c.failure("upstream circuit open", circuitbreaker.ErrOpen)
	}

	start := c.clock.Now()
	resp, err := c.do(ctx)
	c.metrics.RequestDuration.WithLabelValues(c.name).Observe(c.clock.Since(start).Seconds())

	if err != nil {
		c.breaker.RecordError(err)
		c.metrics.RequestsTotal.WithLabelValues(c.name, "error").Inc()
		slog.WarnContext(ctx, "Upstream request failed", "upstream", c.name, "error", err)
		return Response{}, c.failure("upstream request failed", err)
	}

	c.breaker.RecordSuccess()
	c.metrics.RequestsTotal.WithLabelValues(c.name, "ok").Inc()
	c.cache.set(resp)
	return resp, nil
}

func (c *Client) do(ctx context.Context) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", defaultContentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return Response{}, &statusError{status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Response{}, fmt.Errorf("read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}
	return Response{Body: body, ContentType: contentType, Status: resp.StatusCode}, nil
}

func (c *Client) failure(message string, cause error) *apperrors.Error {
	e := apperrors.ExternalError(message, errors.Join(domain.ErrUpstreamUnavailable, cause)).
		WithField("upstream", c.name)
	var se *statusError
	if errors.As(cause, &se) {
		e = e.WithField("upstream_status", se.status)
	}
	return e
}

type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.status)
}
