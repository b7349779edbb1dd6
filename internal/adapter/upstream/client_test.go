package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DziriM/playground-stream/internal/adapter/metrics"
	"github.com/DziriM/playground-stream/internal/domain"
	apperrors "github.com/DziriM/playground-stream/internal/platform/errors"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUpstream(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testMetrics() (*metrics.UpstreamMetrics, *metrics.CacheMetrics) {
	reg := prometheus.NewRegistry()
	return metrics.NewUpstreamMetrics(reg), metrics.NewCacheMetrics(reg)
}

func TestFetch_ForwardsBodyAndContentType(t *testing.T) {
	srv, _ := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":64000}}`))
	})
	c := New("btc", srv.URL, time.Second)

	resp, err := c.Fetch(context.Background())

	require.NoError(t, err)
	assert.JSONEq(t, `{"bitcoin":{"usd":64000}}`, string(resp.Body))
	assert.Equal(t, "application/json; charset=utf-8", resp.ContentType)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestFetch_DefaultsContentType(t *testing.T) {
	srv, _ := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header()["Content-Type"] = nil
		_, _ = w.Write([]byte(`[]`))
	})
	c := New("france", srv.URL, time.Second)

	resp, err := c.Fetch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, defaultContentType, resp.ContentType)
}

func TestFetch_NonSuccessIsBadGateway(t *testing.T) {
	srv, _ := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	um, cm := testMetrics()
	c := New("btc", srv.URL, time.Second, WithMetrics(um, cm))

	_, err := c.Fetch(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	structured := apperrors.AsStructuredError(err)
	assert.Equal(t, http.StatusBadGateway, structured.HTTPStatus())
	assert.Equal(t, "btc", structured.Context["upstream"])
	assert.Equal(t, http.StatusTooManyRequests, structured.Context["upstream_status"])
	assert.Equal(t, 1.0, testutil.ToFloat64(um.RequestsTotal.WithLabelValues("btc", "error")))
}

func TestFetch_TransportFailure(t *testing.T) {
	srv, _ := newUpstream(t, func(http.ResponseWriter, *http.Request) {})
	url := srv.URL
	srv.Close()

	c := New("eurusd", url, time.Second)
	_, err := c.Fetch(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, apperrors.TypeExternal, apperrors.AsStructuredError(err).Type)
}

func TestFetch_CacheServesWithinTTL(t *testing.T) {
	srv, calls := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"rates":{"USD":1.08}}`))
	})
	clock := clockwork.NewFakeClock()
	um, cm := testMetrics()
	c := New("eurusd", srv.URL, time.Second, WithClock(clock), WithCacheTTL(5*time.Second), WithMetrics(um, cm))

	_, err := c.Fetch(context.Background())
	require.NoError(t, err)
	_, err = c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(cm.Hits.WithLabelValues("eurusd")))

	clock.Advance(5 * time.Second)
	_, err = c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(cm.Misses.WithLabelValues("eurusd")))
}

func TestFetch_ZeroTTLDisablesCache(t *testing.T) {
	srv, calls := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	c := New("btc", srv.URL, time.Second, WithCacheTTL(0))

	for range 3 {
		_, err := c.Fetch(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_FailuresAreNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv, calls := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})
	c := New("btc", srv.URL, time.Second, WithCacheTTL(time.Minute))

	_, err := c.Fetch(context.Background())
	require.Error(t, err)

	fail.Store(false)
	_, err = c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_CoalescesConcurrentRequests(t *testing.T) {
	release := make(chan struct{})
	srv, calls := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{}`))
	})
	c := New("btc", srv.URL, 5*time.Second)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Fetch(context.Background())
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(2))
}

func TestFetch_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv, calls := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	um, cm := testMetrics()
	c := New("france", srv.URL, time.Second, WithBreaker(2, time.Hour), WithMetrics(um, cm))

	for range 2 {
		_, err := c.Fetch(context.Background())
		require.Error(t, err)
	}

	_, err := c.Fetch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, int32(2), calls.Load(), "open breaker must not reach the upstream")
	assert.Equal(t, 1.0, testutil.ToFloat64(um.RequestsTotal.WithLabelValues("france", "open")))
	assert.Equal(t, 2.0, testutil.ToFloat64(um.BreakerState.WithLabelValues("france")))
}

func TestFetch_CancelledCallerDoesNotTripBreaker(t *testing.T) {
	release := make(chan struct{})
	srv, calls := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":64000}}`))
	})
	um, cm := testMetrics()
	c := New("btc", srv.URL, 5*time.Second, WithBreaker(2, time.Hour), WithMetrics(um, cm))

	for range 5 {
		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() {
			_, err := c.Fetch(ctx)
			errCh <- err
		}()
		require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
		cancel()

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("cancelled caller did not return")
		}
	}

	close(release)
	resp, err := c.Fetch(context.Background())

	require.NoError(t, err)
	assert.JSONEq(t, `{"bitcoin":{"usd":64000}}`, string(resp.Body))
	assert.LessOrEqual(t, calls.Load(), int32(2), "cancelled callers share one outbound call")
	assert.Equal(t, 0.0, testutil.ToFloat64(um.RequestsTotal.WithLabelValues("btc", "error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(um.RequestsTotal.WithLabelValues("btc", "open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(um.BreakerState.WithLabelValues("btc")))
}

func TestFetch_CoalescedCallerSurvivesLeaderCancel(t *testing.T) {
	release := make(chan struct{})
	srv, calls := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{}`))
	})
	c := New("eurusd", srv.URL, 5*time.Second)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.Fetch(leaderCtx)
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	followerErr := make(chan error, 1)
	go func() {
		_, err := c.Fetch(context.Background())
		followerErr <- err
	}()

	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(release)
	assert.NoError(t, <-followerErr)
}
