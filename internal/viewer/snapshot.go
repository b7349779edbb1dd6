package viewer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/DziriM/playground-stream/internal/domain"
	"github.com/DziriM/playground-stream/internal/platform/retry"
)

const (
	snapshotAttempts = 3
	maxResponseSize  = 1 << 20
)

type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.status)
}

// classifySnapshotError retries transport failures and 5xx, waits longer
// on 429 and gives up on any other status.
func classifySnapshotError(err error) retry.Action {
	var se *statusError
	if !errors.As(err, &se) {
		return retry.Retry
	}
	switch {
	case se.status == http.StatusTooManyRequests:
		return retry.After
	case se.status >= 500:
		return retry.Retry
	default:
		return retry.Stop
	}
}

// FetchSnapshot reads the current stats over HTTP and seeds the view with
// them unless a live update has already arrived.
func (c *Connection) FetchSnapshot(ctx context.Context) (domain.CounterState, error) {
	stats, err := retry.Do(ctx, c.clock, c.fetchPolicy(ctx, "snapshot"), classifySnapshotError,
		func(ctx context.Context) (domain.CounterState, error) {
			body, err := c.get(ctx, statsPath)
			if err != nil {
				return domain.CounterState{}, err
			}
			return normalizeStats(body)
		})
	if err != nil {
		return domain.CounterState{}, fmt.Errorf("fetch snapshot: %w", err)
	}

	c.view.seedStats(stats)
	return stats, nil
}

func (c *Connection) fetchPolicy(ctx context.Context, what string) retry.Policy {
	return retry.Policy{
		MaxAttempts:      snapshotAttempts,
		Backoff:          c.backoff,
		RateLimitBackoff: c.backoff.Max,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.WarnContext(ctx, "Fetch failed, retrying", "target", what, "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
}

// get returns the body of a 200 response from path on the server.
func (c *Connection) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.String()+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{status: resp.StatusCode}
	}
	return body, nil
}
