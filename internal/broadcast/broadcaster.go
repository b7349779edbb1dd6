package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/DziriM/playground-stream/internal/adapter/metrics"
	"github.com/DziriM/playground-stream/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	stopTimeout     = 10 * time.Second
	shutdownMessage = "Server shutting down"
)

// Broadcaster delivers events to every subscriber registered at publish time.
type Broadcaster struct {
	registry    *Registry
	clock       clockwork.Clock
	metrics     *metrics.BroadcastMetrics
	stopTimeout time.Duration

	mu      sync.RWMutex
	stopped bool
}

var _ domain.Publisher = (*Broadcaster)(nil)

// NewBroadcaster creates a broadcaster with an empty registry. A nil m
// records into a private registry.
func NewBroadcaster(clock clockwork.Clock, m *metrics.BroadcastMetrics) *Broadcaster {
	if m == nil {
		m = metrics.NewBroadcastMetrics(prometheus.NewRegistry())
	}
	return &Broadcaster{
		registry:    NewRegistry(),
		clock:       clock,
		metrics:     m,
		stopTimeout: stopTimeout,
	}
}

// Register subscribes conn to every event published from now on.
func (b *Broadcaster) Register(conn *websocket.Conn) (*Subscriber, error) {
	return b.register(conn)
}

func (b *Broadcaster) register(conn wsConn) (*Subscriber, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.stopped {
		_ = conn.Close()
		return nil, domain.ErrBroadcasterStopped
	}

	s := newSubscriber(conn, b.clock, func(s *Subscriber) { b.evict(s, "closed") })
	total := b.registry.Add(s)
	b.metrics.ConnectedSubscribers.Set(float64(total))

	slog.Debug("Subscriber registered", "subscriber_id", s.id.String(), "total_subscribers", total)
	return s, nil
}

// Unregister removes s and closes its connection. Safe to call more than once.
func (b *Broadcaster) Unregister(s *Subscriber) {
	if _, ok := b.registry.Remove(s.id); !ok {
		return
	}
	s.stop()
	b.metrics.ConnectedSubscribers.Set(float64(b.registry.Len()))
	slog.Debug("Subscriber unregistered", "subscriber_id", s.id.String(), "remaining_subscribers", b.registry.Len())
}

// SubscriberCount returns the number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	return b.registry.Len()
}

// Publish enqueues events, in order, to every current subscriber without
// blocking. Subscribers that cannot take the frames are evicted.
func (b *Broadcaster) Publish(ctx context.Context, events ...domain.Event) {
	start := b.clock.Now()
	subs := b.registry.Snapshot()
	if len(subs) == 0 {
		return
	}

	frames := make([][]byte, 0, len(events))
	names := make([]string, 0, len(events))
	for _, ev := range events {
		frame, err := domain.EncodeEvent(ev)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to encode event", "event", ev.Name(), "error", err)
			continue
		}
		frames = append(frames, frame)
		names = append(names, ev.Name())
	}
	if len(frames) == 0 {
		return
	}

	delivered := 0
	for _, s := range subs {
		if err := s.enqueue(frames); err != nil {
			reason := "closed"
			if errors.Is(err, errSubscriberSlow) {
				reason = "slow"
			}
			slog.WarnContext(ctx, "Evicting subscriber", "subscriber_id", s.id.String(), "reason", reason)
			b.evict(s, reason)
			continue
		}
		delivered++
	}

	for _, name := range names {
		b.metrics.FramesPublished.WithLabelValues(name).Add(float64(delivered))
	}
	b.metrics.FanOutDuration.Observe(b.clock.Since(start).Seconds())
}

// evict drops s from the registry right away; closing the socket happens
// off the caller's goroutine.
func (b *Broadcaster) evict(s *Subscriber, reason string) {
	if _, ok := b.registry.Remove(s.id); !ok {
		return
	}
	b.metrics.SubscribersEvicted.WithLabelValues(reason).Inc()
	b.metrics.ConnectedSubscribers.Set(float64(b.registry.Len()))
	go s.stop()
}

// Stop rejects new subscribers and closes every open one with a close frame.
// It waits at most stopTimeout for the sockets to close.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()

	subs := b.registry.Drain()
	b.metrics.ConnectedSubscribers.Set(0)
	slog.Info("Broadcaster shutting down", "subscribers", len(subs))

	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.stopGraceful(shutdownMessage)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timeout := b.clock.NewTimer(b.stopTimeout)
	defer timeout.Stop()

	select {
	case <-done:
		slog.Info("Broadcaster stopped gracefully", "disconnected_subscribers", len(subs))
	case <-timeout.Chan():
		slog.Warn("Broadcaster stop timeout exceeded, abandoning open sockets", "timeout", b.stopTimeout)
	}
}

// HealthCheck fails once the broadcaster has been stopped.
func (b *Broadcaster) HealthCheck(_ context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return domain.ErrBroadcasterStopped
	}
	return nil
}
