package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/DziriM/playground-stream/internal/adapter/metrics"
	"github.com/DziriM/playground-stream/internal/domain"
	"github.com/DziriM/playground-stream/internal/platform/logging"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// DefaultTickInterval is the generator period used when none is configured.
const DefaultTickInterval = 2500 * time.Millisecond

// stalledAfter is how many missed periods make the generator unhealthy.
const stalledAfter = 3

var (
	errNotRunning = errors.New("generator not running")
	errStalled    = errors.New("generator stalled")
)

// Generator mutates the counters on every tick and publishes one message
// event followed by one stats event.
type Generator struct {
	state     domain.CounterStore
	publisher domain.Publisher
	clock     clockwork.Clock
	interval  time.Duration
	intN      func(n int) int
	metrics   *metrics.GeneratorMetrics

	startedAt  atomic.Int64
	lastTickAt atomic.Int64
}

type GeneratorOption func(*Generator)

// WithRandom replaces the uniform source used to pick deltas. intN must
// return a value in [0, n).
func WithRandom(intN func(n int) int) GeneratorOption {
	return func(g *Generator) { g.intN = intN }
}

func WithGeneratorMetrics(m *metrics.GeneratorMetrics) GeneratorOption {
	return func(g *Generator) { g.metrics = m }
}

func NewGenerator(state domain.CounterStore, publisher domain.Publisher, clock clockwork.Clock, interval time.Duration, opts ...GeneratorOption) *Generator {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	g := &Generator{
		state:     state,
		publisher: publisher,
		clock:     clock,
		interval:  interval,
		intN:      rand.IntN,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run ticks once right away and then every interval until ctx is cancelled.
// A failed tick is logged and skipped.
func (g *Generator) Run(ctx context.Context) {
	ticker := g.clock.NewTicker(g.interval)
	defer ticker.Stop()

	g.startedAt.Store(g.clock.Now().UnixNano())
	defer g.startedAt.Store(0)

	slog.Info("Generator started", "interval", g.interval)

	if ctx.Err() == nil {
		g.runTick(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("Generator stopped")
			return
		case <-ticker.Chan():
			g.runTick(ctx)
		}
	}
}

func (g *Generator) runTick(ctx context.Context) {
	tickCtx := logging.WithCorrelationID(ctx, logging.NewCorrelationID())
	if err := g.safeTick(tickCtx); err != nil {
		slog.ErrorContext(tickCtx, "Generator tick failed", "error", err)
		g.observe("error", 0)
	}
}

// LastTick returns when the last successful tick finished (zero if none).
func (g *Generator) LastTick() time.Time {
	if ns := g.lastTickAt.Load(); ns != 0 {
		return time.Unix(0, ns)
	}
	return time.Time{}
}

// HealthCheck fails when Run is not active or no tick succeeded for several periods.
func (g *Generator) HealthCheck(_ context.Context) error {
	started := g.startedAt.Load()
	if started == 0 {
		return errNotRunning
	}

	ref := max(started, g.lastTickAt.Load())
	if since := g.clock.Since(time.Unix(0, ref)); since > stalledAfter*g.interval {
		return fmt.Errorf("%w: no tick for %s", errStalled, since.Round(time.Millisecond))
	}
	return nil
}

func (g *Generator) safeTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()
	return g.tick(ctx)
}

func (g *Generator) tick(ctx context.Context) error {
	start := g.clock.Now()

	messageDelta := 1 + g.intN(3)
	userDelta := g.intN(3) - 1

	snap, err := g.state.ApplyTick(messageDelta, userDelta)
	if err != nil {
		return fmt.Errorf("apply tick: %w", err)
	}

	msg := domain.MessageEvent{
		ID:   uuid.NewString(),
		Text: "Broadcast " + start.UTC().Format(time.TimeOnly),
	}
	g.publisher.Publish(ctx, msg, domain.StatsEvent{Snapshot: snap})

	g.lastTickAt.Store(g.clock.Now().UnixNano())
	g.observe("ok", g.clock.Since(start))
	if g.metrics != nil {
		g.metrics.ActiveUsers.Set(float64(snap.ActiveUsers))
		g.metrics.Messages.Set(float64(snap.TotalMessages))
	}

	slog.DebugContext(ctx, "Generator tick", "message_delta", messageDelta, "user_delta", userDelta,
		"total_messages", snap.TotalMessages, "active_users", snap.ActiveUsers)
	return nil
}

func (g *Generator) observe(result string, d time.Duration) {
	if g.metrics == nil {
		return
	}
	g.metrics.TicksTotal.WithLabelValues(result).Inc()
	if result == "ok" {
		g.metrics.TickDuration.Observe(d.Seconds())
	}
}
