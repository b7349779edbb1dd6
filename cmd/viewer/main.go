// Command viewer subscribes to the stream and prints incoming messages and
// stats to the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DziriM/playground-stream/internal/platform/config"
	"github.com/DziriM/playground-stream/internal/platform/logging"
	"github.com/DziriM/playground-stream/internal/platform/retry"
	"github.com/DziriM/playground-stream/internal/viewer"
	"github.com/jonboulle/clockwork"
)

const refreshInterval = time.Second

func setupConfig() *config.ViewerConfig {
	cfg, err := config.LoadViewer()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// render prints whatever arrived since the previous call.
func render(view *viewer.View, lastSeen string, connected bool) string {
	msgs := view.Messages()
	fresh := 0
	for fresh < len(msgs) && msgs[fresh].ID != lastSeen {
		fresh++
	}
	for i := fresh - 1; i >= 0; i-- {
		id := msgs[i].ID
		if len(id) > 8 {
			id = id[:8]
		}
		text := msgs[i].Text
		if text == "" {
			text = "[no content]"
		}
		fmt.Printf("#%s  %s\n", id, text)
	}

	if fresh > 0 {
		status := "disconnected"
		if connected {
			status = "connected"
		}
		if s, ok := view.Stats(); ok {
			fmt.Printf("   [%s] messages=%d active=%d throughput/min=%.2f\n",
				status, s.TotalMessages, s.ActiveUsers, s.ThroughputPerMinute)
		}
	}

	if len(msgs) > 0 {
		return msgs[0].ID
	}
	return lastSeen
}

// renderMarkets prints the market line when it differs from last.
func renderMarkets(d viewer.MarketData, last string) string {
	line := fmt.Sprintf("   EUR/USD %s (%s)  BTC/USD %s  %s: capital %s, population %s, currency %s",
		formatFloat(d.EURUSD, "%.4f"), orDash(d.EURUSDDate), formatFloat(d.BTCUSD, "$%.0f"),
		d.France.Name, orDash(d.France.Capital), formatPopulation(d.France.Population), orDash(d.France.Currency))
	if line != last {
		fmt.Println(line)
	}
	return line
}

func formatFloat(v *float64, format string) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf(format, *v)
}

func formatPopulation(v *int64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%d", *v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func main() {
	cfg := setupConfig()
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)

	clock := clockwork.NewRealClock()
	view := viewer.NewView(cfg.ViewCapacity)
	conn, err := viewer.NewConnection(cfg.ServerURL, view,
		viewer.WithClock(clock),
		viewer.WithBackoff(retry.Backoff{Initial: cfg.ReconnectInitial, Max: cfg.ReconnectMax, Multiplier: 2}),
		viewer.WithOnStateChange(func(from, to viewer.State) {
			slog.Info("Connection state", "from", from.String(), "to", to.String())
		}),
	)
	if err != nil {
		slog.Error("Invalid server URL", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if s, err := conn.FetchSnapshot(ctx); err != nil {
		slog.Warn("Initial snapshot unavailable", "error", err)
	} else {
		slog.Info("Snapshot", "total_messages", s.TotalMessages, "active_users", s.ActiveUsers)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- conn.Run(ctx) }()

	markets := viewer.NewMarkets()
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		conn.PollMarkets(ctx, markets, map[string]time.Duration{
			viewer.ProxyBTC:    cfg.BTCRefresh,
			viewer.ProxyEURUSD: cfg.EURUSDRefresh,
			viewer.ProxyFrance: cfg.FranceRefresh,
		})
	}()

	ticker := clock.NewTicker(refreshInterval)
	defer ticker.Stop()

	lastSeen, lastMarkets := "", ""
	for {
		select {
		case <-ticker.Chan():
			lastSeen = render(view, lastSeen, conn.Connected())
			lastMarkets = renderMarkets(markets.Snapshot(), lastMarkets)
		case <-ctx.Done():
			conn.Close()
			<-pollDone
			if err := <-runErr; err != nil && !errors.Is(err, viewer.ErrClosed) {
				slog.Error("Viewer stopped", "error", err)
			}
			return
		}
	}
}
