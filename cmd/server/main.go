package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/DziriM/playground-stream/internal/adapter/httpserver"
	"github.com/DziriM/playground-stream/internal/adapter/metrics"
	"github.com/DziriM/playground-stream/internal/adapter/upstream"
	"github.com/DziriM/playground-stream/internal/app"
	"github.com/DziriM/playground-stream/internal/broadcast"
	"github.com/DziriM/playground-stream/internal/counter"
	"github.com/DziriM/playground-stream/internal/platform/config"
	"github.com/DziriM/playground-stream/internal/platform/logging"
	"github.com/DziriM/playground-stream/internal/platform/version"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupProxies(cfg *config.Config, clock clockwork.Clock, reg prometheus.Registerer) map[string]httpserver.ProxyFetcher {
	upstreamMetrics := metrics.NewUpstreamMetrics(reg)
	cacheMetrics := metrics.NewCacheMetrics(reg)

	targets := map[string]string{
		"btc":    cfg.BTCPriceURL,
		"france": cfg.FranceInfoURL,
		"eurusd": cfg.EURUSDURL,
	}

	proxies := make(map[string]httpserver.ProxyFetcher, len(targets))
	for name, url := range targets {
		proxies[name] = upstream.New(name, url, cfg.ProxyTimeout,
			upstream.WithClock(clock),
			upstream.WithCacheTTL(cfg.ProxyCacheTTL),
			upstream.WithMetrics(upstreamMetrics, cacheMetrics),
		)
	}
	return proxies
}

// runGracefulShutdown stops the generator first so nothing publishes into a
// closing broadcaster, then the HTTP server, then the open sockets.
func runGracefulShutdown(cfg *config.Config, srv *httpserver.Server, stopGenerator func(), broadcaster *broadcast.Broadcaster) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		stopGenerator()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		broadcaster.Stop()
		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get("playground-server").String())

	reg := metrics.NewRegistry()

	state := counter.New(cfg.InitialActiveUsers)
	broadcaster := broadcast.NewBroadcaster(clock, metrics.NewBroadcastMetrics(reg))
	generator := app.NewGenerator(state, broadcaster, clock, cfg.TickInterval,
		app.WithGeneratorMetrics(metrics.NewGeneratorMetrics(reg)),
	)

	genCtx, cancelGenerator := context.WithCancel(context.Background())
	genDone := make(chan struct{})
	go func() {
		defer close(genDone)
		generator.Run(genCtx)
	}()
	stopGenerator := func() {
		cancelGenerator()
		<-genDone
	}

	srv := httpserver.NewServer(cfg, httpserver.Dependencies{
		Stats:       state,
		Subscribers: broadcaster,
		Proxies:     setupProxies(cfg, clock, reg),
		HealthChecks: []httpserver.HealthCheck{
			{Name: "generator", Check: generator.HealthCheck},
			{Name: "broadcaster", Check: broadcaster.HealthCheck},
		},
		LastTick:    generator.LastTick,
		Registry:    reg,
		HTTPMetrics: metrics.NewHTTPMetrics(reg),
	})

	done := runGracefulShutdown(cfg, srv, stopGenerator, broadcaster)

	if err := srv.Start(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
