package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/DziriM/playground-stream/internal/adapter/metrics"
	"github.com/DziriM/playground-stream/internal/adapter/upstream"
	"github.com/DziriM/playground-stream/internal/broadcast"
	"github.com/DziriM/playground-stream/internal/domain"
	"github.com/DziriM/playground-stream/internal/platform/config"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

type subscriberRegistry interface {
	Register(conn *websocket.Conn) (*broadcast.Subscriber, error)
	Unregister(s *broadcast.Subscriber)
	SubscriberCount() int
}

// ProxyFetcher returns a third-party response to forward.
type ProxyFetcher interface {
	Fetch(ctx context.Context) (upstream.Response, error)
}

// Dependencies are the collaborators served over HTTP.
type Dependencies struct {
	Stats       domain.CounterReader
	Subscribers subscriberRegistry
	// Proxies maps a route name ("btc", "france", ...) to its upstream.
	Proxies      map[string]ProxyFetcher
	HealthChecks []HealthCheck
	// LastTick reports the generator's last successful tick for readiness.
	LastTick    func() time.Time
	Registry    *prometheus.Registry
	HTTPMetrics *metrics.HTTPMetrics
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	stats        domain.CounterReader
	subscribers  subscriberRegistry
	proxies      map[string]ProxyFetcher
	healthChecks []HealthCheck
	lastTick     func() time.Time
	registry     *prometheus.Registry
	httpMetrics  *metrics.HTTPMetrics

	upgrader  websocket.Upgrader
	startTime time.Time
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		stats:        deps.Stats,
		subscribers:  deps.Subscribers,
		proxies:      deps.Proxies,
		healthChecks: deps.HealthChecks,
		lastTick:     deps.LastTick,
		registry:     deps.Registry,
		httpMetrics:  deps.HTTPMetrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     NewCheckOrigin(cfg.CORSOrigins, cfg.IsDevelopment()),
		},
		startTime: time.Now(),
	}

	srv.registerRoutes()

	return srv
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
