package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/DziriM/playground-stream/internal/domain"
	"github.com/DziriM/playground-stream/internal/platform/version"
	"github.com/labstack/echo/v4"
)

const (
	readinessProbeTimeout = 5 * time.Second
	serviceName           = "playground-server"
)

// HealthCheck is a named readiness check.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// readinessReport carries every check result along with what the stream is doing.
type readinessReport struct {
	Status      string                 `json:"status"`
	Checks      map[string]checkResult `json:"checks"`
	Counters    domain.CounterState    `json:"counters"`
	Subscribers int                    `json:"subscribers"`
	LastTick    *time.Time             `json:"last_tick,omitempty"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleLiveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Seconds(),
	})
}

// handleReadiness answers 503 when any check fails. Every check runs so the
// body names all of the failures, not just the first.
func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	report := readinessReport{
		Status:      "ready",
		Checks:      make(map[string]checkResult, len(s.healthChecks)),
		Counters:    s.stats.Read(),
		Subscribers: s.subscribers.SubscriberCount(),
	}
	if s.lastTick != nil {
		if t := s.lastTick(); !t.IsZero() {
			report.LastTick = &t
		}
	}

	status := http.StatusOK
	for _, hc := range s.healthChecks {
		if err := hc.Check(ctx); err != nil {
			report.Checks[hc.Name] = checkResult{Status: "failing", Error: err.Error()}
			report.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		report.Checks[hc.Name] = checkResult{Status: "ok"}
	}

	if err := c.JSON(status, report); err != nil {
		return fmt.Errorf("write readiness report: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, version.Get(serviceName))
}
