package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/DziriM/playground-stream/internal/adapter/metrics"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const streamPath = "/hub/stream"

func (s *Server) registerRoutes() {
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(correlationMiddleware)
	s.echo.Use(ErrorHandlingMiddleware())
	s.echo.Use(s.setupCORSMiddleware())
	if s.httpMetrics != nil {
		s.echo.Use(s.httpMetrics.Middleware(streamPath))
	}

	s.registerHealthRoutes()
	if s.registry != nil {
		s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler(s.registry)))
	}

	api := s.echo.Group("/api")
	api.GET("/stats", s.handleStats)

	proxy := api.Group("/proxy", newRateLimiter(s.config.ProxyRateLimit, s.config.ProxyRateBurst))
	for name, fetcher := range s.proxies {
		proxy.GET("/"+name, s.handleProxy(name, fetcher))
	}

	s.echo.GET(streamPath, s.handleStream)
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics"
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}

// setupCORSMiddleware mirrors the allowed origins back with credentials.
// Any method and header is accepted.
func (s *Server) setupCORSMiddleware() echo.MiddlewareFunc {
	allowed := newOriginSet(s.config.CORSOrigins)

	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOriginFunc: func(origin string) (bool, error) {
			return allowed.allows(origin), nil
		},
		AllowMethods: []string{
			http.MethodGet, http.MethodHead, http.MethodPut, http.MethodPatch,
			http.MethodPost, http.MethodDelete, http.MethodOptions,
		},
		AllowCredentials: true,
	})
}
