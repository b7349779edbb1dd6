package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// handleStats returns the current counter snapshot.
func (s *Server) handleStats(c echo.Context) error {
	if err := c.JSON(http.StatusOK, s.stats.Read()); err != nil {
		return fmt.Errorf("failed to write stats response: %w", err)
	}
	return nil
}

// handleProxy forwards the upstream body and content type unchanged.
func (s *Server) handleProxy(name string, fetcher ProxyFetcher) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		resp, err := fetcher.Fetch(ctx)
		if err != nil {
			// The client is gone; there is nobody to answer.
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := c.Blob(http.StatusOK, resp.ContentType, resp.Body); err != nil {
			return fmt.Errorf("failed to write %s proxy response: %w", name, err)
		}
		return nil
	}
}
