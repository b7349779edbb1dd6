package httpserver

import (
	"errors"
	"log/slog"

	"github.com/DziriM/playground-stream/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// Viewers send nothing meaningful; anything larger is a misbehaving peer.
const maxInboundMessageSize = 4096

// handleStream upgrades to a WebSocket and keeps it subscribed until the
// peer goes away. Inbound frames are read and dropped so that control
// frames (pong, close) get processed.
func (s *Server) handleStream(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		slog.DebugContext(c.Request().Context(), "WebSocket upgrade failed", "error", err)
		return nil
	}

	sub, err := s.subscribers.Register(conn)
	if err != nil {
		if errors.Is(err, domain.ErrBroadcasterStopped) {
			slog.DebugContext(c.Request().Context(), "Rejected subscriber during shutdown")
			return nil
		}
		_ = conn.Close()
		slog.ErrorContext(c.Request().Context(), "Failed to register subscriber", "error", err)
		return nil
	}
	defer s.subscribers.Unregister(sub)

	conn.SetReadLimit(maxInboundMessageSize)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				slog.DebugContext(c.Request().Context(), "Subscriber connection closed", "subscriber_id", sub.ID().String(), "error", err)
			}
			return nil
		}
	}
}
