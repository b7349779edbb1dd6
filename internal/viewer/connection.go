package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DziriM/playground-stream/internal/domain"
	"github.com/DziriM/playground-stream/internal/platform/retry"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	streamPath = "/hub/stream"
	statsPath  = "/api/stats"

	// The server pings every 30s; two missed pings mean the link is dead.
	readDeadline  = 75 * time.Second
	closeDeadline = time.Second
	maxFrameSize  = 64 << 10
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("connection closed")

// Connection keeps one stream subscription alive. It reconnects with
// exponential backoff after every unexpected drop and never after Close.
type Connection struct {
	baseURL   *url.URL
	streamURL string
	view      *View

	dialer        *websocket.Dialer
	httpClient    *http.Client
	clock         clockwork.Clock
	backoff       retry.Backoff
	onStateChange func(from, to State)

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	cancel context.CancelFunc
	closed bool

	connected atomic.Bool
}

type Option func(*Connection)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Connection) { c.clock = clock }
}

// WithBackoff sets the reconnect schedule.
func WithBackoff(b retry.Backoff) Option {
	return func(c *Connection) { c.backoff = b }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Connection) { c.dialer = d }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Connection) { c.httpClient = hc }
}

// WithOnStateChange registers fn to run on every transition. fn runs on the
// connection goroutine and must not block.
func WithOnStateChange(fn func(from, to State)) Option {
	return func(c *Connection) { c.onStateChange = fn }
}

// NewConnection creates a connection to the server at serverURL
// (http or https) feeding view.
func NewConnection(serverURL string, view *View, opts ...Option) (*Connection, error) {
	base, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server URL: %w", err)
	}

	stream := *base
	switch base.Scheme {
	case "http":
		stream.Scheme = "ws"
	case "https":
		stream.Scheme = "wss"
	default:
		return nil, fmt.Errorf("server URL must be http(s), got %q", serverURL)
	}
	stream.Path += streamPath

	c := &Connection{
		baseURL:    base,
		streamURL:  stream.String(),
		view:       view,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		httpClient: &http.Client{Timeout: 10 * time.Second},
		clock:      clockwork.NewRealClock(),
		backoff:    retry.DefaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Connection) View() *View { return c.view }

// Connected reports whether a handshake has completed and the link has not
// dropped since. Informational only.
func (c *Connection) Connected() bool { return c.connected.Load() }

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run connects and keeps the subscription alive until ctx is done or Close
// is called. It returns nil on ctx cancellation and ErrClosed after Close.
func (c *Connection) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.cancel = cancel
	c.mu.Unlock()

	defer c.setState(StateDisconnected)
	c.setState(StateConnecting)

	attempt := 0
	for {
		conn, err := c.dial(ctx)
		if err == nil {
			attempt = 0
			c.attach(conn)
			err = c.readLoop(ctx, conn)
			c.detach(conn)
		}

		if stopErr := c.stopReason(ctx); stopErr != nil {
			if errors.Is(stopErr, ErrClosed) {
				return ErrClosed
			}
			return nil
		}

		attempt++
		delay := c.backoff.Delay(attempt)
		c.setState(StateReconnecting)
		slog.WarnContext(ctx, "Stream connection lost, reconnecting",
			"error", err, "attempt", attempt, "backoff", delay)

		if err := retry.Wait(ctx, c.clock, delay); err != nil {
			if errors.Is(c.stopReason(ctx), ErrClosed) {
				return ErrClosed
			}
			return nil
		}
	}
}

// Close stops the connection for good: the socket is closed with a normal
// close frame and no reconnect follows.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	cancel := c.cancel
	c.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, c.clock.Now().Add(closeDeadline))
		_ = conn.Close()
	}
	if cancel != nil {
		cancel()
	}
}

func (c *Connection) stopReason(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return ctx.Err()
}

func (c *Connection) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.streamURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", c.streamURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", c.streamURL, err)
	}
	return conn, nil
}

func (c *Connection) attach(conn *websocket.Conn) {
	c.mu.Lock()
	closed := c.closed
	if !closed {
		c.conn = conn
	}
	c.mu.Unlock()

	if closed {
		_ = conn.Close()
		return
	}
	c.connected.Store(true)
	c.setState(StateConnected)
	slog.Info("Stream connected", "url", c.streamURL)
}

func (c *Connection) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	c.connected.Store(false)
	_ = conn.Close()
}

// readLoop applies frames to the view until the socket fails or ctx ends.
func (c *Connection) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	conn.SetReadLimit(maxFrameSize)
	c.extendReadDeadline(conn)
	conn.SetPingHandler(func(appData string) error {
		c.extendReadDeadline(conn)
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), c.clock.Now().Add(closeDeadline))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.extendReadDeadline(conn)
		c.handleFrame(ctx, frame)
	}
}

func (c *Connection) extendReadDeadline(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(c.clock.Now().Add(readDeadline))
}

// handleFrame applies one frame. Malformed or unknown frames are logged and
// skipped; they never drop the connection.
func (c *Connection) handleFrame(ctx context.Context, frame []byte) {
	env, err := decodeEnvelope(frame)
	if err != nil {
		slog.WarnContext(ctx, "Dropping malformed frame", "error", err)
		return
	}

	switch env.Event {
	case domain.EventReceiveMessage:
		m, err := normalizeMessage(env.Data)
		if err != nil {
			slog.WarnContext(ctx, "Dropping malformed message", "error", err)
			return
		}
		c.view.Prepend(m)
	case domain.EventStatsUpdate:
		s, err := normalizeStats(env.Data)
		if err != nil {
			slog.WarnContext(ctx, "Dropping malformed stats", "error", err)
			return
		}
		c.view.SetStats(s)
	default:
		slog.DebugContext(ctx, "Ignoring event", "event", env.Event, "error", domain.ErrUnknownEvent)
	}
}

func (c *Connection) setState(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()

	if from == to {
		return
	}
	slog.Debug("Stream state changed", "from", from.String(), "to", to.String())
	if c.onStateChange != nil {
		c.onStateChange(from, to)
	}
}
