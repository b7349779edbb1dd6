package viewer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DziriM/playground-stream/internal/broadcast"
	"github.com/DziriM/playground-stream/internal/domain"
	"github.com/DziriM/playground-stream/internal/platform/retry"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastBackoff = retry.Backoff{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 2}

// streamServer is a minimal stream endpoint backed by a real broadcaster.
// It can drop every live socket and refuse handshakes.
type streamServer struct {
	*httptest.Server
	broadcaster *broadcast.Broadcaster
	refuse      atomic.Int32
	handshakes  atomic.Int32

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newStreamServer(t *testing.T) *streamServer {
	t.Helper()

	s := &streamServer{broadcaster: broadcast.NewBroadcaster(clockwork.NewRealClock(), nil)}
	t.Cleanup(s.broadcaster.Stop)

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc(streamPath, func(w http.ResponseWriter, r *http.Request) {
		if s.refuse.Load() > 0 {
			s.refuse.Add(-1)
			http.Error(w, "not yet", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sub, err := s.broadcaster.Register(conn)
		if err != nil {
			return
		}
		s.handshakes.Add(1)
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		defer s.broadcaster.Unregister(sub)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// dropAll severs every live socket without a close frame.
func (s *streamServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.UnderlyingConn().Close()
	}
	s.conns = nil
}

func (s *streamServer) publishMessage(text string) {
	s.broadcaster.Publish(context.Background(), domain.MessageEvent{ID: text, Text: text})
}

type stateRecorder struct {
	mu          sync.Mutex
	transitions []State
}

func (r *stateRecorder) record(_, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, to)
}

func (r *stateRecorder) seen() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.transitions...)
}

func startConnection(t *testing.T, serverURL string, opts ...Option) (*Connection, <-chan error, context.CancelFunc) {
	t.Helper()

	opts = append([]Option{WithBackoff(fastBackoff)}, opts...)
	conn, err := NewConnection(serverURL, NewView(DefaultViewCapacity), opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		done <- conn.Run(ctx)
		close(finished)
	}()
	t.Cleanup(func() {
		cancel()
		<-finished
	})
	return conn, done, cancel
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 5*time.Millisecond, msg)
}

func TestNewConnection_URLs(t *testing.T) {
	c, err := NewConnection("https://example.com/", NewView(1))
	require.NoError(t, err)
	assert.Equal(t, "wss://example.com/hub/stream", c.streamURL)

	_, err = NewConnection("ftp://example.com", NewView(1))
	assert.Error(t, err)
}

func TestConnection_ReceivesIntoView(t *testing.T) {
	srv := newStreamServer(t)
	conn, _, _ := startConnection(t, srv.URL)

	waitFor(t, conn.Connected, "never connected")
	waitFor(t, func() bool { return srv.broadcaster.SubscriberCount() == 1 }, "server never registered")

	srv.publishMessage("first")
	srv.broadcaster.Publish(context.Background(), domain.StatsEvent{
		Snapshot: domain.CounterState{TotalMessages: 3, ActiveUsers: 5, ThroughputPerMinute: 3},
	})

	waitFor(t, func() bool {
		_, ok := conn.View().Stats()
		return ok
	}, "stats never arrived")
	assert.Equal(t, []Message{{ID: "first", Text: "first"}}, conn.View().Messages())
	stats, _ := conn.View().Stats()
	assert.Equal(t, 3, stats.TotalMessages)
	assert.Equal(t, StateConnected, conn.State())
}

func TestConnection_ReconnectsAfterDrop(t *testing.T) {
	srv := newStreamServer(t)
	rec := &stateRecorder{}
	conn, _, _ := startConnection(t, srv.URL, WithOnStateChange(rec.record))

	waitFor(t, func() bool { return srv.broadcaster.SubscriberCount() == 1 }, "never registered")

	srv.dropAll()

	waitFor(t, func() bool { return srv.handshakes.Load() == 2 }, "never reconnected")
	waitFor(t, func() bool { return srv.broadcaster.SubscriberCount() == 1 && conn.Connected() }, "not connected again")

	srv.publishMessage("after-reconnect")
	waitFor(t, func() bool { return conn.View().Len() == 1 }, "no delivery after reconnect")

	assert.Equal(t, []State{StateConnecting, StateConnected, StateReconnecting, StateConnected}, rec.seen())
}

func TestConnection_RetriesInitialHandshake(t *testing.T) {
	srv := newStreamServer(t)
	srv.refuse.Store(3)
	conn, _, _ := startConnection(t, srv.URL)

	waitFor(t, conn.Connected, "never connected")
	assert.Equal(t, int32(0), srv.refuse.Load())
	assert.Equal(t, int32(1), srv.handshakes.Load())
}

func TestConnection_CloseStopsReconnecting(t *testing.T) {
	srv := newStreamServer(t)
	conn, done, _ := startConnection(t, srv.URL)
	waitFor(t, func() bool { return srv.broadcaster.SubscriberCount() == 1 }, "never registered")

	conn.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	waitFor(t, func() bool { return srv.broadcaster.SubscriberCount() == 0 }, "server still holds the subscriber")

	time.Sleep(5 * fastBackoff.Max)
	assert.Equal(t, int32(1), srv.handshakes.Load(), "reconnected after Close")
	assert.False(t, conn.Connected())
	assert.Equal(t, StateDisconnected, conn.State())
}

func TestConnection_CloseDuringBackoff(t *testing.T) {
	srv := newStreamServer(t)
	srv.refuse.Store(1 << 20)
	rec := &stateRecorder{}
	conn, done, _ := startConnection(t, srv.URL,
		WithOnStateChange(rec.record),
		WithBackoff(retry.Backoff{Initial: time.Hour, Max: time.Hour, Multiplier: 2}),
	)
	waitFor(t, func() bool { return conn.State() == StateReconnecting }, "never reached reconnecting")

	conn.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.Equal(t, StateDisconnected, conn.State())
}

func TestConnection_ContextCancelStops(t *testing.T) {
	srv := newStreamServer(t)
	conn, done, cancel := startConnection(t, srv.URL)
	waitFor(t, conn.Connected, "never connected")

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, conn.Connected())
}

func TestConnection_RunAfterClose(t *testing.T) {
	conn, err := NewConnection("http://127.0.0.1:1", NewView(1))
	require.NoError(t, err)

	conn.Close()

	assert.ErrorIs(t, conn.Run(context.Background()), ErrClosed)
}

func TestConnection_IgnoresMalformedFrames(t *testing.T) {
	conn, err := NewConnection("http://localhost", NewView(10))
	require.NoError(t, err)
	ctx := context.Background()

	conn.handleFrame(ctx, []byte(`garbage`))
	conn.handleFrame(ctx, []byte(`{"event":"Unknown","data":{}}`))
	conn.handleFrame(ctx, []byte(`{"event":"ReceiveMessage"}`))
	conn.handleFrame(ctx, []byte(`{"event":"ReceiveMessage","data":{"id":`))
	conn.handleFrame(ctx, []byte(`{"event":"ReceiveMessage","data":"plain"}`))
	conn.handleFrame(ctx, []byte(`{"event":"ReceiveMessage","data":{"id":42,"text":"x"}}`))

	assert.Equal(t, []Message{{ID: "42", Text: "x"}, {ID: "plain", Text: "plain"}}, conn.View().Messages())
}

func TestFetchSnapshot(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, statsPath, r.URL.Path)
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte(`{"TotalMessages":5,"ActiveUsers":5,"ThroughputPerMin":5}`))
		}
	}))
	t.Cleanup(srv.Close)

	conn, err := NewConnection(srv.URL, NewView(10), WithBackoff(fastBackoff))
	require.NoError(t, err)

	got, err := conn.FetchSnapshot(context.Background())

	require.NoError(t, err)
	want := domain.CounterState{TotalMessages: 5, ActiveUsers: 5, ThroughputPerMinute: 5}
	assert.Equal(t, want, got)
	cached, ok := conn.View().Stats()
	require.True(t, ok)
	assert.Equal(t, want, cached)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchSnapshot_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	conn, err := NewConnection(srv.URL, NewView(10), WithBackoff(fastBackoff))
	require.NoError(t, err)

	_, err = conn.FetchSnapshot(context.Background())

	var permanent *retry.PermanentError
	assert.True(t, errors.As(err, &permanent))
	assert.Equal(t, int32(1), calls.Load())
	_, ok := conn.View().Stats()
	assert.False(t, ok)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "unknown", State(42).String())
}
