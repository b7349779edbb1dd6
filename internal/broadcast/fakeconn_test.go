package broadcast

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var errFakeClosed = errors.New("fake connection closed")

// fakeConn records writes. block, when set, holds every write until it is
// closed or the connection is closed.
type fakeConn struct {
	mu         sync.Mutex
	frames     [][]byte
	pings      int
	closeFrame []byte
	failWrites bool
	block      chan struct{}
	closed     chan struct{}
	closeOnce  sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-f.closed:
			return errFakeClosed
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errors.New("broken pipe")
	}
	switch messageType {
	case websocket.TextMessage:
		f.frames = append(f.frames, data)
	case websocket.PingMessage:
		f.pings++
	case websocket.CloseMessage:
		f.closeFrame = data
	}
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error            { return nil }
func (f *fakeConn) SetReadDeadline(time.Time) error             { return nil }
func (f *fakeConn) SetPongHandler(func(appData string) error) {}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeConn) getFrames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.frames))
	for i, fr := range f.frames {
		out[i] = string(fr)
	}
	return out
}

func (f *fakeConn) getPings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}
