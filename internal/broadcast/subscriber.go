package broadcast

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	pongDeadline      = 60 * time.Second
	messageBufferSize = 16
)

var (
	errSubscriberSlow   = errors.New("subscriber buffer full")
	errSubscriberClosed = errors.New("subscriber closed")
)

// wsConn is the part of *websocket.Conn a subscriber writes through.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

var _ wsConn = (*websocket.Conn)(nil)

// Subscriber is one live WebSocket. It carries routing state only: an id,
// the connection and the queue of frames waiting to be written.
type Subscriber struct {
	id          uuid.UUID
	connection  wsConn
	clock       clockwork.Clock
	sendChannel chan []byte
	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	onWriteFail func(*Subscriber)
}

func newSubscriber(connection wsConn, clock clockwork.Clock, onWriteFail func(*Subscriber)) *Subscriber {
	s := &Subscriber{
		id:          uuid.New(),
		connection:  connection,
		clock:       clock,
		sendChannel: make(chan []byte, messageBufferSize),
		doneChannel: make(chan struct{}),
		onWriteFail: onWriteFail,
	}
	s.configurePongHandler()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.run(); err != nil && s.onWriteFail != nil {
			// Off the writer goroutine: the callback stops s, which waits for it.
			go s.onWriteFail(s)
		}
	}()
	return s
}

func (s *Subscriber) ID() uuid.UUID { return s.id }

// enqueue queues frames without blocking. All frames of one call land in
// order or the subscriber is reported slow or closed.
func (s *Subscriber) enqueue(frames [][]byte) error {
	for _, frame := range frames {
		select {
		case <-s.doneChannel:
			return errSubscriberClosed
		default:
		}

		select {
		case s.sendChannel <- frame:
		default:
			return errSubscriberSlow
		}
	}
	return nil
}

// run writes queued frames and keepalive pings. It returns nil when stopped
// and the write error when the peer is gone.
func (s *Subscriber) run() error {
	ticker := s.clock.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.sendChannel:
			s.updateWriteDeadline()
			if err := s.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				return err
			}
		case <-ticker.Chan():
			s.updateWriteDeadline()
			if err := s.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-s.doneChannel:
			return nil
		}
	}
}

func (s *Subscriber) stop() {
	s.stopOnce.Do(func() {
		close(s.doneChannel)
		_ = s.connection.Close()
	})
	s.wg.Wait()
}

// stopGraceful sends a close frame with reason before closing.
func (s *Subscriber) stopGraceful(reason string) {
	s.stopOnce.Do(func() {
		close(s.doneChannel)

		// The writer must be gone before we write the close frame ourselves.
		s.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		s.updateWriteDeadline()
		_ = s.connection.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = s.connection.Close()
	})
	s.wg.Wait()
}

func (s *Subscriber) configurePongHandler() {
	s.updateReadDeadline()
	s.connection.SetPongHandler(func(string) error {
		s.updateReadDeadline()
		return nil
	})
}

func (s *Subscriber) updateWriteDeadline() {
	_ = s.connection.SetWriteDeadline(s.clock.Now().Add(writeDeadline))
}

func (s *Subscriber) updateReadDeadline() {
	_ = s.connection.SetReadDeadline(s.clock.Now().Add(pongDeadline))
}
