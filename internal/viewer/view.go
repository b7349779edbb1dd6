package viewer

import (
	"sync"

	"github.com/DziriM/playground-stream/internal/domain"
)

// DefaultViewCapacity is the number of messages a View keeps.
const DefaultViewCapacity = 200

// Message is a normalized ReceiveMessage payload. Text may be empty.
type Message struct {
	ID   string
	Text string
}

// View is the bounded local state of one viewer: the most recent messages
// and the last stats received.
type View struct {
	mu       sync.RWMutex
	messages []Message
	next     int
	size     int
	stats    domain.CounterState
	hasStats bool
}

func NewView(capacity int) *View {
	if capacity < 1 {
		capacity = DefaultViewCapacity
	}
	return &View{messages: make([]Message, capacity)}
}

// Prepend adds m as the newest message, dropping the oldest when full.
func (v *View) Prepend(m Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.messages[v.next] = m
	v.next = (v.next + 1) % len(v.messages)
	if v.size < len(v.messages) {
		v.size++
	}
}

// Messages returns the retained messages, newest first.
func (v *View) Messages() []Message {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]Message, v.size)
	capacity := len(v.messages)
	for i := range v.size {
		out[i] = v.messages[(v.next-1-i+capacity)%capacity]
	}
	return out
}

func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.size
}

// SetStats replaces the cached stats.
func (v *View) SetStats(s domain.CounterState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stats = s
	v.hasStats = true
}

// seedStats sets s only when nothing newer has arrived yet.
func (v *View) seedStats(s domain.CounterState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.hasStats {
		v.stats = s
		v.hasStats = true
	}
}

// Stats returns the cached stats and whether any have been received.
func (v *View) Stats() (domain.CounterState, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.stats, v.hasStats
}
