// Package counter holds the process-wide counters mutated by the generator
// and read by the snapshot endpoint.
package counter

import (
	"sync"

	"github.com/DziriM/playground-stream/internal/domain"
)

// DefaultInitialActiveUsers is the active-user estimate a fresh State starts with.
const DefaultInitialActiveUsers = 5

// State is the shared counter state. Every operation runs inside the same
// critical section, so readers always see whole ticks.
type State struct {
	mu            sync.Mutex
	totalMessages int
	activeUsers   int
}

var _ domain.CounterStore = (*State)(nil)

// New creates a State with zero messages and the given active-user estimate
// (clamped to the minimum).
func New(initialActiveUsers int) *State {
	return &State{activeUsers: max(domain.MinActiveUsers, initialActiveUsers)}
}

// Read returns a consistent snapshot of all counters.
func (s *State) Read() domain.CounterState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// IncrementMessages adds delta to the message total. delta must be positive.
func (s *State) IncrementMessages(delta int) error {
	if delta <= 0 {
		return domain.ErrInvalidDelta
	}
	s.mu.Lock()
	s.totalMessages += delta
	s.mu.Unlock()
	return nil
}

// AdjustActiveUsers shifts the active-user estimate, never below MinActiveUsers.
func (s *State) AdjustActiveUsers(delta int) {
	s.mu.Lock()
	s.adjustUsersLocked(delta)
	s.mu.Unlock()
}

// ApplyTick applies both deltas of one generator tick and returns the
// resulting snapshot without releasing the lock in between.
func (s *State) ApplyTick(messageDelta, userDelta int) (domain.CounterState, error) {
	if messageDelta <= 0 {
		return domain.CounterState{}, domain.ErrInvalidDelta
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalMessages += messageDelta
	s.adjustUsersLocked(userDelta)
	return s.snapshotLocked(), nil
}

func (s *State) adjustUsersLocked(delta int) {
	s.activeUsers = max(domain.MinActiveUsers, s.activeUsers+delta)
}

func (s *State) snapshotLocked() domain.CounterState {
	return domain.CounterState{
		TotalMessages:       s.totalMessages,
		ActiveUsers:         s.activeUsers,
		ThroughputPerMinute: domain.Throughput(s.totalMessages),
	}
}
