package domain

import (
	"encoding/json"
	"fmt"
)

// Event names as they appear on the wire.
const (
	EventReceiveMessage = "ReceiveMessage"
	EventStatsUpdate    = "StatsUpdate"
)

// Event is a broadcastable event: either a MessageEvent or a StatsEvent.
type Event interface {
	Name() string
	Payload() any
}

// MessageEvent is a synthetic chat-like message.
type MessageEvent struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (MessageEvent) Name() string   { return EventReceiveMessage }
func (m MessageEvent) Payload() any { return m }

// StatsEvent carries a counter snapshot.
type StatsEvent struct {
	Snapshot CounterState
}

func (StatsEvent) Name() string   { return EventStatsUpdate }
func (s StatsEvent) Payload() any { return s.Snapshot }

// Envelope is the frame written to subscribers: a named event plus its payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// EncodeEvent renders an event as an Envelope frame.
func EncodeEvent(e Event) ([]byte, error) {
	data, err := json.Marshal(e.Payload())
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Name(), err)
	}
	frame, err := json.Marshal(Envelope{Event: e.Name(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", e.Name(), err)
	}
	return frame, nil
}
