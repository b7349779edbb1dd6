package viewer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DziriM/playground-stream/internal/domain"
	"github.com/google/uuid"
)

var errEmptyPayload = errors.New("empty payload")

func decodeEnvelope(frame []byte) (domain.Envelope, error) {
	var env domain.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return domain.Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return domain.Envelope{}, errors.New("decode envelope: missing event name")
	}
	return env, nil
}

// normalizeMessage accepts an {id, text} object or a bare scalar. A bare
// string is both id and text. Numbers and booleans are stringified; any id
// that is missing, null, empty or not a scalar gets a fresh one.
func normalizeMessage(raw json.RawMessage) (Message, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Message{}, errEmptyPayload
	}
	if !json.Valid(raw) {
		return Message{}, errors.New("decode message: invalid json")
	}

	switch raw[0] {
	case '{':
		var payload struct {
			ID   json.RawMessage `json:"id"`
			Text json.RawMessage `json:"text"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return Message{}, fmt.Errorf("decode message: %w", err)
		}
		text, _ := scalarString(payload.Text)
		return Message{ID: messageID(payload.ID), Text: text}, nil
	case '"':
		s, _ := scalarString(raw)
		return Message{ID: messageID(raw), Text: s}, nil
	default:
		return Message{ID: messageID(raw)}, nil
	}
}

func messageID(raw json.RawMessage) string {
	if id, ok := scalarString(raw); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// scalarString renders a JSON string, number or boolean as text.
func scalarString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	switch {
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9'):
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", false
		}
		return n.String(), true
	case bytes.Equal(raw, []byte("true")), bytes.Equal(raw, []byte("false")):
		return string(raw), true
	default:
		return "", false
	}
}

// normalizeStats decodes camelCase or PascalCase stats. The older
// throughputPerMin key is honored when throughputPerMinute is absent.
func normalizeStats(raw json.RawMessage) (domain.CounterState, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return domain.CounterState{}, errEmptyPayload
	}

	var payload struct {
		TotalMessages       int      `json:"totalMessages"`
		ActiveUsers         int      `json:"activeUsers"`
		ThroughputPerMinute *float64 `json:"throughputPerMinute"`
		ThroughputPerMin    *float64 `json:"throughputPerMin"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.CounterState{}, fmt.Errorf("decode stats: %w", err)
	}

	s := domain.CounterState{
		TotalMessages: payload.TotalMessages,
		ActiveUsers:   payload.ActiveUsers,
	}
	switch {
	case payload.ThroughputPerMinute != nil:
		s.ThroughputPerMinute = *payload.ThroughputPerMinute
	case payload.ThroughputPerMin != nil:
		s.ThroughputPerMinute = *payload.ThroughputPerMin
	}
	return s, nil
}
