package mail

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is the queued form of a Message
type Event struct {
	Kind      Kind              `json:"kind"`
	To        string            `json:"to"`
	Vars      map[string]string `json:"vars"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewEvent wraps msg for publishing
func NewEvent(msg Message) Event {
	return Event{Kind: msg.Kind, To: msg.To, Vars: msg.Vars, CreatedAt: time.Now().UTC()}
}

// Message converts the event back into a deliverable message
func (e Event) Message() Message {
	return Message{Kind: e.Kind, To: e.To, Vars: e.Vars}
}

// DecodeEvent parses and validates a queued event
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("failed to decode email event: %w", err)
	}
	if err := event.Message().Validate(); err != nil {
		return Event{}, err
	}
	return event, nil
}
