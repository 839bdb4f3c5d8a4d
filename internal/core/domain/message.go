package domain

import (
	"encoding/json"
)

type Op string

const (
	OpSubscribe   Op = "subscribe"
	OpUnsubscribe Op = "unsubscribe"
	OpPublish     Op = "publish"
	OpMessage     Op = "message"
	OpError       Op = "error"
)

// Envelope is the frame exchanged on the push channel. Clients send
// subscribe, unsubscribe and publish frames; the server sends message
// and error frames.
type Envelope struct {
	Op      Op              `json:"op"`
	ID      string          `json:"id,omitempty"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func NewEnvelope(op Op, topic string, payload any) (*Envelope, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	env := &Envelope{
		Op:    op,
		ID:    NewMessageID().String(),
		Topic: topic,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return env, nil
}
