package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	MessageTypeHello    MessageType = "hello"
	MessageTypeReadings MessageType = "readings"
	MessageTypeError    MessageType = "error"
)

// Message is the envelope for all WebSocket communications
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage wraps payload in an envelope stamped with the current time.
func NewMessage(msgType MessageType, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	return &Message{Type: msgType, Payload: raw, Timestamp: time.Now()}, nil
}

// HelloMessage is the payload for MessageTypeHello, sent once per connection
type HelloMessage struct {
	ClientID string     `json:"client_id"`
	Version  string     `json:"version"`
	Pools    []PoolInfo `json:"pools"`
}

// ReadingsMessage is the payload for MessageTypeReadings and the body of
// GET /api/readings. It always lists every configured tile.
type ReadingsMessage struct {
	Readings []DisplayReading `json:"readings"`
	Count    int              `json:"count"`
}

func NewReadingsMessage(readings []DisplayReading) ReadingsMessage {
	if readings == nil {
		readings = []DisplayReading{}
	}
	return ReadingsMessage{Readings: readings, Count: len(readings)}
}

// ErrorMessage is the payload for MessageTypeError
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UnmarshalPayload decodes the payload into v
func (m *Message) UnmarshalPayload(v any) error {
	return json.Unmarshal(m.Payload, v)
}
