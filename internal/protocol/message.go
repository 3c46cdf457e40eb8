// Package protocol defines the message envelope exchanged between the host
// page and the embedded application, and the event names both sides use.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Status is the phase of a long-running remote operation.
type Status string

const (
	StatusStart Status = "start"
	StatusEnd   Status = "end"
)

// Message is the envelope used in both directions.
type Message struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Status  Status          `json:"status,omitempty"`
	Context string          `json:"context,omitempty"`
}

// NewMessage marshals data into a Message of the given type.
func NewMessage(msgType string, data any) (Message, error) {
	msg := Message{Type: msgType}
	if data == nil {
		return msg, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		msg.Data = raw
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	msg.Data = raw
	return msg, nil
}

// Phase returns the message phase. Messages without a status are end-phase.
func (m Message) Phase() Status {
	if m.Status == StatusStart {
		return StatusStart
	}
	return StatusEnd
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// Port is a private reply channel bound to exactly one message.
type Port interface {
	Post(Message) error
}

// PortFunc adapts a function to Port.
type PortFunc func(Message) error

func (f PortFunc) Post(m Message) error { return f(m) }

// Inbound is a message received from the embedded application together with
// its reply channel, which is nil when the sender expects no reply.
type Inbound struct {
	Message
	Reply Port
}
