// Package wire implements the JSON envelope protocol spoken over the whimmy
// backend socket. Every frame is {type, payload}; outbound events nest a
// second {event, payload} object inside the payload.
package wire

import (
	"encoding/json"
	"fmt"
)

// Envelope type values.
const (
	TypeEvent = "event"

	TypeAgent         = "hook.agent"
	TypeApproval      = "hook.approval"
	TypeReact         = "hook.react"
	TypeRead          = "hook.read"
	TypeAskUserAnswer = "hook.ask_user_answer"
	TypeToolResult    = "tool.result"
	TypePing          = "ping"
	TypePong          = "pong"
	TypeHealth        = "health"
)

// Envelope is the outermost frame on the socket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is the payload of an outbound "event" envelope.
type Event struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// OutboundEvent is an event queued for delivery to one account's socket.
type OutboundEvent struct {
	Name    string
	Payload any
}

// Encode serializes a non-event frame such as health or pong.
func Encode(msgType string, payload any) ([]byte, error) {
	env := Envelope{Type: msgType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// EncodeEvent wraps payload as {"type":"event","payload":{"event":name,"payload":payload}}.
func EncodeEvent(name string, payload any) ([]byte, error) {
	if name == "" {
		return nil, fmt.Errorf("encode event: empty event name")
	}
	raw, err := json.Marshal(Event{Event: name, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", name, err)
	}
	return json.Marshal(Envelope{Type: TypeEvent, Payload: raw})
}

// DecodeEvent is the inverse of EncodeEvent. The nested payload is left raw.
func DecodeEvent(data []byte) (string, json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type != TypeEvent {
		return "", nil, fmt.Errorf("decode event: unexpected envelope type %q", env.Type)
	}
	var evt struct {
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(env.Payload, &evt); err != nil {
		return "", nil, fmt.Errorf("decode event body: %w", err)
	}
	return evt.Event, evt.Payload, nil
}
