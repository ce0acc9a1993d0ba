package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedMessage is returned by DecodeMessage for anything that is not
// a well-formed wire message.
var ErrMalformedMessage = errors.New("malformed sandbox message")

// Message is the wire record an isolation boundary sends to the host:
//
//	{"token": "<run id>", "type": "log"|"error", "payload": "<text>"}
type Message struct {
	Token   string    `json:"token"`
	Type    EventKind `json:"type"`
	Payload string    `json:"payload"`
}

type wireMessage struct {
	Token   *string `json:"token"`
	Type    *string `json:"type"`
	Payload *string `json:"payload"`
}

// EncodeMessage serializes a message for the wire.
func EncodeMessage(token string, kind EventKind, payload string) []byte {
	data, err := json.Marshal(Message{Token: token, Type: kind, Payload: payload})
	if err != nil {
		// Marshaling three strings cannot fail.
		panic(err)
	}
	return data
}

// DecodeMessage parses and validates a wire message. Only log and error
// messages are accepted from inside a boundary.
func DecodeMessage(raw []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	if w.Token == nil || *w.Token == "" {
		return Message{}, fmt.Errorf("%w: missing token", ErrMalformedMessage)
	}
	if w.Type == nil {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	if w.Payload == nil {
		return Message{}, fmt.Errorf("%w: missing payload", ErrMalformedMessage)
	}

	kind := EventKind(*w.Type)
	if kind != EventLog && kind != EventError {
		return Message{}, fmt.Errorf("%w: unexpected type %q", ErrMalformedMessage, *w.Type)
	}

	return Message{Token: *w.Token, Type: kind, Payload: *w.Payload}, nil
}

// Event converts the message into an OutputEvent.
func (m Message) Event() OutputEvent {
	return OutputEvent{Kind: m.Type, Text: m.Payload}
}
