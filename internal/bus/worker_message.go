package bus

import (
	"encoding/json"
	"fmt"
)

// WorkerMessage is the unit exchanged with the service worker. There is no
// correlation id: replies are matched by Command alone.
type WorkerMessage struct {
	Command Topic           `json:"command"`
	Payload json.RawMessage `json:"payload"`
}

// NewWorkerMessage builds a worker message, encoding payload.
func NewWorkerMessage(command Topic, payload any) (WorkerMessage, error) {
	raw, err := Encode(payload)
	if err != nil {
		return WorkerMessage{}, fmt.Errorf("encode %s payload: %w", command, err)
	}
	return WorkerMessage{Command: command, Payload: raw}, nil
}

// Marshal encodes the message for the worker channel.
func (m WorkerMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// ParseWorkerMessage decodes a raw worker frame.
func ParseWorkerMessage(raw []byte) (WorkerMessage, error) {
	var m WorkerMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return WorkerMessage{}, fmt.Errorf("parse worker message: %w", err)
	}
	return m, nil
}
