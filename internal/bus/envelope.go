// Package bus defines the wire shapes that flow between the embedder, the
// helper frame, the permission dialog and the service worker.
//
// The shapes are shared by independently deployed pages, so field names
// and JSON encoding must not change:
//
//	window channel: {"id":"…","topic":"…","data":…,"isReply":true}
//	worker channel: {"command":"…","payload":…}
//	reply wrapper:  {"success":true,"error":null,"result":…}
package bus

import (
	"encoding/json"
	"fmt"
)

// Envelope is the unit sent over a window channel.
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	Topic   Topic           `json:"topic"`
	Data    json.RawMessage `json:"data,omitempty"`
	IsReply bool            `json:"isReply,omitempty"`
}

// NewEnvelope builds an envelope, encoding data as its payload.
func NewEnvelope(id string, topic Topic, data any) (Envelope, error) {
	raw, err := Encode(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", topic, err)
	}
	return Envelope{ID: id, Topic: topic, Data: raw}, nil
}

// Decode unmarshals the envelope payload into v. An absent payload decodes
// as JSON null.
func (e Envelope) Decode(v any) error {
	return Decode(e.Data, v)
}

// Marshal encodes the envelope for a port.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEnvelope decodes a raw frame into an Envelope.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	return e, nil
}

// Encode turns an arbitrary payload into raw JSON. RawMessage values pass
// through untouched so relayed payloads are forwarded unmodified.
func Encode(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage("null"), nil
		}
		return p, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// Decode unmarshals raw JSON into v, treating an empty payload as null.
func Decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	return json.Unmarshal(raw, v)
}

// IsNull reports whether raw is absent or JSON null.
func IsNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
