// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package protocol

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/questline/internal/events"
)

// ErrNotEvent is returned by DecodeEvent for control frames.
var ErrNotEvent = errors.New("frame is not a domain event")

// Encode builds a frame of the given type around data.
func Encode(msgType string, data interface{}) ([]byte, error) {
	msg := Message{Type: msgType}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s data: %w", msgType, err)
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}

// MustEncode is Encode for frames built from static types that cannot fail.
func MustEncode(msgType string, data interface{}) []byte {
	b, err := Encode(msgType, data)
	if err != nil {
		panic(err)
	}
	return b
}

// EncodeEvent builds the frame of a domain event.
func EncodeEvent(e events.DomainEvent) ([]byte, error) {
	if e.Payload == nil {
		return nil, errors.New("event has no payload")
	}
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.Kind(), err)
	}
	ts := e.EmittedAt
	return json.Marshal(Message{
		Type:           string(e.Kind()),
		Data:           raw,
		IdempotencyKey: e.IdempotencyKey,
		Timestamp:      &ts,
	})
}

// Decode parses a frame envelope.
func Decode(frame []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	if msg.Type == "" {
		return Message{}, errors.New("decode frame: missing type")
	}
	return msg, nil
}

// DecodeData unmarshals the frame's data into v.
func (m Message) DecodeData(v interface{}) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s frame has no data", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s data: %w", m.Type, err)
	}
	return nil
}

// DecodeEvent turns an event frame back into a DomainEvent. The scope is
// not carried on the wire and is left empty.
func DecodeEvent(m Message) (events.DomainEvent, error) {
	kind := events.Kind(m.Type)
	if !kind.Valid() {
		return events.DomainEvent{}, fmt.Errorf("%w: %s", ErrNotEvent, m.Type)
	}
	p, err := events.DecodePayload(kind, m.Data)
	if err != nil {
		return events.DomainEvent{}, err
	}
	e := events.DomainEvent{Payload: p, IdempotencyKey: m.IdempotencyKey}
	if m.Timestamp != nil {
		e.EmittedAt = *m.Timestamp
	}
	if e.IdempotencyKey == "" {
		e.IdempotencyKey = events.DeriveKey(kind, p.Subject(), e.EmittedAt)
	}
	return e, nil
}
