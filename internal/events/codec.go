// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// ErrUnknownKind is returned when decoding a kind outside the closed set.
var ErrUnknownKind = errors.New("unknown event kind")

// envelope is the producer-facing JSON form of a DomainEvent, used on the
// NATS subject.
type envelope struct {
	Kind           Kind            `json:"kind"`
	Payload        json.RawMessage `json:"payload"`
	Scope          TargetScope     `json:"scope"`
	EmittedAt      time.Time       `json:"emitted_at"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// Marshal encodes an event for transport between producers and the hub.
func Marshal(e DomainEvent) ([]byte, error) {
	if e.Payload == nil {
		return nil, errors.New("event has no payload")
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.Kind(), err)
	}
	return json.Marshal(envelope{
		Kind:           e.Kind(),
		Payload:        payload,
		Scope:          e.Scope,
		EmittedAt:      e.EmittedAt,
		IdempotencyKey: e.IdempotencyKey,
	})
}

// Unmarshal decodes a producer envelope. A missing emitted_at defaults to
// now and a missing idempotency key is derived.
func Unmarshal(data []byte) (DomainEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return DomainEvent{}, fmt.Errorf("decode event envelope: %w", err)
	}
	p, err := DecodePayload(env.Kind, env.Payload)
	if err != nil {
		return DomainEvent{}, err
	}
	if env.EmittedAt.IsZero() {
		env.EmittedAt = time.Now().UTC()
	}
	e := New(p, env.Scope, env.EmittedAt).WithKey(env.IdempotencyKey)
	if err := e.Validate(); err != nil {
		return DomainEvent{}, err
	}
	return e, nil
}

// DecodePayload decodes raw JSON into the payload type of kind.
func DecodePayload(kind Kind, raw []byte) (Payload, error) {
	switch kind {
	case KindXPGained:
		return decodeAs[XPGained](kind, raw)
	case KindBadgeUnlocked:
		return decodeAs[BadgeUnlocked](kind, raw)
	case KindLevelUp:
		return decodeAs[LevelUp](kind, raw)
	case KindStreakUpdate:
		return decodeAs[StreakUpdate](kind, raw)
	case KindPatternCompleted:
		return decodeAs[PatternCompleted](kind, raw)
	case KindLeaderboardUpdate:
		return decodeAs[LeaderboardUpdate](kind, raw)
	case KindProgressUpdate:
		return decodeAs[ProgressUpdate](kind, raw)
	case KindNotification:
		return decodeAs[Notification](kind, raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func decodeAs[T Payload](kind Kind, raw []byte) (Payload, error) {
	var p T
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s: empty payload", kind)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}
