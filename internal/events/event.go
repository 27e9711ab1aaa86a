// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

// Package events defines the domain events announced by the realtime layer.
//
// A DomainEvent carries exactly one typed payload. The set of payloads is
// closed: only the types in this package satisfy Payload, and each maps to
// one Kind. Producers (the scoring engine, the leaderboard job, the
// notification service) build events with New and hand them to the hub,
// either in-process or through NATS.
package events

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Kind names the variant of a DomainEvent. It doubles as the wire event name.
type Kind string

const (
	KindXPGained          Kind = "xp_gained"
	KindBadgeUnlocked     Kind = "badge_unlocked"
	KindLevelUp           Kind = "level_up"
	KindStreakUpdate      Kind = "streak_update"
	KindPatternCompleted  Kind = "pattern_completed"
	KindLeaderboardUpdate Kind = "leaderboard_update"
	KindProgressUpdate    Kind = "progress_update"
	KindNotification      Kind = "notification"
)

// Kinds lists every event kind.
var Kinds = []Kind{
	KindXPGained,
	KindBadgeUnlocked,
	KindLevelUp,
	KindStreakUpdate,
	KindPatternCompleted,
	KindLeaderboardUpdate,
	KindProgressUpdate,
	KindNotification,
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Payload is implemented only by the payload types of this package.
type Payload interface {
	// Kind is the event variant the payload belongs to.
	Kind() Kind
	// Subject is the entity the event is about, used in the idempotency key.
	Subject() string

	isPayload()
}

// ScopeType selects how recipients are resolved.
type ScopeType string

const (
	ScopeUser      ScopeType = "user"
	ScopeRoom      ScopeType = "room"
	ScopeBroadcast ScopeType = "broadcast"
)

// TargetScope is the recipient rule for an event.
type TargetScope struct {
	Type   ScopeType `json:"type"`
	UserID string    `json:"user_id,omitempty"`
	Room   string    `json:"room,omitempty"`
}

// ToUser targets every connection of one user.
func ToUser(userID string) TargetScope {
	return TargetScope{Type: ScopeUser, UserID: userID}
}

// ToRoom targets the members of a single room.
func ToRoom(room string) TargetScope {
	return TargetScope{Type: ScopeRoom, Room: room}
}

// Broadcast targets every admitted connection.
func Broadcast() TargetScope {
	return TargetScope{Type: ScopeBroadcast}
}

// Validate checks the scope carries the field its type needs.
func (s TargetScope) Validate() error {
	switch s.Type {
	case ScopeUser:
		if s.UserID == "" {
			return errors.New("user scope requires a user id")
		}
	case ScopeRoom:
		if s.Room == "" {
			return errors.New("room scope requires a room name")
		}
	case ScopeBroadcast:
	default:
		return fmt.Errorf("unknown scope type %q", s.Type)
	}
	return nil
}

func (s TargetScope) String() string {
	switch s.Type {
	case ScopeUser:
		return "user:" + s.UserID
	case ScopeRoom:
		return s.Room
	default:
		return string(s.Type)
	}
}

// DomainEvent is a single state change announced to clients.
type DomainEvent struct {
	Payload        Payload
	Scope          TargetScope
	EmittedAt      time.Time
	IdempotencyKey string
}

// Kind returns the payload's kind.
func (e DomainEvent) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// Validate reports whether the event can be published.
func (e DomainEvent) Validate() error {
	if e.Payload == nil {
		return errors.New("event has no payload")
	}
	if e.IdempotencyKey == "" {
		return errors.New("event has no idempotency key")
	}
	if err := e.Scope.Validate(); err != nil {
		return fmt.Errorf("invalid scope: %w", err)
	}
	return nil
}

// New builds an event emitted at the given time with a derived
// idempotency key.
func New(p Payload, scope TargetScope, emittedAt time.Time) DomainEvent {
	return DomainEvent{
		Payload:        p,
		Scope:          scope,
		EmittedAt:      emittedAt,
		IdempotencyKey: DeriveKey(p.Kind(), p.Subject(), emittedAt),
	}
}

// WithKey overrides the derived idempotency key with one supplied by the
// producer.
func (e DomainEvent) WithKey(key string) DomainEvent {
	if key != "" {
		e.IdempotencyKey = key
	}
	return e
}

// keyNamespace is the UUIDv5 namespace of derived idempotency keys.
var keyNamespace = uuid.MustParse("5b1c5f0e-3f0b-4f9c-9d8b-2f6f7d1e9a41")

// DeriveKey returns a UUIDv5 over kind, subject and the millisecond
// timestamp. Events of different kinds never share a key, even for the same
// subject and instant.
func DeriveKey(kind Kind, subject string, at time.Time) string {
	name := string(kind) + "|" + subject + "|" + strconv.FormatInt(at.UnixMilli(), 10)
	return uuid.NewSHA1(keyNamespace, []byte(name)).String()
}
