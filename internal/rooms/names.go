// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package rooms

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the shape of a room name, the part before the colon.
type Kind string

const (
	KindUser        Kind = "user"
	KindPattern     Kind = "pattern"
	KindGroup       Kind = "group"
	KindChallenge   Kind = "challenge"
	KindLeaderboard Kind = "leaderboard"
)

// maxIDLength bounds the identifier part of a room name.
const maxIDLength = 128

// ErrInvalidName is wrapped by every Parse failure.
var ErrInvalidName = errors.New("invalid room name")

// Name is a parsed room name.
type Name struct {
	Kind Kind
	ID   string
}

func (n Name) String() string {
	return string(n.Kind) + ":" + n.ID
}

// Parse validates a room name against the closed set of shapes.
func Parse(name string) (Name, error) {
	prefix, id, ok := strings.Cut(name, ":")
	if !ok {
		return Name{}, fmt.Errorf("%w: %q has no kind prefix", ErrInvalidName, name)
	}
	kind := Kind(prefix)
	switch kind {
	case KindUser, KindPattern, KindGroup, KindChallenge, KindLeaderboard:
	default:
		return Name{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidName, prefix)
	}
	if !ValidID(id) {
		return Name{}, fmt.Errorf("%w: bad identifier in %q", ErrInvalidName, name)
	}
	return Name{Kind: kind, ID: id}, nil
}

// ValidID reports whether id is a usable identifier: 1 to 128 characters
// from [A-Za-z0-9_.-].
func ValidID(id string) bool {
	if id == "" || len(id) > maxIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == '.':
		default:
			return false
		}
	}
	return true
}

// UserRoom returns the implicit room of a user.
func UserRoom(userID string) string {
	return string(KindUser) + ":" + userID
}

// LeaderboardRoom returns the room of a leaderboard type.
func LeaderboardRoom(boardType string) string {
	return string(KindLeaderboard) + ":" + boardType
}
