// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

// Package rooms maps room names to the connections subscribed to them.
//
// Room names come from a closed set of shapes: user:<id>, pattern:<id>,
// group:<id>, challenge:<id> and leaderboard:<type>. Every admitted member
// is in its own user room for its whole lifetime. Rooms exist only while
// they have members.
//
// The Registry is the only way to read or change membership. Group and
// challenge joins are checked by an Authorizer, which may block on the
// membership directory; that check runs without holding the registry lock.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tomtom215/questline/internal/metrics"
)

// Member is anything that can sit in a room. IDs are unique per process.
type Member interface {
	ID() string
	UserID() string
}

// RoomAuthorizer decides group and challenge joins.
type RoomAuthorizer interface {
	Authorize(ctx context.Context, userID string, room Name) Decision
}

var (
	// ErrNotAdmitted is returned for members that were never admitted or
	// have already been removed.
	ErrNotAdmitted = errors.New("member is not admitted")
	// ErrAlreadyAdmitted is returned by Admit for a duplicate member ID.
	ErrAlreadyAdmitted = errors.New("member is already admitted")
)

type entry[M Member] struct {
	member M
	rooms  map[string]struct{}
}

// Registry is safe for concurrent use.
type Registry[M Member] struct {
	authz RoomAuthorizer

	mu      sync.RWMutex
	members map[string]*entry[M]
	rooms   map[string]map[string]M
}

// NewRegistry creates an empty registry. authz may be nil, in which case
// group and challenge joins are denied as unavailable.
func NewRegistry[M Member](authz RoomAuthorizer) *Registry[M] {
	return &Registry[M]{
		authz:   authz,
		members: make(map[string]*entry[M]),
		rooms:   make(map[string]map[string]M),
	}
}

// Admit adds m and joins it to its user room.
func (r *Registry[M]) Admit(m M) error {
	if !ValidID(m.UserID()) {
		return fmt.Errorf("%w: bad user id %q", ErrInvalidName, m.UserID())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[m.ID()]; ok {
		return ErrAlreadyAdmitted
	}
	e := &entry[M]{member: m, rooms: make(map[string]struct{})}
	r.members[m.ID()] = e
	r.addLocked(e, UserRoom(m.UserID()))
	return nil
}

// Join adds m to room. It returns an error wrapping ErrInvalidName for bad
// names, ErrNotAdmitted if m is not (or no longer) admitted, and
// *AuthorizationError when access is denied. Joining a room m is already
// in succeeds without change.
func (r *Registry[M]) Join(ctx context.Context, m M, room string) error {
	name, err := Parse(room)
	if err != nil {
		return err
	}

	switch name.Kind {
	case KindUser:
		if name.ID != m.UserID() {
			r.recordJoin(name.Kind, DecisionPrivateDenied)
			return &AuthorizationError{Room: room, Decision: DecisionPrivateDenied}
		}
	case KindGroup, KindChallenge:
		if !r.isAdmitted(m) {
			return ErrNotAdmitted
		}
		decision := DecisionUnavailable
		if r.authz != nil {
			decision = r.authz.Authorize(ctx, m.UserID(), name)
		}
		r.recordJoin(name.Kind, decision)
		if decision != DecisionAllowed {
			return &AuthorizationError{Room: room, Decision: decision}
		}
	default:
		r.recordJoin(name.Kind, DecisionAllowed)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// m may have been removed while the authorizer was running.
	e, ok := r.members[m.ID()]
	if !ok {
		return ErrNotAdmitted
	}
	r.addLocked(e, name.String())
	return nil
}

// Leave removes m from room. Leaving a room m is not in, or m's own user
// room, is a no-op.
func (r *Registry[M]) Leave(m M, room string) error {
	name, err := Parse(room)
	if err != nil {
		return err
	}
	if name.Kind == KindUser && name.ID == m.UserID() {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.members[m.ID()]; ok {
		r.removeLocked(e, name.String())
	}
	return nil
}

// Remove purges m from every room and forgets it. It returns the rooms m
// was in and false if m was not admitted, so callers can run their own
// cleanup exactly once.
func (r *Registry[M]) Remove(m M) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.members[m.ID()]
	if !ok {
		return nil, false
	}
	left := make([]string, 0, len(e.rooms))
	for room := range e.rooms {
		left = append(left, room)
	}
	for _, room := range left {
		r.removeLocked(e, room)
	}
	delete(r.members, m.ID())
	sort.Strings(left)
	return left, true
}

// Members returns a snapshot of room's members ordered by ID. An unknown
// room has no members.
func (r *Registry[M]) Members(room string) []M {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.rooms[room]
	out := make([]M, 0, len(set))
	for _, m := range set {
		out = append(out, m)
	}
	sortMembers(out)
	return out
}

// All returns a snapshot of every admitted member ordered by ID.
func (r *Registry[M]) All() []M {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]M, 0, len(r.members))
	for _, e := range r.members {
		out = append(out, e.member)
	}
	sortMembers(out)
	return out
}

// RoomsOf returns the sorted rooms m is in.
func (r *Registry[M]) RoomsOf(m M) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.members[m.ID()]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.rooms))
	for room := range e.rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// HasRoom reports whether room currently has members.
func (r *Registry[M]) HasRoom(room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room]
	return ok
}

// Stats is a point-in-time count.
type Stats struct {
	Members int `json:"members"`
	Rooms   int `json:"rooms"`
}

func (r *Registry[M]) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Members: len(r.members), Rooms: len(r.rooms)}
}

func (r *Registry[M]) isAdmitted(m M) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[m.ID()]
	return ok
}

func (r *Registry[M]) addLocked(e *entry[M], room string) {
	set, ok := r.rooms[room]
	if !ok {
		set = make(map[string]M)
		r.rooms[room] = set
		metrics.RealtimeRooms.Inc()
	}
	set[e.member.ID()] = e.member
	e.rooms[room] = struct{}{}
}

func (r *Registry[M]) removeLocked(e *entry[M], room string) {
	if _, ok := e.rooms[room]; !ok {
		return
	}
	delete(e.rooms, room)
	set := r.rooms[room]
	delete(set, e.member.ID())
	if len(set) == 0 {
		delete(r.rooms, room)
		metrics.RealtimeRooms.Dec()
	}
}

func (r *Registry[M]) recordJoin(kind Kind, d Decision) {
	metrics.RealtimeRoomJoins.WithLabelValues(string(kind), string(d)).Inc()
}

func sortMembers[M Member](ms []M) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].ID() < ms[j].ID() })
}
