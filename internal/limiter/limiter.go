// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

// Package limiter accounts for realtime connection admissions.
//
// Two bounds are enforced: the number of concurrently open connections per
// user, and the number of admissions per remote address within a trailing
// window. The Limiter does no I/O; callers pass the current time.
package limiter

import (
	"fmt"
	"sync"
	"time"
)

// Reason distinguishes capacity rejections.
type Reason string

const (
	ReasonPerUser    Reason = "per_user_limit"
	ReasonPerAddress Reason = "per_address_limit"
)

// CapacityError is returned by TryAdmit when a bound would be exceeded.
type CapacityError struct {
	Reason Reason
	Limit  int
}

func (e *CapacityError) Error() string {
	switch e.Reason {
	case ReasonPerUser:
		return fmt.Sprintf("too many open connections for this user (limit %d)", e.Limit)
	case ReasonPerAddress:
		return fmt.Sprintf("too many connection attempts from this address (limit %d per window)", e.Limit)
	default:
		return string(e.Reason)
	}
}

// Config holds the admission bounds.
type Config struct {
	MaxPerUser    int
	MaxPerAddress int
	Window        time.Duration
}

// DefaultConfig returns 5 per user, 10 per address per 60s.
func DefaultConfig() Config {
	return Config{MaxPerUser: 5, MaxPerAddress: 10, Window: 60 * time.Second}
}

// Limiter is safe for concurrent use. Every decision and its commit happen
// under one lock, so two admissions for the same key can never both pass a
// full bound.
type Limiter struct {
	cfg Config

	mu    sync.Mutex
	users map[string]int
	addrs map[string][]time.Time
}

// New creates a Limiter. Zero fields in cfg take the defaults.
func New(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.MaxPerUser <= 0 {
		cfg.MaxPerUser = def.MaxPerUser
	}
	if cfg.MaxPerAddress <= 0 {
		cfg.MaxPerAddress = def.MaxPerAddress
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	return &Limiter{
		cfg:   cfg,
		users: make(map[string]int),
		addrs: make(map[string][]time.Time),
	}
}

// Window returns the configured trailing window, which is also the sweep
// cadence.
func (l *Limiter) Window() time.Duration {
	return l.cfg.Window
}

// TryAdmit records an admission for user from address at now, or returns a
// *CapacityError and records nothing.
func (l *Limiter) TryAdmit(user, address string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	window := l.pruneLocked(address, now)

	if l.users[user] >= l.cfg.MaxPerUser {
		return &CapacityError{Reason: ReasonPerUser, Limit: l.cfg.MaxPerUser}
	}
	if len(window) >= l.cfg.MaxPerAddress {
		return &CapacityError{Reason: ReasonPerAddress, Limit: l.cfg.MaxPerAddress}
	}

	l.users[user]++
	l.addrs[address] = append(window, now)
	return nil
}

// Release records that one of user's connections closed. The count never
// goes below zero and the key is dropped when it reaches zero.
func (l *Limiter) Release(user string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.users[user] - 1
	if n <= 0 {
		delete(l.users, user)
		return
	}
	l.users[user] = n
}

// Sweep prunes every address window at now and returns the number of
// addresses forgotten entirely.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for addr := range l.addrs {
		if len(l.pruneLocked(addr, now)) == 0 {
			removed++
		}
	}
	return removed
}

// pruneLocked drops admissions at or before now-window and returns what is
// left. Empty windows are deleted from the map.
func (l *Limiter) pruneLocked(address string, now time.Time) []time.Time {
	entries := l.addrs[address]
	cutoff := now.Add(-l.cfg.Window)

	i := 0
	for i < len(entries) && !entries[i].After(cutoff) {
		i++
	}
	if i == len(entries) {
		delete(l.addrs, address)
		return nil
	}
	if i > 0 {
		entries = append(entries[:0:0], entries[i:]...)
		l.addrs[address] = entries
	}
	return entries
}

// UserConnections returns the current open count for user.
func (l *Limiter) UserConnections(user string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.users[user]
}

// AddressAdmissions returns the admissions for address still inside the
// window as of now.
func (l *Limiter) AddressAdmissions(address string, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pruneLocked(address, now))
}

// Stats is a snapshot of tracked keys.
type Stats struct {
	Users     int `json:"users"`
	Addresses int `json:"addresses"`
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{Users: len(l.users), Addresses: len(l.addrs)}
}
