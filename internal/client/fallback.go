// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package client

import (
	"sync"
	"time"
)

// FallbackDetector tracks whether live delivery is currently unavailable.
// It enters fallback when the manager reaches StateFallback and leaves it
// on the next successful connection.
type FallbackDetector struct {
	mu     sync.Mutex
	active bool
	since  time.Time
	cause  Cause
	now    func() time.Time

	onChange func(active bool, cause Cause)
}

// NewFallbackDetector returns a detector. onChange, if not nil, is called
// on every entry into and exit from fallback mode.
func NewFallbackDetector(onChange func(active bool, cause Cause)) *FallbackDetector {
	return &FallbackDetector{onChange: onChange, now: time.Now}
}

// Observe feeds one manager transition to the detector. It is suitable as
// Callbacks.OnStateChange.
func (f *FallbackDetector) Observe(t Transition) {
	f.mu.Lock()
	var changed bool
	switch {
	case t.To == StateFallback && !f.active:
		f.active, f.since, f.cause = true, f.now(), t.Cause
		changed = true
	case t.To == StateConnected && f.active:
		f.active, f.since, f.cause = false, time.Time{}, CauseNone
		changed = true
	}
	active, cause := f.active, t.Cause
	f.mu.Unlock()

	if changed && f.onChange != nil {
		f.onChange(active, cause)
	}
}

// Active reports whether live updates are unavailable.
func (f *FallbackDetector) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Since returns when fallback mode was entered and the cause of the last
// failure. The time is zero when not in fallback.
func (f *FallbackDetector) Since() (time.Time, Cause) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.since, f.cause
}
