// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package client

import (
	"math/rand/v2"
	"time"
)

// Action is what the manager does after a connection ends.
type Action int

const (
	// ActionStop leaves the manager Disconnected.
	ActionStop Action = iota
	// ActionRetry schedules another attempt after Delay.
	ActionRetry
	// ActionFallback gives up until Retry or SetToken.
	ActionFallback
	// ActionRejectCredentials gives up and tells the host to drop its token.
	ActionRejectCredentials
)

func (a Action) String() string {
	switch a {
	case ActionStop:
		return "stop"
	case ActionRetry:
		return "retry"
	case ActionFallback:
		return "fallback"
	case ActionRejectCredentials:
		return "reject_credentials"
	default:
		return "unknown"
	}
}

// Decision is the outcome of Policy.Decide.
type Decision struct {
	Action Action
	Delay  time.Duration
}

// State returns the manager state the decision leads to.
func (d Decision) State() State {
	switch d.Action {
	case ActionRetry:
		return StateReconnecting
	case ActionFallback, ActionRejectCredentials:
		return StateFallback
	default:
		return StateDisconnected
	}
}

// Policy is the reconnect schedule: exponential backoff from Base, capped
// at Cap, with ±Jitter applied, for at most MaxAttempts consecutive failed
// attempts.
type Policy struct {
	Base             time.Duration
	Cap              time.Duration
	Jitter           float64
	MaxAttempts      int
	AuthFailureLimit int

	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64
}

func DefaultPolicy() Policy {
	return Policy{
		Base:             2 * time.Second,
		Cap:              10 * time.Second,
		Jitter:           0.5,
		MaxAttempts:      5,
		AuthFailureLimit: 3,
	}
}

// Decide maps the number of consecutive failed attempts, the number of
// consecutive auth rejections and the cause of the latest disconnect to the
// next action. It has no side effects.
func (p Policy) Decide(attempt, authFailures int, cause Cause) Decision {
	switch {
	case cause == CauseClientClose:
		return Decision{Action: ActionStop}
	case cause == CauseAuthRejected && authFailures >= p.AuthFailureLimit:
		return Decision{Action: ActionRejectCredentials}
	case cause == CauseServerMisconfigured, attempt >= p.MaxAttempts:
		return Decision{Action: ActionFallback}
	}
	return Decision{Action: ActionRetry, Delay: p.Backoff(attempt)}
}

// Backoff returns the jittered delay before retry number attempt+1. The
// result never exceeds Cap.
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.Base
	for i := 0; i < attempt && d < p.Cap; i++ {
		d *= 2
	}
	d = min(d, p.Cap)

	if p.Jitter > 0 {
		r := p.Rand
		if r == nil {
			r = rand.Float64
		}
		d = time.Duration(float64(d) * (1 + p.Jitter*(2*r()-1)))
	}
	return max(0, min(d, p.Cap))
}
