// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package rooms

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/questline/internal/logging"
	"github.com/tomtom215/questline/internal/metrics"
)

// Decision is the outcome of a room authorization check.
type Decision string

const (
	DecisionAllowed       Decision = "allowed"
	DecisionNotFound      Decision = "not_found"
	DecisionPrivateDenied Decision = "private_denied"
	DecisionNotYetStarted Decision = "not_yet_started"
	// DecisionUnavailable means the directory could not answer: the lookup
	// failed or the breaker is open.
	DecisionUnavailable Decision = "unavailable"
)

// AuthorizationError is returned by Registry.Join for denied joins. It is
// routine control flow; the connection stays usable.
type AuthorizationError struct {
	Room     string
	Decision Decision
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("join %s denied: %s", e.Room, e.Decision)
}

// AuthorizerConfig configures the breaker around directory lookups.
type AuthorizerConfig struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// LookupTimeout bounds a single directory call.
	LookupTimeout time.Duration
}

func DefaultAuthorizerConfig() AuthorizerConfig {
	return AuthorizerConfig{FailureThreshold: 5, OpenTimeout: 30 * time.Second, LookupTimeout: 3 * time.Second}
}

// Authorizer decides group and challenge joins from directory data.
type Authorizer struct {
	dir     Directory
	cb      *gobreaker.CircuitBreaker[interface{}]
	timeout time.Duration
	now     func() time.Time
}

// NewAuthorizer wraps dir with a circuit breaker named "membership-directory".
func NewAuthorizer(dir Directory, cfg AuthorizerConfig) *Authorizer {
	def := DefaultAuthorizerConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = def.LookupTimeout
	}

	metrics.DirectoryBreakerState.Set(0)

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        "membership-directory",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Unknown ids and abandoned lookups say nothing about directory health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state transition")
			metrics.DirectoryBreakerState.Set(breakerStateValue(to))
		},
	})

	return &Authorizer{dir: dir, cb: cb, timeout: cfg.LookupTimeout, now: time.Now}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Authorize returns the decision for userID joining room. Only group and
// challenge rooms consult the directory; other kinds are decided by the
// registry.
func (a *Authorizer) Authorize(ctx context.Context, userID string, room Name) Decision {
	switch room.Kind {
	case KindGroup:
		info, err := lookup(a, ctx, func(ctx context.Context) (GroupInfo, error) {
			return a.dir.Group(ctx, room.ID, userID)
		})
		if d, done := errorDecision(err); done {
			return d
		}
		return decideGroup(info)
	case KindChallenge:
		info, err := lookup(a, ctx, func(ctx context.Context) (ChallengeInfo, error) {
			return a.dir.Challenge(ctx, room.ID, userID)
		})
		if d, done := errorDecision(err); done {
			return d
		}
		return decideChallenge(info, a.now())
	default:
		return DecisionAllowed
	}
}

// State reports the breaker state for health output.
func (a *Authorizer) State() string {
	return a.cb.State().String()
}

func lookup[T any](a *Authorizer, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	res, err := a.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	switch {
	case err == nil:
		metrics.DirectoryLookups.WithLabelValues("success").Inc()
	case errors.Is(err, ErrNotFound):
		metrics.DirectoryLookups.WithLabelValues("not_found").Inc()
		return zero, err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.DirectoryLookups.WithLabelValues("rejected").Inc()
		return zero, err
	default:
		metrics.DirectoryLookups.WithLabelValues("failure").Inc()
		logging.Ctx(ctx).Warn().Err(err).Msg("membership directory lookup failed")
		return zero, err
	}

	typed, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", res)
	}
	return typed, nil
}

func errorDecision(err error) (Decision, bool) {
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, ErrNotFound):
		return DecisionNotFound, true
	default:
		return DecisionUnavailable, true
	}
}

func decideGroup(g GroupInfo) Decision {
	if g.Member || !g.Private {
		return DecisionAllowed
	}
	return DecisionPrivateDenied
}

// decideChallenge lets participants in at any time. Non-participants may
// join a public challenge only before it starts.
func decideChallenge(c ChallengeInfo, now time.Time) Decision {
	switch {
	case c.Participant:
		return DecisionAllowed
	case c.Private:
		return DecisionPrivateDenied
	case !now.Before(c.StartsAt):
		return DecisionNotYetStarted
	default:
		return DecisionAllowed
	}
}
