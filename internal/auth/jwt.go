// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

// Package auth verifies the HS256 bearer tokens presented by realtime
// clients. Tokens are issued by the Questline API; this package only needs
// the shared secret.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the token claims the realtime layer reads.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Identity is what a verified token says about the caller.
type Identity struct {
	UserID      string
	DisplayName string
	ExpiresAt   time.Time
}

// Kind classifies a rejected token.
type Kind string

const (
	KindMissingToken   Kind = "missing_token"
	KindExpiredToken   Kind = "expired_token"
	KindMalformedToken Kind = "malformed_token"
	KindNotYetValid    Kind = "not_yet_valid"
)

// AuthError is returned for tokens that cannot be accepted.
type AuthError struct {
	Kind Kind
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ErrServerMisconfigured is returned for every verification while no
// signing secret is configured. No client action can fix it.
var ErrServerMisconfigured = errors.New("server_misconfigured: no token signing secret configured")

// Verifier checks bearer tokens against a shared HMAC secret.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier creates a Verifier. An empty secret is accepted so that the
// server can start; Verify then fails with ErrServerMisconfigured.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// Misconfigured reports whether no secret is configured.
func (v *Verifier) Misconfigured() bool {
	return len(v.secret) == 0
}

// Verify validates the token's signature, expiry and not-before time and
// returns the caller's identity.
func (v *Verifier) Verify(token string) (Identity, error) {
	if v.Misconfigured() {
		return Identity{}, ErrServerMisconfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, &AuthError{Kind: KindMissingToken}
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return Identity{}, classify(err)
	}
	if !parsed.Valid {
		return Identity{}, &AuthError{Kind: KindMalformedToken, Err: errors.New("token is not valid")}
	}
	if claims.Subject == "" {
		return Identity{}, &AuthError{Kind: KindMalformedToken, Err: errors.New("token has no subject")}
	}

	id := Identity{UserID: claims.Subject, DisplayName: claims.Name}
	if id.DisplayName == "" {
		id.DisplayName = claims.Subject
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &AuthError{Kind: KindExpiredToken, Err: err}
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return &AuthError{Kind: KindNotYetValid, Err: err}
	default:
		return &AuthError{Kind: KindMalformedToken, Err: err}
	}
}

// Issuer signs tokens with the same secret. The API owns token issuance in
// production; the listen CLI and tests use this.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// Issue returns a signed token for userID valid from now for the issuer's TTL.
func (i *Issuer) Issue(userID, displayName string, now time.Time) (string, error) {
	claims := &Claims{
		Name: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	return i.sign(claims)
}

// IssueClaims signs arbitrary claims.
func (i *Issuer) IssueClaims(claims *Claims) (string, error) {
	return i.sign(claims)
}

func (i *Issuer) sign(claims *Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
