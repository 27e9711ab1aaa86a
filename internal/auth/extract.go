// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package auth

import (
	"net/http"
	"strings"
)

// BearerToken returns the token of an "Authorization: Bearer" header, or "".
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// QueryToken returns the token query parameter, or "".
func QueryToken(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// SelectToken picks the first non-empty candidate in precedence order:
// auth frame field, Authorization header, query parameter.
func SelectToken(frameToken, headerToken, queryToken string) string {
	for _, t := range []string{frameToken, headerToken, queryToken} {
		if t = strings.TrimSpace(t); t != "" {
			return t
		}
	}
	return ""
}
