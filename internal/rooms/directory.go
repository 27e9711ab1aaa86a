// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package rooms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// ErrNotFound is returned by a Directory for unknown groups or challenges.
var ErrNotFound = errors.New("not found")

// GroupInfo describes a study group from one user's point of view.
type GroupInfo struct {
	Private bool `json:"private"`
	Member  bool `json:"member"`
}

// ChallengeInfo describes a challenge from one user's point of view.
type ChallengeInfo struct {
	Private     bool      `json:"private"`
	Participant bool      `json:"participant"`
	StartsAt    time.Time `json:"starts_at"`
}

// Directory is the membership and visibility data owned by the Questline
// API. Lookups may block on I/O and must honour ctx.
type Directory interface {
	Group(ctx context.Context, groupID, userID string) (GroupInfo, error)
	Challenge(ctx context.Context, challengeID, userID string) (ChallengeInfo, error)
}

// StaticDirectory is an in-memory Directory for single-node deployments
// without a membership service, and for tests.
type StaticDirectory struct {
	mu         sync.RWMutex
	groups     map[string]staticGroup
	challenges map[string]staticChallenge
}

type staticGroup struct {
	private bool
	members map[string]bool
}

type staticChallenge struct {
	private      bool
	startsAt     time.Time
	participants map[string]bool
}

func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		groups:     make(map[string]staticGroup),
		challenges: make(map[string]staticChallenge),
	}
}

// PutGroup registers or replaces a group.
func (d *StaticDirectory) PutGroup(id string, private bool, members ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups[id] = staticGroup{private: private, members: toSet(members)}
}

// PutChallenge registers or replaces a challenge.
func (d *StaticDirectory) PutChallenge(id string, private bool, startsAt time.Time, participants ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.challenges[id] = staticChallenge{private: private, startsAt: startsAt, participants: toSet(participants)}
}

func (d *StaticDirectory) Group(ctx context.Context, groupID, userID string) (GroupInfo, error) {
	if err := ctx.Err(); err != nil {
		return GroupInfo{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[groupID]
	if !ok {
		return GroupInfo{}, ErrNotFound
	}
	return GroupInfo{Private: g.private, Member: g.members[userID]}, nil
}

func (d *StaticDirectory) Challenge(ctx context.Context, challengeID, userID string) (ChallengeInfo, error) {
	if err := ctx.Err(); err != nil {
		return ChallengeInfo{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.challenges[challengeID]
	if !ok {
		return ChallengeInfo{}, ErrNotFound
	}
	return ChallengeInfo{Private: c.private, Participant: c.participants[userID], StartsAt: c.startsAt}, nil
}

func toSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// HTTPDirectory queries the Questline API:
//
//	GET {base}/groups/{id}/membership?user_id={uid}       -> GroupInfo
//	GET {base}/challenges/{id}/participation?user_id={uid} -> ChallengeInfo
//
// A 404 maps to ErrNotFound; any other non-200 status is an error.
type HTTPDirectory struct {
	base   string
	client *http.Client
}

// NewHTTPDirectory creates a directory client with a per-request timeout.
func NewHTTPDirectory(baseURL string, timeout time.Duration) *HTTPDirectory {
	return &HTTPDirectory{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func (d *HTTPDirectory) Group(ctx context.Context, groupID, userID string) (GroupInfo, error) {
	var info GroupInfo
	err := d.get(ctx, "/groups/"+url.PathEscape(groupID)+"/membership", userID, &info)
	return info, err
}

func (d *HTTPDirectory) Challenge(ctx context.Context, challengeID, userID string) (ChallengeInfo, error) {
	var info ChallengeInfo
	err := d.get(ctx, "/challenges/"+url.PathEscape(challengeID)+"/participation", userID, &info)
	return info, err
}

func (d *HTTPDirectory) get(ctx context.Context, path, userID string, out interface{}) error {
	u := d.base + path + "?user_id=" + url.QueryEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("directory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("directory request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("directory %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(out); err != nil {
		return fmt.Errorf("directory %s: decode response: %w", path, err)
	}
	return nil
}
