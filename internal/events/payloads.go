// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package events

// XPGained is emitted when a user earns experience points.
type XPGained struct {
	UserID  string `json:"user_id"`
	Amount  int    `json:"amount"`
	Source  string `json:"source"`
	TotalXP int    `json:"total_xp"`
}

// BadgeUnlocked is emitted when a badge is awarded.
type BadgeUnlocked struct {
	UserID  string `json:"user_id"`
	BadgeID string `json:"badge_id"`
	Name    string `json:"name"`
	Tier    string `json:"tier,omitempty"`
}

type LevelUp struct {
	UserID        string `json:"user_id"`
	Level         int    `json:"level"`
	PreviousLevel int    `json:"previous_level"`
}

type StreakUpdate struct {
	UserID  string `json:"user_id"`
	Current int    `json:"current"`
	Longest int    `json:"longest"`
}

// PatternCompleted is emitted when every problem of a pattern is solved.
type PatternCompleted struct {
	UserID      string `json:"user_id"`
	PatternID   string `json:"pattern_id"`
	PatternName string `json:"pattern_name"`
}

// LeaderboardEntry is one ranked row of a leaderboard.
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Score       int    `json:"score"`
}

// LeaderboardUpdate carries the recomputed top of a leaderboard type
// (weekly, monthly, all_time, or a group id).
type LeaderboardUpdate struct {
	Type    string             `json:"type"`
	Entries []LeaderboardEntry `json:"entries"`
}

// ProgressUpdate reports a user's position on a pattern checklist.
type ProgressUpdate struct {
	UserID    string `json:"user_id"`
	PatternID string `json:"pattern_id"`
	ProblemID string `json:"problem_id,omitempty"`
	Solved    int    `json:"solved"`
	Total     int    `json:"total"`
}

// Notification is a free-form message shown to users.
type Notification struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Severity string `json:"severity,omitempty"`
}

func (XPGained) Kind() Kind          { return KindXPGained }
func (BadgeUnlocked) Kind() Kind     { return KindBadgeUnlocked }
func (LevelUp) Kind() Kind           { return KindLevelUp }
func (StreakUpdate) Kind() Kind      { return KindStreakUpdate }
func (PatternCompleted) Kind() Kind  { return KindPatternCompleted }
func (LeaderboardUpdate) Kind() Kind { return KindLeaderboardUpdate }
func (ProgressUpdate) Kind() Kind    { return KindProgressUpdate }
func (Notification) Kind() Kind      { return KindNotification }

func (p XPGained) Subject() string          { return p.UserID }
func (p BadgeUnlocked) Subject() string     { return p.UserID }
func (p LevelUp) Subject() string           { return p.UserID }
func (p StreakUpdate) Subject() string      { return p.UserID }
func (p PatternCompleted) Subject() string  { return p.UserID }
func (p LeaderboardUpdate) Subject() string { return p.Type }
func (p ProgressUpdate) Subject() string    { return p.UserID }
func (p Notification) Subject() string      { return p.ID }

func (XPGained) isPayload()          {}
func (BadgeUnlocked) isPayload()     {}
func (LevelUp) isPayload()           {}
func (StreakUpdate) isPayload()      {}
func (PatternCompleted) isPayload()  {}
func (LeaderboardUpdate) isPayload() {}
func (ProgressUpdate) isPayload()    {}
func (Notification) isPayload()      {}
