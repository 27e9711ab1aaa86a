// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package client

import (
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/questline/internal/events"
)

type batchRecorder struct {
	mu      sync.Mutex
	batches []Batch
}

func (r *batchRecorder) record(b Batch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
}

func (r *batchRecorder) snapshot() []Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Batch(nil), r.batches...)
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func progress(n int) events.DomainEvent {
	return events.New(events.ProgressUpdate{UserID: "alice", PatternID: "p1", Solved: n, Total: 200},
		events.ToUser("alice"), base.Add(time.Duration(n)*time.Millisecond))
}

func board(n int) events.DomainEvent {
	return events.New(events.LeaderboardUpdate{Type: "weekly"},
		events.ToRoom("leaderboard:weekly"), base.Add(time.Duration(n)*time.Millisecond))
}

func gained(n int) events.DomainEvent {
	return events.New(events.XPGained{UserID: "alice", Amount: n, Source: "problem"},
		events.ToUser("alice"), base.Add(time.Duration(n)*time.Millisecond))
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		kind events.Kind
		want Category
	}{
		{events.KindLeaderboardUpdate, CategoryLeaderboard},
		{events.KindProgressUpdate, CategoryProgress},
		{events.KindPatternCompleted, CategoryProgress},
		{events.KindXPGained, CategoryActivity},
		{events.KindBadgeUnlocked, CategoryActivity},
		{events.KindLevelUp, CategoryActivity},
	}
	for _, tt := range tests {
		if got := CategoryOf(tt.kind); got != tt.want {
			t.Errorf("CategoryOf(%s) = %s, want %s", tt.kind, got, tt.want)
		}
	}
}

func TestBatcherCoalescesBurst(t *testing.T) {
	rec := &batchRecorder{}
	b := NewBatcher(BatcherConfig{Interval: 50 * time.Millisecond}, rec.record)

	for i := 0; i < 10; i++ {
		b.Add(board(i))
	}
	b.Add(progress(1))
	b.Add(gained(1))
	if b.Pending() != 12 {
		t.Errorf("Pending = %d, want 12", b.Pending())
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	batches := rec.snapshot()
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	got := batches[0]
	if len(got.Leaderboard) != 10 || len(got.Progress) != 1 || len(got.Activity) != 1 {
		t.Errorf("batch sizes = %d/%d/%d", len(got.Progress), len(got.Activity), len(got.Leaderboard))
	}
	if got.FlushedAt.IsZero() {
		t.Error("FlushedAt not set")
	}
	if b.Pending() != 0 {
		t.Errorf("Pending after flush = %d", b.Pending())
	}

	// The next event arms a new timer.
	b.Add(gained(2))
	time.Sleep(100 * time.Millisecond)
	if n := len(rec.snapshot()); n != 2 {
		t.Errorf("got %d batches, want 2", n)
	}
}

func TestBatcherFlushesDuringSteadyStream(t *testing.T) {
	rec := &batchRecorder{}
	b := NewBatcher(BatcherConfig{Interval: 30 * time.Millisecond}, rec.record)
	defer b.Close()

	stop := time.Now().Add(200 * time.Millisecond)
	for i := 0; time.Now().Before(stop); i++ {
		b.Add(gained(i))
		time.Sleep(5 * time.Millisecond)
	}

	// Events arrive far more often than the interval; flushes must still
	// happen while the stream is running.
	if got := len(rec.snapshot()); got < 2 {
		t.Fatalf("flushes during stream = %d, want at least 2", got)
	}
	for i, batch := range rec.snapshot() {
		if batch.Len() == 0 {
			t.Errorf("batch %d is empty", i)
		}
	}
}

func TestBatcherKeepsMostRecent(t *testing.T) {
	rec := &batchRecorder{}
	b := NewBatcher(BatcherConfig{Interval: time.Hour}, rec.record)

	for i := 0; i < 30; i++ {
		b.Add(board(i))
	}
	for i := 0; i < 60; i++ {
		b.Add(progress(i))
	}
	for i := 0; i < 120; i++ {
		b.Add(gained(i))
	}
	b.Flush()

	batches := rec.snapshot()
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	got := batches[0]

	tests := []struct {
		name  string
		list  []events.DomainEvent
		want  int
		first events.DomainEvent
		last  events.DomainEvent
	}{
		{"leaderboard", got.Leaderboard, 20, board(10), board(29)},
		{"progress", got.Progress, 50, progress(10), progress(59)},
		{"activity", got.Activity, 100, gained(20), gained(119)},
	}
	for _, tt := range tests {
		if len(tt.list) != tt.want {
			t.Errorf("%s: %d events, want %d", tt.name, len(tt.list), tt.want)
			continue
		}
		if tt.list[0].IdempotencyKey != tt.first.IdempotencyKey {
			t.Errorf("%s: oldest kept event is wrong", tt.name)
		}
		if tt.list[len(tt.list)-1].IdempotencyKey != tt.last.IdempotencyKey {
			t.Errorf("%s: newest event is wrong", tt.name)
		}
	}
}

func TestBatcherFlushEmptyAndClose(t *testing.T) {
	rec := &batchRecorder{}
	b := NewBatcher(BatcherConfig{Interval: time.Hour}, rec.record)

	b.Flush()
	if n := len(rec.snapshot()); n != 0 {
		t.Fatalf("empty flush produced %d batches", n)
	}

	b.Add(gained(1))
	b.Close()
	if n := len(rec.snapshot()); n != 1 {
		t.Fatalf("Close produced %d batches, want 1", n)
	}
	if b.Add(gained(2)) {
		t.Error("Add after Close should fail")
	}
}

func TestFallbackDetector(t *testing.T) {
	var changes []bool
	f := NewFallbackDetector(func(active bool, _ Cause) { changes = append(changes, active) })

	f.Observe(Transition{From: StateConnecting, To: StateReconnecting, Cause: CauseTransportError})
	if f.Active() {
		t.Fatal("reconnecting is not fallback")
	}

	f.Observe(Transition{From: StateReconnecting, To: StateFallback, Cause: CauseTransportError})
	if !f.Active() {
		t.Fatal("fallback not detected")
	}
	since, cause := f.Since()
	if since.IsZero() || cause != CauseTransportError {
		t.Errorf("Since = %v, %q", since, cause)
	}

	f.Observe(Transition{From: StateFallback, To: StateConnecting})
	if !f.Active() {
		t.Error("connecting alone should not leave fallback")
	}

	f.Observe(Transition{From: StateConnecting, To: StateConnected})
	if f.Active() {
		t.Error("connected should leave fallback")
	}
	if since, _ := f.Since(); !since.IsZero() {
		t.Error("Since should be zero outside fallback")
	}

	if len(changes) != 2 || !changes[0] || changes[1] {
		t.Errorf("changes = %v, want [true false]", changes)
	}
}
