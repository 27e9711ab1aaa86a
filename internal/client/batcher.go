// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package client

import (
	"sync"
	"time"

	"github.com/tomtom215/questline/internal/events"
)

// Category groups events that application state applies together.
type Category string

const (
	CategoryProgress    Category = "progress"
	CategoryActivity    Category = "activity"
	CategoryLeaderboard Category = "leaderboard"
)

// CategoryOf returns the batch category for an event kind. Kinds without a
// dedicated category count as room activity.
func CategoryOf(kind events.Kind) Category {
	switch kind {
	case events.KindLeaderboardUpdate:
		return CategoryLeaderboard
	case events.KindProgressUpdate, events.KindPatternCompleted:
		return CategoryProgress
	default:
		return CategoryActivity
	}
}

// Batch is one flush. Each list is in arrival order and holds at most the
// configured number of most recent events.
type Batch struct {
	Progress    []events.DomainEvent
	Activity    []events.DomainEvent
	Leaderboard []events.DomainEvent
	FlushedAt   time.Time
}

// Len returns the number of events in the batch.
func (b Batch) Len() int {
	return len(b.Progress) + len(b.Activity) + len(b.Leaderboard)
}

type BatcherConfig struct {
	// Interval is the longest an event waits before being flushed. The
	// timer is not pushed back by later events, so a steady stream still
	// flushes once per interval.
	Interval       time.Duration
	ProgressCap    int
	ActivityCap    int
	LeaderboardCap int
}

func DefaultBatcherConfig() BatcherConfig {
	return BatcherConfig{
		Interval:       100 * time.Millisecond,
		ProgressCap:    50,
		ActivityCap:    100,
		LeaderboardCap: 20,
	}
}

// Batcher coalesces bursts of events into periodic flushes. The first event
// after a flush arms a single timer; everything added before it fires goes
// into the same batch.
type Batcher struct {
	cfg   BatcherConfig
	flush func(Batch)

	mu      sync.Mutex
	pending Batch
	timer   *time.Timer
	closed  bool

	// flushMu serializes flush callbacks.
	flushMu sync.Mutex
}

// NewBatcher returns a Batcher that hands each batch to flush.
func NewBatcher(cfg BatcherConfig, flush func(Batch)) *Batcher {
	def := DefaultBatcherConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ProgressCap <= 0 {
		cfg.ProgressCap = def.ProgressCap
	}
	if cfg.ActivityCap <= 0 {
		cfg.ActivityCap = def.ActivityCap
	}
	if cfg.LeaderboardCap <= 0 {
		cfg.LeaderboardCap = def.LeaderboardCap
	}
	return &Batcher{cfg: cfg, flush: flush}
}

// Add queues e for the next flush. It returns false after Close.
func (b *Batcher) Add(e events.DomainEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}

	switch CategoryOf(e.Kind()) {
	case CategoryProgress:
		b.pending.Progress = appendCapped(b.pending.Progress, e, b.cfg.ProgressCap)
	case CategoryLeaderboard:
		b.pending.Leaderboard = appendCapped(b.pending.Leaderboard, e, b.cfg.LeaderboardCap)
	default:
		b.pending.Activity = appendCapped(b.pending.Activity, e, b.cfg.ActivityCap)
	}

	if b.timer == nil {
		b.timer = time.AfterFunc(b.cfg.Interval, b.Flush)
	}
	return true
}

// Pending returns the number of events waiting for the next flush.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending.Len()
}

// Flush hands pending events to the flush callback now. An empty buffer is
// not flushed.
func (b *Batcher) Flush() {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	batch := b.pending
	b.pending = Batch{}
	b.mu.Unlock()

	if batch.Len() == 0 || b.flush == nil {
		return
	}
	batch.FlushedAt = time.Now()
	b.flush(batch)
}

// Close flushes what is pending and rejects further events.
func (b *Batcher) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.Flush()
}

// appendCapped appends e and keeps only the limit most recent entries.
func appendCapped(list []events.DomainEvent, e events.DomainEvent, limit int) []events.DomainEvent {
	list = append(list, e)
	if over := len(list) - limit; over > 0 {
		list = append(list[:0:0], list[over:]...)
	}
	return list
}
