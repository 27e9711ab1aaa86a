// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package client

import "sync"

// DefaultDedupCapacity is the number of idempotency keys remembered.
const DefaultDedupCapacity = 1000

type dedupEntry struct {
	key  string
	prev *dedupEntry
	next *dedupEntry
}

// Deduplicator is a bounded, insertion-ordered set of recently applied
// idempotency keys. When full it evicts the oldest half in one pass.
//
// Keys are ordered by first sighting only; seeing a key again does not
// refresh it.
type Deduplicator struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*dedupEntry

	// head.next is the newest key, tail.prev the oldest.
	head *dedupEntry
	tail *dedupEntry

	duplicates int64
}

func NewDeduplicator(capacity int) *Deduplicator {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	d := &Deduplicator{
		capacity: capacity,
		items:    make(map[string]*dedupEntry, capacity),
		head:     &dedupEntry{},
		tail:     &dedupEntry{},
	}
	d.head.next = d.tail
	d.tail.prev = d.head
	return d
}

// Accept reports whether key has not been seen while in the history, and
// records it. Events without a key cannot be deduplicated and are always
// accepted.
func (d *Deduplicator) Accept(key string) bool {
	if key == "" {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, seen := d.items[key]; seen {
		d.duplicates++
		return false
	}
	if len(d.items) >= d.capacity {
		d.evictOldestHalf()
	}

	e := &dedupEntry{key: key, prev: d.head, next: d.head.next}
	d.head.next.prev = e
	d.head.next = e
	d.items[key] = e
	return true
}

// Len returns the number of keys in the history.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

// Duplicates returns how many keys Accept has rejected.
func (d *Deduplicator) Duplicates() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.duplicates
}

func (d *Deduplicator) evictOldestHalf() {
	n := max(1, len(d.items)/2)
	for i := 0; i < n; i++ {
		oldest := d.tail.prev
		if oldest == d.head {
			return
		}
		oldest.prev.next = d.tail
		d.tail.prev = oldest.prev
		delete(d.items, oldest.key)
	}
}
