// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package websocket

import (
	"sync"
	"time"

	"github.com/tomtom215/questline/internal/logging"
	"github.com/tomtom215/questline/internal/metrics"
	"github.com/tomtom215/questline/internal/protocol"
)

// Connection quality buckets.
const (
	QualityExcellent = "excellent"
	QualityGood      = "good"
	QualityPoor      = "poor"
)

// Quality buckets a round trip time.
func Quality(rtt time.Duration) string {
	switch {
	case rtt < 100*time.Millisecond:
		return QualityExcellent
	case rtt < 300*time.Millisecond:
		return QualityGood
	default:
		return QualityPoor
	}
}

// ProbeTarget is a connection the monitor can probe.
type ProbeTarget interface {
	ID() string
	Enqueue(frame []byte) bool
}

// maxPendingProbes bounds unanswered probes kept per connection.
const maxPendingProbes = 8

type probe struct {
	target ProbeTarget
	stop   chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]time.Time
	lastRTT time.Duration
}

// HeartbeatMonitor runs one probe goroutine per tracked connection.
type HeartbeatMonitor struct {
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	probes map[string]*probe
}

func NewHeartbeatMonitor(interval time.Duration) *HeartbeatMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HeartbeatMonitor{
		interval: interval,
		now:      time.Now,
		probes:   make(map[string]*probe),
	}
}

// Interval is the probe period.
func (m *HeartbeatMonitor) Interval() time.Duration { return m.interval }

// Track starts probing t. Tracking an already tracked connection is a
// no-op.
func (m *HeartbeatMonitor) Track(t ProbeTarget) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.probes[t.ID()]; ok {
		return
	}
	p := &probe{
		target:  t,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		pending: make(map[uint64]time.Time),
	}
	m.probes[t.ID()] = p
	go m.run(p)
}

// Untrack stops probing the connection and returns only after its probe
// goroutine has exited.
func (m *HeartbeatMonitor) Untrack(id string) {
	m.mu.Lock()
	p, ok := m.probes[id]
	delete(m.probes, id)
	m.mu.Unlock()

	if !ok {
		return
	}
	close(p.stop)
	<-p.done
}

// Tracked returns the number of connections being probed.
func (m *HeartbeatMonitor) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.probes)
}

func (m *HeartbeatMonitor) run(p *probe) {
	defer close(p.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			m.send(p)
		}
	}
}

func (m *HeartbeatMonitor) send(p *probe) {
	now := m.now()

	p.mu.Lock()
	p.seq++
	seq := p.seq
	p.pending[seq] = now
	if len(p.pending) > maxPendingProbes {
		delete(p.pending, seq-maxPendingProbes)
	}
	p.mu.Unlock()

	frame := protocol.MustEncode(protocol.TypeHeartbeat, protocol.Heartbeat{Timestamp: now.UnixMilli(), Seq: seq})
	if !p.target.Enqueue(frame) {
		logging.Debug().Str("conn_id", p.target.ID()).Uint64("seq", seq).Msg("heartbeat probe not queued")
	}
}

// Observe handles a client echo. It measures the round trip from the
// matching probe, falling back to the echoed timestamp, and answers with a
// heartbeat_response. It reports false for untracked connections.
func (m *HeartbeatMonitor) Observe(id string, echo protocol.Heartbeat) (time.Duration, bool) {
	m.mu.Lock()
	p, ok := m.probes[id]
	m.mu.Unlock()
	if !ok {
		return 0, false
	}

	now := m.now()

	p.mu.Lock()
	sent, found := p.pending[echo.Seq]
	if found {
		delete(p.pending, echo.Seq)
	} else {
		sent = time.UnixMilli(echo.Timestamp)
	}
	rtt := now.Sub(sent)
	if rtt < 0 {
		rtt = 0
	}
	p.lastRTT = rtt
	p.mu.Unlock()

	quality := Quality(rtt)
	metrics.RealtimeHeartbeatRTT.WithLabelValues(quality).Observe(rtt.Seconds())

	frame := protocol.MustEncode(protocol.TypeHeartbeatResponse, protocol.HeartbeatResponse{
		Timestamp: now.UnixMilli(),
		LatencyMS: rtt.Milliseconds(),
		Quality:   quality,
	})
	p.target.Enqueue(frame)
	return rtt, true
}

// LastRTT returns the last measured round trip of a tracked connection.
func (m *HeartbeatMonitor) LastRTT(id string) (time.Duration, bool) {
	m.mu.Lock()
	p, ok := m.probes[id]
	m.mu.Unlock()
	if !ok {
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRTT, true
}
