// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tomtom215/questline/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512 * 1024 // 512 KB
	sendBufferSize = 256
)

// Conn is an admitted websocket connection. It satisfies rooms.Member.
//
// The send queue is never closed; shutdown is signalled through done so
// that concurrent enqueues cannot panic.
type Conn struct {
	id          string
	userID      string
	displayName string
	remoteAddr  string
	established time.Time

	lastActivity atomic.Int64

	ws      *websocket.Conn
	send    chan []byte
	inbound *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}
	closeCode int
	closeText string
	drain     bool

	cleanupOnce sync.Once
}

func newConn(ws *websocket.Conn, userID, displayName, remoteAddr string, opts Options, now time.Time) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:          uuid.NewString(),
		userID:      userID,
		displayName: displayName,
		remoteAddr:  remoteAddr,
		established: now,
		ws:          ws,
		send:        make(chan []byte, opts.SendBuffer),
		inbound:     rate.NewLimiter(rate.Limit(opts.InboundRate), opts.InboundBurst),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

func (c *Conn) ID() string          { return c.id }
func (c *Conn) UserID() string      { return c.userID }
func (c *Conn) DisplayName() string { return c.displayName }
func (c *Conn) RemoteAddr() string  { return c.remoteAddr }

// EstablishedAt is the admission time.
func (c *Conn) EstablishedAt() time.Time { return c.established }

// LastActivity is the time the last client frame was read.
func (c *Conn) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Conn) touch(now time.Time) {
	c.lastActivity.Store(now.UnixNano())
}

// Enqueue queues a frame for the write pump without blocking. It returns
// false when the queue is full or the connection is closing.
func (c *Conn) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close asks the write pump to flush queued frames and then send a close
// frame with code. Only the first call has an effect.
func (c *Conn) Close(code int, text string) {
	c.closeWith(code, text, true)
}

// kick closes without flushing the queue.
func (c *Conn) kick(code int, text string) {
	c.closeWith(code, text, false)
}

func (c *Conn) closeWith(code int, text string, drain bool) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		c.drain = drain
		close(c.done)
	})
}

// Done is closed once the connection starts closing.
func (c *Conn) Done() <-chan struct{} { return c.done }

// writePump is the only writer of the socket once the connection is
// admitted.
func (c *Conn) writePump() {
	defer func() {
		_ = c.ws.Close() // Explicitly ignore error - best-effort cleanup
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				logging.Debug().Err(err).Str("conn_id", c.id).Msg("websocket write failed")
				c.kick(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-c.done:
			if c.drain {
				c.flush()
			}
			c.writeClose()
			return
		}
	}
}

func (c *Conn) write(frame []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// flush writes whatever is queued under a single deadline.
func (c *Conn) flush() {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return
	}
	for {
		select {
		case frame := <-c.send:
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) writeClose() {
	if c.closeCode == 0 || c.closeCode == websocket.CloseAbnormalClosure {
		return
	}
	msg := websocket.FormatCloseMessage(c.closeCode, c.closeText)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		logging.Debug().Err(err).Str("conn_id", c.id).Msg("failed to write close message")
	}
}
