// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/questline/internal/auth"
	"github.com/tomtom215/questline/internal/limiter"
	"github.com/tomtom215/questline/internal/logging"
	"github.com/tomtom215/questline/internal/protocol"
)

const writeWait = 10 * time.Second

// ErrNotConnected is returned by Send while no connection is established.
var ErrNotConnected = errors.New("client: not connected")

// RejectedError is a connect_error received during the handshake.
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("connection rejected: %s: %s", e.Code, e.Message)
}

// Config configures a Manager.
type Config struct {
	// URL is the server's websocket endpoint, e.g. ws://host:8081/ws.
	URL   string
	Token string

	Policy Policy

	// HeartbeatTimeout is how long the connection may go without a server
	// heartbeat before it is closed with CausePingTimeout.
	HeartbeatTimeout time.Duration

	// HandshakeTimeout bounds dialing plus waiting for connected.
	HandshakeTimeout time.Duration
}

// Callbacks are invoked outside the manager's lock. OnMessage runs on the
// connection's read goroutine, in frame order.
type Callbacks struct {
	OnStateChange func(Transition)

	// OnConnected runs after every successful (re)connection. Hosts use it
	// to join their rooms again; the manager keeps no room state.
	OnConnected func(protocol.Connected)

	OnMessage func(protocol.Message)

	// OnCredentialsRejected runs when repeated auth rejections stop the
	// retries. The host should discard its token and call SetToken.
	OnCredentialsRejected func()
}

// Manager owns the client's single websocket connection and runs the
// reconnect state machine.
type Manager struct {
	cfg    Config
	cb     Callbacks
	dialer *websocket.Dialer

	mu           sync.Mutex
	state        State
	token        string
	attempts     int
	authFailures int
	gen          uint64 // bumped whenever pending attempts must be abandoned
	conn         *websocket.Conn
	cancelDial   context.CancelFunc
	retryTimer   *time.Timer
	closed       bool

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

func NewManager(cfg Config, cb Callbacks) *Manager {
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 70 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	return &Manager{
		cfg:   cfg,
		cb:    cb,
		token: cfg.Token,
		dialer: &websocket.Dialer{
			HandshakeTimeout:  cfg.HandshakeTimeout,
			EnableCompression: true,
		},
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the number of consecutive failed attempts.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Connect starts connecting from Disconnected. It returns at once; progress
// is reported through OnStateChange.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.closed || m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	gen, t := m.beginLocked(StateConnecting, CauseNone)
	m.mu.Unlock()

	m.emit(t)
	m.launch(gen)
}

// Retry resets the failure counters and connects immediately. It cancels
// a scheduled retry and leaves Fallback.
func (m *Manager) Retry() {
	m.mu.Lock()
	if m.closed || m.state == StateConnected {
		m.mu.Unlock()
		return
	}
	m.attempts = 0
	m.authFailures = 0
	m.abandonLocked()
	gen, t := m.beginLocked(StateConnecting, CauseNone)
	m.mu.Unlock()

	m.emit(t)
	m.launch(gen)
}

// SetToken replaces the bearer token used by the next attempt. From
// Fallback it reconnects straight away.
func (m *Manager) SetToken(token string) {
	m.mu.Lock()
	m.token = token
	m.authFailures = 0
	fallback := m.state == StateFallback
	m.mu.Unlock()

	if fallback {
		m.Retry()
	}
}

// Disconnect closes the connection and cancels any pending attempt. The
// manager stays Disconnected until Connect or Retry.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.abandonLocked()
	conn := m.conn
	m.conn = nil
	t := m.setStateLocked(StateDisconnected, CauseClientClose)
	m.mu.Unlock()

	if conn != nil {
		m.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		m.writeMu.Unlock()
		_ = conn.Close()
	}
	m.emit(t)
}

// Close disconnects and waits for the connection goroutines to exit.
func (m *Manager) Close() {
	m.Disconnect()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wg.Wait()
}

// Send writes one frame on the current connection.
func (m *Manager) Send(msgType string, data interface{}) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	frame, err := protocol.Encode(msgType, data)
	if err != nil {
		return err
	}
	return m.write(conn, frame)
}

func (m *Manager) JoinRoom(room string) error {
	return m.Send(protocol.TypeJoinRoom, protocol.RoomRequest{Room: room})
}

func (m *Manager) LeaveRoom(room string) error {
	return m.Send(protocol.TypeLeaveRoom, protocol.RoomRequest{Room: room})
}

func (m *Manager) SubscribeLeaderboard(boardType string) error {
	return m.Send(protocol.TypeSubscribeLeaderboard, protocol.LeaderboardRequest{Type: boardType})
}

func (m *Manager) UnsubscribeLeaderboard(boardType string) error {
	return m.Send(protocol.TypeUnsubscribeLeaderboard, protocol.LeaderboardRequest{Type: boardType})
}

// beginLocked moves to state and opens a new attempt generation.
func (m *Manager) beginLocked(state State, cause Cause) (uint64, Transition) {
	m.gen++
	m.wg.Add(1)
	return m.gen, m.setStateLocked(state, cause)
}

// abandonLocked invalidates the in-flight attempt and any scheduled retry.
func (m *Manager) abandonLocked() {
	m.gen++
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
}

func (m *Manager) setStateLocked(state State, cause Cause) Transition {
	t := Transition{From: m.state, To: state, Cause: cause}
	m.state = state
	return t
}

func (m *Manager) emit(t Transition) {
	if t.From == t.To {
		return
	}
	logging.Info().
		Str("from", t.From.String()).
		Str("to", t.To.String()).
		Str("cause", string(t.Cause)).
		Msg("Realtime connection state changed")
	if m.cb.OnStateChange != nil {
		m.cb.OnStateChange(t)
	}
}

// launch starts the attempt of gen. The caller has already added it to wg.
func (m *Manager) launch(gen uint64) {
	go m.run(gen)
}

// run performs one connection attempt and, if it succeeds, reads the
// connection until it ends.
func (m *Manager) run(gen uint64) {
	defer m.wg.Done()

	conn, info, cause, err := m.dial(gen)
	if err != nil {
		m.fail(gen, cause, err)
		return
	}
	defer conn.Close()

	if !m.established(gen, conn, info) {
		return
	}
	cause, err = m.readLoop(conn)
	m.fail(gen, cause, err)
}

func (m *Manager) dial(gen uint64) (*websocket.Conn, protocol.Connected, Cause, error) {
	var info protocol.Connected

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HandshakeTimeout)
	defer cancel()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return nil, info, CauseClientClose, context.Canceled
	}
	m.cancelDial = cancel
	token := m.token
	m.mu.Unlock()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := m.dialer.DialContext(ctx, m.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, info, CauseTransportError, fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, info, CauseTransportError, fmt.Errorf("websocket dial: %w", err)
	}

	cause, err := m.handshake(conn, token, &info)
	if err != nil {
		conn.Close()
		return nil, info, cause, err
	}
	return conn, info, CauseNone, nil
}

// handshake sends the auth frame and waits for connected or connect_error.
func (m *Manager) handshake(conn *websocket.Conn, token string, info *protocol.Connected) (Cause, error) {
	frame, err := protocol.Encode(protocol.TypeAuth, protocol.Auth{Token: token})
	if err != nil {
		return CauseTransportError, err
	}
	if err := m.write(conn, frame); err != nil {
		return CauseTransportError, fmt.Errorf("send auth frame: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(m.cfg.HandshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return causeFromReadError(err), err
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		return CauseTransportError, err
	}

	switch msg.Type {
	case protocol.TypeConnected:
		if err := msg.DecodeData(info); err != nil {
			return CauseTransportError, err
		}
		return CauseNone, nil
	case protocol.TypeConnectError:
		var ce protocol.ConnectError
		_ = msg.DecodeData(&ce)
		return causeFromConnectError(ce.Code), &RejectedError{Code: ce.Code, Message: ce.Message}
	default:
		return CauseTransportError, fmt.Errorf("unexpected %q frame before connected", msg.Type)
	}
}

func (m *Manager) established(gen uint64, conn *websocket.Conn, info protocol.Connected) bool {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return false
	}
	m.cancelDial = nil
	m.conn = conn
	m.attempts = 0
	m.authFailures = 0
	t := m.setStateLocked(StateConnected, CauseNone)
	m.mu.Unlock()

	m.emit(t)
	if m.cb.OnConnected != nil {
		m.cb.OnConnected(info)
	}
	return true
}

// readLoop delivers frames until the connection fails. Only server
// heartbeats extend the read deadline.
func (m *Manager) readLoop(conn *websocket.Conn) (Cause, error) {
	timeout := m.cfg.HeartbeatTimeout
	_ = conn.SetReadDeadline(time.Now().Add(timeout))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return causeFromReadError(err), err
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			logging.Debug().Err(err).Msg("Ignoring undecodable frame")
			continue
		}

		switch msg.Type {
		case protocol.TypeHeartbeat:
			_ = conn.SetReadDeadline(time.Now().Add(timeout))
			var hb protocol.Heartbeat
			if err := msg.DecodeData(&hb); err == nil {
				if err := m.write(conn, protocol.MustEncode(protocol.TypeHeartbeat, hb)); err != nil {
					return CauseTransportError, err
				}
			}
			continue
		case protocol.TypeServerShutdown:
			logging.Info().Msg("Realtime server is shutting down")
		}

		if m.cb.OnMessage != nil {
			m.cb.OnMessage(msg)
		}
	}
}

// fail applies the retry policy after an attempt or connection of gen
// ended.
func (m *Manager) fail(gen uint64, cause Cause, err error) {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return
	}
	m.cancelDial = nil
	m.conn = nil
	if m.state != StateConnected {
		m.attempts++
	}
	if cause == CauseAuthRejected {
		m.authFailures++
	} else {
		m.authFailures = 0
	}

	d := m.cfg.Policy.Decide(m.attempts, m.authFailures, cause)
	t := m.setStateLocked(d.State(), cause)
	if d.Action == ActionRetry {
		m.retryTimer = time.AfterFunc(d.Delay, func() { m.fire(gen) })
	}
	attempts := m.attempts
	m.mu.Unlock()

	logging.Warn().
		Err(err).
		Str("cause", string(cause)).
		Str("action", d.Action.String()).
		Int("attempts", attempts).
		Dur("retry_in", d.Delay).
		Msg("Realtime connection lost")

	m.emit(t)
	if d.Action == ActionRejectCredentials && m.cb.OnCredentialsRejected != nil {
		m.cb.OnCredentialsRejected()
	}
}

// fire starts the retry scheduled by the attempt of gen.
func (m *Manager) fire(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.closed || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	m.gen++
	m.wg.Add(1)
	next := m.gen
	m.mu.Unlock()

	m.launch(next)
}

func (m *Manager) write(conn *websocket.Conn, frame []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func causeFromConnectError(code string) Cause {
	switch code {
	case string(auth.KindMissingToken), string(auth.KindExpiredToken),
		string(auth.KindMalformedToken), string(auth.KindNotYetValid):
		return CauseAuthRejected
	case string(limiter.ReasonPerUser), string(limiter.ReasonPerAddress):
		return CauseCapacityRejected
	case "server_misconfigured":
		return CauseServerMisconfigured
	default:
		return CauseTransportError
	}
}

func causeFromReadError(err error) Cause {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case protocol.CloseCapacityExceeded:
			return CauseCapacityRejected
		case protocol.CloseServerMisconfigured:
			return CauseServerMisconfigured
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.ClosePolicyViolation, protocol.CloseAuthFailed:
			return CauseServerClose
		default:
			return CauseTransportError
		}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return CausePingTimeout
	}
	return CauseTransportError
}
