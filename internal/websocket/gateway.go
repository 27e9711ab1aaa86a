// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package websocket

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tomtom215/questline/internal/auth"
	"github.com/tomtom215/questline/internal/limiter"
	"github.com/tomtom215/questline/internal/logging"
	"github.com/tomtom215/questline/internal/metrics"
	"github.com/tomtom215/questline/internal/protocol"
	"github.com/tomtom215/questline/internal/rooms"
)

// Connect error codes that are not auth.Kind or limiter.Reason values.
const (
	CodeServerMisconfigured = "server_misconfigured"
	CodeAuthTimeout         = "auth_timeout"
	CodeInternal            = "internal_error"
)

// Options configures the gateway.
type Options struct {
	// AllowedOrigins is checked against the Origin header; "*" allows all.
	AllowedOrigins []string
	// AuthTimeout bounds the handshake from upgrade to verified identity.
	AuthTimeout time.Duration
	// AuthFrameWait is how long to wait for an auth frame when the request
	// already carries a header or query token.
	AuthFrameWait time.Duration
	// ReadTimeout is the read deadline extended by every client frame.
	ReadTimeout time.Duration
	// InboundRate and InboundBurst limit client frames per connection.
	InboundRate  float64
	InboundBurst int
	SendBuffer   int
}

// DefaultOptions matches the default configuration with a 30s heartbeat.
func DefaultOptions() Options {
	return Options{
		AllowedOrigins: []string{"*"},
		AuthTimeout:    10 * time.Second,
		AuthFrameWait:  time.Second,
		ReadTimeout:    70 * time.Second,
		InboundRate:    20,
		InboundBurst:   40,
		SendBuffer:     sendBufferSize,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = def.AuthTimeout
	}
	if o.AuthFrameWait <= 0 || o.AuthFrameWait > o.AuthTimeout {
		o.AuthFrameWait = min(def.AuthFrameWait, o.AuthTimeout)
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = def.ReadTimeout
	}
	if o.InboundRate <= 0 {
		o.InboundRate = def.InboundRate
	}
	if o.InboundBurst <= 0 {
		o.InboundBurst = def.InboundBurst
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = def.SendBuffer
	}
	return o
}

// Gateway authenticates and admits websocket connections.
type Gateway struct {
	opts     Options
	verifier *auth.Verifier
	limiter  *limiter.Limiter
	registry *rooms.Registry[*Conn]
	monitor  *HeartbeatMonitor
	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewGateway wires the admission path. A verifier without a secret is
// accepted; every handshake is then rejected as server_misconfigured.
func NewGateway(opts Options, verifier *auth.Verifier, lim *limiter.Limiter, registry *rooms.Registry[*Conn], monitor *HeartbeatMonitor) *Gateway {
	g := &Gateway{
		opts:     opts.withDefaults(),
		verifier: verifier,
		limiter:  lim,
		registry: registry,
		monitor:  monitor,
		now:      time.Now,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      g.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}

	misconfigured := verifier.Misconfigured()
	metrics.SetServerMisconfigured(misconfigured)
	if misconfigured {
		logging.Error().Msg("JWT secret is not configured: every realtime connection will be rejected")
	}
	return g
}

// checkOrigin validates the Origin header. Requests without one (non-browser
// clients) are only accepted when every origin is allowed.
func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	for _, allowed := range g.opts.AllowedOrigins {
		if allowed == "*" || (origin != "" && strings.EqualFold(allowed, origin)) {
			return true
		}
	}
	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("websocket connection rejected from unauthorized origin")
	return false
}

// rejection is a handshake failure reported to the client before closing.
type rejection struct {
	code      string
	message   string
	closeCode int
	err       error
}

func (r *rejection) Error() string { return r.code + ": " + r.message }

// frameResult is the outcome of one socket read.
type frameResult struct {
	data []byte
	err  error
}

func readFrame(ws *websocket.Conn) <-chan frameResult {
	ch := make(chan frameResult, 1)
	go func() {
		_, data, err := ws.ReadMessage()
		ch <- frameResult{data: data, err: err}
	}()
	return ch
}

// handshake is what the auth phase hands to the read pump: a first read
// still in flight, or a consumed first frame that was not an auth frame.
type handshake struct {
	identity auth.Identity
	pending  <-chan frameResult
	carry    []byte
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := g.now()
	addr := clientAddress(r)
	log := logging.Ctx(r.Context()).With().Str("remote_addr", addr).Logger()

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	ws.SetReadLimit(maxMessageSize)

	// The pong handler is installed before the first read starts; pongs only
	// extend the deadline once the connection is admitted.
	var admitted atomic.Bool
	ws.SetPongHandler(func(string) error {
		if !admitted.Load() {
			return nil
		}
		return ws.SetReadDeadline(g.now().Add(g.opts.ReadTimeout))
	})

	hs, rej := g.authenticate(ws, r, start)
	if rej == nil {
		rej = g.admitLimits(hs.identity.UserID, addr)
	}
	if rej != nil {
		g.reject(ws, rej, start, &log)
		return
	}

	c := newConn(ws, hs.identity.UserID, hs.identity.DisplayName, addr, g.opts, g.now())
	c.Enqueue(protocol.MustEncode(protocol.TypeConnected, protocol.Connected{
		UserID:     c.userID,
		ServerTime: g.now().UTC(),
	}))

	if err := g.registry.Admit(c); err != nil {
		c.cancel()
		g.limiter.Release(c.userID)
		g.reject(ws, &rejection{code: CodeInternal, message: "connection could not be registered", closeCode: websocket.CloseInternalServerErr, err: err}, start, &log)
		return
	}
	admitted.Store(true)
	g.monitor.Track(c)
	metrics.RealtimeConnections.Inc()

	latency := g.now().Sub(start)
	metrics.RecordAdmission("admitted", latency)
	log.Info().
		Str("conn_id", c.id).
		Str("user_id", c.userID).
		Int64("latency_ms", latency.Milliseconds()).
		Msg("realtime connection admitted")

	go c.writePump()
	g.readPump(c, hs)
}

// authenticate runs the bounded handshake. The token precedence is auth
// frame, Authorization header, then query parameter.
func (g *Gateway) authenticate(ws *websocket.Conn, r *http.Request, start time.Time) (handshake, *rejection) {
	if g.verifier.Misconfigured() {
		return handshake{}, &rejection{
			code:      CodeServerMisconfigured,
			message:   "server is not configured to accept connections",
			closeCode: protocol.CloseServerMisconfigured,
			err:       auth.ErrServerMisconfigured,
		}
	}

	header, query := auth.BearerToken(r), auth.QueryToken(r)
	wait := g.opts.AuthTimeout
	if header != "" || query != "" {
		wait = g.opts.AuthFrameWait
	}

	_ = ws.SetReadDeadline(start.Add(g.opts.AuthTimeout))
	first := readFrame(ws)
	timer := time.NewTimer(wait)
	defer timer.Stop()

	var hs handshake
	var frameToken string
	select {
	case res := <-first:
		if res.err != nil {
			return hs, &rejection{code: CodeAuthTimeout, message: "no auth frame received", closeCode: protocol.CloseAuthFailed, err: res.err}
		}
		msg, err := protocol.Decode(res.data)
		if err == nil && msg.Type == protocol.TypeAuth {
			var a protocol.Auth
			if err := msg.DecodeData(&a); err == nil {
				frameToken = a.Token
			}
		} else {
			hs.carry = res.data
		}
	case <-timer.C:
		if header == "" && query == "" {
			return hs, &rejection{code: CodeAuthTimeout, message: "authentication timed out", closeCode: protocol.CloseAuthFailed}
		}
		hs.pending = first
	}

	id, err := g.verifier.Verify(auth.SelectToken(frameToken, header, query))
	if err != nil {
		return hs, authRejection(err)
	}
	if !rooms.ValidID(id.UserID) {
		return hs, &rejection{
			code:      string(auth.KindMalformedToken),
			message:   "token subject is not a valid user id",
			closeCode: protocol.CloseAuthFailed,
			err:       fmt.Errorf("token subject %q is not a valid user id", id.UserID),
		}
	}
	hs.identity = id
	return hs, nil
}

func authRejection(err error) *rejection {
	var ae *auth.AuthError
	if errors.As(err, &ae) {
		return &rejection{code: string(ae.Kind), message: authMessage(ae.Kind), closeCode: protocol.CloseAuthFailed, err: err}
	}
	if errors.Is(err, auth.ErrServerMisconfigured) {
		return &rejection{code: CodeServerMisconfigured, message: "server is not configured to accept connections", closeCode: protocol.CloseServerMisconfigured, err: err}
	}
	return &rejection{code: string(auth.KindMalformedToken), message: "token could not be verified", closeCode: protocol.CloseAuthFailed, err: err}
}

func authMessage(k auth.Kind) string {
	switch k {
	case auth.KindMissingToken:
		return "authentication token required"
	case auth.KindExpiredToken:
		return "authentication token has expired"
	case auth.KindNotYetValid:
		return "authentication token is not valid yet"
	default:
		return "authentication token is malformed"
	}
}

func (g *Gateway) admitLimits(userID, addr string) *rejection {
	err := g.limiter.TryAdmit(userID, addr, g.now())
	if err == nil {
		return nil
	}
	var ce *limiter.CapacityError
	if errors.As(err, &ce) {
		return &rejection{code: string(ce.Reason), message: ce.Error(), closeCode: protocol.CloseCapacityExceeded, err: err}
	}
	return &rejection{code: CodeInternal, message: "admission failed", closeCode: websocket.CloseInternalServerErr, err: err}
}

// reject sends connect_error and a close frame, then drops the socket. The
// connection never reaches the registry.
func (g *Gateway) reject(ws *websocket.Conn, rej *rejection, start time.Time, log *zerolog.Logger) {
	deadline := g.now().Add(writeWait)
	_ = ws.SetWriteDeadline(deadline)
	frame := protocol.MustEncode(protocol.TypeConnectError, protocol.ConnectError{Code: rej.code, Message: rej.message})
	if err := ws.WriteMessage(websocket.TextMessage, frame); err == nil {
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(rej.closeCode, rej.code), deadline)
	}
	_ = ws.Close()

	latency := g.now().Sub(start)
	metrics.RecordAdmission(rej.code, latency)

	ev := log.Warn()
	if rej.code == CodeServerMisconfigured || rej.code == CodeInternal {
		ev = log.Error()
	}
	ev.Err(rej.err).
		Str("code", rej.code).
		Int("close_code", rej.closeCode).
		Int64("latency_ms", latency.Milliseconds()).
		Msg("realtime connection rejected")
}

// readPump reads client frames until the socket fails, then runs the
// disconnect cleanup.
func (g *Gateway) readPump(c *Conn, hs handshake) {
	defer g.disconnect(c)

	// A handshake read may still be in flight; only the deadline is touched
	// until it completes.
	if err := c.ws.SetReadDeadline(g.now().Add(g.opts.ReadTimeout)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}

	if hs.pending != nil {
		res := <-hs.pending
		if res.err != nil {
			g.logReadError(c, res.err)
			return
		}
		hs.carry = res.data
	}
	if hs.carry != nil {
		c.touch(g.now())
		g.dispatch(c, hs.carry)
	}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			g.logReadError(c, err)
			return
		}
		now := g.now()
		c.touch(now)
		_ = c.ws.SetReadDeadline(now.Add(g.opts.ReadTimeout))
		g.dispatch(c, data)
	}
}

func (g *Gateway) logReadError(c *Conn, err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
		logging.Debug().Err(err).Str("conn_id", c.id).Msg("unexpected websocket close")
	}
}

// disconnect runs exactly once per admitted connection.
func (g *Gateway) disconnect(c *Conn) {
	c.cleanupOnce.Do(func() {
		c.cancel()
		g.monitor.Untrack(c.id)
		left, _ := g.registry.Remove(c)
		g.limiter.Release(c.userID)
		metrics.RealtimeConnections.Dec()
		c.kick(websocket.CloseNormalClosure, "")
		_ = c.ws.Close()

		logging.Info().
			Str("conn_id", c.id).
			Str("user_id", c.userID).
			Int("rooms_left", len(left)).
			Dur("connected_for", g.now().Sub(c.established)).
			Msg("realtime connection closed")
	})
}

// clientAddress returns the host part of the remote address, which the
// router has already rewritten from proxy headers when they are trusted.
func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// sanitizeLogValue strips control characters to prevent log injection.
func sanitizeLogValue(s string) string {
	if len(s) > 256 {
		s = s[:256]
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
