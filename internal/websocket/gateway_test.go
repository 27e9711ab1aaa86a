// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package websocket

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/questline/internal/auth"
	"github.com/tomtom215/questline/internal/limiter"
	"github.com/tomtom215/questline/internal/logging"
	"github.com/tomtom215/questline/internal/metrics"
	"github.com/tomtom215/questline/internal/protocol"
	"github.com/tomtom215/questline/internal/rooms"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

const testSecret = "questline-test-secret-0123456789abcdef"

type testEnv struct {
	server   *httptest.Server
	gateway  *Gateway
	registry *rooms.Registry[*Conn]
	limiter  *limiter.Limiter
	monitor  *HeartbeatMonitor
	dir      *rooms.StaticDirectory
	issuer   *auth.Issuer
}

type envOption func(*Options, *limiter.Config, *string)

func withLimits(perUser, perAddress int) envOption {
	return func(_ *Options, lc *limiter.Config, _ *string) {
		lc.MaxPerUser = perUser
		lc.MaxPerAddress = perAddress
	}
}

func withSecret(secret string) envOption {
	return func(_ *Options, _ *limiter.Config, s *string) { *s = secret }
}

func withOptions(fn func(*Options)) envOption {
	return func(o *Options, _ *limiter.Config, _ *string) { fn(o) }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	o := DefaultOptions()
	o.AuthTimeout = 500 * time.Millisecond
	o.AuthFrameWait = 200 * time.Millisecond
	lc := limiter.DefaultConfig()
	secret := testSecret
	for _, fn := range opts {
		fn(&o, &lc, &secret)
	}

	dir := rooms.NewStaticDirectory()
	authz := rooms.NewAuthorizer(dir, rooms.DefaultAuthorizerConfig())
	reg := rooms.NewRegistry[*Conn](authz)
	lim := limiter.New(lc)
	mon := NewHeartbeatMonitor(time.Hour)
	gw := NewGateway(o, auth.NewVerifier(secret), lim, reg, mon)

	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	return &testEnv{
		server:   srv,
		gateway:  gw,
		registry: reg,
		limiter:  lim,
		monitor:  mon,
		dir:      dir,
		issuer:   auth.NewIssuer(testSecret, time.Hour),
	}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.issuer.Issue(userID, "Test "+userID, time.Now())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (e *testEnv) dial(t *testing.T, header http.Header, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(e.server.URL, "http")
	if query != "" {
		u += "?" + query
	}
	ws, resp, err := websocket.DefaultDialer.Dial(u, header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// connect dials and authenticates with an auth frame.
func (e *testEnv) connect(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	ws := e.dial(t, nil, "")
	send(t, ws, protocol.TypeAuth, protocol.Auth{Token: e.token(t, userID)})
	expectType(t, ws, protocol.TypeConnected)
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msgType string, data interface{}) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, protocol.MustEncode(msgType, data)); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func readMsg(t *testing.T, ws *websocket.Conn) protocol.Message {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return msg
}

func expectType(t *testing.T, ws *websocket.Conn, want string) protocol.Message {
	t.Helper()
	msg := readMsg(t, ws)
	if msg.Type != want {
		t.Fatalf("frame type = %q (%s), want %q", msg.Type, msg.Data, want)
	}
	return msg
}

func expectClose(t *testing.T, ws *websocket.Conn, code int) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("read error = %v, want close %d", err, code)
		}
		if ce.Code != code {
			t.Fatalf("close code = %d, want %d", ce.Code, code)
		}
		return
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestGatewayAdmitsWithAuthFrame(t *testing.T) {
	env := newTestEnv(t)
	ws := env.dial(t, nil, "")
	send(t, ws, protocol.TypeAuth, protocol.Auth{Token: env.token(t, "alice")})

	msg := expectType(t, ws, protocol.TypeConnected)
	var c protocol.Connected
	if err := msg.DecodeData(&c); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if c.UserID != "alice" || c.ServerTime.IsZero() {
		t.Errorf("connected = %+v", c)
	}

	waitFor(t, "registry admission", func() bool { return env.registry.HasRoom("user:alice") })
	if got := env.limiter.UserConnections("alice"); got != 1 {
		t.Errorf("UserConnections = %d, want 1", got)
	}
	if got := env.monitor.Tracked(); got != 1 {
		t.Errorf("Tracked = %d, want 1", got)
	}
}

func TestGatewayTokenPrecedence(t *testing.T) {
	env := newTestEnv(t)

	t.Run("header", func(t *testing.T) {
		h := http.Header{"Authorization": {"Bearer " + env.token(t, "bob")}}
		ws := env.dial(t, h, "")
		msg := expectType(t, ws, protocol.TypeConnected)
		var c protocol.Connected
		_ = msg.DecodeData(&c)
		if c.UserID != "bob" {
			t.Errorf("user = %q, want bob", c.UserID)
		}
	})

	t.Run("query", func(t *testing.T) {
		ws := env.dial(t, nil, "token="+env.token(t, "carol"))
		expectType(t, ws, protocol.TypeConnected)
	})

	t.Run("frame beats header", func(t *testing.T) {
		h := http.Header{"Authorization": {"Bearer " + env.token(t, "header-user")}}
		ws := env.dial(t, h, "")
		send(t, ws, protocol.TypeAuth, protocol.Auth{Token: env.token(t, "frame-user")})
		msg := expectType(t, ws, protocol.TypeConnected)
		var c protocol.Connected
		_ = msg.DecodeData(&c)
		if c.UserID != "frame-user" {
			t.Errorf("user = %q, want frame-user", c.UserID)
		}
	})

	t.Run("early frame after header auth is handled", func(t *testing.T) {
		h := http.Header{"Authorization": {"Bearer " + env.token(t, "dave")}}
		ws := env.dial(t, h, "")
		send(t, ws, protocol.TypeJoinRoom, protocol.RoomRequest{Room: "pattern:p1"})
		expectType(t, ws, protocol.TypeConnected)
		expectType(t, ws, protocol.TypeRoomJoined)
	})
}

func TestGatewayRejections(t *testing.T) {
	issuer := auth.NewIssuer(testSecret, time.Hour)
	expired, err := issuer.IssueClaims(&auth.Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}})
	if err != nil {
		t.Fatalf("IssueClaims: %v", err)
	}
	future, err := issuer.IssueClaims(&auth.Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "alice",
		NotBefore: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(2 * time.Hour)),
	}})
	if err != nil {
		t.Fatalf("IssueClaims: %v", err)
	}

	tests := []struct {
		name      string
		secret    string
		token     string
		wantCode  string
		wantClose int
	}{
		{"no token times out", testSecret, "", CodeAuthTimeout, protocol.CloseAuthFailed},
		{"empty auth frame", testSecret, " ", string(auth.KindMissingToken), protocol.CloseAuthFailed},
		{"malformed", testSecret, "not-a-jwt", string(auth.KindMalformedToken), protocol.CloseAuthFailed},
		{"expired", testSecret, expired, string(auth.KindExpiredToken), protocol.CloseAuthFailed},
		{"not yet valid", testSecret, future, string(auth.KindNotYetValid), protocol.CloseAuthFailed},
		{"wrong secret", "another-secret-another-secret-0000", expired, string(auth.KindMalformedToken), protocol.CloseAuthFailed},
		{"misconfigured", "", "", CodeServerMisconfigured, protocol.CloseServerMisconfigured},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, withSecret(tt.secret))
			ws := env.dial(t, nil, "")
			if tt.token != "" {
				send(t, ws, protocol.TypeAuth, protocol.Auth{Token: tt.token})
			}

			msg := expectType(t, ws, protocol.TypeConnectError)
			var ce protocol.ConnectError
			if err := msg.DecodeData(&ce); err != nil {
				t.Fatalf("DecodeData: %v", err)
			}
			if ce.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", ce.Code, tt.wantCode)
			}
			expectClose(t, ws, tt.wantClose)

			if s := env.registry.Stats(); s.Members != 0 {
				t.Errorf("rejected connection reached the registry: %+v", s)
			}
		})
	}
}

func TestGatewayRejectsInvalidSubject(t *testing.T) {
	env := newTestEnv(t)
	ws := env.dial(t, nil, "")
	send(t, ws, protocol.TypeAuth, protocol.Auth{Token: env.token(t, "alice@example.com")})

	msg := expectType(t, ws, protocol.TypeConnectError)
	var ce protocol.ConnectError
	if err := msg.DecodeData(&ce); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if ce.Code != string(auth.KindMalformedToken) {
		t.Errorf("code = %q, want %q", ce.Code, auth.KindMalformedToken)
	}
	expectClose(t, ws, protocol.CloseAuthFailed)

	if s := env.limiter.Stats(); s.Users != 0 || s.Addresses != 0 {
		t.Errorf("limiter recorded a rejected subject: %+v", s)
	}
	if s := env.registry.Stats(); s.Members != 0 {
		t.Errorf("rejected connection reached the registry: %+v", s)
	}
}

// Pongs arriving while the handshake read is in flight must not race with
// the read pump taking over the socket.
func TestGatewayHeaderTokenWithEarlyPongs(t *testing.T) {
	env := newTestEnv(t)
	header := http.Header{"Authorization": []string{"Bearer " + env.token(t, "alice")}}
	ws := env.dial(t, header, "")

	for i := 0; i < 50; i++ {
		if err := ws.WriteControl(websocket.PongMessage, nil, time.Now().Add(time.Second)); err != nil {
			t.Fatalf("pong %d: %v", i, err)
		}
	}
	expectType(t, ws, protocol.TypeConnected)

	send(t, ws, protocol.TypeJoinRoom, protocol.RoomRequest{Room: "pattern:p1"})
	expectType(t, ws, protocol.TypeRoomJoined)
}

func TestGatewayMisconfiguredGauge(t *testing.T) {
	newTestEnv(t, withSecret(""))
	if got := testutil.ToFloat64(metrics.RealtimeServerMisconfigured); got != 1 {
		t.Errorf("misconfigured gauge = %v, want 1", got)
	}
	newTestEnv(t)
	if got := testutil.ToFloat64(metrics.RealtimeServerMisconfigured); got != 0 {
		t.Errorf("misconfigured gauge = %v, want 0", got)
	}
}

func TestGatewayPerUserLimit(t *testing.T) {
	env := newTestEnv(t, withLimits(2, 10))
	first := env.connect(t, "alice")
	env.connect(t, "alice")

	ws := env.dial(t, nil, "")
	send(t, ws, protocol.TypeAuth, protocol.Auth{Token: env.token(t, "alice")})
	msg := expectType(t, ws, protocol.TypeConnectError)
	var ce protocol.ConnectError
	_ = msg.DecodeData(&ce)
	if ce.Code != string(limiter.ReasonPerUser) {
		t.Errorf("code = %q, want per_user_limit", ce.Code)
	}
	expectClose(t, ws, protocol.CloseCapacityExceeded)

	if got := len(env.registry.Members("user:alice")); got != 2 {
		t.Errorf("alice connections = %d, want 2", got)
	}
	send(t, first, protocol.TypeJoinRoom, protocol.RoomRequest{Room: "pattern:p1"})
	expectType(t, first, protocol.TypeRoomJoined)
}

func TestGatewayPerAddressLimit(t *testing.T) {
	env := newTestEnv(t, withLimits(5, 2))
	env.connect(t, "u1")
	env.connect(t, "u2")

	ws := env.dial(t, nil, "")
	send(t, ws, protocol.TypeAuth, protocol.Auth{Token: env.token(t, "u3")})
	msg := expectType(t, ws, protocol.TypeConnectError)
	var ce protocol.ConnectError
	_ = msg.DecodeData(&ce)
	if ce.Code != string(limiter.ReasonPerAddress) {
		t.Errorf("code = %q, want per_address_limit", ce.Code)
	}
	expectClose(t, ws, protocol.CloseCapacityExceeded)
}

func TestGatewayOriginCheck(t *testing.T) {
	env := newTestEnv(t, withOptions(func(o *Options) {
		o.AllowedOrigins = []string{"https://questline.example"}
	}))
	u := "ws" + strings.TrimPrefix(env.server.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(u, http.Header{"Origin": {"https://evil.example"}})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err == nil {
		t.Fatal("dial from a foreign origin should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}

	ws := env.dial(t, http.Header{"Origin": {"https://questline.example"}}, "")
	send(t, ws, protocol.TypeAuth, protocol.Auth{Token: env.token(t, "alice")})
	expectType(t, ws, protocol.TypeConnected)
}

func TestDisconnectCleansUpOnce(t *testing.T) {
	env := newTestEnv(t)
	ws := env.connect(t, "alice")
	send(t, ws, protocol.TypeJoinRoom, protocol.RoomRequest{Room: "pattern:p1"})
	expectType(t, ws, protocol.TypeRoomJoined)

	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = ws.Close()

	waitFor(t, "cleanup", func() bool {
		return env.registry.Stats().Members == 0 && env.monitor.Tracked() == 0
	})
	for _, room := range []string{"user:alice", "pattern:p1"} {
		if env.registry.HasRoom(room) {
			t.Errorf("room %s still exists", room)
		}
	}
	if got := env.limiter.UserConnections("alice"); got != 0 {
		t.Errorf("UserConnections = %d, want 0", got)
	}
}
