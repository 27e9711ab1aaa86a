// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gorilla "github.com/gorilla/websocket"

	_ "github.com/tomtom215/questline/docs"
	"github.com/tomtom215/questline/internal/auth"
	"github.com/tomtom215/questline/internal/limiter"
	"github.com/tomtom215/questline/internal/logging"
	"github.com/tomtom215/questline/internal/protocol"
	"github.com/tomtom215/questline/internal/rooms"
	"github.com/tomtom215/questline/internal/websocket"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

type fakeStats struct {
	reg     rooms.Stats
	lim     limiter.Stats
	breaker string
	tracked int
	noKey   bool
}

func (f *fakeStats) State() string       { return f.breaker }
func (f *fakeStats) Tracked() int        { return f.tracked }
func (f *fakeStats) Misconfigured() bool { return f.noKey }

type registryFunc func() rooms.Stats

func (f registryFunc) Stats() rooms.Stats { return f() }

type limiterFunc func() limiter.Stats

func (f limiterFunc) Stats() limiter.Stats { return f() }

func noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func newTestServer(t *testing.T, stats *fakeStats, mw *ChiMiddlewareConfig) *httptest.Server {
	t.Helper()
	router := NewRouter(Dependencies{
		Gateway:       http.HandlerFunc(noContent),
		Registry:      registryFunc(func() rooms.Stats { return stats.reg }),
		Limiter:       limiterFunc(func() limiter.Stats { return stats.lim }),
		Authorizer:    stats,
		Heartbeats:    stats,
		Verifier:      stats,
		IngestEnabled: true,
	}, NewChiMiddleware(mw))
	srv := httptest.NewServer(router.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func decodeHealth(t *testing.T, body []byte) HealthStatus {
	t.Helper()
	var env struct {
		Status string       `json:"status"`
		Data   HealthStatus `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	if env.Status != "success" {
		t.Fatalf("envelope status = %q", env.Status)
	}
	return env.Data
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		stats      fakeStats
		wantStatus string
	}{
		{"healthy", fakeStats{reg: rooms.Stats{Members: 3, Rooms: 5}, lim: limiter.Stats{Users: 2, Addresses: 1}, breaker: "closed", tracked: 3}, statusHealthy},
		{"missing secret", fakeStats{breaker: "closed", noKey: true}, statusDegraded},
		{"breaker open", fakeStats{breaker: "open"}, statusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &tt.stats, nil)
			resp, body := get(t, srv.URL+"/healthz")
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			h := decodeHealth(t, body)
			if h.Status != tt.wantStatus {
				t.Errorf("health status = %q, want %q", h.Status, tt.wantStatus)
			}
			if h.Connections != tt.stats.reg.Members || h.Rooms != tt.stats.reg.Rooms || h.Limiter != tt.stats.lim {
				t.Errorf("health = %+v", h)
			}
			if h.HeartbeatTracked != tt.stats.tracked || h.DirectoryBreaker != tt.stats.breaker || !h.IngestEnabled {
				t.Errorf("health = %+v", h)
			}
		})
	}
}

func TestHealthProbes(t *testing.T) {
	ok := newTestServer(t, &fakeStats{}, nil)
	broken := newTestServer(t, &fakeStats{noKey: true}, nil)

	tests := []struct {
		name string
		url  string
		want int
	}{
		{"live", ok.URL + "/healthz/live", http.StatusOK},
		{"live while misconfigured", broken.URL + "/healthz/live", http.StatusOK},
		{"ready", ok.URL + "/healthz/ready", http.StatusOK},
		{"not ready while misconfigured", broken.URL + "/healthz/ready", http.StatusServiceUnavailable},
		{"unknown route", ok.URL + "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := get(t, tt.url)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
		})
	}
}

func TestRequestIDEchoed(t *testing.T) {
	srv := newTestServer(t, &fakeStats{}, nil)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/healthz/live", nil)
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req-123" {
		t.Errorf("X-Request-ID = %q, want req-123", got)
	}

	resp, _ = get(t, srv.URL+"/healthz/live")
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("generated request id missing")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeStats{}, nil)
	get(t, srv.URL+"/healthz")

	resp, body := get(t, srv.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	for _, name := range []string{"realtime_connections", "api_requests_total"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output lacks %s", name)
		}
	}
}

func TestSwaggerDoc(t *testing.T) {
	srv := newTestServer(t, &fakeStats{}, nil)

	resp, body := get(t, srv.URL+"/swagger/doc.json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var doc struct {
		Swagger string                 `json:"swagger"`
		Paths   map[string]interface{} `json:"paths"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("doc.json is not JSON: %v", err)
	}
	if doc.Swagger != "2.0" {
		t.Errorf("swagger = %q", doc.Swagger)
	}
	for _, path := range []string{"/ws", "/healthz", "/healthz/live", "/healthz/ready"} {
		if _, ok := doc.Paths[path]; !ok {
			t.Errorf("doc.json lacks %s", path)
		}
	}
}

func TestUpgradeRateLimit(t *testing.T) {
	cfg := DefaultChiMiddlewareConfig()
	cfg.UpgradeRateLimitRequests = 2
	cfg.UpgradeRateLimitWindow = time.Minute
	srv := newTestServer(t, &fakeStats{}, cfg)

	for i := 0; i < 2; i++ {
		if resp, _ := get(t, srv.URL+"/ws"); resp.StatusCode != http.StatusNoContent {
			t.Fatalf("request %d status = %d, want 204", i, resp.StatusCode)
		}
	}
	resp, body := get(t, srv.URL+"/ws")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if !strings.Contains(string(body), "RATE_LIMITED") {
		t.Errorf("body = %s", body)
	}

	// Health checks are not subject to the upgrade limit.
	if resp, _ := get(t, srv.URL+"/healthz/live"); resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}
}

func TestUpgradeRateLimitDisabled(t *testing.T) {
	cfg := DefaultChiMiddlewareConfig()
	cfg.UpgradeRateLimitRequests = 1
	cfg.UpgradeRateLimitDisabled = true
	srv := newTestServer(t, &fakeStats{}, cfg)

	for i := 0; i < 3; i++ {
		if resp, _ := get(t, srv.URL+"/ws"); resp.StatusCode != http.StatusNoContent {
			t.Fatalf("request %d status = %d", i, resp.StatusCode)
		}
	}
}

func TestUpgradeRateLimitProxyHeaders(t *testing.T) {
	tests := []struct {
		name     string
		trust    bool
		wantLast int
	}{
		{"headers ignored by default", false, http.StatusTooManyRequests},
		{"headers trusted", true, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultChiMiddlewareConfig()
			cfg.UpgradeRateLimitRequests = 1
			cfg.TrustProxyHeaders = tt.trust
			srv := newTestServer(t, &fakeStats{}, cfg)

			var status int
			for _, forwarded := range []string{"203.0.113.1", "203.0.113.2"} {
				req, err := http.NewRequest(http.MethodGet, srv.URL+"/ws", nil)
				if err != nil {
					t.Fatalf("NewRequest: %v", err)
				}
				req.Header.Set("X-Forwarded-For", forwarded)
				resp, err := http.DefaultClient.Do(req)
				if err != nil {
					t.Fatalf("GET /ws: %v", err)
				}
				_ = resp.Body.Close()
				status = resp.StatusCode
			}
			if status != tt.wantLast {
				t.Errorf("second request status = %d, want %d", status, tt.wantLast)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	cfg := DefaultChiMiddlewareConfig()
	cfg.CORSAllowedOrigins = []string{"https://app.example.com"}
	srv := newTestServer(t, &fakeStats{}, cfg)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/healthz", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

// The upgrade must survive the metrics and rate limit middleware wrapping
// the response writer.
func TestWebsocketThroughRouter(t *testing.T) {
	const secret = "questline-api-test-secret-0123456789"
	reg := rooms.NewRegistry[*websocket.Conn](rooms.NewAuthorizer(rooms.NewStaticDirectory(), rooms.DefaultAuthorizerConfig()))
	lim := limiter.New(limiter.DefaultConfig())
	mon := websocket.NewHeartbeatMonitor(time.Hour)
	verifier := auth.NewVerifier(secret)
	gw := websocket.NewGateway(websocket.DefaultOptions(), verifier, lim, reg, mon)

	router := NewRouter(Dependencies{
		Gateway:    gw,
		Registry:   reg,
		Limiter:    lim,
		Heartbeats: mon,
		Verifier:   verifier,
	}, nil)
	srv := httptest.NewServer(router.Handler())
	defer srv.Close()

	token, err := auth.NewIssuer(secret, time.Hour).Issue("alice", "Alice", time.Now())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	header := http.Header{"Authorization": {"Bearer " + token}}
	ws, resp, err := gorilla.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil || msg.Type != protocol.TypeConnected {
		t.Fatalf("first frame = %s (%v), want connected", data, err)
	}

	_, body := get(t, srv.URL+"/healthz")
	if h := decodeHealth(t, body); h.Connections != 1 || h.HeartbeatTracked != 1 {
		t.Errorf("health after connect = %+v", h)
	}
}
