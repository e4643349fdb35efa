package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quotaflow/quotaflow/internal/clock"
	"github.com/quotaflow/quotaflow/internal/limiter"
	"github.com/quotaflow/quotaflow/internal/store"
)

func newTestServer(t *testing.T, opts Options) (*Server, *clock.VirtualClock) {
	t.Helper()
	vc := clock.NewVirtualClock(epoch)
	st := store.NewMemoryStore(vc)

	limiters := make(map[string]*limiter.Limiter)
	for name, cfg := range map[string]limiter.Config{
		"auth": {Window: 15 * time.Minute, Max: 2, Message: "slow down", StandardHeaders: true, LegacyHeaders: true},
		"api":  {Window: time.Minute, Max: 100, StandardHeaders: true},
	} {
		lim, err := limiter.New(name, cfg, st, vc, nil)
		if err != nil {
			t.Fatalf("limiter.New(%s) error = %v", name, err)
		}
		limiters[name] = lim
	}

	return New(":0", limiters, vc, opts), vc
}

func serveRequest(s *Server, method, target, ip string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, nil)
	if ip != "" {
		r.Header.Set("X-Forwarded-For", ip)
	}
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, r)
	return w
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	w := serveRequest(s, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestServer_Root(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	w := serveRequest(s, http.MethodGet, "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["service"] != "quotaflow" {
		t.Errorf("service = %q", body["service"])
	}
}

func TestServer_ListLimits(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	w := serveRequest(s, http.MethodGet, "/api/limits", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body map[string]struct {
		Window  string `json:"window"`
		Max     int    `json:"max"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["auth"].Max != 2 || body["auth"].Window != "15m0s" {
		t.Errorf("auth limit = %+v", body["auth"])
	}
}

func TestServer_CheckCountsAndRejects(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	for i := 0; i < 2; i++ {
		w := serveRequest(s, http.MethodGet, "/api/check/auth", "10.0.0.1")
		if w.Code != http.StatusOK {
			t.Fatalf("check %d status = %d, want 200", i+1, w.Code)
		}
	}

	w := serveRequest(s, http.MethodGet, "/api/check/auth", "10.0.0.1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}

	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Error.Code != "RATE_LIMIT_EXCEEDED" || body.Error.Message != "slow down" {
		t.Errorf("error = %+v", body.Error)
	}
}

func TestServer_CheckUnknownCategory(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	w := serveRequest(s, http.MethodGet, "/api/check/nope", "10.0.0.1")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestServer_StatusDoesNotCount(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	for i := 0; i < 3; i++ {
		w := serveRequest(s, http.MethodGet, "/api/limits/auth/status", "10.0.0.1")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}

		var res limiter.Result
		if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if !res.Allowed || res.Remaining != 2 {
			t.Fatalf("Status call %d = %+v, want untouched full budget", i+1, res)
		}
	}
}

func TestServer_StatusWithExplicitKey(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	serveRequest(s, http.MethodGet, "/api/check/auth", "10.0.0.1")

	w := serveRequest(s, http.MethodGet, "/api/limits/auth/status?key=10.0.0.1", "")
	var res limiter.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if res.Remaining != 1 {
		t.Errorf("Remaining = %d, want 1", res.Remaining)
	}
}

func TestServer_ClearResetsClient(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	// Exhaust the auth budget.
	for i := 0; i < 3; i++ {
		serveRequest(s, http.MethodGet, "/api/check/auth", "10.0.0.1")
	}
	if w := serveRequest(s, http.MethodGet, "/api/check/auth", "10.0.0.1"); w.Code != http.StatusTooManyRequests {
		t.Fatal("should be exhausted")
	}

	w := serveRequest(s, http.MethodDelete, "/api/limits/auth", "10.0.0.1")
	if w.Code != http.StatusOK {
		t.Fatalf("clear status = %d, want 200", w.Code)
	}

	if w := serveRequest(s, http.MethodGet, "/api/check/auth", "10.0.0.1"); w.Code != http.StatusOK {
		t.Fatal("budget should be restored after clear")
	}
}

func TestServer_LimitMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	w := serveRequest(s, http.MethodPost, "/api/limits/auth/status", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
}

func TestServer_WebsocketReceivesDecisions(t *testing.T) {
	hub := NewHub(nil)
	s, _ := newTestServer(t, Options{Hub: hub})

	ts := httptest.NewServer(s.httpServer.Handler)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	defer conn.Close()

	waitForClients(t, hub, 1)

	resp, err := http.Get(ts.URL + "/api/check/api")
	if err != nil {
		t.Fatalf("check request: %v", err)
	}
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading decision event: %v", err)
	}

	var ev DecisionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decoding decision event: %v", err)
	}
	if ev.Category != "api" || !ev.Allowed {
		t.Errorf("event = %+v, want allowed api decision", ev)
	}
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("hub never reached %d clients", n)
}
