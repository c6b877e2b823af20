package routing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/arena-labs/arena-gateway/pkg/mcp"
)

func parseMessage(t *testing.T, raw []byte) *mcp.Message {
	t.Helper()
	msg, err := mcp.Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return msg
}

// spyTransport fails the test if any network call is attempted.
type spyTransport struct {
	t      *testing.T
	called bool
}

func (s *spyTransport) RoundTrip(*http.Request) (*http.Response, error) {
	s.called = true
	s.t.Error("unexpected network call")
	return nil, errors.New("unexpected network call")
}

func TestRouteWithoutBackend(t *testing.T) {
	spy := &spyTransport{t: t}
	r := NewRouter(WithHTTPClient(&http.Client{Transport: spy}))

	msg := parseMessage(t, []byte(`{"jsonrpc":"2.0","method":"ping","id":41}`))
	result := r.Route(context.Background(), msg, "sess-1")

	if result.Delivered {
		t.Error("Delivered = true, want false")
	}
	resp := parseMessage(t, result.Body)
	if !resp.IsError() || resp.Error.Code != mcp.CodeNoActiveBackend {
		t.Errorf("error = %+v, want code %d", resp.Error, mcp.CodeNoActiveBackend)
	}
	if string(resp.ID) != "41" {
		t.Errorf("id = %s, want 41", resp.ID)
	}
	if spy.called {
		t.Error("router contacted the network with no backend registered")
	}
}

func TestRegisterReplacesActiveBackend(t *testing.T) {
	r := NewRouter()

	r.Register("c1", "http://localhost:9001")
	r.Register("c2", "http://localhost:9002")

	addr, ok := r.ActiveBackend()
	if !ok || addr != "http://localhost:9002" {
		t.Errorf("ActiveBackend = %q/%v, want http://localhost:9002", addr, ok)
	}

	info := r.Info()
	if info.ActiveChallenge != "c2" || info.BackendCount != 2 {
		t.Errorf("Info = %+v", info)
	}
}

func TestUnregister(t *testing.T) {
	r := NewRouter()
	r.Register("c1", "http://localhost:9001")

	if r.Unregister("unknown") {
		t.Error("Unregister(unknown) = true")
	}
	if _, ok := r.ActiveBackend(); !ok {
		t.Fatal("active backend lost after unregistering an unknown id")
	}

	if !r.Unregister("c1") {
		t.Error("Unregister(c1) = false")
	}
	if _, ok := r.ActiveBackend(); ok {
		t.Error("active backend survived its own unregistration")
	}
}

func TestRouteForwardsAndMapsSessions(t *testing.T) {
	var mu sync.Mutex
	seenSessions := make(map[string]string) // method -> inbound Mcp-Session-Id

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var call struct {
			Method string          `json:"method"`
			ID     json.RawMessage `json:"id"`
		}
		if err := json.NewDecoder(req.Body).Decode(&call); err != nil {
			t.Errorf("backend got undecodable body: %v", err)
		}

		mu.Lock()
		seenSessions[call.Method] = req.Header.Get(mcp.SessionIDHeader)
		mu.Unlock()

		if req.Header.Get(mcp.ProtocolVersionHeader) != mcp.ProtocolVersion {
			t.Errorf("missing protocol version header")
		}

		w.Header().Set(mcp.SessionIDHeader, "b-1")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"result":  map[string]any{"ok": true},
			"id":      json.RawMessage(call.ID),
		})
	}))
	defer backend.Close()

	r := NewRouter()
	r.Register("c1", backend.URL)

	// The initialization call goes session-less so the backend mints b-1.
	initMsg := parseMessage(t, []byte(`{"jsonrpc":"2.0","method":"initialize","params":{},"id":1}`))
	result := r.Route(context.Background(), initMsg, "client-1")
	if !result.Delivered {
		t.Fatalf("initialize not delivered: %s", result.Body)
	}
	if result.BackendSessionID != "b-1" {
		t.Errorf("BackendSessionID = %q, want b-1", result.BackendSessionID)
	}
	if got := seenSessions["initialize"]; got != "" {
		t.Errorf("initialize carried session %q, want none", got)
	}

	// The next call for the same client session attaches b-1.
	callMsg := parseMessage(t, []byte(`{"jsonrpc":"2.0","method":"tools/list","id":2}`))
	result = r.Route(context.Background(), callMsg, "client-1")
	if !result.Delivered {
		t.Fatalf("tools/list not delivered: %s", result.Body)
	}
	if got := seenSessions["tools/list"]; got != "b-1" {
		t.Errorf("tools/list carried session %q, want b-1", got)
	}

	resp := parseMessage(t, result.Body)
	if !resp.IsResponse() || string(resp.ID) != "2" {
		t.Errorf("response = %s", result.Body)
	}
}

func TestStaleMappingNotConsultedForNewSession(t *testing.T) {
	sessionSeen := ""
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		sessionSeen = req.Header.Get(mcp.SessionIDHeader)
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "result": true, "id": 1})
	}))
	defer backend.Close()

	r := NewRouter()
	r.Register("cA", "http://127.0.0.1:1")

	// Seed a mapping for client-1 while cA is "active".
	r.mu.Lock()
	r.sessionMap["client-1"] = "a-stale"
	r.mu.Unlock()

	r.Register("cB", backend.URL)

	// The stale mapping survives re-registration.
	if mapped, ok := r.BackendSession("client-1"); !ok || mapped != "a-stale" {
		t.Errorf("mapping for client-1 = %q/%v, want a-stale", mapped, ok)
	}

	// But a new client session has no mapping to attach.
	msg := parseMessage(t, []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`))
	result := r.Route(context.Background(), msg, "client-2")
	if !result.Delivered {
		t.Fatalf("not delivered: %s", result.Body)
	}
	if sessionSeen != "" {
		t.Errorf("new session carried stale backend session %q", sessionSeen)
	}
}

func TestRouteBackendStatusError(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	}))
	defer backend.Close()

	r := NewRouter()
	r.Register("c1", backend.URL)

	msg := parseMessage(t, []byte(`{"jsonrpc":"2.0","method":"ping","id":5}`))
	result := r.Route(context.Background(), msg, "s")

	if result.Delivered {
		t.Error("Delivered = true for HTTP 502")
	}
	resp := parseMessage(t, result.Body)
	if resp.Error == nil || resp.Error.Code != mcp.CodeBackendStatus {
		t.Fatalf("error = %+v, want code %d", resp.Error, mcp.CodeBackendStatus)
	}
	if string(resp.ID) != "5" {
		t.Errorf("id = %s, want 5", resp.ID)
	}
	var data string
	if err := json.Unmarshal(resp.Error.Data, &data); err != nil || data != "upstream exploded" {
		t.Errorf("data = %s", resp.Error.Data)
	}
}

func TestRouteBackendUnreachable(t *testing.T) {
	r := NewRouter()
	r.Register("c1", "http://127.0.0.1:1")

	msg := parseMessage(t, []byte(`{"jsonrpc":"2.0","method":"ping","id":6}`))
	result := r.Route(context.Background(), msg, "s")

	resp := parseMessage(t, result.Body)
	if resp.Error == nil || resp.Error.Code != mcp.CodeBackendUnreachable {
		t.Errorf("error = %+v, want code %d", resp.Error, mcp.CodeBackendUnreachable)
	}
}

func TestRouteBackendTimeout(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer backend.Close()

	r := NewRouter(WithTimeout(50 * time.Millisecond))
	r.Register("c1", backend.URL)

	msg := parseMessage(t, []byte(`{"jsonrpc":"2.0","method":"ping","id":7}`))
	result := r.Route(context.Background(), msg, "s")

	resp := parseMessage(t, result.Body)
	if resp.Error == nil || resp.Error.Code != mcp.CodeBackendTimeout {
		t.Errorf("error = %+v, want code %d", resp.Error, mcp.CodeBackendTimeout)
	}
}

func TestHealthCheck(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != DefaultHealthPath {
			t.Errorf("probe path = %q, want %q", req.URL.Path, DefaultHealthPath)
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer healthy.Close()

	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unhealthy.Close()

	r := NewRouter(WithHealthTimeout(time.Second))

	if status, _ := r.HealthCheck(context.Background(), healthy.URL); status != HealthOK {
		t.Errorf("status = %q, want %q", status, HealthOK)
	}
	if status, _ := r.HealthCheck(context.Background(), unhealthy.URL); status != HealthUnhealthy {
		t.Errorf("status = %q, want %q", status, HealthUnhealthy)
	}
	if status, _ := r.HealthCheck(context.Background(), "http://127.0.0.1:1"); status != HealthUnreachable {
		t.Errorf("status = %q, want %q", status, HealthUnreachable)
	}
}

// fakeStore records Save calls and serves a canned registration.
type fakeStore struct {
	mu    sync.Mutex
	saved []*Registration
	load  *Registration
}

func (f *fakeStore) Load() (*Registration, error) {
	return f.load, nil
}

func (f *fakeStore) Save(reg *Registration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, reg)
	return nil
}

func TestRegistrationPersistence(t *testing.T) {
	store := &fakeStore{
		load: &Registration{ChallengeID: "c0", Address: "http://localhost:9000"},
	}
	r := NewRouter(WithStore(store))

	// Persisted registration is adopted at construction.
	if addr, ok := r.ActiveBackend(); !ok || addr != "http://localhost:9000" {
		t.Errorf("ActiveBackend = %q/%v, want restored c0", addr, ok)
	}

	r.Register("c1", "http://localhost:9001")
	r.Unregister("c1")

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.saved) != 2 {
		t.Fatalf("Save calls = %d, want 2", len(store.saved))
	}
	if store.saved[0] == nil || store.saved[0].ChallengeID != "c1" {
		t.Errorf("first save = %+v", store.saved[0])
	}
	if store.saved[1] != nil {
		t.Errorf("unregister save = %+v, want nil", store.saved[1])
	}
}
