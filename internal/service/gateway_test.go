package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/arena-labs/arena-gateway/internal/domain/routing"
	"github.com/arena-labs/arena-gateway/internal/domain/session"
	"github.com/arena-labs/arena-gateway/internal/domain/traffic"
	"github.com/arena-labs/arena-gateway/pkg/mcp"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(t *testing.T, opts ...routing.Option) *GatewayService {
	t.Helper()
	return NewGatewayService(
		session.NewManager(session.Config{}),
		routing.NewRouter(opts...),
		traffic.NewLogger(traffic.Config{}),
		discardLogger(),
	)
}

type noNetworkTransport struct{ t *testing.T }

func (n *noNetworkTransport) RoundTrip(*http.Request) (*http.Response, error) {
	n.t.Error("unexpected network call")
	return nil, errors.New("unexpected network call")
}

func TestProcessMalformed(t *testing.T) {
	g := newService(t, routing.WithHTTPClient(&http.Client{Transport: &noNetworkTransport{t}}))
	sess := g.Sessions().Create()

	res := g.Process(context.Background(), []byte(`{"jsonrpc":"2.0","id":3`), sess.ID)

	if !res.Malformed {
		t.Error("Malformed = false")
	}
	resp, err := mcp.Parse(res.Body)
	if err != nil {
		t.Fatalf("error body unparseable: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != mcp.CodeParseError {
		t.Errorf("error = %+v, want code %d", resp.Error, mcp.CodeParseError)
	}

	// The bad bytes still land in the traffic log with a parse finding.
	entries := g.Traffic().Recent(1)
	if len(entries) != 1 {
		t.Fatalf("traffic entries = %d, want 1", len(entries))
	}
	if len(entries[0].Findings) == 0 || entries[0].Findings[0].RuleName != traffic.ParseFailureRule {
		t.Errorf("findings = %+v, want %s", entries[0].Findings, traffic.ParseFailureRule)
	}
}

func TestProcessUnknownMethodAnsweredLocally(t *testing.T) {
	g := newService(t, routing.WithHTTPClient(&http.Client{Transport: &noNetworkTransport{t}}))
	g.Router().Register("c1", "http://localhost:9001")
	sess := g.Sessions().Create()

	res := g.Process(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/steal","id":9}`), sess.ID)

	resp, err := mcp.Parse(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != mcp.CodeMethodNotFound {
		t.Errorf("error = %+v, want code %d", resp.Error, mcp.CodeMethodNotFound)
	}
	if string(resp.ID) != "9" {
		t.Errorf("id = %s, want 9", resp.ID)
	}

	// Both directions logged, correlated, and the session touched.
	entries := g.Traffic().Recent(2)
	if len(entries) != 2 {
		t.Fatalf("traffic entries = %d, want 2", len(entries))
	}
	if entries[0].CorrelationID != entries[1].ID {
		t.Errorf("outbound correlation = %q, want %q", entries[0].CorrelationID, entries[1].ID)
	}
	got, err := g.Sessions().Get(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", got.MessageCount)
	}
}

func TestProcessNoBackend(t *testing.T) {
	g := newService(t, routing.WithHTTPClient(&http.Client{Transport: &noNetworkTransport{t}}))
	sess := g.Sessions().Create()

	res := g.Process(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`), sess.ID)

	if res.Delivered {
		t.Error("Delivered = true with no backend")
	}
	resp, err := mcp.Parse(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != mcp.CodeNoActiveBackend {
		t.Errorf("error = %+v, want code %d", resp.Error, mcp.CodeNoActiveBackend)
	}
}

func TestProcessForwarded(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"result":  map[string]any{"tools": []any{}},
			"id":      1,
		})
	}))
	defer backend.Close()

	g := newService(t)
	g.Router().Register("c1", backend.URL)
	sess := g.Sessions().Create()

	res := g.Process(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`), sess.ID)

	if !res.Delivered {
		t.Fatalf("not delivered: %s", res.Body)
	}
	if res.Method != "tools/list" {
		t.Errorf("Method = %q", res.Method)
	}
	resp, err := mcp.Parse(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.IsResponse() {
		t.Errorf("response = %s", res.Body)
	}
}

func TestProcessNotificationHasNoBody(t *testing.T) {
	sawMethod := ""
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var call struct {
			Method string `json:"method"`
		}
		_ = json.NewDecoder(req.Body).Decode(&call)
		sawMethod = call.Method
		w.WriteHeader(http.StatusAccepted)
	}))
	defer backend.Close()

	g := newService(t)
	g.Router().Register("c1", backend.URL)
	sess := g.Sessions().Create()

	res := g.Process(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`), sess.ID)

	if !res.Notification {
		t.Error("Notification = false")
	}
	if res.Body != nil {
		t.Errorf("Body = %s, want nil", res.Body)
	}
	// Notifications are still forwarded, just never answered.
	if sawMethod != "notifications/initialized" {
		t.Errorf("backend saw %q", sawMethod)
	}
}

func TestProcessConcurrentSameSession(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "result": true, "id": 1})
	}))
	defer backend.Close()

	g := newService(t)
	g.Router().Register("c1", backend.URL)
	sess := g.Sessions().Create()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Process(context.Background(), []byte(`{"jsonrpc":"2.0","method":"ping","id":1}`), sess.ID)
		}()
	}
	wg.Wait()

	got, err := g.Sessions().Get(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.MessageCount != n {
		t.Errorf("MessageCount = %d, want %d", got.MessageCount, n)
	}
}

func TestResolveSession(t *testing.T) {
	g := newService(t)

	fresh, created := g.ResolveSession("")
	if !created || fresh == nil {
		t.Fatal("no session created for empty token")
	}

	same, created := g.ResolveSession(fresh.ID)
	if created || same.ID != fresh.ID {
		t.Errorf("ResolveSession(%q) = %q/%v, want existing", fresh.ID, same.ID, created)
	}

	// Unknown tokens are not adopted; the client gets a fresh session.
	other, created := g.ResolveSession("no-such-session")
	if !created || other.ID == "no-such-session" {
		t.Errorf("unknown token adopted: %q/%v", other.ID, created)
	}
}

func TestSnapshotsSweepIdleSessions(t *testing.T) {
	mgr := session.NewManager(session.Config{Timeout: 10 * time.Millisecond})
	g := NewGatewayService(mgr, routing.NewRouter(), traffic.NewLogger(traffic.Config{}), discardLogger())

	g.Sessions().Create()
	time.Sleep(20 * time.Millisecond)
	live := g.Sessions().Create()

	st := g.StatusSnapshot()
	if st.Sessions.Swept != 1 {
		t.Errorf("Swept = %d, want 1", st.Sessions.Swept)
	}
	if st.Sessions.ActiveCount != 1 {
		t.Errorf("ActiveCount = %d, want 1", st.Sessions.ActiveCount)
	}
	if len(st.Sessions.Sessions) != 1 || st.Sessions.Sessions[0].SessionID != live.ID {
		t.Errorf("sessions = %+v", st.Sessions.Sessions)
	}

	h := g.HealthSnapshot()
	if h.Status != "healthy" || h.ActiveSessions != 1 {
		t.Errorf("health = %+v", h)
	}
}

func TestHealthSnapshotReportsBackend(t *testing.T) {
	g := newService(t, routing.WithHTTPClient(&http.Client{Transport: &noNetworkTransport{t}}))
	g.Router().Register("c9", "http://localhost:9009")

	h := g.HealthSnapshot()
	if h.ActiveChallenge != "c9" || h.ActiveBackend != "http://localhost:9009" {
		t.Errorf("health = %+v", h)
	}
}
