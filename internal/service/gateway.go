// Package service contains the gateway application service tying the
// protocol handler, session manager, router and traffic logger together.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/arena-labs/arena-gateway/internal/domain/routing"
	"github.com/arena-labs/arena-gateway/internal/domain/session"
	"github.com/arena-labs/arena-gateway/internal/domain/traffic"
	"github.com/arena-labs/arena-gateway/pkg/mcp"
)

// GatewayService drives the per-message control flow:
// validate, resolve session, log inbound, route, log outbound, touch.
//
// It holds all shared gateway state explicitly (no package-level singletons)
// so tests can construct isolated instances.
type GatewayService struct {
	sessions *session.Manager
	router   *routing.Router
	traffic  *traffic.Logger
	logger   *slog.Logger

	// sessionLocks serializes in-flight calls per client session so one
	// client's responses come back in the order its requests were accepted.
	// Calls on different sessions stay concurrent.
	sessionLocks sync.Map // session id -> *sync.Mutex
}

// NewGatewayService wires a gateway service from its collaborators.
func NewGatewayService(sessions *session.Manager, router *routing.Router, trafficLog *traffic.Logger, logger *slog.Logger) *GatewayService {
	if logger == nil {
		logger = slog.Default()
	}
	return &GatewayService{
		sessions: sessions,
		router:   router,
		traffic:  trafficLog,
		logger:   logger,
	}
}

// Sessions exposes the session manager to the transport layer.
func (g *GatewayService) Sessions() *session.Manager { return g.sessions }

// Router exposes the request router to the transport layer.
func (g *GatewayService) Router() *routing.Router { return g.router }

// Traffic exposes the traffic logger to the transport layer.
func (g *GatewayService) Traffic() *traffic.Logger { return g.traffic }

// ResolveSession returns the session for the presented token, or a fresh
// session when no token was presented or the token is unknown or expired.
func (g *GatewayService) ResolveSession(token string) (*session.Session, bool) {
	if token != "" {
		if s, err := g.sessions.Get(token); err == nil {
			return s, false
		}
	}
	s := g.sessions.Create()
	g.logger.Info("created session", "session_id", s.ID)
	return s, true
}

// Result is the outcome of processing one inbound message.
type Result struct {
	// Body is the response envelope to return to the client.
	// Nil for notifications, which get an empty acknowledgement.
	Body []byte
	// Notification is true when the message carried no identifier.
	Notification bool
	// Malformed is true when the message failed envelope validation.
	Malformed bool
	// Delivered is true when a backend produced the response body.
	Delivered bool
	// Method is the request method, when one was parsed.
	Method string
	// Findings are the detection findings attached to the inbound entry.
	Findings []traffic.Finding
}

// Process runs one message through the gateway. The raw body is logged
// whatever happens: malformed messages are recorded inbound with a
// parse-error finding before being answered locally.
func (g *GatewayService) Process(ctx context.Context, raw []byte, sessionID string) *Result {
	msg, err := mcp.Parse(raw)
	if err != nil {
		perr, ok := err.(*mcp.ProtocolError)
		if !ok {
			perr = mcp.NewProtocolError(mcp.CodeParseError, "malformed message")
		}
		entry := g.traffic.RecordParseFailure(mcp.Inbound, raw, sessionID, perr.Message)
		g.logger.Warn("rejected malformed message",
			"session_id", sessionID, "code", perr.Code, "detail", perr.Message)

		body := encodeOrFallback(mcp.NewError(perr.Code, perr.Message, mcp.RawID(raw), nil))
		return &Result{Body: body, Malformed: true, Findings: entry.Findings}
	}

	inbound := g.traffic.Record(mcp.Inbound, raw, sessionID, "")

	// Closed method registry: anything outside it is answered locally
	// rather than forwarded to a challenge backend.
	if msg.IsRequest() && !mcp.IsKnownMethod(msg.Method) {
		return g.respondLocally(msg, inbound, sessionID,
			mcp.NewError(mcp.CodeMethodNotFound, "Method not found", msg.ID, msg.Method))
	}

	// Serialize in-flight calls per session; the backend round-trip happens
	// under this lock so response order matches acceptance order.
	unlock := g.lockSession(sessionID)
	defer unlock()

	result := g.router.Route(ctx, msg, sessionID)

	g.traffic.Record(mcp.Outbound, result.Body, sessionID, inbound.ID)
	g.sessions.Touch(sessionID)

	out := &Result{
		Notification: msg.IsNotification(),
		Delivered:    result.Delivered,
		Method:       msg.Method,
		Findings:     inbound.Findings,
	}
	if !out.Notification {
		out.Body = result.Body
	}
	return out
}

// respondLocally answers a message from the gateway itself, still logging
// the outbound envelope and touching the session.
func (g *GatewayService) respondLocally(msg *mcp.Message, inbound *traffic.Entry, sessionID string, response *mcp.Message) *Result {
	out := &Result{
		Notification: msg.IsNotification(),
		Method:       msg.Method,
		Findings:     inbound.Findings,
	}

	body := encodeOrFallback(response)
	g.traffic.Record(mcp.Outbound, body, sessionID, inbound.ID)
	g.sessions.Touch(sessionID)

	if !out.Notification {
		out.Body = body
	}
	return out
}

// SessionSummary is the per-session block in a status snapshot.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	ChallengeID  string    `json:"challenge_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActive   time.Time `json:"last_active"`
	MessageCount int64     `json:"message_count"`
}

// Status is the full diagnostic snapshot served by GET /status.
type Status struct {
	Sessions struct {
		ActiveCount int              `json:"active_count"`
		Swept       int              `json:"swept"`
		Sessions    []SessionSummary `json:"sessions"`
	} `json:"sessions"`
	Routing routing.Info  `json:"routing"`
	Traffic traffic.Stats `json:"traffic"`
}

// Health is the cheap liveness snapshot served by GET /health.
// It never makes a network call to the backend.
type Health struct {
	Status          string `json:"status"`
	Service         string `json:"service"`
	ActiveSessions  int    `json:"active_sessions"`
	ActiveChallenge string `json:"active_challenge,omitempty"`
	ActiveBackend   string `json:"active_backend,omitempty"`
}

// StatusSnapshot sweeps idle sessions opportunistically and returns the
// full diagnostic snapshot.
func (g *GatewayService) StatusSnapshot() Status {
	swept := g.sweep()

	var st Status
	st.Sessions.Swept = swept
	st.Sessions.ActiveCount = g.sessions.Count()
	for _, s := range g.sessions.Snapshot() {
		st.Sessions.Sessions = append(st.Sessions.Sessions, SessionSummary{
			SessionID:    s.ID,
			ChallengeID:  s.ChallengeID,
			CreatedAt:    s.CreatedAt,
			LastActive:   s.LastActive,
			MessageCount: s.MessageCount,
		})
	}
	st.Routing = g.router.Info()
	st.Traffic = g.traffic.Stats()
	return st
}

// HealthSnapshot sweeps idle sessions opportunistically and reports gateway
// liveness plus the active backend address.
func (g *GatewayService) HealthSnapshot() Health {
	g.sweep()

	h := Health{
		Status:         "healthy",
		Service:        "arena-gateway",
		ActiveSessions: g.sessions.Count(),
	}
	info := g.router.Info()
	h.ActiveChallenge = info.ActiveChallenge
	h.ActiveBackend = info.ActiveBackend
	return h
}

// sweep removes idle sessions and their ordering locks.
func (g *GatewayService) sweep() int {
	removed := g.sessions.Sweep(time.Now())
	if removed > 0 {
		g.logger.Debug("swept idle sessions", "count", removed)
	}

	g.sessionLocks.Range(func(key, _ any) bool {
		if _, err := g.sessions.Get(key.(string)); err != nil {
			g.sessionLocks.Delete(key)
		}
		return true
	})
	return removed
}

func (g *GatewayService) lockSession(sessionID string) func() {
	actual, _ := g.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := actual.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func encodeOrFallback(msg *mcp.Message) []byte {
	data, err := mcp.Encode(msg)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","error":{"code":-32603,"message":"Internal error"},"id":null}`)
	}
	return data
}
