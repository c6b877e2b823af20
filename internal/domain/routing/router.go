package routing

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/arena-labs/arena-gateway/pkg/mcp"
)

const (
	// DefaultBackendTimeout is the outbound request timeout. Not retried:
	// a timeout surfaces as CodeBackendTimeout and retry is the caller's call.
	DefaultBackendTimeout = 30 * time.Second
	// DefaultHealthTimeout bounds the best-effort health probe.
	DefaultHealthTimeout = 5 * time.Second
	// DefaultMessagePath is the backend's message endpoint.
	DefaultMessagePath = "/mcp"
	// DefaultHealthPath is the backend's health endpoint.
	DefaultHealthPath = "/health"

	// maxResponseBodySize caps the response body read from a backend.
	// An intentionally vulnerable backend is exactly the kind of peer that
	// might send unbounded output.
	maxResponseBodySize = 10 * 1024 * 1024 // 10MB

	// statusBodyLimit bounds the diagnostic body excerpt carried in a
	// backend-status error.
	statusBodyLimit = 500
)

// Router forwards validated messages to the single active backend and maps
// client sessions to backend sessions. The session map is not cleared when
// the active backend changes: a stale mapping is simply unused until
// overwritten or the client session expires.
type Router struct {
	mu         sync.RWMutex
	active     string            // active challenge id, "" when none
	backends   map[string]string // challenge id -> backend address
	sessionMap map[string]string // client session id -> backend session id

	client        *http.Client
	messagePath   string
	healthPath    string
	healthTimeout time.Duration
	store         RegistrationStore
	logger        *slog.Logger
	tracer        trace.Tracer
}

// Option is a functional option for configuring the Router.
type Option func(*Router)

// WithHTTPClient sets a custom HTTP client for backend calls.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Router) {
		r.client = client
	}
}

// WithTimeout sets the backend request timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Router) {
		r.client.Timeout = d
	}
}

// WithMessagePath sets the backend message endpoint path.
func WithMessagePath(path string) Option {
	return func(r *Router) {
		r.messagePath = path
	}
}

// WithHealthPath sets the backend health endpoint path.
func WithHealthPath(path string) Option {
	return func(r *Router) {
		r.healthPath = path
	}
}

// WithHealthTimeout sets the health probe timeout.
func WithHealthTimeout(d time.Duration) Option {
	return func(r *Router) {
		r.healthTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithStore enables persistence of the active registration. A stored
// registration is adopted at construction so an operator-restarted gateway
// keeps routing without a fresh register call.
func WithStore(store RegistrationStore) Option {
	return func(r *Router) {
		r.store = store
	}
}

// NewRouter creates a Router with no active backend.
func NewRouter(opts ...Option) *Router {
	r := &Router{
		backends:   make(map[string]string),
		sessionMap: make(map[string]string),
		client: &http.Client{
			Timeout: DefaultBackendTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		messagePath:   DefaultMessagePath,
		healthPath:    DefaultHealthPath,
		healthTimeout: DefaultHealthTimeout,
		logger:        slog.Default(),
		tracer:        otel.Tracer("arena-gateway/routing"),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.store != nil {
		if reg, err := r.store.Load(); err != nil {
			r.logger.Warn("failed to load persisted registration", "error", err)
		} else if reg != nil {
			r.active = reg.ChallengeID
			r.backends[reg.ChallengeID] = reg.Address
			r.logger.Info("restored backend registration",
				"challenge_id", reg.ChallengeID, "backend", reg.Address)
		}
	}

	return r
}

// Register sets the given challenge as the single active backend, replacing
// any previous registration. Existing session mappings are kept.
func (r *Router) Register(challengeID, address string) {
	r.mu.Lock()
	r.active = challengeID
	r.backends[challengeID] = address
	r.mu.Unlock()

	r.persist(&Registration{
		ChallengeID: challengeID,
		Address:     address,
		UpdatedAt:   time.Now().UTC(),
	})
	r.logger.Info("registered backend", "challenge_id", challengeID, "backend", address)
}

// Unregister removes a backend. The active slot is cleared only if the
// given challenge is currently active.
func (r *Router) Unregister(challengeID string) bool {
	r.mu.Lock()
	_, ok := r.backends[challengeID]
	wasActive := ok && r.active == challengeID
	if ok {
		delete(r.backends, challengeID)
		if wasActive {
			r.active = ""
		}
	}
	r.mu.Unlock()

	if wasActive {
		r.persist(nil)
	}
	return ok
}

// ActiveBackend returns the address of the active backend, if any.
func (r *Router) ActiveBackend() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == "" {
		return "", false
	}
	addr, ok := r.backends[r.active]
	return addr, ok
}

// BackendSession returns the backend session mapped to a client session.
func (r *Router) BackendSession(clientSessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.sessionMap[clientSessionID]
	return id, ok
}

// Info returns the current routing configuration.
func (r *Router) Info() Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	backends := make(map[string]string, len(r.backends))
	for id, addr := range r.backends {
		backends[id] = addr
	}
	info := Info{
		ActiveChallenge:    r.active,
		RegisteredBackends: backends,
		BackendCount:       len(backends),
		SessionMappings:    len(r.sessionMap),
	}
	if r.active != "" {
		info.ActiveBackend = backends[r.active]
	}
	return info
}

// Route forwards a message to the active backend's message endpoint and
// translates transport outcomes into protocol errors. The message body is
// forwarded unchanged; only headers are added.
func (r *Router) Route(ctx context.Context, msg *mcp.Message, clientSessionID string) *Result {
	addr, ok := r.ActiveBackend()
	if !ok {
		return r.errorResult(mcp.NewError(
			mcp.CodeNoActiveBackend,
			"No active challenge backend",
			msg.ID,
			"Deploy a challenge first using arena deploy",
		))
	}

	ctx, span := r.tracer.Start(ctx, "route.forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.method", msg.Method),
			attribute.String("backend.address", addr),
		))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+r.messagePath, bytes.NewReader(msg.Raw))
	if err != nil {
		return r.errorResult(mcp.NewError(
			mcp.CodeInternalError, "Internal routing error", msg.ID, err.Error()))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(mcp.ProtocolVersionHeader, mcp.ProtocolVersion)

	// Initialization calls go session-less so the backend may mint its own
	// session. Everything else carries the mapped backend session, if one
	// exists for this client.
	if mcp.Method(msg.Method) != mcp.MethodInitialize && clientSessionID != "" {
		if backendSession, ok := r.BackendSession(clientSessionID); ok {
			req.Header.Set(mcp.SessionIDHeader, backendSession)
		}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return r.errorResult(r.translateTransportError(err, addr, msg))
	}
	defer func() { _ = resp.Body.Close() }()

	backendSessionID := resp.Header.Get(mcp.SessionIDHeader)
	if backendSessionID != "" && clientSessionID != "" {
		r.mu.Lock()
		r.sessionMap[clientSessionID] = backendSessionID
		r.mu.Unlock()
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return r.errorResult(mcp.NewError(
			mcp.CodeInternalError, "Internal routing error", msg.ID, "failed to read backend response"))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		span.SetAttributes(attribute.Int("backend.status", resp.StatusCode))
		excerpt := body
		if len(excerpt) > statusBodyLimit {
			excerpt = excerpt[:statusBodyLimit]
		}
		return &Result{
			Body: mustEncode(mcp.NewError(
				mcp.CodeBackendStatus,
				"Backend server error: HTTP "+strconv.Itoa(resp.StatusCode),
				msg.ID,
				string(excerpt),
			)),
			BackendSessionID: backendSessionID,
		}
	}

	// Servers encoding with json.Encoder append a trailing newline.
	body = bytes.TrimRight(body, "\n")

	return &Result{
		Delivered:        true,
		Body:             body,
		BackendSessionID: backendSessionID,
	}
}

// translateTransportError maps a failed backend call to a protocol error.
// Timeouts and connection failures get distinct codes so clients can branch
// on cause.
func (r *Router) translateTransportError(err error, addr string, msg *mcp.Message) *mcp.Message {
	var urlErr *url.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &urlErr) && urlErr.Timeout():
		return mcp.NewError(
			mcp.CodeBackendTimeout,
			"Backend server timeout",
			msg.ID,
			"Backend server took too long to respond",
		)
	case urlErr != nil:
		return mcp.NewError(
			mcp.CodeBackendUnreachable,
			"Cannot connect to backend server",
			msg.ID,
			fmt.Sprintf("Backend at %s is not responding. Is it running?", addr),
		)
	default:
		return mcp.NewError(mcp.CodeInternalError, "Internal routing error", msg.ID, err.Error())
	}
}

// HealthCheck probes a backend's health endpoint with a short timeout.
// Best-effort: the result distinguishes unreachable, timed out, and
// responded-but-unhealthy.
func (r *Router) HealthCheck(ctx context.Context, address string) (HealthStatus, string) {
	ctx, cancel := context.WithTimeout(ctx, r.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address+r.healthPath, nil)
	if err != nil {
		return HealthUnreachable, fmt.Sprintf("invalid backend address: %v", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &urlErr) && urlErr.Timeout()) {
			return HealthTimeout, "backend health check timed out"
		}
		return HealthUnreachable, fmt.Sprintf("cannot connect to %s", address)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return HealthUnhealthy, "backend returned HTTP " + strconv.Itoa(resp.StatusCode)
	}
	return HealthOK, "backend server is healthy"
}

func (r *Router) errorResult(msg *mcp.Message) *Result {
	return &Result{Body: mustEncode(msg)}
}

func (r *Router) persist(reg *Registration) {
	if r.store == nil {
		return
	}
	if err := r.store.Save(reg); err != nil {
		r.logger.Warn("failed to persist registration", "error", err)
	}
}

func mustEncode(msg *mcp.Message) []byte {
	data, err := mcp.Encode(msg)
	if err != nil {
		// Gateway-constructed envelopes always marshal.
		return []byte(`{"jsonrpc":"2.0","error":{"code":-32603,"message":"Internal error"},"id":null}`)
	}
	return data
}
