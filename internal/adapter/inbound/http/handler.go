package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arena-labs/arena-gateway/internal/service"
	"github.com/arena-labs/arena-gateway/pkg/mcp"
)

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// defaultKeepaliveInterval is how often the SSE stream emits a heartbeat.
const defaultKeepaliveInterval = 30 * time.Second

// defaultTrafficLimit caps GET /traffic responses when no limit is given.
const defaultTrafficLimit = 50

// Handler serves the gateway's client-facing endpoints.
type Handler struct {
	gateway   *service.GatewayService
	metrics   *Metrics
	keepalive time.Duration
}

// NewHandler creates a handler around the gateway service. metrics may be
// nil, in which case no message metrics are recorded.
func NewHandler(gateway *service.GatewayService, metrics *Metrics, keepalive time.Duration) *Handler {
	if keepalive <= 0 {
		keepalive = defaultKeepaliveInterval
	}
	return &Handler{gateway: gateway, metrics: metrics, keepalive: keepalive}
}

// handleMessage processes one JSON-RPC message: POST /message.
func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
		writeEnvelope(w, http.StatusBadRequest,
			mcp.NewError(mcp.CodeParseError, "Parse error: content type must be application/json", nil, nil))
		return
	}

	version, ok := mcp.NegotiateVersion(r.Header.Get(mcp.ProtocolVersionHeader))
	if !ok {
		writeEnvelope(w, http.StatusBadRequest,
			mcp.NewError(mcp.CodeInvalidRequest, "Invalid Request: unsupported protocol version", nil, nil))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() { _ = r.Body.Close() }()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeEnvelope(w, http.StatusBadRequest,
				mcp.NewError(mcp.CodeParseError, "Parse error: request body too large (max 1MB)", nil, nil))
			return
		}
		writeEnvelope(w, http.StatusBadRequest,
			mcp.NewError(mcp.CodeParseError, "Parse error: failed to read request body", nil, nil))
		return
	}
	if len(body) == 0 {
		writeEnvelope(w, http.StatusBadRequest,
			mcp.NewError(mcp.CodeParseError, "Parse error: empty request body", nil, nil))
		return
	}

	sess, created := h.gateway.ResolveSession(r.Header.Get(mcp.SessionIDHeader))
	if created {
		LoggerFromContext(r.Context()).Info("new client session", "session_id", sess.ID)
	}

	res := h.gateway.Process(r.Context(), body, sess.ID)
	h.recordMessage(res)

	w.Header().Set(mcp.ProtocolVersionHeader, version)
	w.Header().Set(mcp.SessionIDHeader, sess.ID)

	if res.Malformed {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write(res.Body)
		return
	}

	if res.Notification {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Body)
}

// recordMessage updates message-level metrics from a processing result.
func (h *Handler) recordMessage(res *service.Result) {
	if h.metrics == nil {
		return
	}

	outcome := "delivered"
	switch {
	case res.Malformed:
		outcome = "malformed"
	case !res.Delivered:
		outcome = "local_error"
	}
	h.metrics.MessagesTotal.WithLabelValues(outcome).Inc()

	for _, f := range res.Findings {
		h.metrics.FindingsTotal.WithLabelValues(f.RuleName).Inc()
	}

	if !res.Delivered && !res.Malformed && len(res.Body) > 0 {
		if resp, err := mcp.Parse(res.Body); err == nil && resp.IsError() {
			h.metrics.BackendErrorsTotal.WithLabelValues(strconv.Itoa(resp.Error.Code)).Inc()
		}
	}
}

// handleStream opens the SSE keep-alive stream: GET /stream.
// The stream holds the connection open and emits heartbeat comments so the
// client's session stays alive without message traffic.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	sessionID := r.Header.Get(mcp.SessionIDHeader)
	if sessionID == "" {
		http.Error(w, "Mcp-Session-Id header required for SSE", http.StatusBadRequest)
		return
	}
	if _, err := h.gateway.Sessions().Get(sessionID); err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(mcp.ProtocolVersionHeader, mcp.ProtocolVersion)
	w.Header().Set(mcp.SessionIDHeader, sessionID)

	_, _ = fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Each heartbeat counts as session activity.
			if !h.gateway.Sessions().Touch(sessionID) {
				return
			}
			_, _ = fmt.Fprintf(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

// handleHealth reports gateway liveness: GET /health.
// Never probes the backend; a dead challenge must not take the gateway's
// health endpoint down with it.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gateway.HealthSnapshot())
}

// handleStatus serves the full diagnostic snapshot: GET /status.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gateway.StatusSnapshot())
}

// handleTraffic serves recent traffic entries, newest first: GET /traffic.
func (h *Handler) handleTraffic(w http.ResponseWriter, r *http.Request) {
	limit := defaultTrafficLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries := h.gateway.Traffic().Recent(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(entries),
		"entries": entries,
	})
}

// writeEnvelope writes a gateway-constructed protocol message with the
// given HTTP status.
func writeEnvelope(w http.ResponseWriter, status int, msg *mcp.Message) {
	data, err := mcp.Encode(msg)
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
