// Package routing owns the registry of challenge backends and is the only
// place backend failures are translated into protocol errors.
package routing

import (
	"encoding/json"
	"time"
)

// Registration binds a challenge to its backend address. At most one
// registration is active at a time: this is a single-active-backend
// gateway, not a multi-tenant proxy.
type Registration struct {
	// ChallengeID identifies the challenge (e.g. "mcp-level-01-token-exposure").
	ChallengeID string `json:"challenge_id"`
	// Address is the backend base URL (e.g. "http://localhost:9001").
	Address string `json:"backend_address"`
	// UpdatedAt is when this registration was made (UTC).
	UpdatedAt time.Time `json:"updated_at"`
}

// RegistrationStore persists the active registration across gateway
// restarts. Interface owned by the domain; the state file adapter
// implements it. Saving nil clears the stored registration.
type RegistrationStore interface {
	Load() (*Registration, error)
	Save(reg *Registration) error
}

// Result is the outcome of routing one message.
type Result struct {
	// Delivered is true when the backend answered with a success status.
	// False means Body carries a gateway-constructed protocol error.
	Delivered bool
	// Body is the response to hand back to the client: the backend's
	// response unchanged, or an error envelope.
	Body json.RawMessage
	// BackendSessionID is the session identifier the backend emitted on
	// this exchange, if any.
	BackendSessionID string
}

// Info describes the current routing configuration, for diagnostics.
type Info struct {
	ActiveChallenge    string            `json:"active_challenge,omitempty"`
	ActiveBackend      string            `json:"active_backend,omitempty"`
	RegisteredBackends map[string]string `json:"registered_backends"`
	BackendCount       int               `json:"backend_count"`
	SessionMappings    int               `json:"session_mappings"`
}

// HealthStatus classifies a backend health probe outcome.
type HealthStatus string

const (
	// HealthOK means the backend answered the probe with success.
	HealthOK HealthStatus = "healthy"
	// HealthUnreachable means the backend could not be contacted.
	HealthUnreachable HealthStatus = "unreachable"
	// HealthTimeout means the probe timed out.
	HealthTimeout HealthStatus = "timeout"
	// HealthUnhealthy means the backend responded but is not ready.
	HealthUnhealthy HealthStatus = "unhealthy"
)
