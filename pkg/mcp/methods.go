package mcp

// Method is an MCP method tag. The gateway dispatches on a closed set of
// typed constants rather than open-ended string matching.
type Method string

// Methods with gateway-visible semantics.
const (
	// MethodInitialize establishes a backend session. The gateway forwards
	// it session-less so the backend may mint its own session identifier.
	MethodInitialize Method = "initialize"
	// MethodPing is the protocol-level liveness probe.
	MethodPing Method = "ping"
)

// knownMethods is the MCP 2025-11-25 method registry. Methods outside this
// set are answered locally with CodeMethodNotFound instead of being
// forwarded to a challenge backend.
var knownMethods = map[Method]bool{
	// Lifecycle
	MethodInitialize:            true,
	MethodPing:                  true,
	"initialized":               true,
	"notifications/initialized": true,

	// Tools
	"tools/list": true,
	"tools/call": true,

	// Resources
	"resources/list": true,
	"resources/read": true,

	// Prompts
	"prompts/list": true,
	"prompts/get":  true,

	// Completion
	"completion/complete": true,

	// Logging
	"logging/setLevel": true,

	// Notifications
	"notifications/cancelled":              true,
	"notifications/progress":               true,
	"notifications/message":                true,
	"notifications/resources/updated":      true,
	"notifications/resources/list_changed": true,
	"notifications/tools/list_changed":     true,
	"notifications/prompts/list_changed":   true,

	// Sampling (client feature)
	"sampling/createMessage": true,

	// Roots (client feature)
	"roots/list":                       true,
	"notifications/roots/list_changed": true,
}

// IsKnownMethod reports whether the method is in the MCP method registry.
// Method names are case-sensitive.
func IsKnownMethod(method string) bool {
	return knownMethods[Method(method)]
}
