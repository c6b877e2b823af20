package mcp

// ProtocolVersion is the MCP protocol version this gateway speaks.
const ProtocolVersion = "2025-11-25"

// FallbackProtocolVersion is accepted for backwards compatibility and
// assumed when a client sends no version header at all.
const FallbackProtocolVersion = "2025-03-26"

// SessionIDHeader is the transport header carrying the session token.
const SessionIDHeader = "Mcp-Session-Id"

// ProtocolVersionHeader is the transport header carrying the protocol version.
const ProtocolVersionHeader = "MCP-Protocol-Version"

// NegotiateVersion validates a declared protocol version header value.
// An empty header is compatible: the fallback version is assumed and the
// request proceeds. A declared version must be one of the supported set.
func NegotiateVersion(header string) (version string, ok bool) {
	switch header {
	case "":
		return FallbackProtocolVersion, true
	case ProtocolVersion, FallbackProtocolVersion:
		return header, true
	default:
		return "", false
	}
}
