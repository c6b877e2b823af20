// Package mcp provides MCP message types and JSON-RPC codec utilities
// for the arena gateway.
package mcp

import (
	"bytes"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Direction indicates the flow direction of a message through the gateway.
type Direction int

const (
	// Inbound indicates a message flowing from the client into the gateway.
	Inbound Direction = iota
	// Outbound indicates a message flowing from the gateway back to the client.
	Outbound
)

// String returns the string representation of the Direction.
func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// Message is a JSON-RPC 2.0 envelope.
//
// Exactly one of two shapes is valid: a request (Method set, ID optional;
// a request without an ID is a notification) or a response (Result or Error
// set, ID required). The raw ID is preserved as json.RawMessage so that
// string, number and null identifiers round-trip byte-for-byte.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`

	// Raw contains the original bytes of the message, used for passthrough
	// to the backend. Nil for messages constructed by the gateway.
	Raw []byte `json:"-"`

	// Decoded is the SDK view of the message, either *jsonrpc.Request or
	// *jsonrpc.Response. Set by Parse.
	Decoded jsonrpc.Message `json:"-"`
}

// ErrorObject is a JSON-RPC 2.0 error object.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// IsRequest returns true for requests and notifications.
func (m *Message) IsRequest() bool {
	return m.Method != ""
}

// IsNotification returns true for requests that carry no identifier.
// Notifications never receive a response body.
func (m *Message) IsNotification() bool {
	return m.Method != "" && m.ID == nil
}

// IsResponse returns true for result or error responses.
func (m *Message) IsResponse() bool {
	return m.Method == "" && (m.Result != nil || m.Error != nil)
}

// IsError returns true if the message is an error response.
func (m *Message) IsError() bool {
	return m.Error != nil
}

// Request returns the underlying SDK request if this is a request message.
func (m *Message) Request() *jsonrpc.Request {
	req, _ := m.Decoded.(*jsonrpc.Request)
	return req
}

// Response returns the underlying SDK response if this is a response message.
func (m *Message) Response() *jsonrpc.Response {
	resp, _ := m.Decoded.(*jsonrpc.Response)
	return resp
}

// Parse deserializes and validates a raw JSON-RPC message.
//
// Validation failures are returned as *ProtocolError: CodeParseError for
// malformed JSON, CodeInvalidRequest for envelope violations. The original
// request identifier, when one could be recovered from the raw bytes, is
// available via RawID so callers can echo it in the error response.
func Parse(raw []byte) (*Message, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, NewProtocolError(CodeParseError, "empty message body")
	}
	if !json.Valid(raw) {
		return nil, NewProtocolError(CodeParseError, "invalid JSON")
	}

	// Field-presence probe. json.RawMessage distinguishes an absent id from
	// an explicit null, which decides request vs notification.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, NewProtocolError(CodeInvalidRequest, "message must be a JSON object")
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, NewProtocolError(CodeInvalidRequest, "malformed JSON-RPC envelope")
	}
	msg.Raw = raw

	if msg.JSONRPC != Version {
		return nil, NewProtocolError(CodeInvalidRequest, `jsonrpc field must be "2.0"`)
	}

	_, hasMethod := fields["method"]
	_, hasResult := fields["result"]
	_, hasError := fields["error"]
	_, hasID := fields["id"]

	switch {
	case hasMethod:
		if msg.Method == "" {
			return nil, NewProtocolError(CodeInvalidRequest, "method must be a non-empty string")
		}
		if hasResult || hasError {
			return nil, NewProtocolError(CodeInvalidRequest, "request must not carry result or error")
		}
	case hasResult || hasError:
		if hasResult && hasError {
			return nil, NewProtocolError(CodeInvalidRequest, "response must carry result or error, not both")
		}
		if !hasID {
			return nil, NewProtocolError(CodeInvalidRequest, "response must carry an id")
		}
	default:
		return nil, NewProtocolError(CodeInvalidRequest, "message must be a request, notification or response")
	}

	decoded, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		return nil, NewProtocolError(CodeInvalidRequest, "malformed JSON-RPC envelope")
	}
	msg.Decoded = decoded

	return &msg, nil
}

// RawID extracts the request identifier from raw message bytes, preserving
// its original form (string, number or null). Returns nil if the bytes are
// not a JSON object or carry no id field.
func RawID(raw []byte) json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	return fields["id"]
}
