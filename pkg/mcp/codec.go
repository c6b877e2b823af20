package mcp

import (
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC schema tag carried by every envelope.
const Version = "2.0"

// JSON-RPC 2.0 standard error codes.
// https://www.jsonrpc.org/specification#error_object
const (
	// CodeParseError indicates invalid JSON was received.
	CodeParseError = -32700
	// CodeInvalidRequest indicates the JSON is not a valid Request object.
	CodeInvalidRequest = -32600
	// CodeMethodNotFound indicates the method does not exist or is not available.
	CodeMethodNotFound = -32601
	// CodeInvalidParams indicates invalid method parameters.
	CodeInvalidParams = -32602
	// CodeInternalError indicates an internal JSON-RPC error.
	CodeInternalError = -32603
)

// Gateway-specific error codes in the JSON-RPC server error range.
// Distinct codes let clients branch on cause: a malformed message is not
// the same failure as a backend that is gone.
const (
	// CodeNoActiveBackend means no challenge backend is registered.
	CodeNoActiveBackend = -32001
	// CodeBackendStatus means the backend answered with a non-success HTTP status.
	CodeBackendStatus = -32002
	// CodeBackendUnreachable means the backend could not be contacted.
	CodeBackendUnreachable = -32003
	// CodeBackendTimeout means the backend did not answer within the deadline.
	CodeBackendTimeout = -32004
)

// ProtocolError is a validation or routing failure with a JSON-RPC error code.
// The Message field is safe for the client: no internal details.
type ProtocolError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

// NewProtocolError creates a ProtocolError with the given code and message.
func NewProtocolError(code int, message string) *ProtocolError {
	return &ProtocolError{Code: code, Message: message}
}

// NewSuccess constructs a well-formed success response carrying the given
// result and the identifier of the request being answered.
func NewSuccess(result any, id json.RawMessage) *Message {
	raw, err := json.Marshal(result)
	if err != nil {
		// Result values are gateway-constructed; a marshal failure is a bug.
		raw = json.RawMessage(`null`)
	}
	return &Message{
		JSONRPC: Version,
		Result:  raw,
		ID:      normalizeID(id),
	}
}

// NewError constructs a well-formed error response. The original request
// identifier is echoed back when one could be recovered, else null.
// data carries optional diagnostic detail and may be nil.
func NewError(code int, message string, id json.RawMessage, data any) *Message {
	obj := &ErrorObject{Code: code, Message: message}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			obj.Data = raw
		}
	}
	return &Message{
		JSONRPC: Version,
		Error:   obj,
		ID:      normalizeID(id),
	}
}

// Encode serializes a message to its wire format.
func Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

// normalizeID maps an absent identifier to an explicit null so that error
// and success responses always carry an id field.
func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage(`null`)
	}
	return id
}
