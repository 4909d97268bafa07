package errors

import (
	"fmt"
	"time"
)

// UnknownServer creates a configuration error for a server id that is
// not present in the registry. Produced before any I/O is attempted.
func UnknownServer(serverID string) MCPError {
	return NewError(
		CodeUnknownServer,
		fmt.Sprintf("unknown server %q", serverID),
		CategoryConfiguration,
		SeverityError,
	).WithContext(&Context{ServerID: serverID, Operation: "lookup"})
}

// InvalidDescriptor creates a configuration error for a descriptor
// missing a required field.
func InvalidDescriptor(serverID, reason string) MCPError {
	return NewError(
		CodeInvalidDescriptor,
		fmt.Sprintf("invalid descriptor for %q: %s", serverID, reason),
		CategoryConfiguration,
		SeverityError,
	).WithContext(&Context{ServerID: serverID, Operation: "validate"})
}

// ConnectionFailed creates an error for a connection that never came up:
// a process that failed to launch or an endpoint that refused.
func ConnectionFailed(transport, target string, cause error) MCPError {
	message := fmt.Sprintf("failed to connect via %s", transport)
	if target != "" {
		message = fmt.Sprintf("failed to connect to %s via %s", target, transport)
	}
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}
	return WrapError(cause, CodeConnectionFailed, message, CategoryTransport, SeverityCritical)
}

// ConnectionClosed creates an error for calls that were pending when the
// underlying transport died or was torn down. Every sibling pending call
// on the session fails with this same error.
func ConnectionClosed(transport string, cause error) MCPError {
	message := fmt.Sprintf("%s connection closed", transport)
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}
	return WrapError(cause, CodeConnectionClosed, message, CategoryTransport, SeverityError)
}

// StdioTransportError creates an error for stdio transport I/O failures
func StdioTransportError(operation string, cause error) MCPError {
	message := fmt.Sprintf("stdio transport error during %s", operation)
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}
	return WrapError(cause, CodeTransportError, message, CategoryTransport, SeverityError)
}

// HTTPStatusError creates a protocol error for a non-2xx HTTP response.
// The transport is still healthy, so the session is not evicted.
func HTTPStatusError(endpoint string, statusCode int, status string) MCPError {
	return NewError(
		CodeProtocolError,
		fmt.Sprintf("http %d from %s: %s", statusCode, endpoint, status),
		CategoryProtocol,
		SeverityError,
	)
}

// RPCError wraps a JSON-RPC error object from a response, preserving the
// server-provided code and message.
func RPCError(code int, message string, cause error) MCPError {
	return WrapError(cause, code, message, CategoryProtocol, SeverityError)
}

// MalformedMessage creates a protocol error for an inbound payload that
// could not be decoded. On the stdio transport these are logged and
// dropped rather than surfaced.
func MalformedMessage(transport string, cause error) MCPError {
	message := fmt.Sprintf("malformed message on %s transport", transport)
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}
	return WrapError(cause, CodeParseError, message, CategoryProtocol, SeverityWarning)
}

// CallTimeout creates a timeout error for a call whose deadline elapsed.
func CallTimeout(method string, timeout time.Duration) MCPError {
	return NewError(
		CodeOperationTimeout,
		fmt.Sprintf("%s timed out after %v", method, timeout),
		CategoryTimeout,
		SeverityError,
	).WithContext(&Context{Method: method, Operation: "wait_response"})
}
