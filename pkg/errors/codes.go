package errors

// JSON-RPC 2.0 Standard Error Codes
const (
	// CodeParseError indicates invalid JSON was received
	CodeParseError int = -32700

	// CodeInvalidRequest indicates the JSON sent is not a valid Request object
	CodeInvalidRequest int = -32600

	// CodeMethodNotFound indicates the method does not exist / is not available
	CodeMethodNotFound int = -32601

	// CodeInvalidParams indicates invalid method parameter(s)
	CodeInvalidParams int = -32602

	// CodeInternalError indicates internal JSON-RPC error
	CodeInternalError int = -32603
)

// Client-side error codes, in the JSON-RPC implementation-defined range
const (
	// Configuration errors (-32000 to -32099)
	CodeUnknownServer     int = -32000 // Server id not present in the registry
	CodeInvalidDescriptor int = -32001 // Descriptor missing a required field

	// Operation errors (-32300 to -32399)
	CodeOperationTimeout int = -32301 // Call deadline elapsed

	// Transport errors (-32500 to -32599)
	CodeTransportError   int = -32500 // Generic transport error
	CodeConnectionFailed int = -32501 // Failed to establish connection
	CodeConnectionClosed int = -32502 // Connection closed with calls pending

	// Protocol errors (-32900 to -32999)
	CodeProtocolError int = -32900 // Malformed or unexpected wire traffic
)
