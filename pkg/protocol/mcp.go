package protocol

const (
	// ProtocolRevision is the protocol version negotiated during initialize
	ProtocolRevision = "2025-03-26"

	// Methods for lifecycle management
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"

	// Methods for server features
	MethodListTools = "tools/list"
	MethodCallTool  = "tools/call"

	// Methods for utilities
	MethodPing = "ping"
)

// InitializeParams defines the parameters for the initialize request
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    Capabilities   `json:"capabilities"`
	ClientInfo      Implementation `json:"clientInfo"`
}

// Implementation identifies a client or server by name and version.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities is the capability set advertised during initialize. The
// negotiated value is recorded opaquely; this client asserts nothing
// about specific server features beyond tools.
type Capabilities struct {
	Tools    *ToolsCapability       `json:"tools,omitempty"`
	Roots    map[string]interface{} `json:"roots,omitempty"`
	Sampling map[string]interface{} `json:"sampling,omitempty"`
	Extra    map[string]interface{} `json:"-"`
}

// ToolsCapability describes tool-related capability flags.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// InitializeResult defines the response for the initialize request
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    Capabilities   `json:"capabilities"`
	ServerInfo      Implementation `json:"serverInfo"`
	Instructions    string         `json:"instructions,omitempty"`
}

// InitializedParams is sent as a notification once the client is ready
type InitializedParams struct {
	// Intentionally empty as per specification
}

// PingParams defines parameters for the ping request
type PingParams struct{}

// PingResult is the response for ping; the protocol defines it as an
// empty object.
type PingResult struct{}
