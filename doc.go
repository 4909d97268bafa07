// Package unimcp is a client core for the Model Context Protocol: it
// connects a program to any number of MCP servers, local or remote,
// through one uniform surface.
//
// # Overview
//
// The module consists of several sub-packages:
//
//   - pkg/registry: static table of known servers and their descriptors
//   - pkg/transport: the two session variants (stdio child process,
//     HTTP endpoint) behind one shared contract
//   - pkg/client: the MCP lifecycle over one session — handshake,
//     tool operations, result normalization
//   - pkg/manager: at-most-one live session per server, with shared
//     in-flight creation and eviction on transport death
//   - pkg/protocol: JSON-RPC 2.0 envelopes and MCP message types
//   - pkg/errors: the structured error taxonomy
//   - pkg/logging: structured leveled logging
//   - pkg/observability: optional Prometheus metrics and OpenTelemetry
//     tracing
//
// # Calling a tool
//
//	import (
//	    "context"
//
//	    "github.com/unimcp/unimcp"
//	    "github.com/unimcp/unimcp/pkg/registry"
//	)
//
//	func main() {
//	    descriptors := []registry.ServerDescriptor{
//	        {ID: "files", Kind: registry.KindStdio, Command: "mcp-files"},
//	        {ID: "search", Kind: registry.KindHTTP, Endpoint: "https://example.com/mcp",
//	            Headers: map[string]string{"Authorization": "Bearer ..."}},
//	    }
//
//	    m, err := unimcp.NewDefault(descriptors)
//	    if err != nil {
//	        // Handle error
//	    }
//	    defer m.Close(context.Background())
//
//	    value, err := m.CallTool(context.Background(), "files", "read_file",
//	        map[string]interface{}{"path": "notes.txt"})
//	    // ...
//	}
//
// Sessions are created lazily on first use. Concurrent first calls for
// the same server share a single connect and handshake, and a session
// whose process dies is evicted so the next call relaunches it.
package unimcp
