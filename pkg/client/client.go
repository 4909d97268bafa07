// Package client wraps one transport session with the MCP lifecycle:
// the initialize handshake, typed tool operations, and result
// normalization. A Client is bound to exactly one server session for
// its whole life; pooling across servers lives in pkg/manager.
package client

import (
	"context"
	"encoding/json"
	"sync"

	"golang.org/x/sync/singleflight"

	mcperrors "github.com/unimcp/unimcp/pkg/errors"
	"github.com/unimcp/unimcp/pkg/logging"
	"github.com/unimcp/unimcp/pkg/protocol"
	"github.com/unimcp/unimcp/pkg/transport"
)

// Info identifies this client to servers during the handshake.
var Info = protocol.Implementation{
	Name:    "unimcp",
	Version: "0.1.0",
}

// Client drives the MCP lifecycle over a single transport session.
type Client struct {
	transport transport.Transport
	logger    logging.Logger

	// sf collapses concurrent Initialize calls into one in-flight
	// handshake; latecomers wait for the same result instead of
	// re-sending initialize.
	sf singleflight.Group

	mu          sync.RWMutex
	initialized bool
	serverInfo  protocol.Implementation
	capa        protocol.Capabilities
	revision    string
}

// New wraps a started transport session.
func New(t transport.Transport, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{transport: t, logger: logger}
}

// Initialize performs the MCP handshake: an initialize request followed
// by the initialized notification. Concurrent callers share a single
// in-flight handshake, and a completed handshake is never repeated.
func (c *Client) Initialize(ctx context.Context) (*protocol.InitializeResult, error) {
	v, err, _ := c.sf.Do("initialize", func() (interface{}, error) {
		c.mu.RLock()
		if c.initialized {
			cached := &protocol.InitializeResult{
				ProtocolVersion: c.revision,
				Capabilities:    c.capa,
				ServerInfo:      c.serverInfo,
			}
			c.mu.RUnlock()
			return cached, nil
		}
		c.mu.RUnlock()

		return c.handshake(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*protocol.InitializeResult), nil
}

func (c *Client) handshake(ctx context.Context) (*protocol.InitializeResult, error) {
	params := protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolRevision,
		Capabilities:    protocol.Capabilities{},
		ClientInfo:      Info,
	}
	raw, err := c.transport.SendRequest(ctx, protocol.MethodInitialize, params)
	if err != nil {
		return nil, err
	}

	var result protocol.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, mcperrors.MalformedMessage("handshake", err)
	}
	if result.ProtocolVersion != protocol.ProtocolRevision {
		c.logger.Warn("server negotiated different protocol revision",
			logging.String("requested", protocol.ProtocolRevision),
			logging.String("negotiated", result.ProtocolVersion))
	}

	if err := c.transport.SendNotification(ctx, protocol.MethodInitialized, protocol.InitializedParams{}); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.initialized = true
	c.serverInfo = result.ServerInfo
	c.capa = result.Capabilities
	c.revision = result.ProtocolVersion
	c.mu.Unlock()

	c.logger.Info("session initialized",
		logging.String("server_name", result.ServerInfo.Name),
		logging.String("server_version", result.ServerInfo.Version),
		logging.String("protocol_version", result.ProtocolVersion))
	return &result, nil
}

// Initialized reports whether the handshake has completed.
func (c *Client) Initialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

// ServerInfo returns the identity the server reported during the
// handshake; the zero value before Initialize completes.
func (c *Client) ServerInfo() protocol.Implementation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// ServerCapabilities returns the capability set negotiated during the
// handshake.
func (c *Client) ServerCapabilities() protocol.Capabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capa
}

// CallTool invokes a tool and returns the raw content envelope.
func (c *Client) CallTool(ctx context.Context, name string, arguments interface{}) (*protocol.CallToolResult, error) {
	params := protocol.CallToolParams{Name: name, Arguments: arguments}
	raw, err := c.transport.SendRequest(ctx, protocol.MethodCallTool, params)
	if err != nil {
		return nil, err
	}
	var result protocol.CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, mcperrors.MalformedMessage("tools/call", err)
	}
	return &result, nil
}

// CallToolValue invokes a tool and normalizes the content envelope into
// a plain value. A result the server flagged as a tool-level failure is
// returned as an error carrying the failure text.
func (c *Client) CallToolValue(ctx context.Context, name string, arguments interface{}) (interface{}, error) {
	result, err := c.CallTool(ctx, name, arguments)
	if err != nil {
		return nil, err
	}
	if result.IsError {
		return nil, toolFailure(name, result)
	}
	return Normalize(result), nil
}

// ListTools returns every tool the server advertises, following
// pagination cursors until the listing is exhausted.
func (c *Client) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	var tools []protocol.Tool
	cursor := ""
	for {
		raw, err := c.transport.SendRequest(ctx, protocol.MethodListTools, protocol.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		var page protocol.ListToolsResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, mcperrors.MalformedMessage("tools/list", err)
		}
		tools = append(tools, page.Tools...)
		if page.NextCursor == "" {
			return tools, nil
		}
		cursor = page.NextCursor
	}
}

// Ping checks liveness. On the stdio variant this exercises concurrent
// dispatch: a ping completes even while a slow tool call is pending.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.transport.SendRequest(ctx, protocol.MethodPing, protocol.PingParams{})
	return err
}

// Done is closed when the underlying session is no longer usable.
func (c *Client) Done() <-chan struct{} {
	return c.transport.Done()
}

// Close tears down the underlying session.
func (c *Client) Close(ctx context.Context) error {
	return c.transport.Close(ctx)
}
