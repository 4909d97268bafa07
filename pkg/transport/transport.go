// Package transport provides the two session variants the client core
// speaks through: a spawned child process exchanging line-delimited
// JSON-RPC over its standard streams, and a remote HTTP endpoint
// receiving one envelope per POST. Both variants implement one shared
// contract; callers never depend on the variant itself.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/unimcp/unimcp/pkg/logging"
	"github.com/unimcp/unimcp/pkg/registry"
)

// NotificationHandler receives server-initiated notifications. Handlers
// must not block; slow work belongs in the handler's own goroutine.
type NotificationHandler func(method string, params json.RawMessage)

// Transport is the contract both session variants implement.
type Transport interface {
	// Start brings the transport up: spawning the child process for the
	// stdio variant, a no-op beyond bookkeeping for HTTP.
	Start(ctx context.Context) error

	// SendRequest sends one request and blocks until its correlated
	// response arrives, the context is done, or the transport dies.
	SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error)

	// SendNotification sends a fire-and-forget message; no response is
	// ever expected or delivered.
	SendNotification(ctx context.Context, method string, params interface{}) error

	// SetNotificationHandler registers the sink for server-initiated
	// notifications. Must be called before Start.
	SetNotificationHandler(handler NotificationHandler)

	// Done is closed when the transport is no longer usable, whether by
	// Close or because the peer went away.
	Done() <-chan struct{}

	// Close tears the transport down. Idempotent. All calls still
	// pending fail with a connection-closed error.
	Close(ctx context.Context) error
}

// ErrUnsupportedKind is returned for descriptor kinds this package does
// not implement.
var ErrUnsupportedKind = errors.New("unsupported transport kind")

// Config tunes both transport variants. The zero value is not usable;
// start from DefaultConfig.
type Config struct {
	// RequestTimeout bounds each HTTP call. The stdio variant has no
	// per-call deadline beyond the caller's context; its calls are
	// bounded by the session's lifetime.
	RequestTimeout time.Duration

	// ShutdownGrace is how long Close waits for a child process to exit
	// after its stdin is closed before killing it.
	ShutdownGrace time.Duration

	// MaxLineBytes caps a single inbound stdio line.
	MaxLineBytes int

	// Logger receives transport diagnostics. Defaults to a no-op.
	Logger logging.Logger

	// StdioReader and StdioWriter, when both are set, replace the child
	// process streams so a stdio session can be driven over in-memory
	// pipes. Testing only.
	StdioReader io.Reader
	StdioWriter io.WriteCloser
}

// DefaultConfig returns a transport configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 120 * time.Second,
		ShutdownGrace:  5 * time.Second,
		MaxLineBytes:   16 * 1024 * 1024,
		Logger:         logging.Nop(),
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = def.ShutdownGrace
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = def.MaxLineBytes
	}
	if c.Logger == nil {
		c.Logger = def.Logger
	}
}

// New creates the transport variant named by the descriptor.
func New(desc registry.ServerDescriptor, config Config) (Transport, error) {
	config.applyDefaults()

	switch desc.Kind {
	case registry.KindStdio:
		return newStdioTransport(desc, config), nil
	case registry.KindHTTP:
		return newHTTPTransport(desc, config), nil
	default:
		return nil, ErrUnsupportedKind
	}
}
