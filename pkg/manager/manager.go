// Package manager maintains at most one live session per registered
// server. Sessions are created on first use, concurrent creation
// attempts for the same server share a single connect, and a session
// whose transport dies is evicted so the next call starts fresh.
package manager

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/unimcp/unimcp/pkg/client"
	mcperrors "github.com/unimcp/unimcp/pkg/errors"
	"github.com/unimcp/unimcp/pkg/logging"
	"github.com/unimcp/unimcp/pkg/observability"
	"github.com/unimcp/unimcp/pkg/protocol"
	"github.com/unimcp/unimcp/pkg/registry"
	"github.com/unimcp/unimcp/pkg/transport"
)

// Config tunes the manager and everything beneath it.
type Config struct {
	// Transport is passed through to every session created.
	Transport transport.Config

	// Logger receives manager and session diagnostics.
	Logger logging.Logger

	// Metrics receives call and session measurements; nil disables.
	Metrics observability.MetricsProvider

	// Tracing wraps calls in spans; nil disables.
	Tracing *observability.TracingProvider

	// Dial creates the transport for a descriptor. Defaults to
	// transport.New; tests substitute scripted transports here.
	Dial func(registry.ServerDescriptor, transport.Config) (transport.Transport, error)
}

// DefaultConfig returns a manager configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Transport: transport.DefaultConfig(),
		Logger:    logging.Nop(),
		Metrics:   observability.NopMetrics(),
	}
}

// Manager is the keyed cache of live sessions.
type Manager struct {
	registry *registry.Registry
	config   Config
	logger   logging.Logger
	metrics  observability.MetricsProvider

	// sf collapses concurrent session creation per server id: N callers
	// racing on the same unconnected server share one connect and all
	// receive the same session or the same failure.
	sf singleflight.Group

	mu       sync.Mutex
	sessions map[string]*client.Client
	closed   bool
}

// New creates a manager over the given registry.
func New(reg *registry.Registry, config Config) *Manager {
	if config.Logger == nil {
		config.Logger = logging.Nop()
	}
	if config.Metrics == nil {
		config.Metrics = observability.NopMetrics()
	}
	if config.Dial == nil {
		config.Dial = transport.New
	}
	return &Manager{
		registry: reg,
		config:   config,
		logger:   config.Logger.WithFields(logging.String("component", "manager")),
		metrics:  config.Metrics,
		sessions: make(map[string]*client.Client),
	}
}

// GetOrCreate returns the live session for serverID, creating and
// initializing one if absent. An unknown id fails with a configuration
// error before any I/O is attempted.
func (m *Manager) GetOrCreate(ctx context.Context, serverID string) (*client.Client, error) {
	desc, err := m.registry.Lookup(serverID)
	if err != nil {
		return nil, err
	}

	if cli := m.lookupLive(serverID); cli != nil {
		return cli, nil
	}

	v, err, _ := m.sf.Do(serverID, func() (interface{}, error) {
		// A sibling caller may have finished connecting between our
		// cache miss and this closure running.
		if cli := m.lookupLive(serverID); cli != nil {
			return cli, nil
		}
		return m.connect(ctx, desc)
	})
	if err != nil {
		return nil, err
	}
	return v.(*client.Client), nil
}

// lookupLive returns the cached session for id, dropping it first if
// its transport has already died.
func (m *Manager) lookupLive(id string) *client.Client {
	m.mu.Lock()
	defer m.mu.Unlock()

	cli, ok := m.sessions[id]
	if !ok {
		return nil
	}
	select {
	case <-cli.Done():
		delete(m.sessions, id)
		return nil
	default:
		return cli
	}
}

func (m *Manager) connect(ctx context.Context, desc registry.ServerDescriptor) (*client.Client, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, mcperrors.ConnectionClosed("manager", nil).
			WithContext(&mcperrors.Context{ServerID: desc.ID, Operation: "connect"})
	}
	m.mu.Unlock()

	t, err := m.config.Dial(desc, m.config.Transport)
	if err != nil {
		return nil, err
	}
	if err := t.Start(ctx); err != nil {
		m.metrics.RecordSessionEvent(ctx, desc.ID, "connect_failed")
		return nil, err
	}

	cli := client.New(t, m.config.Logger)
	if _, err := cli.Initialize(ctx); err != nil {
		_ = cli.Close(ctx)
		m.metrics.RecordSessionEvent(ctx, desc.ID, "handshake_failed")
		return nil, err
	}

	m.mu.Lock()
	m.sessions[desc.ID] = cli
	m.mu.Unlock()

	m.metrics.RecordSessionEvent(ctx, desc.ID, "connected")
	m.metrics.RecordActiveSessions(ctx, 1)
	m.logger.Info("session established",
		logging.String("server_id", desc.ID),
		logging.String("kind", string(desc.Kind)))

	go m.watch(desc.ID, cli)
	return cli, nil
}

// watch evicts the session once its transport dies, so the next call
// for this server triggers a fresh connect.
func (m *Manager) watch(id string, cli *client.Client) {
	<-cli.Done()

	m.mu.Lock()
	if current, ok := m.sessions[id]; ok && current == cli {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	ctx := context.Background()
	m.metrics.RecordSessionEvent(ctx, id, "evicted")
	m.metrics.RecordActiveSessions(ctx, -1)
	m.logger.Info("session evicted", logging.String("server_id", id))
}

// Initialize ensures a live, handshaken session for serverID exists.
// Most callers can skip this: every operation creates the session on
// first use.
func (m *Manager) Initialize(ctx context.Context, serverID string) error {
	_, err := m.GetOrCreate(ctx, serverID)
	return err
}

// CallTool invokes a tool on the given server and returns the
// normalized result value.
func (m *Manager) CallTool(ctx context.Context, serverID, name string, arguments interface{}) (interface{}, error) {
	cli, err := m.GetOrCreate(ctx, serverID)
	if err != nil {
		return nil, err
	}

	ctx, finish := m.observe(ctx, serverID, protocol.MethodCallTool)
	started := time.Now()
	value, err := cli.CallToolValue(ctx, name, arguments)
	finish(err)
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.metrics.RecordToolCall(ctx, serverID, name, status, time.Since(started))
	if err != nil {
		return nil, err
	}
	return value, nil
}

// ListTools returns every tool the given server advertises.
func (m *Manager) ListTools(ctx context.Context, serverID string) ([]protocol.Tool, error) {
	cli, err := m.GetOrCreate(ctx, serverID)
	if err != nil {
		return nil, err
	}

	ctx, finish := m.observe(ctx, serverID, protocol.MethodListTools)
	tools, err := cli.ListTools(ctx)
	finish(err)
	return tools, err
}

// Ping checks liveness of the given server's session.
func (m *Manager) Ping(ctx context.Context, serverID string) error {
	cli, err := m.GetOrCreate(ctx, serverID)
	if err != nil {
		return err
	}

	ctx, finish := m.observe(ctx, serverID, protocol.MethodPing)
	err = cli.Ping(ctx)
	finish(err)
	return err
}

// observe opens a span and returns a completion callback that records
// the call outcome.
func (m *Manager) observe(ctx context.Context, serverID, method string) (context.Context, func(error)) {
	started := time.Now()

	var end func(error)
	if m.config.Tracing != nil {
		spanCtx, sp := m.config.Tracing.StartCallSpan(ctx, serverID, method)
		ctx = spanCtx
		end = func(err error) {
			if err != nil {
				m.config.Tracing.RecordError(spanCtx, err)
			}
			sp.End()
		}
	}

	return ctx, func(err error) {
		status := "ok"
		if err != nil {
			status = "error"
			category := "internal"
			if mcpErr, ok := mcperrors.AsMCPError(err); ok {
				category = string(mcpErr.Category())
			}
			m.metrics.RecordError(ctx, serverID, category)
		}
		m.metrics.RecordCall(ctx, serverID, method, status, time.Since(started))
		if end != nil {
			end(err)
		}
	}
}

// Disconnect tears down the session for serverID. Disconnecting a
// server with no live session is a no-op.
func (m *Manager) Disconnect(ctx context.Context, serverID string) error {
	m.mu.Lock()
	cli, ok := m.sessions[serverID]
	if ok {
		delete(m.sessions, serverID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	err := cli.Close(ctx)
	m.metrics.RecordSessionEvent(ctx, serverID, "disconnected")
	m.logger.Info("session disconnected", logging.String("server_id", serverID))
	return err
}

// DisconnectAll tears down every live session concurrently and returns
// the first close error, if any.
func (m *Manager) DisconnectAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return m.Disconnect(gctx, id)
		})
	}
	return g.Wait()
}

// Close disconnects everything and refuses further session creation.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.DisconnectAll(ctx)
}

// Sessions returns the ids with a currently live session.
func (m *Manager) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}
