package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/unimcp/unimcp/pkg/errors"
	"github.com/unimcp/unimcp/pkg/protocol"
	"github.com/unimcp/unimcp/pkg/registry"
	"github.com/unimcp/unimcp/pkg/transport"
)

// scriptedTransport answers the MCP lifecycle in-memory and can be
// killed to simulate process death.
type scriptedTransport struct {
	serverID string

	done      chan struct{}
	closeOnce sync.Once
}

func newScriptedTransport(serverID string) *scriptedTransport {
	return &scriptedTransport{serverID: serverID, done: make(chan struct{})}
}

func (s *scriptedTransport) Start(ctx context.Context) error { return nil }

func (s *scriptedTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	select {
	case <-s.done:
		return nil, mcperrors.ConnectionClosed("scripted", nil)
	default:
	}

	switch method {
	case protocol.MethodInitialize:
		return json.Marshal(protocol.InitializeResult{
			ProtocolVersion: protocol.ProtocolRevision,
			ServerInfo:      protocol.Implementation{Name: s.serverID, Version: "1.0.0"},
		})
	case protocol.MethodPing:
		return json.RawMessage(`{}`), nil
	case protocol.MethodListTools:
		return json.Marshal(protocol.ListToolsResult{
			Tools: []protocol.Tool{{Name: "echo"}},
		})
	case protocol.MethodCallTool:
		return json.Marshal(protocol.CallToolResult{
			Content: []protocol.Content{{Type: protocol.ContentTypeText, Text: `{"x":1}`}},
		})
	default:
		return nil, fmt.Errorf("unscripted method %q", method)
	}
}

func (s *scriptedTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	return nil
}

func (s *scriptedTransport) SetNotificationHandler(handler transport.NotificationHandler) {}

func (s *scriptedTransport) Done() <-chan struct{} { return s.done }

func (s *scriptedTransport) Close(ctx context.Context) error {
	s.kill()
	return nil
}

// kill simulates the process dying out from under the session.
func (s *scriptedTransport) kill() {
	s.closeOnce.Do(func() { close(s.done) })
}

type testHarness struct {
	manager   *Manager
	dialCount atomic.Int32
	dialDelay time.Duration

	mu         sync.Mutex
	transports []*scriptedTransport
	dialErr    error
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	reg, err := registry.New([]registry.ServerDescriptor{
		{ID: "files", Kind: registry.KindStdio, Command: "fake"},
		{ID: "search", Kind: registry.KindHTTP, Endpoint: "https://example.com/mcp"},
	})
	require.NoError(t, err)

	h := &testHarness{}
	config := DefaultConfig()
	config.Dial = func(desc registry.ServerDescriptor, cfg transport.Config) (transport.Transport, error) {
		h.dialCount.Add(1)
		if h.dialDelay > 0 {
			time.Sleep(h.dialDelay)
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.dialErr != nil {
			return nil, h.dialErr
		}
		st := newScriptedTransport(desc.ID)
		h.transports = append(h.transports, st)
		return st, nil
	}
	h.manager = New(reg, config)
	return h
}

func (h *testHarness) lastTransport() *scriptedTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.transports) == 0 {
		return nil
	}
	return h.transports[len(h.transports)-1]
}

func TestUnknownServerFailsBeforeDial(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.manager.GetOrCreate(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, mcperrors.IsConfiguration(err))
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeUnknownServer))
	assert.Equal(t, int32(0), h.dialCount.Load())
}

func TestGetOrCreateCachesSession(t *testing.T) {
	h := newTestHarness(t)
	defer h.manager.Close(context.Background())

	first, err := h.manager.GetOrCreate(context.Background(), "files")
	require.NoError(t, err)
	assert.True(t, first.Initialized())

	second, err := h.manager.GetOrCreate(context.Background(), "files")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), h.dialCount.Load())
}

func TestConcurrentGetOrCreateSharesConnect(t *testing.T) {
	h := newTestHarness(t)
	h.dialDelay = 100 * time.Millisecond
	defer h.manager.Close(context.Background())

	const callers = 10
	sessions := make(chan interface{}, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cli, err := h.manager.GetOrCreate(context.Background(), "files")
			if assert.NoError(t, err) {
				sessions <- cli
			}
		}()
	}
	wg.Wait()
	close(sessions)

	assert.Equal(t, int32(1), h.dialCount.Load())

	unique := map[interface{}]bool{}
	for cli := range sessions {
		unique[cli] = true
	}
	assert.Len(t, unique, 1)
}

func TestConnectFailureSharedAndRetried(t *testing.T) {
	h := newTestHarness(t)
	h.mu.Lock()
	h.dialErr = fmt.Errorf("spawn failed")
	h.mu.Unlock()

	_, err := h.manager.GetOrCreate(context.Background(), "files")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spawn failed")

	// The failure is not cached; clearing the fault lets the next call
	// connect.
	h.mu.Lock()
	h.dialErr = nil
	h.mu.Unlock()

	_, err = h.manager.GetOrCreate(context.Background(), "files")
	require.NoError(t, err)
	assert.Equal(t, int32(2), h.dialCount.Load())
}

func TestDeadSessionEvictedAndRelaunched(t *testing.T) {
	h := newTestHarness(t)
	defer h.manager.Close(context.Background())

	first, err := h.manager.GetOrCreate(context.Background(), "files")
	require.NoError(t, err)

	h.lastTransport().kill()

	// The watcher evicts asynchronously; a fresh GetOrCreate must
	// reconnect either way because the cached session is dead.
	require.Eventually(t, func() bool {
		return len(h.manager.Sessions()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	second, err := h.manager.GetOrCreate(context.Background(), "files")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, int32(2), h.dialCount.Load())
}

func TestCallToolNormalizesResult(t *testing.T) {
	h := newTestHarness(t)
	defer h.manager.Close(context.Background())

	value, err := h.manager.CallTool(context.Background(), "files", "echo",
		map[string]interface{}{"msg": "hi"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"x": float64(1)}, value)
}

func TestListToolsAndPing(t *testing.T) {
	h := newTestHarness(t)
	defer h.manager.Close(context.Background())

	tools, err := h.manager.ListTools(context.Background(), "search")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)

	require.NoError(t, h.manager.Ping(context.Background(), "search"))
}

func TestDisconnectIdempotent(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.manager.GetOrCreate(context.Background(), "files")
	require.NoError(t, err)

	require.NoError(t, h.manager.Disconnect(context.Background(), "files"))
	require.NoError(t, h.manager.Disconnect(context.Background(), "files"))
	require.NoError(t, h.manager.Disconnect(context.Background(), "never-connected-but-known"))
}

func TestDisconnectAll(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.manager.GetOrCreate(context.Background(), "files")
	require.NoError(t, err)
	_, err = h.manager.GetOrCreate(context.Background(), "search")
	require.NoError(t, err)
	assert.Len(t, h.manager.Sessions(), 2)

	require.NoError(t, h.manager.DisconnectAll(context.Background()))
	assert.Empty(t, h.manager.Sessions())
}

func TestClosedManagerRefusesNewSessions(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.manager.Close(context.Background()))

	_, err := h.manager.GetOrCreate(context.Background(), "files")
	require.Error(t, err)
	assert.True(t, mcperrors.IsTransport(err))
}
