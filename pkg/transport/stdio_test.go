package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/unimcp/unimcp/pkg/errors"
	"github.com/unimcp/unimcp/pkg/protocol"
	"github.com/unimcp/unimcp/pkg/registry"
	"github.com/unimcp/unimcp/pkg/utils"
)

// stdioHarness stands in for the child process: the transport's streams
// are wired to in-memory pipes, inbound requests surface on Requests,
// and Reply writes raw frames back.
type stdioHarness struct {
	t         *testing.T
	transport *StdioTransport

	Requests chan protocol.Request

	mu  sync.Mutex
	out *io.PipeWriter
}

func newStdioHarness(t *testing.T) *stdioHarness {
	t.Helper()

	clientReads, serverWrites := io.Pipe()
	serverReads, clientWrites := io.Pipe()

	config := DefaultConfig()
	config.StdioReader = clientReads
	config.StdioWriter = clientWrites
	config.ShutdownGrace = 2 * time.Second

	desc := registry.ServerDescriptor{ID: "test", Kind: registry.KindStdio, Command: "fake"}
	tr := newStdioTransport(desc, config)
	require.NoError(t, tr.Start(context.Background()))

	h := &stdioHarness{
		t:         t,
		transport: tr,
		Requests:  make(chan protocol.Request, 16),
		out:       serverWrites,
	}

	go func() {
		// Mimic a well-behaved process: when our input closes, our
		// output closes too.
		defer serverWrites.Close()
		scanner := bufio.NewScanner(serverReads)
		for scanner.Scan() {
			var req protocol.Request
			if err := json.Unmarshal(scanner.Bytes(), &req); err == nil && req.ID != 0 {
				h.Requests <- req
			}
		}
	}()

	return h
}

// Reply writes one raw frame to the transport's inbound stream.
func (h *stdioHarness) Reply(raw string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write([]byte(raw + "\n"))
	require.NoError(h.t, err)
}

// ReplyResult answers a request id with a success result.
func (h *stdioHarness) ReplyResult(id int64, result string) {
	h.Reply(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`, id, result))
}

// Die closes the transport's inbound stream, as a crashed process would.
func (h *stdioHarness) Die() {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = h.out.Close()
}

func (h *stdioHarness) nextRequest() protocol.Request {
	h.t.Helper()
	select {
	case req := <-h.Requests:
		return req
	case <-time.After(5 * time.Second):
		h.t.Fatal("timed out waiting for request")
		return protocol.Request{}
	}
}

func TestStdioRequestIDsStrictlyIncreasing(t *testing.T) {
	h := newStdioHarness(t)
	defer h.transport.Close(context.Background())

	var ids []int64
	for i := 0; i < 3; i++ {
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, err := h.transport.SendRequest(context.Background(), "ping", nil)
			assert.NoError(t, err)
		}()

		req := h.nextRequest()
		ids = append(ids, req.ID)
		h.ReplyResult(req.ID, `{}`)
		<-done
	}

	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestStdioOutOfOrderResponses(t *testing.T) {
	h := newStdioHarness(t)
	defer h.transport.Close(context.Background())

	type outcome struct {
		raw json.RawMessage
		err error
	}
	results := make(chan outcome, 2)
	for i := 0; i < 2; i++ {
		go func() {
			raw, err := h.transport.SendRequest(context.Background(), "tools/call", nil)
			results <- outcome{raw, err}
		}()
	}

	first := h.nextRequest()
	second := h.nextRequest()

	// Answer in reverse submission order; each caller must still get
	// the payload tagged with its own id.
	h.ReplyResult(second.ID, fmt.Sprintf(`{"for":%d}`, second.ID))
	h.ReplyResult(first.ID, fmt.Sprintf(`{"for":%d}`, first.ID))

	seen := map[int64]bool{}
	for i := 0; i < 2; i++ {
		out := <-results
		require.NoError(t, out.err)
		var payload struct {
			For int64 `json:"for"`
		}
		require.NoError(t, json.Unmarshal(out.raw, &payload))
		seen[payload.For] = true
	}
	assert.True(t, seen[first.ID])
	assert.True(t, seen[second.ID])
}

func TestStdioNotificationsNeverResolveCalls(t *testing.T) {
	h := newStdioHarness(t)
	defer h.transport.Close(context.Background())

	notified := make(chan string, 1)
	h.transport.SetNotificationHandler(func(method string, params json.RawMessage) {
		notified <- method
	})

	callDone := make(chan error, 1)
	go func() {
		_, err := h.transport.SendRequest(context.Background(), "tools/call", nil)
		callDone <- err
	}()
	req := h.nextRequest()

	h.Reply(`{"jsonrpc":"2.0","method":"notifications/progress","params":{"progress":50}}`)

	select {
	case method := <-notified:
		assert.Equal(t, "notifications/progress", method)
	case <-time.After(5 * time.Second):
		t.Fatal("notification never delivered")
	}

	// The call must still be pending.
	select {
	case err := <-callDone:
		t.Fatalf("call resolved by a notification: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	h.ReplyResult(req.ID, `{}`)
	require.NoError(t, <-callDone)
}

func TestStdioMalformedLinesDropped(t *testing.T) {
	h := newStdioHarness(t)
	defer h.transport.Close(context.Background())

	callDone := make(chan error, 1)
	go func() {
		_, err := h.transport.SendRequest(context.Background(), "tools/call", nil)
		callDone <- err
	}()
	req := h.nextRequest()

	h.Reply(`this is not json`)
	h.Reply(`{"jsonrpc":"2.0"}`)
	h.ReplyResult(req.ID, `{"ok":true}`)

	require.NoError(t, <-callDone)
}

func TestStdioPingNotBlockedBySlowCall(t *testing.T) {
	h := newStdioHarness(t)
	defer h.transport.Close(context.Background())

	slowDone := make(chan error, 1)
	go func() {
		_, err := h.transport.SendRequest(context.Background(), "tools/call", nil)
		slowDone <- err
	}()
	slow := h.nextRequest()

	pingDone := make(chan error, 1)
	go func() {
		_, err := h.transport.SendRequest(context.Background(), "ping", nil)
		pingDone <- err
	}()
	ping := h.nextRequest()

	// Only the ping is answered; it must complete while the slow call
	// stays pending.
	h.ReplyResult(ping.ID, `{}`)

	select {
	case err := <-pingDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ping blocked behind slow call")
	}
	select {
	case <-slowDone:
		t.Fatal("slow call resolved without a response")
	default:
	}

	h.ReplyResult(slow.ID, `{}`)
	require.NoError(t, <-slowDone)
}

func TestStdioAnswersServerPing(t *testing.T) {
	h := newStdioHarness(t)
	defer h.transport.Close(context.Background())

	h.Reply(`{"jsonrpc":"2.0","id":99,"method":"ping"}`)

	// The reply surfaces on the harness as a parsed frame with id 99.
	resp := h.nextRequest()
	assert.Equal(t, int64(99), resp.ID)
}

func TestStdioErrorResponse(t *testing.T) {
	h := newStdioHarness(t)
	defer h.transport.Close(context.Background())

	callDone := make(chan error, 1)
	go func() {
		_, err := h.transport.SendRequest(context.Background(), "tools/call", nil)
		callDone <- err
	}()
	req := h.nextRequest()

	h.Reply(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"no such tool"}}`, req.ID))

	err := <-callDone
	require.Error(t, err)
	assert.True(t, mcperrors.IsProtocol(err))
	assert.True(t, mcperrors.IsCode(err, -32601))
	assert.Contains(t, err.Error(), "no such tool")
}

func TestStdioDeathFailsAllPending(t *testing.T) {
	h := newStdioHarness(t)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := h.transport.SendRequest(context.Background(), "tools/call", nil)
			results <- err
		}()
	}
	h.nextRequest()
	h.nextRequest()

	h.Die()

	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			require.Error(t, err)
			assert.True(t, mcperrors.IsTransport(err))
			assert.True(t, mcperrors.IsCode(err, mcperrors.CodeConnectionClosed))
		case <-time.After(5 * time.Second):
			t.Fatal("pending call not failed after transport death")
		}
	}

	select {
	case <-h.transport.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done not closed after transport death")
	}

	// Fresh sends fail fast now.
	_, err := h.transport.SendRequest(context.Background(), "ping", nil)
	require.Error(t, err)
	assert.True(t, mcperrors.IsTransport(err))
}

func TestStdioContextCancelUnblocksCall(t *testing.T) {
	h := newStdioHarness(t)
	defer h.transport.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	callDone := make(chan error, 1)
	go func() {
		_, err := h.transport.SendRequest(ctx, "tools/call", nil)
		callDone <- err
	}()
	h.nextRequest()

	cancel()

	select {
	case err := <-callDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled call never returned")
	}
}

func TestStdioCloseIsIdempotentAndLeakFree(t *testing.T) {
	detector := utils.NewGoroutineLeakDetector(t)
	detector.Start()

	h := newStdioHarness(t)

	callDone := make(chan error, 1)
	go func() {
		_, err := h.transport.SendRequest(context.Background(), "ping", nil)
		callDone <- err
	}()
	req := h.nextRequest()
	h.ReplyResult(req.ID, `{}`)
	require.NoError(t, <-callDone)

	require.NoError(t, h.transport.Close(context.Background()))
	require.NoError(t, h.transport.Close(context.Background()))

	select {
	case <-h.transport.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done not closed after Close")
	}

	detector.Check()
}
