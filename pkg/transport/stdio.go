package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	mcperrors "github.com/unimcp/unimcp/pkg/errors"
	"github.com/unimcp/unimcp/pkg/logging"
	"github.com/unimcp/unimcp/pkg/protocol"
	"github.com/unimcp/unimcp/pkg/registry"
)

// StdioTransport owns one long-lived child process speaking
// line-delimited JSON-RPC over its standard streams. It is also the
// request/response correlator: outbound requests carry monotonically
// increasing ids, inbound responses are matched back to their pending
// call by id, and responses may arrive in any order relative to send
// order. Each inbound line is dispatched on its own goroutine so a
// lightweight ping answer is never queued behind a slow tool call.
type StdioTransport struct {
	desc   registry.ServerDescriptor
	config Config
	logger logging.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader

	writeMu sync.Mutex

	nextID    atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan *protocol.Response

	notifyMu sync.RWMutex
	notify   NotificationHandler

	started  atomic.Bool
	closing  atomic.Bool
	done     chan struct{}
	closeErr error

	// inflight counts outstanding per-line dispatch goroutines so Close
	// can wait for zero before returning.
	inflight  sync.WaitGroup
	closeOnce sync.Once
}

func newStdioTransport(desc registry.ServerDescriptor, config Config) *StdioTransport {
	logger := config.Logger.WithFields(
		logging.String("component", "stdio"),
		logging.String("server_id", desc.ID),
		logging.String("session_id", uuid.NewString()),
	)
	return &StdioTransport{
		desc:    desc,
		config:  config,
		logger:  logger,
		pending: make(map[int64]chan *protocol.Response),
		done:    make(chan struct{}),
	}
}

// SetNotificationHandler registers the sink for server-initiated
// notifications. Must be called before Start.
func (t *StdioTransport) SetNotificationHandler(handler NotificationHandler) {
	t.notifyMu.Lock()
	t.notify = handler
	t.notifyMu.Unlock()
}

// Start launches the child process and begins reading its output. The
// context bounds the launch only; the process outlives it.
func (t *StdioTransport) Start(ctx context.Context) error {
	if !t.started.CompareAndSwap(false, true) {
		return nil
	}

	if t.config.StdioReader != nil && t.config.StdioWriter != nil {
		// Test hookup: drive the transport over supplied pipes instead
		// of a real process.
		t.stdout = t.config.StdioReader
		t.stdin = t.config.StdioWriter
	} else {
		if err := t.spawn(ctx); err != nil {
			t.closing.Store(true)
			close(t.done)
			return err
		}
	}

	g := &errgroup.Group{}
	g.Go(t.readLoop)
	if t.stderr != nil {
		g.Go(t.drainStderr)
	}

	go func() {
		readErr := g.Wait()
		var waitErr error
		if t.cmd != nil {
			waitErr = t.cmd.Wait()
		}
		t.terminate(readErr, waitErr)
	}()

	return nil
}

func (t *StdioTransport) spawn(ctx context.Context) error {
	cmd := exec.Command(t.desc.Command, t.desc.Args...)
	if len(t.desc.Env) > 0 {
		env := os.Environ()
		for k, v := range t.desc.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return mcperrors.ConnectionFailed("stdio", t.desc.Command, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return mcperrors.ConnectionFailed("stdio", t.desc.Command, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return mcperrors.ConnectionFailed("stdio", t.desc.Command, err)
	}

	if err := cmd.Start(); err != nil {
		return mcperrors.ConnectionFailed("stdio", t.desc.Command, err).
			WithContext(&mcperrors.Context{ServerID: t.desc.ID, Operation: "spawn"})
	}

	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return mcperrors.ConnectionFailed("stdio", t.desc.Command, ctx.Err())
	default:
	}

	t.cmd = cmd
	t.stdin = stdin
	t.stdout = stdout
	t.stderr = stderr
	t.logger.Debug("process launched", logging.Int("pid", cmd.Process.Pid))
	return nil
}

// readLoop splits stdout into lines and hands each one to its own
// dispatch goroutine. It returns when the stream ends.
func (t *StdioTransport) readLoop() error {
	scanner := bufio.NewScanner(t.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), t.config.MaxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		data := make([]byte, len(line))
		copy(data, line)

		t.inflight.Add(1)
		go func() {
			defer t.inflight.Done()
			t.dispatch(data)
		}()
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
		return mcperrors.StdioTransportError("read_output", err)
	}
	return nil
}

// drainStderr forwards the server's diagnostic stream to the logger.
// Stderr never carries protocol envelopes, so nothing here is parsed.
func (t *StdioTransport) drainStderr() error {
	scanner := bufio.NewScanner(t.stderr)
	scanner.Buffer(make([]byte, 0, 16*1024), t.config.MaxLineBytes)
	for scanner.Scan() {
		t.logger.Debug("server stderr", logging.String("line", scanner.Text()))
	}
	return nil
}

// dispatch classifies one inbound line and routes it. Malformed lines
// are logged and dropped; they must not block other pending calls.
func (t *StdioTransport) dispatch(data []byte) {
	switch protocol.DetectKind(data) {
	case protocol.KindResponse:
		var resp protocol.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			t.logger.Warn("dropping malformed response", logging.ErrorField(err))
			return
		}
		id, ok := resp.RequestID()
		if !ok {
			t.logger.Warn("dropping response with non-numeric id", logging.String("id", resp.ID.String()))
			return
		}
		if !t.resolve(id, &resp) {
			t.logger.Debug("response matched no pending call", logging.Int64("request_id", id))
		}

	case protocol.KindNotification:
		var notif protocol.Notification
		if err := json.Unmarshal(data, &notif); err != nil {
			t.logger.Warn("dropping malformed notification", logging.ErrorField(err))
			return
		}
		t.notifyMu.RLock()
		handler := t.notify
		t.notifyMu.RUnlock()
		if handler != nil {
			handler(notif.Method, notif.Params)
		} else {
			t.logger.Debug("ignoring notification", logging.String("method", notif.Method))
		}

	case protocol.KindRequest:
		var req protocol.Request
		if err := json.Unmarshal(data, &req); err != nil {
			t.logger.Warn("dropping malformed request", logging.ErrorField(err))
			return
		}
		t.handleServerRequest(&req)

	default:
		t.logger.Warn("dropping malformed line", logging.Int("bytes", len(data)))
	}
}

// handleServerRequest answers the few server-to-client requests the
// protocol allows. Ping gets an empty result; anything else gets a
// method-not-found error so the server is not left waiting.
func (t *StdioTransport) handleServerRequest(req *protocol.Request) {
	var resp *protocol.Response
	var err error
	if req.Method == protocol.MethodPing {
		resp, err = protocol.NewResponse(req.ID, protocol.PingResult{})
	} else {
		resp, err = protocol.NewErrorResponse(req.ID, protocol.MethodNotFound,
			fmt.Sprintf("method %q not supported", req.Method), nil)
	}
	if err != nil {
		t.logger.Error("building reply failed", logging.ErrorField(err))
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		t.logger.Error("marshalling reply failed", logging.ErrorField(err))
		return
	}
	if err := t.write(data); err != nil {
		t.logger.Warn("sending reply failed", logging.ErrorField(err))
	}
}

// SendRequest mints the next request id, registers the pending call,
// writes the envelope, and blocks until the correlated response
// arrives, the context is done, or the session dies.
func (t *StdioTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if !t.started.Load() {
		return nil, mcperrors.StdioTransportError("send_request", errors.New("transport not started"))
	}

	id := t.nextID.Add(1)
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, mcperrors.StdioTransportError("build_request", err)
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, mcperrors.StdioTransportError("marshal_request", err)
	}

	ch := t.register(id)
	if err := t.write(data); err != nil {
		t.unregister(id)
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, mcperrors.RPCError(int(resp.Error.Code), resp.Error.Message, resp.Error).
				WithContext(&mcperrors.Context{ServerID: t.desc.ID, RequestID: id, Method: method})
		}
		return resp.Result, nil
	case <-ctx.Done():
		t.unregister(id)
		return nil, ctx.Err()
	case <-t.done:
		t.unregister(id)
		return nil, mcperrors.ConnectionClosed("stdio", t.closeErr).
			WithContext(&mcperrors.Context{ServerID: t.desc.ID, RequestID: id, Method: method})
	}
}

// SendNotification writes a fire-and-forget message.
func (t *StdioTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	if !t.started.Load() {
		return mcperrors.StdioTransportError("send_notification", errors.New("transport not started"))
	}
	notif, err := protocol.NewNotification(method, params)
	if err != nil {
		return mcperrors.StdioTransportError("build_notification", err)
	}
	data, err := json.Marshal(notif)
	if err != nil {
		return mcperrors.StdioTransportError("marshal_notification", err)
	}
	return t.write(data)
}

// write appends the newline terminator and writes one frame. Writes are
// serialized so concurrent requests never interleave on the pipe.
func (t *StdioTransport) write(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.closing.Load() {
		return mcperrors.ConnectionClosed("stdio", t.closeErr)
	}
	frame := make([]byte, 0, len(data)+1)
	frame = append(frame, data...)
	frame = append(frame, '\n')
	if _, err := t.stdin.Write(frame); err != nil {
		return mcperrors.StdioTransportError("write_frame", err)
	}
	return nil
}

func (t *StdioTransport) register(id int64) chan *protocol.Response {
	ch := make(chan *protocol.Response, 1)
	t.pendingMu.Lock()
	t.pending[id] = ch
	t.pendingMu.Unlock()
	return ch
}

func (t *StdioTransport) unregister(id int64) {
	t.pendingMu.Lock()
	delete(t.pending, id)
	t.pendingMu.Unlock()
}

func (t *StdioTransport) resolve(id int64, resp *protocol.Response) bool {
	t.pendingMu.Lock()
	ch, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.pendingMu.Unlock()
	if ok {
		ch <- resp
	}
	return ok
}

// terminate runs exactly once when the process is gone: it records the
// failure, discards the pending table, and closes done so every waiting
// call fails promptly with the same connection-closed error.
func (t *StdioTransport) terminate(readErr, waitErr error) {
	if !t.closing.Load() {
		cause := waitErr
		if cause == nil {
			cause = readErr
		}
		t.closeErr = cause
		if cause != nil {
			t.logger.Warn("process exited", logging.ErrorField(cause))
		} else {
			t.logger.Info("process exited")
		}
	}
	t.closing.Store(true)

	t.pendingMu.Lock()
	n := len(t.pending)
	t.pending = make(map[int64]chan *protocol.Response)
	t.pendingMu.Unlock()
	if n > 0 {
		t.logger.Warn("failing pending calls", logging.Int("count", n))
	}

	close(t.done)
}

// Done is closed once the session is unusable.
func (t *StdioTransport) Done() <-chan struct{} {
	return t.done
}

// Close shuts the input stream, gives the process a grace period to
// exit, then kills it. It waits for all outstanding dispatch goroutines
// before returning, on every exit path.
func (t *StdioTransport) Close(ctx context.Context) error {
	t.closeOnce.Do(func() {
		t.closing.Store(true)

		if !t.started.Load() {
			close(t.done)
			return
		}

		t.writeMu.Lock()
		if t.stdin != nil {
			_ = t.stdin.Close()
		}
		t.writeMu.Unlock()

		select {
		case <-t.done:
		case <-time.After(t.config.ShutdownGrace):
			t.kill()
			<-t.done
		case <-ctx.Done():
			t.kill()
			<-t.done
		}

		t.inflight.Wait()
	})
	return nil
}

func (t *StdioTransport) kill() {
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
}
