package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	mcperrors "github.com/unimcp/unimcp/pkg/errors"
	"github.com/unimcp/unimcp/pkg/logging"
	"github.com/unimcp/unimcp/pkg/protocol"
	"github.com/unimcp/unimcp/pkg/registry"
)

// Per-call timeout bounds for the HTTP variant. A descriptor timeout
// outside this band is clamped rather than rejected.
const (
	minHTTPTimeout = 60 * time.Second
	maxHTTPTimeout = 180 * time.Second
)

// HTTPTransport reaches a remote endpoint with one JSON-RPC envelope
// per POST. Requests and responses correlate through the HTTP exchange
// itself, so there is no pending table here; ids still increase
// monotonically so traffic from one session is unambiguous in server
// logs. Auth material travels in headers, never in the payload.
type HTTPTransport struct {
	desc    registry.ServerDescriptor
	config  Config
	logger  logging.Logger
	client  *http.Client
	timeout time.Duration

	nextID atomic.Int64

	notifyMu sync.RWMutex
	notify   NotificationHandler

	done      chan struct{}
	closeOnce sync.Once
}

func newHTTPTransport(desc registry.ServerDescriptor, config Config) *HTTPTransport {
	timeout := config.RequestTimeout
	if desc.Timeout > 0 {
		timeout = desc.Timeout
		if timeout < minHTTPTimeout {
			timeout = minHTTPTimeout
		}
		if timeout > maxHTTPTimeout {
			timeout = maxHTTPTimeout
		}
	}

	return &HTTPTransport{
		desc:   desc,
		config: config,
		logger: config.Logger.WithFields(
			logging.String("component", "http"),
			logging.String("server_id", desc.ID),
			logging.String("session_id", uuid.NewString()),
		),
		client:  &http.Client{},
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// SetNotificationHandler registers the sink for server-initiated
// notifications. The plain POST exchange gives the server no channel to
// push through, so the handler only sees notifications a future
// streaming variant would deliver.
func (t *HTTPTransport) SetNotificationHandler(handler NotificationHandler) {
	t.notifyMu.Lock()
	t.notify = handler
	t.notifyMu.Unlock()
}

// Start is bookkeeping only; no connection is held between calls.
func (t *HTTPTransport) Start(ctx context.Context) error {
	t.logger.Debug("session ready",
		logging.String("endpoint", t.desc.Endpoint),
		logging.Duration("timeout", t.timeout))
	return nil
}

// SendRequest posts one envelope and decodes the correlated response
// from the reply body. Each call carries its own deadline.
func (t *HTTPTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	select {
	case <-t.done:
		return nil, mcperrors.ConnectionClosed("http", nil).
			WithContext(&mcperrors.Context{ServerID: t.desc.ID, Method: method})
	default:
	}

	id := t.nextID.Add(1)
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, mcperrors.ConnectionFailed("http", t.desc.Endpoint, err)
	}
	body, err := t.post(ctx, req, method, id)
	if err != nil {
		return nil, err
	}

	var resp protocol.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, mcperrors.MalformedMessage("http", err).
			WithContext(&mcperrors.Context{ServerID: t.desc.ID, RequestID: id, Method: method})
	}
	if gotID, ok := resp.RequestID(); !ok || gotID != id {
		return nil, mcperrors.MalformedMessage("http",
			fmt.Errorf("response id %s does not match request id %d", resp.ID.String(), id))
	}
	if resp.Error != nil {
		return nil, mcperrors.RPCError(int(resp.Error.Code), resp.Error.Message, resp.Error).
			WithContext(&mcperrors.Context{ServerID: t.desc.ID, RequestID: id, Method: method})
	}
	return resp.Result, nil
}

// SendNotification posts a fire-and-forget envelope; the reply body, if
// any, is discarded.
func (t *HTTPTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	select {
	case <-t.done:
		return mcperrors.ConnectionClosed("http", nil).
			WithContext(&mcperrors.Context{ServerID: t.desc.ID, Method: method})
	default:
	}

	notif, err := protocol.NewNotification(method, params)
	if err != nil {
		return mcperrors.ConnectionFailed("http", t.desc.Endpoint, err)
	}
	_, err = t.post(ctx, notif, method, 0)
	return err
}

func (t *HTTPTransport) post(ctx context.Context, envelope interface{}, method string, id int64) ([]byte, error) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, mcperrors.ConnectionFailed("http", t.desc.Endpoint, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, t.desc.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, mcperrors.ConnectionFailed("http", t.desc.Endpoint, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range t.desc.Headers {
		httpReq.Header.Set(k, v)
	}

	started := time.Now()
	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		// A deadline hit on the call context with the caller's own
		// context still live means our per-call timeout fired.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, mcperrors.CallTimeout(method, t.timeout).
				WithContext(&mcperrors.Context{ServerID: t.desc.ID, RequestID: id, Method: method})
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, mcperrors.ConnectionFailed("http", t.desc.Endpoint, err).
			WithContext(&mcperrors.Context{ServerID: t.desc.ID, RequestID: id, Method: method})
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, mcperrors.ConnectionFailed("http", t.desc.Endpoint, err)
	}

	t.logger.Debug("call completed",
		logging.String("method", method),
		logging.Int("status", httpResp.StatusCode),
		logging.Duration("elapsed", time.Since(started)))

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, mcperrors.HTTPStatusError(t.desc.Endpoint, httpResp.StatusCode, httpResp.Status).
			WithContext(&mcperrors.Context{ServerID: t.desc.ID, RequestID: id, Method: method})
	}
	return body, nil
}

// Done is closed once Close has been called.
func (t *HTTPTransport) Done() <-chan struct{} {
	return t.done
}

// Close marks the session unusable and releases pooled connections.
// Idempotent.
func (t *HTTPTransport) Close(ctx context.Context) error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.client.CloseIdleConnections()
		t.logger.Debug("session closed")
	})
	return nil
}
