// Package session implements the layer between a Transport and the
// server/client roles built on top of it: request-id generation, the
// pending-request correlation table, the initialize handshake, and
// demultiplexing inbound messages into requests, responses, and
// notifications.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/richard-senior/mcp/internal/logger"
	"github.com/richard-senior/mcp/pkg/protocol"
	"github.com/richard-senior/mcp/pkg/transport"
)

// RequestHandler answers one inbound request and returns either a
// result value (marshaled into the response) or an error.
type RequestHandler func(ctx context.Context, req *protocol.JsonRpcRequest) (any, error)

// NotificationHandler reacts to one inbound notification.
type NotificationHandler func(ctx context.Context, note *protocol.JsonRpcNotification)

// Session wraps a Transport with request correlation and dispatch. Both
// the server and client roles are built on top of the same Session
// type: a server mostly handles inbound Requests and sends
// Notifications, a client mostly sends Requests and handles inbound
// Notifications, but both directions are symmetric in JSON-RPC so
// nothing here assumes which role it's playing.
type Session struct {
	t transport.Transport

	idCounter int64

	pendingMu sync.Mutex
	pending   map[string]chan *protocol.Message

	onRequest      RequestHandler
	onNotification NotificationHandler

	initialized atomic.Bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Session over an already-constructed Transport. Call
// Start to connect the transport and begin the dispatch loop.
func New(t transport.Transport, onRequest RequestHandler, onNotification NotificationHandler) *Session {
	return &Session{
		t:              t,
		pending:        make(map[string]chan *protocol.Message),
		onRequest:      onRequest,
		onNotification: onNotification,
	}
}

// NextID generates a request id: a monotonic counter plus a random
// suffix, so ids stay unique across reconnects within one process
// without needing persisted state (spec.md: "Persisted state: None").
func (s *Session) NextID() string {
	n := atomic.AddInt64(&s.idCounter, 1)
	return fmt.Sprintf("%d-%s", n, uuid.NewString())
}

// Start connects the underlying transport and begins demultiplexing
// inbound messages on a background goroutine.
func (s *Session) Start(ctx context.Context) error {
	if err := s.t.Connect(ctx); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.dispatchLoop(runCtx)
	return nil
}

// Stop disconnects the transport and waits for the dispatch loop to
// exit.
func (s *Session) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	err := s.t.Disconnect(ctx)
	s.wg.Wait()
	s.failAllPending(protocol.NewError(protocol.ErrConnectionClosed, "session stopped", nil))
	return err
}

func (s *Session) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()
	events := s.t.Events()
	errs := s.t.Errors()

	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				s.failAllPending(protocol.NewError(protocol.ErrConnectionClosed, "transport closed", nil))
				return
			}
			logger.ErrorContext(ctx, "transport error", err)
			// A malformed inbound frame is recoverable: the transport
			// stays up, so outstanding calls keep waiting.
			var typed *protocol.Error
			if errors.As(err, &typed) && (typed.Kind == protocol.KindParseError || typed.Kind == protocol.KindInvalidRequest) {
				continue
			}
			s.failAllPending(err)
		case msg, ok := <-events:
			if !ok {
				s.failAllPending(protocol.NewError(protocol.ErrConnectionClosed, "transport closed", nil))
				return
			}
			s.handle(ctx, msg)
		}
	}
}

func (s *Session) handle(ctx context.Context, msg *protocol.Message) {
	switch msg.Kind {
	case protocol.KindRequest:
		s.handleRequest(ctx, msg.Request)
	case protocol.KindNotification:
		if s.onNotification != nil {
			s.onNotification(ctx, msg.Notification)
		}
	case protocol.KindResponse:
		s.resolvePending(fmt.Sprintf("%v", msg.Response.ID), msg)
	case protocol.KindErrorResponse:
		s.resolvePending(fmt.Sprintf("%v", msg.ErrorResp.ID), msg)
	}
}

func (s *Session) handleRequest(ctx context.Context, req *protocol.JsonRpcRequest) {
	if s.onRequest == nil {
		s.replyError(ctx, req.ID, protocol.NewError(protocol.ErrMethodNotFound, "no request handler installed", nil))
		return
	}

	result, err := s.callHandlerSafely(ctx, req)
	if err != nil {
		s.replyError(ctx, req.ID, err)
		return
	}

	resp, err := protocol.NewJsonRpcResponse(result, req.ID)
	if err != nil {
		s.replyError(ctx, req.ID, protocol.Wrap(protocol.ErrInternal, "failed to marshal result", err))
		return
	}
	_ = s.t.Send(ctx, &protocol.Message{Kind: protocol.KindResponse, Response: resp})
}

// callHandlerSafely contains a panicking handler so one misbehaving
// tool/resource/prompt implementation can't take down the dispatch
// loop (spec.md §5: handler panics must not propagate past dispatch).
func (s *Session) callHandlerSafely(ctx context.Context, req *protocol.JsonRpcRequest) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = protocol.NewError(protocol.ErrInternal, fmt.Sprintf("handler panicked: %v", r), nil)
		}
	}()
	return s.onRequest(ctx, req)
}

func (s *Session) replyError(ctx context.Context, id any, err error) {
	rpcErr := protocol.ToJsonRpcError(err)
	resp := protocol.NewJsonRpcErrorResponse(rpcErr.Code, rpcErr.Message, rpcErr.Data, id)
	_ = s.t.Send(ctx, &protocol.Message{Kind: protocol.KindErrorResponse, ErrorResp: resp})
}

// Call sends a request and blocks until its matching response or error
// response arrives, the context is cancelled, or the transport fails.
func (s *Session) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := s.NextID()
	req, err := protocol.NewJsonRpcRequest(method, params, id)
	if err != nil {
		return nil, protocol.Wrap(protocol.ErrInternal, "failed to build request", err)
	}

	waiter := make(chan *protocol.Message, 1)
	s.pendingMu.Lock()
	s.pending[id] = waiter
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	if err := s.t.Send(ctx, &protocol.Message{Kind: protocol.KindRequest, Request: req}); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		_ = s.Notify(context.Background(), string(protocol.MethodCancelled), protocol.CancelledParams{RequestID: id, Reason: ctx.Err().Error()})
		return nil, protocol.Wrap(protocol.ErrTimeout, "call cancelled", ctx.Err())
	case msg := <-waiter:
		switch msg.Kind {
		case protocol.KindResponse:
			return msg.Response.Result, nil
		case protocol.KindErrorResponse:
			return nil, protocol.FromJsonRpcError(msg.ErrorResp.Error)
		default:
			return nil, protocol.NewError(protocol.ErrInternal, "unexpected message kind resolving call", nil)
		}
	}
}

// Notify sends a one-way notification.
func (s *Session) Notify(ctx context.Context, method string, params any) error {
	note, err := protocol.NewJsonRpcNotification(method, params)
	if err != nil {
		return protocol.Wrap(protocol.ErrInternal, "failed to build notification", err)
	}
	return s.t.Send(ctx, &protocol.Message{Kind: protocol.KindNotification, Notification: note})
}

func (s *Session) resolvePending(idKey string, msg *protocol.Message) {
	s.pendingMu.Lock()
	waiter, ok := s.pending[idKey]
	s.pendingMu.Unlock()
	if !ok {
		logger.Warn("received response for unknown or already-resolved request id", idKey)
		return
	}
	select {
	case waiter <- msg:
	default:
	}
}

func (s *Session) failAllPending(err error) {
	rpcErr := protocol.ToJsonRpcError(err)
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for id, waiter := range s.pending {
		errResp := protocol.NewJsonRpcErrorResponse(rpcErr.Code, rpcErr.Message, rpcErr.Data, id)
		select {
		case waiter <- &protocol.Message{Kind: protocol.KindErrorResponse, ErrorResp: errResp}:
		default:
		}
		delete(s.pending, id)
	}
}

// MarkInitialized records that the initialize handshake completed.
func (s *Session) MarkInitialized() { s.initialized.Store(true) }

// Initialized reports whether the handshake has completed.
func (s *Session) Initialized() bool { return s.initialized.Load() }
