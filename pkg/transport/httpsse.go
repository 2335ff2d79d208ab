package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/richard-senior/mcp/internal/logger"
	"github.com/richard-senior/mcp/pkg/protocol"
)

// HTTPConfig configures the HTTP+SSE server transport.
type HTTPConfig struct {
	// Addr is the listen address. Use port 0 to let the OS assign one;
	// the bound port is then available from HTTPTransport.Addr().
	Addr string `validate:"required"`

	// BearerToken, if set, is required (as "Authorization: Bearer
	// <token>") on every request.
	BearerToken string `validate:"omitempty"`

	// PostPath is the route clients POST JSON-RPC messages to. Defaults
	// to "/".
	PostPath string

	// SSEPath is the route the SSE GET stream is served on. Defaults to
	// "/sse".
	SSEPath string

	// SSEIdleTimeout prunes an SSE session that hasn't been touched in
	// this long. Zero uses a 10 minute default, matching the pruning
	// interval of the reference implementation this is grounded on.
	SSEIdleTimeout time.Duration
}

var httpConfigValidator = validator.New()

func (c HTTPConfig) validate() error {
	if err := httpConfigValidator.Struct(c); err != nil {
		return protocol.Wrap(protocol.ErrInvalidParams, "invalid HTTP transport config", err)
	}
	return nil
}

// sseSession is the single long-lived SSE connection: an outbound event
// queue drained by the handler goroutine holding that response writer
// open, plus the done channel it closes on disconnect.
type sseSession struct {
	queue      chan []byte
	done       chan struct{}
	lastActive time.Time
}

// sseManager enforces the single-client model (spec.md §4.2.2): at most
// one SSE consumer may be attached at a time.
type sseManager struct {
	mu      sync.Mutex
	id      string
	session *sseSession
}

func newSSEManager(ctx context.Context, idleTimeout time.Duration) *sseManager {
	m := &sseManager{}
	go m.cleanupRoutine(ctx, idleTimeout)
	return m
}

// acquire claims the single SSE slot for id, reporting false if another
// client is already connected.
func (m *sseManager) acquire(id string, s *sseSession) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		return false
	}
	m.id = id
	m.session = s
	return true
}

// activeID reports the connected SSE session's id, if any.
func (m *sseManager) activeID() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return "", false
	}
	m.session.lastActive = time.Now()
	return m.id, true
}

func (m *sseManager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil && m.id == id {
		m.session = nil
		m.id = ""
	}
}

func (m *sseManager) broadcast(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return
	}
	select {
	case m.session.queue <- data:
	default:
	}
}

func (m *sseManager) cleanupRoutine(ctx context.Context, idleTimeout time.Duration) {
	ticker := time.NewTicker(idleTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			if m.session != nil && time.Since(m.session.lastActive) > idleTimeout {
				close(m.session.done)
				m.session = nil
				m.id = ""
			}
			m.mu.Unlock()
		}
	}
}

// HTTPTransport implements Transport as an HTTP server accepting
// JSON-RPC messages via POST and delivering server-to-client messages
// either as the inline POST response or, for a session that opened a
// GET SSE stream, as an SSE event on that stream. The two reply modes
// are mutually exclusive per request (spec.md §4.2.2): a POST either
// gets an inline body or a 202 Accepted plus a later SSE event, never
// both.
type HTTPTransport struct {
	*stateMachine

	cfg      HTTPConfig
	listener net.Listener
	srv      *http.Server
	sse      *sseManager

	pendingMu sync.Mutex
	pending   map[string]chan *protocol.Message // request id (string form) -> inline-reply waiter

	// streamID is the session id handed out for "streamable HTTP" POSTs
	// that arrive with no SSE client attached (spec.md §4.2.2's "generate
	// one if none exists yet").
	streamMu sync.Mutex
	streamID string
}

func NewHTTPTransport(cfg HTTPConfig) (*HTTPTransport, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.PostPath == "" {
		cfg.PostPath = "/"
	}
	if cfg.SSEPath == "" {
		cfg.SSEPath = "/sse"
	}
	return &HTTPTransport{
		stateMachine: newStateMachine(),
		cfg:          cfg,
		pending:      make(map[string]chan *protocol.Message),
	}, nil
}

// Addr returns the bound address, including the OS-assigned port when
// HTTPConfig.Addr requested port 0. Only valid after Connect returns.
func (t *HTTPTransport) Addr() string {
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

func (t *HTTPTransport) Connect(ctx context.Context) error {
	t.setState(Connecting)

	lc := net.ListenConfig{KeepAlive: 30 * time.Second}
	ln, err := lc.Listen(ctx, "tcp", t.cfg.Addr)
	if err != nil {
		t.fail(err)
		return err
	}
	t.listener = ln

	idleTimeout := t.cfg.SSEIdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 10 * time.Minute
	}
	t.sse = newSSEManager(ctx, idleTimeout)

	logFormatter := httplog.NewLogger("mcp-http", httplog.Options{JSON: false, Concise: true})

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(httplog.RequestLogger(logFormatter))
	r.Use(t.authMiddleware)
	r.Get(t.cfg.SSEPath, t.handleSSE)
	r.Post(t.cfg.PostPath, t.handlePost)

	t.srv = &http.Server{Handler: r}
	t.setState(Connected)

	go func() {
		if err := t.srv.Serve(t.listener); err != nil && err != http.ErrServerClosed {
			t.fail(protocol.Wrap(protocol.ErrTransportError, "http server exited", err))
		}
	}()

	logger.InfoContext(ctx, "http+sse transport listening", t.listener.Addr().String())
	return nil
}

func (t *HTTPTransport) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t.cfg.BearerToken != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got != t.cfg.BearerToken {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// sessionID resolves the session per the Open Question decision: accept
// either the Mcp-Session-Id header or the sessionId query parameter.
func sessionID(r *http.Request) string {
	if id := r.Header.Get("Mcp-Session-Id"); id != "" {
		return id
	}
	return r.URL.Query().Get("sessionId")
}

func (t *HTTPTransport) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	if !strings.HasPrefix(r.Header.Get("Accept"), "text/event-stream") {
		http.Error(w, "Accept header must be text/event-stream", http.StatusNotAcceptable)
		return
	}

	id := sessionID(r)
	if id == "" {
		id = uuid.New().String()
	}
	session := &sseSession{queue: make(chan []byte, 100), done: make(chan struct{}), lastActive: time.Now()}
	if !t.sse.acquire(id, session) {
		http.Error(w, "an SSE client is already connected", http.StatusConflict)
		return
	}
	defer t.sse.release(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Mcp-Session-Id", id)
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: endpoint\ndata: %s?sessionId=%s\n\n", t.cfg.PostPath, id)
	flusher.Flush()

	clientClosed := r.Context().Done()
	eventID := 1
	for {
		select {
		case event := <-session.queue:
			fmt.Fprintf(w, "id: %d\nevent: message\ndata: %s\n\n", eventID, event)
			eventID++
			flusher.Flush()
		case <-session.done:
			return
		case <-clientClosed:
			return
		}
	}
}

func (t *HTTPTransport) handlePost(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}

	reqID := sessionID(r)
	activeID, hasSSE := t.sse.activeID()
	if hasSSE && (reqID == "" || reqID != activeID) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, protocol.NewJsonRpcErrorResponse(protocol.ErrParse, err.Error(), nil, nil))
		return
	}

	msg, err := protocol.Classify(body)
	if err != nil {
		t.emitError(err)
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, protocol.ToJsonRpcError(err))
		return
	}

	// Streamable HTTP mode (no SSE client attached): remember whatever
	// session id the client supplied, or mint one the first time there
	// isn't one yet (spec.md §4.2.2).
	respID := reqID
	if !hasSSE {
		respID = t.resolveStreamSessionID(reqID)
	}
	w.Header().Set("Mcp-Session-Id", respID)

	if msg.Kind == protocol.KindNotification {
		t.emit(msg)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	var waiter chan *protocol.Message
	idKey := fmt.Sprintf("%v", msg.Request.ID)
	if !hasSSE {
		waiter = make(chan *protocol.Message, 1)
		t.pendingMu.Lock()
		t.pending[idKey] = waiter
		t.pendingMu.Unlock()
	}

	t.emit(msg)

	if hasSSE {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	select {
	case reply := <-waiter:
		data, _ := reply.Marshal()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	case <-r.Context().Done():
		t.pendingMu.Lock()
		delete(t.pending, idKey)
		t.pendingMu.Unlock()
	case <-time.After(30 * time.Second):
		t.pendingMu.Lock()
		delete(t.pending, idKey)
		t.pendingMu.Unlock()
		render.Status(r, http.StatusGatewayTimeout)
		render.JSON(w, r, protocol.NewJsonRpcErrorResponse(protocol.ErrTimeout, "no response from server", nil, msg.Request.ID))
	}
}

// Send delivers a server-to-client message. If it answers an in-flight
// inline POST (tracked by id), it completes that waiter; otherwise it
// is broadcast as an SSE event to the named session, matching the
// inline-vs-SSE exclusivity described in spec.md §4.2.2.
func (t *HTTPTransport) Send(ctx context.Context, msg *protocol.Message) error {
	if t.State() != Connected {
		return protocol.NewError(protocol.ErrConnectionClosed, "http transport is not connected", nil)
	}

	if msg.Kind == protocol.KindResponse || msg.Kind == protocol.KindErrorResponse {
		var id any
		if msg.Kind == protocol.KindResponse {
			id = msg.Response.ID
		} else {
			id = msg.ErrorResp.ID
		}
		idKey := fmt.Sprintf("%v", id)
		t.pendingMu.Lock()
		waiter, ok := t.pending[idKey]
		if ok {
			delete(t.pending, idKey)
		}
		t.pendingMu.Unlock()
		if ok {
			waiter <- msg
			return nil
		}
	}

	data, err := msg.Marshal()
	if err != nil {
		return protocol.Wrap(protocol.ErrInternal, "failed to marshal outgoing message", err)
	}
	return t.broadcastSSE(data)
}

func (t *HTTPTransport) broadcastSSE(data []byte) error {
	t.sse.broadcast(data)
	return nil
}

// resolveStreamSessionID implements the streamable-HTTP-mode session id
// rule: keep whatever id the client supplies, or mint one the first
// time a POST arrives with none (spec.md §4.2.2).
func (t *HTTPTransport) resolveStreamSessionID(requested string) string {
	t.streamMu.Lock()
	defer t.streamMu.Unlock()
	if requested != "" {
		t.streamID = requested
		return requested
	}
	if t.streamID == "" {
		t.streamID = uuid.New().String()
	}
	return t.streamID
}

func (t *HTTPTransport) Disconnect(ctx context.Context) error {
	if t.State() == Disconnected {
		return nil
	}
	t.setState(Disconnecting)
	if t.srv != nil {
		_ = t.srv.Shutdown(ctx)
	}
	t.setState(Disconnected)
	t.closeChannels()
	return nil
}
