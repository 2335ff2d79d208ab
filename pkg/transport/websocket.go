package transport

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/richard-senior/mcp/internal/logger"
	"github.com/richard-senior/mcp/pkg/protocol"
)

// WebSocketConfig configures the WebSocket server transport.
type WebSocketConfig struct {
	Addr string `validate:"required"`

	// AllowedOrigins, when non-empty, restricts the upgrade handshake's
	// Origin header to this allow-list.
	AllowedOrigins []string

	BearerToken string `validate:"omitempty"`

	// PingInterval is how often the server pings the connection, whether
	// or not other traffic is flowing. Zero uses a 30 second default.
	// A missed pong before the next interval elapses is treated as fatal
	// (Open Question decision 3), closing the connection with
	// ConnectionClosed.
	PingInterval time.Duration
}

var wsConfigValidator = httpConfigValidator

func (c WebSocketConfig) validate() error {
	if err := wsConfigValidator.Struct(c); err != nil {
		return protocol.Wrap(protocol.ErrInvalidParams, "invalid websocket transport config", err)
	}
	return nil
}

// WebSocketTransport implements Transport over a single upgraded
// gorilla/websocket connection, accepted once and held for the
// lifetime of the transport.
type WebSocketTransport struct {
	*stateMachine

	cfg      WebSocketConfig
	listener *http.Server
	netLn    net.Listener
	upgrader websocket.Upgrader

	connMu sync.Mutex
	conn   *websocket.Conn
	writeQ sync.Mutex

	accepted chan struct{}
}

func NewWebSocketTransport(cfg WebSocketConfig) (*WebSocketTransport, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	t := &WebSocketTransport{
		stateMachine: newStateMachine(),
		cfg:          cfg,
		accepted:     make(chan struct{}),
	}
	t.upgrader = websocket.Upgrader{
		CheckOrigin: t.checkOrigin,
	}
	return t, nil
}

// Addr returns the bound address, including the OS-assigned port when
// WebSocketConfig.Addr requested port 0. Only valid once Connect has
// created the listener (before the handshake necessarily completes).
func (t *WebSocketTransport) Addr() string {
	if t.netLn == nil {
		return ""
	}
	return t.netLn.Addr().String()
}

func (t *WebSocketTransport) checkOrigin(r *http.Request) bool {
	if len(t.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range t.cfg.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}

func (t *WebSocketTransport) Connect(ctx context.Context) error {
	t.setState(Connecting)

	mux := http.NewServeMux()
	mux.HandleFunc("/", t.handleUpgrade)
	t.listener = &http.Server{Addr: t.cfg.Addr, Handler: mux}

	ln, err := newTCPListener(ctx, t.cfg.Addr)
	if err != nil {
		t.fail(err)
		return err
	}
	t.netLn = ln

	go func() {
		if err := t.listener.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.fail(protocol.Wrap(protocol.ErrTransportError, "websocket server exited", err))
		}
	}()

	select {
	case <-t.accepted:
	case <-ctx.Done():
		return ctx.Err()
	}

	t.setState(Connected)
	go t.keepalive(ctx)
	go t.readLoop(ctx)

	logger.InfoContext(ctx, "websocket transport connected")
	return nil
}

func (t *WebSocketTransport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if t.cfg.BearerToken != "" {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got != t.cfg.BearerToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", err)
		return
	}

	t.connMu.Lock()
	if t.conn != nil {
		t.connMu.Unlock()
		_ = conn.Close()
		return
	}
	t.conn = conn
	t.connMu.Unlock()

	close(t.accepted)
}

func (t *WebSocketTransport) readLoop(ctx context.Context) {
	for {
		t.connMu.Lock()
		conn := t.conn
		t.connMu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				t.disconnect(protocol.Wrap(protocol.ErrConnectionClosed, "websocket read failed", err))
			}
			return
		}

		msg, err := protocol.Classify(data)
		if err != nil {
			t.emitError(err)
			continue
		}
		t.emit(msg)
	}
}

func (t *WebSocketTransport) keepalive(ctx context.Context) {
	interval := t.cfg.PingInterval
	if interval == 0 {
		interval = 30 * time.Second
	}

	t.connMu.Lock()
	conn := t.conn
	t.connMu.Unlock()
	if conn == nil {
		return
	}

	pongReceived := make(chan struct{}, 1)
	conn.SetPongHandler(func(string) error {
		select {
		case pongReceived <- struct{}{}:
		default:
		}
		return nil
	})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.writeQ.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			t.writeQ.Unlock()
			if err != nil {
				t.disconnect(protocol.Wrap(protocol.ErrConnectionClosed, "websocket ping failed", err))
				return
			}
			select {
			case <-pongReceived:
			case <-time.After(interval):
				t.disconnect(protocol.NewError(protocol.ErrConnectionClosed, "websocket keepalive pong missed", nil))
				_ = conn.Close()
				return
			}
		}
	}
}

func (t *WebSocketTransport) Send(ctx context.Context, msg *protocol.Message) error {
	t.connMu.Lock()
	conn := t.conn
	t.connMu.Unlock()
	if conn == nil || t.State() != Connected {
		return protocol.NewError(protocol.ErrConnectionClosed, "websocket transport is not connected", nil)
	}

	data, err := msg.Marshal()
	if err != nil {
		return protocol.Wrap(protocol.ErrInternal, "failed to marshal outgoing message", err)
	}

	t.writeQ.Lock()
	defer t.writeQ.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return protocol.Wrap(protocol.ErrTransportError, "websocket write failed", err)
	}
	return nil
}

func (t *WebSocketTransport) Disconnect(ctx context.Context) error {
	if t.State() == Disconnected {
		return nil
	}
	t.setState(Disconnecting)

	t.connMu.Lock()
	if t.conn != nil {
		_ = t.conn.Close()
	}
	t.connMu.Unlock()

	if t.listener != nil {
		_ = t.listener.Shutdown(ctx)
	}

	t.setState(Disconnected)
	t.closeChannels()
	return nil
}
