package transport

import (
	"context"
	"net"
	"time"
)

// newTCPListener opens a listening socket with keepalive enabled. The
// WebSocket transport binds through it; the HTTP+SSE transport builds
// an identical net.ListenConfig inline in its own Connect.
func newTCPListener(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{KeepAlive: 30 * time.Second}
	return lc.Listen(ctx, "tcp", addr)
}
