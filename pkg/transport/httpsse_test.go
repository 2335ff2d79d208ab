package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richard-senior/mcp/pkg/protocol"
)

func startTestHTTPTransport(t *testing.T) (*HTTPTransport, func()) {
	t.Helper()
	tr, err := NewHTTPTransport(HTTPConfig{Addr: "127.0.0.1:0"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, tr.Connect(ctx))

	return tr, func() {
		_ = tr.Disconnect(context.Background())
		cancel()
	}
}

func TestHTTPTransportInlineReply(t *testing.T) {
	tr, stop := startTestHTTPTransport(t)
	defer stop()

	go func() {
		msg := <-tr.Events()
		resp, _ := protocol.NewJsonRpcResponse(map[string]any{"pong": true}, msg.Request.ID)
		_ = tr.Send(context.Background(), &protocol.Message{Kind: protocol.KindResponse, Response: resp})
	}()

	body := bytes.NewBufferString(`{"jsonrpc":"2.0","method":"ping","id":1}`)
	resp, err := http.Post("http://"+tr.Addr()+"/", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Mcp-Session-Id"))
}

func TestHTTPTransportWrongContentTypeIsUnsupportedMediaType(t *testing.T) {
	tr, stop := startTestHTTPTransport(t)
	defer stop()

	resp, err := http.Post("http://"+tr.Addr()+"/", "text/plain", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func openSSE(t *testing.T, addr string) (*http.Response, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/sse", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp, cancel
}

func TestHTTPTransportSSERequiresEventStreamAccept(t *testing.T) {
	tr, stop := startTestHTTPTransport(t)
	defer stop()

	resp, err := http.Get("http://" + tr.Addr() + "/sse")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotAcceptable, resp.StatusCode)
}

func TestHTTPTransportSecondSSEClientGetsConflict(t *testing.T) {
	tr, stop := startTestHTTPTransport(t)
	defer stop()

	first, cancel := openSSE(t, tr.Addr())
	defer cancel()
	defer first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	second, cancel2 := openSSE(t, tr.Addr())
	defer cancel2()
	defer second.Body.Close()
	assert.Equal(t, http.StatusConflict, second.StatusCode)
}

func TestHTTPTransportSSEEndpointEventUsesPostPath(t *testing.T) {
	tr, stop := startTestHTTPTransport(t)
	defer stop()

	resp, cancel := openSSE(t, tr.Addr())
	defer cancel()
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))
	id := resp.Header.Get("Mcp-Session-Id")
	require.NotEmpty(t, id)

	reader := bufio.NewReader(resp.Body)
	eventLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	dataLine, err := reader.ReadString('\n')
	require.NoError(t, err)

	assert.Equal(t, "event: endpoint\n", eventLine)
	assert.Equal(t, fmt.Sprintf("data: %s?sessionId=%s\n", tr.cfg.PostPath, id), dataLine)
}

func TestHTTPTransportPostSessionMismatchIsForbidden(t *testing.T) {
	tr, stop := startTestHTTPTransport(t)
	defer stop()

	sse, cancel := openSSE(t, tr.Addr())
	defer cancel()
	defer sse.Body.Close()
	require.Equal(t, http.StatusOK, sse.StatusCode)

	req, err := http.NewRequest(http.MethodPost, "http://"+tr.Addr()+"/", bytes.NewBufferString(`{"jsonrpc":"2.0","method":"ping","id":1}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Mcp-Session-Id", "some-other-session")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHTTPTransportPostMatchingSessionGetsAccepted(t *testing.T) {
	tr, stop := startTestHTTPTransport(t)
	defer stop()

	sse, cancel := openSSE(t, tr.Addr())
	defer cancel()
	defer sse.Body.Close()
	require.Equal(t, http.StatusOK, sse.StatusCode)
	id := sse.Header.Get("Mcp-Session-Id")

	go func() { <-tr.Events() }()

	req, err := http.NewRequest(http.MethodPost, "http://"+tr.Addr()+"/", bytes.NewBufferString(`{"jsonrpc":"2.0","method":"ping","id":1}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Mcp-Session-Id", id)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestHTTPTransportNotificationGetsAccepted(t *testing.T) {
	tr, stop := startTestHTTPTransport(t)
	defer stop()

	done := make(chan struct{})
	go func() {
		<-tr.Events()
		close(done)
	}()

	body := bytes.NewBufferString(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	resp, err := http.Post("http://"+tr.Addr()+"/", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notification was never emitted to the session layer")
	}
}

func TestHTTPTransportMalformedBodyIsParseError(t *testing.T) {
	tr, stop := startTestHTTPTransport(t)
	defer stop()

	resp, err := http.Post("http://"+tr.Addr()+"/", "application/json", bytes.NewBufferString(`not json`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
