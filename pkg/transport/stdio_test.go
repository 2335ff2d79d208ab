package transport

import (
	"bufio"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richard-senior/mcp/pkg/protocol"
)

// newPipeStdioTransport wires a StdioTransport directly to in-process
// pipes, standing in for the subprocess's stdin/stdout without actually
// spawning one.
func newPipeStdioTransport(r io.Reader, w io.Writer) *StdioTransport {
	return &StdioTransport{
		stateMachine: newStateMachine(),
		reader:       bufio.NewReader(r),
		writer:       w,
	}
}

func TestStdioTransportReadsNDJSONLine(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	inR, inW := io.Pipe()
	tr := newPipeStdioTransport(inR, io.Discard)
	require.NoError(t, tr.Connect(ctx))
	defer tr.Disconnect(ctx)

	go func() {
		_, _ = inW.Write([]byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}` + "\n"))
	}()

	select {
	case msg := <-tr.Events():
		require.NotNil(t, msg)
		assert.Equal(t, protocol.KindRequest, msg.Kind)
		assert.Equal(t, "tools/list", msg.Request.Method)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for parsed message")
	}
}

func TestStdioTransportSkipsBlankLines(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	inR, inW := io.Pipe()
	tr := newPipeStdioTransport(inR, io.Discard)
	require.NoError(t, tr.Connect(ctx))
	defer tr.Disconnect(ctx)

	go func() {
		_, _ = inW.Write([]byte("\n\n"))
		_, _ = inW.Write([]byte(`{"jsonrpc":"2.0","method":"ping"}` + "\n"))
	}()

	select {
	case msg := <-tr.Events():
		assert.Equal(t, protocol.KindNotification, msg.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the first non-blank line")
	}
}

func TestStdioTransportSendWritesNewlineTerminatedJSON(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	outR, outW := io.Pipe()
	inR, _ := io.Pipe()
	tr := newPipeStdioTransport(inR, outW)
	require.NoError(t, tr.Connect(ctx))
	defer tr.Disconnect(ctx)

	resp, err := protocol.NewJsonRpcResponse(map[string]any{"ok": true}, 1)
	require.NoError(t, err)

	readDone := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(outR).ReadString('\n')
		readDone <- line
	}()

	require.NoError(t, tr.Send(ctx, &protocol.Message{Kind: protocol.KindResponse, Response: resp}))

	select {
	case line := <-readDone:
		assert.Contains(t, line, `"ok":true`)
		assert.Equal(t, byte('\n'), line[len(line)-1])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for write")
	}
}

func TestStdioTransportEOFReportsConnectionClosed(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	inR, inW := io.Pipe()
	tr := newPipeStdioTransport(inR, io.Discard)
	require.NoError(t, tr.Connect(ctx))

	_ = inW.Close()

	select {
	case err := <-tr.Errors():
		var typed *protocol.Error
		require.ErrorAs(t, err, &typed)
		assert.Equal(t, protocol.KindConnectionClosed, typed.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for EOF to surface")
	}

	assert.Equal(t, Disconnected, tr.State())
}

func TestStdioTransportMalformedLineDoesNotChangeState(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	inR, inW := io.Pipe()
	tr := newPipeStdioTransport(inR, io.Discard)
	require.NoError(t, tr.Connect(ctx))
	defer tr.Disconnect(ctx)

	go func() {
		_, _ = inW.Write([]byte("not json\n"))
	}()

	select {
	case <-tr.Errors():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the parse failure to surface")
	}

	assert.Equal(t, Connected, tr.State())
}
