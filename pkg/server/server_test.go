package server

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richard-senior/mcp/pkg/client"
	"github.com/richard-senior/mcp/pkg/protocol"
	"github.com/richard-senior/mcp/pkg/transport"
)

func addTool() (protocol.Tool, ToolHandler) {
	tool := protocol.Tool{
		Name:        "add",
		Description: "adds two numbers",
		InputSchema: protocol.InputSchema{
			Type:       "object",
			Properties: map[string]protocol.ToolProperty{"a": {Type: "number"}, "b": {Type: "number"}},
			Required:   []string{"a", "b"},
		},
	}
	handler := func(ctx context.Context, args map[string]any) (protocol.ToolResult, error) {
		a, _ := args["a"].(float64)
		b, _ := args["b"].(float64)
		return protocol.ToolResult{Content: []protocol.ContentBlock{protocol.TextContent(fmt.Sprintf("%v", a+b))}}, nil
	}
	return tool, handler
}

func divideTool() (protocol.Tool, ToolHandler) {
	tool := protocol.Tool{
		Name:        "divide",
		Description: "divides two numbers",
		InputSchema: protocol.InputSchema{
			Type:       "object",
			Properties: map[string]protocol.ToolProperty{"a": {Type: "number"}, "b": {Type: "number"}},
			Required:   []string{"a", "b"},
		},
	}
	handler := func(ctx context.Context, args map[string]any) (protocol.ToolResult, error) {
		a, _ := args["a"].(float64)
		b, _ := args["b"].(float64)
		if b == 0 {
			return protocol.ErrorToolResult("division by zero"), nil
		}
		return protocol.ToolResult{Content: []protocol.ContentBlock{protocol.TextContent(fmt.Sprintf("%v", a/b))}}, nil
	}
	return tool, handler
}

func newTestServerAndClient(t *testing.T, registry *Registry) (*Server, *client.Client, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	serverTransport, clientTransport := transport.NewInMemoryPair()

	srv := New(serverTransport, protocol.Implementation{Name: "test-server", Version: "0.0.1"}, registry)
	require.NoError(t, srv.Serve(ctx))

	cl := client.New(clientTransport, protocol.Implementation{Name: "test-client", Version: "0.0.1"})
	require.NoError(t, cl.Connect(ctx))

	_, err := cl.Initialize(ctx, protocol.ClientCapabilities{})
	require.NoError(t, err)

	cleanup := func() {
		_ = cl.Disconnect(ctx)
		_ = srv.Shutdown(ctx)
		cancel()
	}
	return srv, cl, cleanup
}

func withTimeout(t *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}

func TestToolCallArithmeticAdd(t *testing.T) {
	reg := NewRegistry()
	tool, handler := addTool()
	reg.RegisterTool(tool, handler)

	_, cl, cleanup := newTestServerAndClient(t, reg)
	defer cleanup()

	ctx, cancel := withTimeout(t)
	defer cancel()

	result, err := cl.CallTool(ctx, "add", map[string]any{"a": 2.0, "b": 3.0})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "5", result.Content[0].Text)
}

func TestToolCallDivisionByZeroIsToolError(t *testing.T) {
	reg := NewRegistry()
	tool, handler := divideTool()
	reg.RegisterTool(tool, handler)

	_, cl, cleanup := newTestServerAndClient(t, reg)
	defer cleanup()

	ctx, cancel := withTimeout(t)
	defer cancel()

	result, err := cl.CallTool(ctx, "divide", map[string]any{"a": 1.0, "b": 0.0})
	require.NoError(t, err, "a handler-level failure must not be a JSON-RPC error")
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "division by zero")
}

func TestToolCallUnknownToolIsMethodNotFound(t *testing.T) {
	reg := NewRegistry()
	_, cl, cleanup := newTestServerAndClient(t, reg)
	defer cleanup()

	ctx, cancel := withTimeout(t)
	defer cancel()

	_, err := cl.CallTool(ctx, "does-not-exist", nil)
	require.Error(t, err)
	var typed *protocol.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, protocol.KindMethodNotFound, typed.Kind)
}

func TestResourceExactMatchTakesPrecedenceOverTemplate(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterResourceTemplate(protocol.ResourceTemplate{URITemplate: "file:///{+path}", Name: "any-file"},
		func(ctx context.Context, uri string, vars map[string]string) (protocol.ResourceContents, error) {
			return protocol.ResourceContents{URI: uri, Text: "from template: " + vars["path"]}, nil
		})
	reg.RegisterResource(protocol.Resource{URI: "file:///exact.txt", Name: "exact"},
		func(ctx context.Context, uri string, vars map[string]string) (protocol.ResourceContents, error) {
			return protocol.ResourceContents{URI: uri, Text: "from exact match"}, nil
		})

	_, cl, cleanup := newTestServerAndClient(t, reg)
	defer cleanup()

	ctx, cancel := withTimeout(t)
	defer cancel()

	contents, err := cl.ReadResource(ctx, "file:///exact.txt")
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, "from exact match", contents[0].Text)

	contents, err = cl.ReadResource(ctx, "file:///nested/other.txt")
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, "from template: nested/other.txt", contents[0].Text)
}

func TestReadResourceNotFound(t *testing.T) {
	reg := NewRegistry()
	_, cl, cleanup := newTestServerAndClient(t, reg)
	defer cleanup()

	ctx, cancel := withTimeout(t)
	defer cancel()

	_, err := cl.ReadResource(ctx, "file:///missing.txt")
	require.Error(t, err)
	var typed *protocol.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, protocol.KindResourceNotFound, typed.Kind)
}

func TestPromptsGet(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterPrompt(protocol.Prompt{
		Name:      "greet",
		Arguments: []protocol.PromptArgument{{Name: "name", Required: true}},
	}, func(ctx context.Context, args map[string]string) (protocol.PromptResult, error) {
		return protocol.PromptResult{
			Messages: []protocol.PromptMessage{
				{Role: protocol.RoleUser, Content: []protocol.ContentBlock{protocol.TextContent("hello " + args["name"])}},
			},
		}, nil
	})

	_, cl, cleanup := newTestServerAndClient(t, reg)
	defer cleanup()

	ctx, cancel := withTimeout(t)
	defer cancel()

	result, err := cl.GetPrompt(ctx, "greet", map[string]string{"name": "ada"})
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "hello ada", result.Messages[0].Content[0].Text)
}

func TestCapabilitiesReflectNonEmptyRegistries(t *testing.T) {
	reg := NewRegistry()
	tool, handler := addTool()
	reg.RegisterTool(tool, handler)

	_, cl, cleanup := newTestServerAndClient(t, reg)
	defer cleanup()

	result := cl.ServerInfo()
	require.NotNil(t, result)
	require.NotNil(t, result.Capabilities.Tools)
	assert.Nil(t, result.Capabilities.Resources)
	assert.Nil(t, result.Capabilities.Prompts)
}

// TestRequestBeforeInitializeIsRejected exercises the server's own
// pre-handshake gating directly over the transport, bypassing Client
// (which now refuses to send a pre-initialize request locally).
func TestRequestBeforeInitializeIsRejected(t *testing.T) {
	reg := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverTransport, clientTransport := transport.NewInMemoryPair()
	srv := New(serverTransport, protocol.Implementation{Name: "test-server", Version: "0.0.1"}, reg)
	require.NoError(t, srv.Serve(ctx))
	defer srv.Shutdown(ctx)

	require.NoError(t, clientTransport.Connect(ctx))
	defer clientTransport.Disconnect(ctx)

	req, err := protocol.NewJsonRpcRequest(string(protocol.MethodToolsList), nil, 1)
	require.NoError(t, err)
	require.NoError(t, clientTransport.Send(ctx, &protocol.Message{Kind: protocol.KindRequest, Request: req}))

	select {
	case msg := <-clientTransport.Events():
		require.Equal(t, protocol.KindErrorResponse, msg.Kind)
		typed := protocol.FromJsonRpcError(msg.ErrorResp.Error)
		assert.Equal(t, protocol.KindInvalidRequest, typed.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("server never responded to the pre-initialize request")
	}
}
