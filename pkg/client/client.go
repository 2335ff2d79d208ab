// Package client implements the client role of the Model Context
// Protocol: the async correlated operations a host application calls
// against a connected server (initialize, list/call tools, list/read
// resources, list/get prompts) and cancellation of an in-flight call.
package client

import (
	"context"
	"encoding/json"

	"github.com/richard-senior/mcp/pkg/protocol"
	"github.com/richard-senior/mcp/pkg/session"
	"github.com/richard-senior/mcp/pkg/transport"
)

// Client drives one Session as the initiating side of a conversation.
type Client struct {
	Info protocol.Implementation

	session *session.Session
	caps    *protocol.InitializeResult
}

// New builds a Client over the given transport. Call Connect, then
// Initialize, before making any other call.
func New(t transport.Transport, info protocol.Implementation) *Client {
	c := &Client{Info: info}
	c.session = session.New(t, nil, c.handleNotification)
	return c
}

func (c *Client) handleNotification(ctx context.Context, note *protocol.JsonRpcNotification) {
	// The core library surfaces server-initiated notifications
	// (list_changed, resources/updated) by nothing more than accepting
	// them without erroring; an embedding host that wants to react
	// subscribes at a higher layer. Kept here, rather than dropped
	// silently, as the hook point for that future layer.
}

// Connect brings the transport up.
func (c *Client) Connect(ctx context.Context) error {
	return c.session.Start(ctx)
}

// Disconnect tears the transport down, failing any still-outstanding
// call with ConnectionClosed.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.session.Stop(ctx)
}

// Initialize performs the handshake and records the negotiated
// capabilities/protocol version for later reference.
func (c *Client) Initialize(ctx context.Context, caps protocol.ClientCapabilities) (*protocol.InitializeResult, error) {
	result, err := c.session.ClientHandshake(ctx, c.Info, caps)
	if err != nil {
		return nil, err
	}
	c.caps = result
	return result, nil
}

// ServerInfo returns the server's identity as reported during
// Initialize, or nil if Initialize hasn't completed.
func (c *Client) ServerInfo() *protocol.InitializeResult { return c.caps }

// requireInitialized enforces that every operation but initialize itself
// waits for the handshake to complete (spec.md §4.6 step 1): it fails
// locally with InternalError and never touches the transport.
func (c *Client) requireInitialized(method string) error {
	if method == string(protocol.MethodInitialize) {
		return nil
	}
	if !c.session.Initialized() {
		return protocol.NewError(protocol.ErrInternal, "client session is not initialized", nil)
	}
	return nil
}

func call[T any](ctx context.Context, c *Client, method string, params any) (T, error) {
	var out T
	if err := c.requireInitialized(method); err != nil {
		return out, err
	}
	raw, err := c.session.Call(ctx, method, params)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, protocol.Wrap(protocol.ErrInternal, "failed to decode result", err)
	}
	return out, nil
}

func (c *Client) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	result, err := call[protocol.ToolsListResult](ctx, c, string(protocol.MethodToolsList), nil)
	if err != nil {
		return nil, err
	}
	return result.Tools, nil
}

func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (protocol.ToolResult, error) {
	return call[protocol.ToolResult](ctx, c, string(protocol.MethodToolsCall), protocol.ToolCallParams{Name: name, Arguments: args})
}

func (c *Client) ListResources(ctx context.Context) ([]protocol.Resource, error) {
	result, err := call[protocol.ResourcesListResult](ctx, c, string(protocol.MethodResourcesList), nil)
	if err != nil {
		return nil, err
	}
	return result.Resources, nil
}

func (c *Client) ListResourceTemplates(ctx context.Context) ([]protocol.ResourceTemplate, error) {
	result, err := call[protocol.ResourceTemplatesListResult](ctx, c, string(protocol.MethodResourcesTemplateList), nil)
	if err != nil {
		return nil, err
	}
	return result.ResourceTemplates, nil
}

func (c *Client) ReadResource(ctx context.Context, uri string) ([]protocol.ResourceContents, error) {
	result, err := call[protocol.ReadResourceResult](ctx, c, string(protocol.MethodResourcesRead), protocol.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, err
	}
	return result.Contents, nil
}

func (c *Client) SubscribeResource(ctx context.Context, uri string) error {
	_, err := call[struct{}](ctx, c, string(protocol.MethodResourcesSubscribe), protocol.ReadResourceParams{URI: uri})
	return err
}

func (c *Client) UnsubscribeResource(ctx context.Context, uri string) error {
	_, err := call[struct{}](ctx, c, string(protocol.MethodResourcesUnsubscribe), protocol.ReadResourceParams{URI: uri})
	return err
}

func (c *Client) ListPrompts(ctx context.Context) ([]protocol.Prompt, error) {
	result, err := call[protocol.PromptsListResult](ctx, c, string(protocol.MethodPromptsList), nil)
	if err != nil {
		return nil, err
	}
	return result.Prompts, nil
}

func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (protocol.PromptResult, error) {
	return call[protocol.PromptResult](ctx, c, string(protocol.MethodPromptsGet), protocol.GetPromptParams{Name: name, Arguments: args})
}
