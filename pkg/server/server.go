// Package server implements the server role of the Model Context
// Protocol: tool/resource/prompt registries and the dispatch of
// initialize, tools/*, resources/*, and prompts/* requests against
// them.
package server

import (
	"context"
	"fmt"

	"github.com/richard-senior/mcp/internal/logger"
	"github.com/richard-senior/mcp/pkg/protocol"
	"github.com/richard-senior/mcp/pkg/session"
	"github.com/richard-senior/mcp/pkg/transport"
)

// Server dispatches MCP requests against a Registry over one Session.
// Unlike the teacher's process-wide singleton, a Server here is a
// regular value: an embedding application can run more than one
// concurrently (e.g. one per accepted connection), which the HTTP and
// WebSocket transports require anyway.
type Server struct {
	Info         protocol.Implementation
	Instructions string

	registry *Registry
	session  *session.Session
}

// New builds a Server over the given transport, backed by registry.
// Pass a fresh *Registry per Server unless registries are intentionally
// shared read-only across sessions.
func New(t transport.Transport, info protocol.Implementation, registry *Registry) *Server {
	s := &Server{Info: info, registry: registry}
	s.session = session.New(t, s.dispatch, s.handleNotification)
	return s
}

func (s *Server) Registry() *Registry { return s.registry }

// Serve connects the transport and starts the dispatch loop on a
// background goroutine, returning as soon as the transport is up. The
// loop runs until ctx is cancelled or the transport closes.
func (s *Server) Serve(ctx context.Context) error {
	return s.session.Start(ctx)
}

// Shutdown disconnects the transport and waits for dispatch to stop.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.session.Stop(ctx)
}

// NotifyResourceUpdated emits notifications/resources/updated, for an
// embedding application whose resource provider detects an external
// change (SPEC_FULL.md supplemented feature).
func (s *Server) NotifyResourceUpdated(ctx context.Context, uri string) error {
	return s.session.Notify(ctx, string(protocol.MethodResourcesUpdated), protocol.ResourceUpdatedParams{URI: uri})
}

// NotifyToolsListChanged emits notifications/tools/list_changed, for an
// embedding application that registers or removes tools after Serve has
// started.
func (s *Server) NotifyToolsListChanged(ctx context.Context) error {
	return s.session.Notify(ctx, string(protocol.MethodToolsListChanged), nil)
}

// NotifyResourcesListChanged emits notifications/resources/list_changed.
func (s *Server) NotifyResourcesListChanged(ctx context.Context) error {
	return s.session.Notify(ctx, string(protocol.MethodResourcesListChanged), nil)
}

// NotifyPromptsListChanged emits notifications/prompts/list_changed.
func (s *Server) NotifyPromptsListChanged(ctx context.Context) error {
	return s.session.Notify(ctx, string(protocol.MethodPromptsListChanged), nil)
}

func (s *Server) capabilities() protocol.ServerCapabilities {
	var caps protocol.ServerCapabilities
	if s.registry.hasTools() {
		caps.Tools = &protocol.ListChangedCapability{}
	}
	if s.registry.hasResources() {
		caps.Resources = &protocol.ResourcesCapability{Subscribe: true}
	}
	if s.registry.hasPrompts() {
		caps.Prompts = &protocol.ListChangedCapability{}
	}
	return caps
}

func (s *Server) handleNotification(ctx context.Context, note *protocol.JsonRpcNotification) {
	switch protocol.MethodType(note.Method) {
	case protocol.MethodInitialized:
		s.session.MarkInitialized()
	case protocol.MethodCancelled:
		logger.DebugContext(ctx, "client cancelled a request", string(note.Params))
	default:
		logger.DebugContext(ctx, "unhandled notification", note.Method)
	}
}

// dispatch is the session.RequestHandler wired into the Session: it
// routes by method name and enforces the "requests before initialize
// completes fail" rule (spec.md §4.3), except for initialize itself.
func (s *Server) dispatch(ctx context.Context, req *protocol.JsonRpcRequest) (any, error) {
	method := protocol.MethodType(req.Method)

	if method != protocol.MethodInitialize && !s.session.Initialized() {
		return nil, protocol.NewError(protocol.ErrInvalidRequest, "session not initialized", nil)
	}

	switch method {
	case protocol.MethodInitialize:
		return s.handleInitialize(ctx, req)
	case protocol.MethodToolsList:
		return protocol.ToolsListResult{Tools: s.registry.listTools()}, nil
	case protocol.MethodToolsCall:
		return s.handleToolsCall(ctx, req)
	case protocol.MethodResourcesList:
		return protocol.ResourcesListResult{Resources: s.registry.listResources()}, nil
	case protocol.MethodResourcesTemplateList:
		return protocol.ResourceTemplatesListResult{ResourceTemplates: s.registry.listResourceTemplates()}, nil
	case protocol.MethodResourcesRead:
		return s.handleResourcesRead(ctx, req)
	case protocol.MethodResourcesSubscribe:
		return s.handleResourceSubscription(ctx, req, true)
	case protocol.MethodResourcesUnsubscribe:
		return s.handleResourceSubscription(ctx, req, false)
	case protocol.MethodPromptsList:
		return protocol.PromptsListResult{Prompts: s.registry.listPrompts()}, nil
	case protocol.MethodPromptsGet:
		return s.handlePromptsGet(ctx, req)
	default:
		return nil, protocol.NewError(protocol.ErrMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil)
	}
}

func (s *Server) handleInitialize(ctx context.Context, req *protocol.JsonRpcRequest) (any, error) {
	params, err := protocol.RawParams[protocol.InitializeParams](req.Params)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "initialize requested", params.ClientInfo.Name, params.ProtocolVersion)
	return session.ServerHandshakeResult(params, s.Info, s.capabilities(), s.Instructions), nil
}

func (s *Server) handleToolsCall(ctx context.Context, req *protocol.JsonRpcRequest) (any, error) {
	params, err := protocol.RawParams[protocol.ToolCallParams](req.Params)
	if err != nil {
		return nil, err
	}

	handler, ok := s.registry.findTool(params.Name)
	if !ok {
		return nil, protocol.NewError(protocol.ErrMethodNotFound, fmt.Sprintf("unknown tool: %s", params.Name), nil)
	}

	result, err := handler(ctx, params.Arguments)
	if err != nil {
		// A tool handler failure is a domain-level failure, not a
		// protocol-level one: it always comes back as a successful
		// envelope with isError set, never a JSON-RPC Error Response.
		return protocol.ErrorToolResult(err.Error()), nil
	}
	return result, nil
}

func (s *Server) handleResourcesRead(ctx context.Context, req *protocol.JsonRpcRequest) (any, error) {
	params, err := protocol.RawParams[protocol.ReadResourceParams](req.Params)
	if err != nil {
		return nil, err
	}

	reader, vars, ok := s.registry.resolveResource(params.URI)
	if !ok {
		return nil, protocol.NewError(protocol.ErrResourceNotFound, fmt.Sprintf("resource not found: %s", params.URI), nil)
	}

	contents, err := reader(ctx, params.URI, vars)
	if err != nil {
		return nil, err
	}
	if err := contents.Validate(); err != nil {
		return nil, err
	}
	return protocol.ReadResourceResult{Contents: []protocol.ResourceContents{contents}}, nil
}

func (s *Server) handleResourceSubscription(ctx context.Context, req *protocol.JsonRpcRequest, subscribe bool) (any, error) {
	params, err := protocol.RawParams[protocol.ReadResourceParams](req.Params)
	if err != nil {
		return nil, err
	}
	if hook := s.registry.subscribeHookFn(); hook != nil {
		if err := hook(ctx, params.URI, subscribe); err != nil {
			return nil, err
		}
	}
	return struct{}{}, nil
}

func (s *Server) handlePromptsGet(ctx context.Context, req *protocol.JsonRpcRequest) (any, error) {
	params, err := protocol.RawParams[protocol.GetPromptParams](req.Params)
	if err != nil {
		return nil, err
	}

	expander, ok := s.registry.findPrompt(params.Name)
	if !ok {
		return nil, protocol.NewError(protocol.ErrResourceNotFound, fmt.Sprintf("unknown prompt: %s", params.Name), nil)
	}
	return expander(ctx, params.Arguments)
}
