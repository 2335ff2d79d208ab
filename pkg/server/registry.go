package server

import (
	"context"
	"sync"

	"github.com/richard-senior/mcp/internal/uritemplate"
	"github.com/richard-senior/mcp/pkg/protocol"
)

// ToolHandler executes a tool call. A returned error is not sent as a
// JSON-RPC error response: the server wraps it into a successful
// ToolResult with IsError set, exactly as if the handler had returned
// protocol.ErrorToolResult(err.Error()) itself.
type ToolHandler func(ctx context.Context, args map[string]any) (protocol.ToolResult, error)

// ResourceReader reads one resource's contents, either an exact-match
// resource or one resolved through a template (in which case vars
// carries the captured template variables).
type ResourceReader func(ctx context.Context, uri string, vars map[string]string) (protocol.ResourceContents, error)

// ResourceSubscribeHook lets an embedding application's resource
// provider react to subscribe/unsubscribe. The registry itself only
// does pass-through no-op success when this is nil (Open Question
// decision 4 in SPEC_FULL.md).
type ResourceSubscribeHook func(ctx context.Context, uri string, subscribe bool) error

// PromptExpander expands a prompt's named arguments into its messages.
type PromptExpander func(ctx context.Context, args map[string]string) (protocol.PromptResult, error)

type toolEntry struct {
	tool    protocol.Tool
	handler ToolHandler
}

type resourceEntry struct {
	resource protocol.Resource
	reader   ResourceReader
}

type templateEntry struct {
	template protocol.ResourceTemplate
	compiled *uritemplate.Template
	reader   ResourceReader
}

type promptEntry struct {
	prompt   protocol.Prompt
	expander PromptExpander
}

// Registry holds everything a server advertises and dispatches to:
// tools, exact-match resources, templated resources, and prompts.
// Registration order is preserved for list responses and for template
// match precedence.
type Registry struct {
	mu sync.RWMutex

	tools     []toolEntry
	toolIdx   map[string]int
	resources []resourceEntry
	resIdx    map[string]int
	templates []templateEntry
	matcher   *uritemplate.Matcher
	prompts   []promptEntry
	promptIdx map[string]int

	subscribeHook ResourceSubscribeHook
}

func NewRegistry() *Registry {
	return &Registry{
		toolIdx:   make(map[string]int),
		resIdx:    make(map[string]int),
		matcher:   uritemplate.NewMatcher(),
		promptIdx: make(map[string]int),
	}
}

// RegisterTool adds a tool. Annotation defaults follow spec.md §3 when
// tool.Annotations is nil.
func (r *Registry) RegisterTool(tool protocol.Tool, handler ToolHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tool.Annotations == nil {
		defaults := protocol.DefaultToolAnnotations()
		tool.Annotations = &defaults
	}
	r.toolIdx[tool.Name] = len(r.tools)
	r.tools = append(r.tools, toolEntry{tool: tool, handler: handler})
}

// RegisterResource adds an exact-match resource.
func (r *Registry) RegisterResource(resource protocol.Resource, reader ResourceReader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resIdx[resource.URI] = len(r.resources)
	r.resources = append(r.resources, resourceEntry{resource: resource, reader: reader})
}

// RegisterResourceTemplate adds a templated resource. Templates are
// tried in registration order and only after no exact-match resource
// claims the URI (spec.md §4.5: exact match takes precedence).
func (r *Registry) RegisterResourceTemplate(tmpl protocol.ResourceTemplate, reader ResourceReader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	compiled := r.matcher.Add(tmpl.URITemplate)
	r.templates = append(r.templates, templateEntry{template: tmpl, compiled: compiled, reader: reader})
}

// RegisterPrompt adds a prompt.
func (r *Registry) RegisterPrompt(prompt protocol.Prompt, expander PromptExpander) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.promptIdx[prompt.Name] = len(r.prompts)
	r.prompts = append(r.prompts, promptEntry{prompt: prompt, expander: expander})
}

// SetResourceSubscribeHook installs the subscribe/unsubscribe callback.
func (r *Registry) SetResourceSubscribeHook(hook ResourceSubscribeHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribeHook = hook
}

func (r *Registry) listTools() []protocol.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.Tool, len(r.tools))
	for i, e := range r.tools {
		out[i] = e.tool
	}
	return out
}

func (r *Registry) listResources() []protocol.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.Resource, len(r.resources))
	for i, e := range r.resources {
		out[i] = e.resource
	}
	return out
}

func (r *Registry) listResourceTemplates() []protocol.ResourceTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.ResourceTemplate, len(r.templates))
	for i, e := range r.templates {
		out[i] = e.template
	}
	return out
}

func (r *Registry) listPrompts() []protocol.Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.Prompt, len(r.prompts))
	for i, e := range r.prompts {
		out[i] = e.prompt
	}
	return out
}

func (r *Registry) findTool(name string) (ToolHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.toolIdx[name]
	if !ok {
		return nil, false
	}
	return r.tools[i].handler, true
}

func (r *Registry) findPrompt(name string) (PromptExpander, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.promptIdx[name]
	if !ok {
		return nil, false
	}
	return r.prompts[i].expander, true
}

// resolveResource finds a reader for uri, preferring an exact match
// over any template (spec.md §4.5).
func (r *Registry) resolveResource(uri string) (ResourceReader, map[string]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i, ok := r.resIdx[uri]; ok {
		return r.resources[i].reader, nil, true
	}
	for _, t := range r.templates {
		if vars, ok := t.compiled.Match(uri); ok {
			return t.reader, vars, true
		}
	}
	return nil, nil, false
}

func (r *Registry) hasTools() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools) > 0
}

func (r *Registry) hasResources() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.resources) > 0 || len(r.templates) > 0
}

func (r *Registry) hasPrompts() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.prompts) > 0
}

func (r *Registry) subscribeHookFn() ResourceSubscribeHook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subscribeHook
}
