package protocol

import "encoding/json"

// ToolProperty describes one property of a tool's input/output JSON
// schema. Schemas are otherwise transported opaquely (spec §1 non-goal:
// "no schema validation of tool arguments beyond JSON shape").
type ToolProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// InputSchema is a minimal JSON-schema-shaped object good enough to
// describe a tool's arguments without the library validating them.
type InputSchema struct {
	Type                 string                  `json:"type"`
	Properties           map[string]ToolProperty `json:"properties,omitempty"`
	Required             []string                `json:"required,omitempty"`
	AdditionalProperties bool                    `json:"additionalProperties"`
}

// ToolAnnotations are the hint flags from spec §3. Go's zero value for
// bool is false, which already matches ReadOnly/Idempotent's documented
// default; Destructive and OpenWorld default to true and so must be set
// explicitly by constructors (see server.Registry.RegisterTool).
type ToolAnnotations struct {
	ReadOnly    bool `json:"readOnlyHint"`
	Destructive bool `json:"destructiveHint"`
	Idempotent  bool `json:"idempotentHint"`
	OpenWorld   bool `json:"openWorldHint"`
}

// Tool is a named, schema-described callable exposed by a server.
type Tool struct {
	Name         string           `json:"name"`
	Title        string           `json:"title,omitempty"`
	Description  string           `json:"description,omitempty"`
	InputSchema  InputSchema      `json:"inputSchema"`
	OutputSchema *InputSchema     `json:"outputSchema,omitempty"`
	Annotations  *ToolAnnotations `json:"annotations,omitempty"`
}

// DefaultToolAnnotations returns the spec §3 defaults: read_only=false,
// destructive=true, idempotent=false, open_world=true.
func DefaultToolAnnotations() ToolAnnotations {
	return ToolAnnotations{Destructive: true, OpenWorld: true}
}

// Resource is a named, URI-addressable blob/text exposed by a server.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceTemplate is a URI pattern with placeholder variables, matched
// against concrete URIs at resources/read time (spec §4.5).
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PromptArgument describes one named argument a prompt accepts.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Prompt is a named template that expands, with arguments, into a list
// of role-tagged messages.
type Prompt struct {
	Name        string           `json:"name"`
	Title       string           `json:"title,omitempty"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// ContentBlockType discriminates the variants of ContentBlock.
type ContentBlockType string

const (
	ContentText     ContentBlockType = "text"
	ContentImage    ContentBlockType = "image"
	ContentResource ContentBlockType = "resource"
)

// ContentBlock is the tagged union described in spec §3: text, image, or
// an embedded resource. Only the fields relevant to Type are populated;
// the others are omitted from the wire form via omitempty.
type ContentBlock struct {
	Type ContentBlockType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`

	// resource
	Resource *ResourceContents `json:"resource,omitempty"`
}

// TextContent builds a text content block.
func TextContent(text string) ContentBlock {
	return ContentBlock{Type: ContentText, Text: text}
}

// ImageContent builds an image content block. data is base64-encoded.
func ImageContent(base64Data, mimeType string) ContentBlock {
	return ContentBlock{Type: ContentImage, Data: base64Data, MimeType: mimeType}
}

// ResourceContentBlock wraps embedded resource contents as a content
// block.
func ResourceContentBlock(rc ResourceContents) ContentBlock {
	return ContentBlock{Type: ContentResource, Resource: &rc}
}

// ResourceContents is one piece of the result of resources/read. Exactly
// one of Text/Blob is present (spec §3 invariant: "text XOR blob").
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// Validate enforces the text-XOR-blob invariant.
func (r ResourceContents) Validate() error {
	hasText := r.Text != ""
	hasBlob := r.Blob != ""
	if hasText == hasBlob {
		return NewError(ErrInternal, "resource contents must set exactly one of text or blob", nil)
	}
	return nil
}

// ToolResult is the result of tools/call (spec §3). A handler failure is
// reported as IsError=true rather than as a JSON-RPC error response
// (spec §7).
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ErrorToolResult wraps a handler failure into a successful tool-call
// envelope with isError: true, per spec §4.4 / §7.
func ErrorToolResult(message string) ToolResult {
	return ToolResult{IsError: true, Content: []ContentBlock{TextContent(message)}}
}

// PromptRole is the role tag on a PromptMessage.
type PromptRole string

const (
	RoleUser      PromptRole = "user"
	RoleAssistant PromptRole = "assistant"
)

// PromptMessage is one role-tagged message in a prompt expansion.
type PromptMessage struct {
	Role    PromptRole     `json:"role"`
	Content []ContentBlock `json:"content"`
}

// PromptResult is the result of prompts/get.
type PromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// Implementation identifies either side of a session (spec §4.3).
type Implementation struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	Title      string `json:"title,omitempty"`
	WebsiteURL string `json:"websiteUrl,omitempty"`
}

// ClientCapabilities is what a client advertises during initialize.
type ClientCapabilities struct {
	Roots    *RootsCapability `json:"roots,omitempty"`
	Sampling map[string]any   `json:"sampling,omitempty"`
}

// RootsCapability advertises the client's filesystem-roots support.
type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ListChangedCapability is the repeated `{listChanged: bool}` sub-flag
// shape used by tools/resources/prompts capabilities.
type ListChangedCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability additionally advertises subscribe support.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities is what a server advertises during initialize.
// Fields are pointers so that an unadvertised capability is omitted
// entirely (spec §4.4: "must reflect only registries that are non-empty
// or whose provider was explicitly enabled").
type ServerCapabilities struct {
	Tools       *ListChangedCapability `json:"tools,omitempty"`
	Resources   *ResourcesCapability   `json:"resources,omitempty"`
	Prompts     *ListChangedCapability `json:"prompts,omitempty"`
	Logging     map[string]any         `json:"logging,omitempty"`
	Completions map[string]any         `json:"completions,omitempty"`
	Tasks       map[string]any         `json:"tasks,omitempty"`
}

// InitializeParams is the request body of the initialize method.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializeResult is the response body of the initialize method.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// NegotiateProtocolVersion picks the version the server will report
// having agreed to: the client's requested version if the server
// supports it, otherwise the server's default (spec §4.3).
func NegotiateProtocolVersion(requested string) string {
	switch requested {
	case ProtocolVersionDefault, ProtocolVersionLatest:
		return requested
	default:
		return ProtocolVersionDefault
	}
}

// ToolCallParams is the request body of tools/call.
type ToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ReadResourceParams is the request body of resources/read.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// ReadResourceResult is the response body of resources/read.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// GetPromptParams is the request body of prompts/get.
type GetPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// ResourceUpdatedParams is the payload of notifications/resources/updated.
type ResourceUpdatedParams struct {
	URI string `json:"uri"`
}

// CancelledParams is the payload of notifications/cancelled.
type CancelledParams struct {
	RequestID any    `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

// ToolsListResult / ResourcesListResult / etc. are the list-method
// response envelopes.
type ToolsListResult struct {
	Tools []Tool `json:"tools"`
}

type ResourcesListResult struct {
	Resources []Resource `json:"resources"`
}

type ResourceTemplatesListResult struct {
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates"`
}

type PromptsListResult struct {
	Prompts []Prompt `json:"prompts"`
}

// RawParams is a convenience helper for handlers that want to decode
// json.RawMessage params into a concrete struct in one call.
func RawParams[T any](params json.RawMessage) (T, error) {
	var v T
	if len(params) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(params, &v); err != nil {
		return v, NewError(ErrInvalidParams, "invalid params: "+err.Error(), nil)
	}
	return v, nil
}
