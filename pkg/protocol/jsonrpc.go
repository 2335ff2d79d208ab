// Package protocol implements the JSON-RPC 2.0 message layer of the Model
// Context Protocol: the four wire-level message shapes, classification of
// an incoming JSON value into one of them, and the data model (tools,
// resources, resource templates, prompts, content blocks) carried inside
// their params/result payloads.
package protocol

import (
	"encoding/json"
	"fmt"
)

// JsonRpcVersion is the JSON-RPC protocol version this module speaks.
const JsonRpcVersion = "2.0"

// Protocol version strings negotiated during initialize (spec §6).
const (
	ProtocolVersionDefault = "2025-03-26"
	ProtocolVersionLatest  = "2025-11-25"
)

// MethodType names the MCP methods the core dispatches by name.
type MethodType string

const (
	MethodInitialize            MethodType = "initialize"
	MethodInitialized           MethodType = "notifications/initialized"
	MethodCancelled             MethodType = "notifications/cancelled"
	MethodToolsList             MethodType = "tools/list"
	MethodToolsCall             MethodType = "tools/call"
	MethodToolsListChanged      MethodType = "notifications/tools/list_changed"
	MethodResourcesList         MethodType = "resources/list"
	MethodResourcesTemplateList MethodType = "resources/templates/list"
	MethodResourcesRead         MethodType = "resources/read"
	MethodResourcesSubscribe    MethodType = "resources/subscribe"
	MethodResourcesUnsubscribe  MethodType = "resources/unsubscribe"
	MethodResourcesListChanged  MethodType = "notifications/resources/list_changed"
	MethodResourcesUpdated      MethodType = "notifications/resources/updated"
	MethodPromptsList           MethodType = "prompts/list"
	MethodPromptsGet            MethodType = "prompts/get"
	MethodPromptsListChanged    MethodType = "notifications/prompts/list_changed"
)

// JsonRpcRequest is a JSON-RPC 2.0 request object: has both method and id.
type JsonRpcRequest struct {
	JsonRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id"`
}

// JsonRpcNotification is a JSON-RPC 2.0 request object with no id.
type JsonRpcNotification struct {
	JsonRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JsonRpcResponse is a JSON-RPC 2.0 success response: has id and result,
// never error.
type JsonRpcResponse struct {
	JsonRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	ID      any             `json:"id"`
}

// JsonRpcErrorResponse is a JSON-RPC 2.0 error response: has id (possibly
// null) and error, never result.
type JsonRpcErrorResponse struct {
	JsonRPC string        `json:"jsonrpc"`
	Error   *JsonRpcError `json:"error"`
	ID      any           `json:"id"`
}

// JsonRpcError is the `error` member of an error response.
type JsonRpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *JsonRpcError) Error() string {
	return fmt.Sprintf("jsonrpc error: code=%d message=%s", e.Code, e.Message)
}

// MessageKind classifies a parsed wire value into one of the four
// JSON-RPC 2.0 variants (spec §3/§4.1).
type MessageKind int

const (
	KindRequest MessageKind = iota
	KindNotification
	KindResponse
	KindErrorResponse
)

func (k MessageKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	case KindErrorResponse:
		return "error_response"
	default:
		return "unknown"
	}
}

// Message is the tagged union produced by Classify. Exactly one of
// Request, Notification, Response, ErrorResp is non-nil, selected by
// Kind.
type Message struct {
	Kind         MessageKind
	Request      *JsonRpcRequest
	Notification *JsonRpcNotification
	Response     *JsonRpcResponse
	ErrorResp    *JsonRpcErrorResponse
}

// wireShape is the permissive envelope used to classify a raw JSON value
// before committing to one of the four concrete types. All fields are
// optional so that any of the four legal shapes unmarshals cleanly.
type wireShape struct {
	JsonRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *JsonRpcError   `json:"error"`
}

func (w *wireShape) hasID() bool {
	return w.ID != nil && string(w.ID) != "null"
}

// Classify parses raw JSON bytes and classifies the result into exactly
// one Message variant, per the rule in spec §4.1:
//
//	has method + has id      => Request
//	has method + no id       => Notification
//	has id + has result      => Response
//	has error                => ErrorResponse (id may be absent or null)
//
// Any other shape, or a non-object root, fails with ErrParse or
// ErrInvalidRequest.
func Classify(data []byte) (*Message, error) {
	trimmed := trimLeadingSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, NewError(ErrParse, "request is not a JSON object", nil)
	}

	var w wireShape
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, NewError(ErrParse, "invalid JSON: "+err.Error(), nil)
	}
	if w.JsonRPC != JsonRpcVersion {
		return nil, NewError(ErrInvalidRequest, "invalid or missing jsonrpc version", nil)
	}

	switch {
	case w.Method != "" && w.hasID():
		var id any
		_ = json.Unmarshal(w.ID, &id)
		return &Message{Kind: KindRequest, Request: &JsonRpcRequest{
			JsonRPC: w.JsonRPC, Method: w.Method, Params: w.Params, ID: id,
		}}, nil
	case w.Method != "" && !w.hasID():
		return &Message{Kind: KindNotification, Notification: &JsonRpcNotification{
			JsonRPC: w.JsonRPC, Method: w.Method, Params: w.Params,
		}}, nil
	case w.hasID() && w.Result != nil:
		var id any
		_ = json.Unmarshal(w.ID, &id)
		return &Message{Kind: KindResponse, Response: &JsonRpcResponse{
			JsonRPC: w.JsonRPC, Result: w.Result, ID: id,
		}}, nil
	case w.Error != nil:
		var id any
		if w.hasID() {
			_ = json.Unmarshal(w.ID, &id)
		}
		return &Message{Kind: KindErrorResponse, ErrorResp: &JsonRpcErrorResponse{
			JsonRPC: w.JsonRPC, Error: w.Error, ID: id,
		}}, nil
	default:
		return nil, NewError(ErrInvalidRequest, "JSON object is not a valid JSON-RPC message", nil)
	}
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return b[i:]
}

// Marshal serializes whichever variant is set back to canonical JSON.
// Omitted optional fields do not reappear (json.Marshal with `omitempty`
// already guarantees this for each concrete type).
func (m *Message) Marshal() ([]byte, error) {
	switch m.Kind {
	case KindRequest:
		return json.Marshal(m.Request)
	case KindNotification:
		return json.Marshal(m.Notification)
	case KindResponse:
		return json.Marshal(m.Response)
	case KindErrorResponse:
		return json.Marshal(m.ErrorResp)
	default:
		return nil, fmt.Errorf("message has no recognised kind")
	}
}

// NewJsonRpcRequest builds a request with the given method/params/id.
func NewJsonRpcRequest(method string, params any, id any) (*JsonRpcRequest, error) {
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &JsonRpcRequest{JsonRPC: JsonRpcVersion, Method: method, Params: paramsJSON, ID: id}, nil
}

// NewJsonRpcNotification builds a notification (request with no id).
func NewJsonRpcNotification(method string, params any) (*JsonRpcNotification, error) {
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &JsonRpcNotification{JsonRPC: JsonRpcVersion, Method: method, Params: paramsJSON}, nil
}

// NewJsonRpcResponse builds a success response.
func NewJsonRpcResponse(result any, id any) (*JsonRpcResponse, error) {
	resultJSON, err := marshalParams(result)
	if err != nil {
		return nil, err
	}
	return &JsonRpcResponse{JsonRPC: JsonRpcVersion, Result: resultJSON, ID: id}, nil
}

// NewJsonRpcErrorResponse builds an error response. id may be nil (it
// will serialize as JSON null) when the offending request's id could not
// be determined, e.g. on a parse error.
func NewJsonRpcErrorResponse(code int, message string, data any, id any) *JsonRpcErrorResponse {
	return &JsonRpcErrorResponse{
		JsonRPC: JsonRpcVersion,
		Error:   &JsonRpcError{Code: code, Message: message, Data: data},
		ID:      id,
	}
}

func marshalParams(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ParseJsonRpcRequest parses raw JSON as a request, without going through
// Classify. Used where the caller already knows the shape (e.g. reading
// back a request the library itself wrote).
func ParseJsonRpcRequest(data []byte) (*JsonRpcRequest, error) {
	var req JsonRpcRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if req.JsonRPC != JsonRpcVersion {
		return nil, fmt.Errorf("invalid JSON-RPC version: %s", req.JsonRPC)
	}
	return &req, nil
}

// ParseJsonRpcResponse parses raw JSON as a response.
func ParseJsonRpcResponse(data []byte) (*JsonRpcResponse, error) {
	var resp JsonRpcResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	if resp.JsonRPC != JsonRpcVersion {
		return nil, fmt.Errorf("invalid JSON-RPC version: %s", resp.JsonRPC)
	}
	return &resp, nil
}

func (r *JsonRpcRequest) String() string {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Sprintf("Error marshaling request: %v", err)
	}
	return string(b)
}

func (r *JsonRpcResponse) String() string {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Sprintf("Error marshaling response: %v", err)
	}
	return string(b)
}

func (e *JsonRpcError) String() string {
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Sprintf("Error marshaling error: %v", err)
	}
	return string(b)
}
