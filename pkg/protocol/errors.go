package protocol

import "fmt"

// Error kind codes (spec §7). The MCP-defined kinds don't have a
// standard JSON-RPC reserved code, so they're assigned within the
// implementation-defined server-error range.
const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603

	ErrResourceNotFound = -32001
	ErrConnectionClosed = -32002
	ErrTransportError   = -32003
	ErrTimeout          = -32004

	// ErrToolExecutionFailed is never sent as a JSON-RPC error: a failed
	// tool handler is wrapped into a successful response with
	// isError=true (spec §7). Kept for handlers that want a named
	// sentinel when constructing that content block.
	ErrToolExecutionFailed = -32000
)

// Kind names an error kind independent of its numeric code, for callers
// that want to branch on what happened rather than on the code.
type Kind string

const (
	KindParseError          Kind = "ParseError"
	KindInvalidRequest      Kind = "InvalidRequest"
	KindMethodNotFound      Kind = "MethodNotFound"
	KindInvalidParams       Kind = "InvalidParams"
	KindInternalError       Kind = "InternalError"
	KindResourceNotFound    Kind = "ResourceNotFound"
	KindConnectionClosed    Kind = "ConnectionClosed"
	KindTransportError      Kind = "TransportError"
	KindTimeout             Kind = "Timeout"
)

var kindByCode = map[int]Kind{
	ErrParse:            KindParseError,
	ErrInvalidRequest:   KindInvalidRequest,
	ErrMethodNotFound:   KindMethodNotFound,
	ErrInvalidParams:    KindInvalidParams,
	ErrInternal:         KindInternalError,
	ErrResourceNotFound: KindResourceNotFound,
	ErrConnectionClosed: KindConnectionClosed,
	ErrTransportError:   KindTransportError,
	ErrTimeout:          KindTimeout,
}

// Error is the typed error the library returns across its API surface
// (spec §7, "User-visible behavior"). It carries a Kind for branching in
// addition to the numeric JSON-RPC code, and embeds the original cause
// when there is one.
type Error struct {
	Kind    Kind
	Code    int
	Message string
	Data    any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a typed Error from a JSON-RPC code and message.
func NewError(code int, message string, data any) *Error {
	return &Error{Kind: kindByCode[code], Code: code, Message: message, Data: data}
}

// Wrap builds a typed Error that records an underlying cause.
func Wrap(code int, message string, cause error) *Error {
	return &Error{Kind: kindByCode[code], Code: code, Message: message, Cause: cause}
}

// ToJsonRpcError converts a typed Error (or any error) into the JSON-RPC
// error object sent on the wire. Errors that aren't *Error are reported
// as InternalError, matching spec §7's "Unspecified internal failure".
func ToJsonRpcError(err error) *JsonRpcError {
	if e, ok := err.(*Error); ok {
		return &JsonRpcError{Code: e.Code, Message: e.Message, Data: e.Data}
	}
	return &JsonRpcError{Code: ErrInternal, Message: err.Error()}
}

// FromJsonRpcError translates a wire error object into the library's
// typed Error (spec §4.3: "an Error Response completes with the error
// object translated into the library's error taxonomy").
func FromJsonRpcError(e *JsonRpcError) *Error {
	if e == nil {
		return NewError(ErrInternal, "nil error response", nil)
	}
	kind, ok := kindByCode[e.Code]
	if !ok {
		kind = KindInternalError
	}
	return &Error{Kind: kind, Code: e.Code, Message: e.Message, Data: e.Data}
}
