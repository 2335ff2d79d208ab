package session

import (
	"context"
	"encoding/json"

	"github.com/richard-senior/mcp/pkg/protocol"
)

// ClientHandshake performs the client side of initialize: send the
// request, wait for the server's InitializeResult, then send the
// notifications/initialized notification (spec.md §4.3 step order).
func (s *Session) ClientHandshake(ctx context.Context, info protocol.Implementation, caps protocol.ClientCapabilities) (*protocol.InitializeResult, error) {
	params := protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersionLatest,
		Capabilities:    caps,
		ClientInfo:      info,
	}

	raw, err := s.Call(ctx, string(protocol.MethodInitialize), params)
	if err != nil {
		return nil, err
	}

	var result protocol.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, protocol.Wrap(protocol.ErrInternal, "failed to decode initialize result", err)
	}

	if err := s.Notify(ctx, string(protocol.MethodInitialized), nil); err != nil {
		return nil, err
	}

	s.MarkInitialized()
	return &result, nil
}

// ServerHandshakeResult returns the InitializeResult a server should
// reply with, given the client's request params and the server's own
// identity/capabilities. Gating further requests until
// notifications/initialized arrives is the caller's responsibility
// (via Initialized()), matching spec.md's "requests before the
// handshake completes get InvalidRequest" edge case.
func ServerHandshakeResult(reqParams protocol.InitializeParams, serverInfo protocol.Implementation, caps protocol.ServerCapabilities, instructions string) protocol.InitializeResult {
	return protocol.InitializeResult{
		ProtocolVersion: protocol.NegotiateProtocolVersion(reqParams.ProtocolVersion),
		Capabilities:    caps,
		ServerInfo:      serverInfo,
		Instructions:    instructions,
	}
}
