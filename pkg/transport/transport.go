// Package transport implements the pluggable transport layer of the
// Model Context Protocol: a small connect/disconnect/send/receive
// interface plus the state machine every concrete transport drives
// through, and three implementations (stdio/NDJSON, HTTP+SSE,
// WebSocket).
package transport

import (
	"context"
	"sync"

	"github.com/richard-senior/mcp/pkg/protocol"
)

// State is a point in the transport lifecycle FSM.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
	Errored
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Transport is the full interface a concrete transport implements. It
// is message-shaped rather than request/response-shaped: the session
// layer above it is responsible for correlating ids.
type Transport interface {
	// Connect brings the transport up. For stdio this starts (or
	// attaches to) a subprocess; for HTTP+SSE and WebSocket this starts
	// listening. Connect blocks until Connected or Errored.
	Connect(ctx context.Context) error

	// Disconnect tears the transport down and is safe to call more than
	// once. It blocks until Disconnected.
	Disconnect(ctx context.Context) error

	// Send writes one JSON-RPC message. Sends are serialized internally;
	// callers may call Send concurrently.
	Send(ctx context.Context, msg *protocol.Message) error

	// Events returns the channel of inbound messages. It is closed when
	// the transport reaches Disconnected; entering Errored leaves it
	// open.
	Events() <-chan *protocol.Message

	// Errors returns the channel of asynchronous transport errors
	// (e.g. connection closed, malformed frame). It is closed alongside
	// Events.
	Errors() <-chan error

	// State returns the current lifecycle state.
	State() State
}

// stateMachine is embedded by each concrete transport to centralize the
// state field, its mutex, and the two broadcast channels. This mirrors
// the teacher's habit of keeping lifecycle bookkeeping next to the
// thing whose lifecycle it tracks rather than as a free-floating type.
type stateMachine struct {
	mu     sync.RWMutex
	state  State
	events chan *protocol.Message
	errs   chan error
	closed bool
}

func newStateMachine() *stateMachine {
	return &stateMachine{
		state:  Disconnected,
		events: make(chan *protocol.Message, 64),
		errs:   make(chan error, 16),
	}
}

func (s *stateMachine) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *stateMachine) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *stateMachine) Events() <-chan *protocol.Message { return s.events }
func (s *stateMachine) Errors() <-chan error             { return s.errs }

func (s *stateMachine) emit(msg *protocol.Message) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}
	select {
	case s.events <- msg:
	default:
		// slow consumer; drop rather than block the read loop, matching
		// the at-most-once delivery the session layer already tolerates
		// on reconnect.
	}
}

// emitError reports a recoverable error without changing lifecycle
// state: the framing is still intact and reads continue (spec.md
// §4.2.1: "a JSON parse failure emits an error event but continues
// reading").
func (s *stateMachine) emitError(err error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}
	select {
	case s.errs <- err:
	default:
	}
}

// fail reports a connect-time or otherwise unrecoverable setup error
// and transitions to Errored (spec.md §4.1: connect transitions
// Disconnected → Connecting → Connected, or → Error).
func (s *stateMachine) fail(err error) {
	s.emitError(err)
	s.setState(Errored)
}

// disconnect reports a connection-ending error — EOF, a close frame, or
// an underlying I/O error on an already-established connection — and
// transitions straight to Disconnected, closing the broadcast channels
// (spec.md §4.2.1 "EOF ... transitions to Disconnected", §4.2.3 "a
// close frame or underlying I/O error transitions to Disconnected").
func (s *stateMachine) disconnect(err error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}
	s.setState(Disconnected)
	select {
	case s.errs <- err:
	default:
	}
	s.closeChannels()
}

// closeChannels closes the broadcast channels exactly once. Callers
// must have already transitioned state to Disconnected or Errored.
func (s *stateMachine) closeChannels() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
	close(s.errs)
}
