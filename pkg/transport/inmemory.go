package transport

import (
	"context"

	"github.com/richard-senior/mcp/pkg/protocol"
)

// InMemoryTransport connects two in-process peers (a client and a
// server sharing one process, or a unit test) over channels instead of
// a real pipe or socket. It implements the same Transport interface as
// the out-of-process transports so the session/server/client layers
// never need to know the difference.
type InMemoryTransport struct {
	*stateMachine
	out chan *protocol.Message
	in  chan *protocol.Message
}

// NewInMemoryPair returns two linked transports: messages sent on a
// are delivered as events on b, and vice versa.
func NewInMemoryPair() (a, b *InMemoryTransport) {
	ch1 := make(chan *protocol.Message, 64)
	ch2 := make(chan *protocol.Message, 64)
	a = &InMemoryTransport{stateMachine: newStateMachine(), out: ch1, in: ch2}
	b = &InMemoryTransport{stateMachine: newStateMachine(), out: ch2, in: ch1}
	return a, b
}

func (t *InMemoryTransport) Connect(ctx context.Context) error {
	t.setState(Connected)
	go t.pump(ctx)
	return nil
}

func (t *InMemoryTransport) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-t.in:
			if !ok {
				t.disconnect(protocol.NewError(protocol.ErrConnectionClosed, "peer closed", nil))
				return
			}
			t.emit(msg)
		}
	}
}

func (t *InMemoryTransport) Send(ctx context.Context, msg *protocol.Message) error {
	if t.State() != Connected {
		return protocol.NewError(protocol.ErrConnectionClosed, "in-memory transport is not connected", nil)
	}
	select {
	case t.out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *InMemoryTransport) Disconnect(ctx context.Context) error {
	if t.State() == Disconnected {
		return nil
	}
	t.setState(Disconnected)
	close(t.out)
	t.closeChannels()
	return nil
}
