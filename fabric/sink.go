package fabric

import (
	"context"
	"fmt"

	"transfer-relay/domain/event"
)

// ConnSink buffers events on their way to one websocket connection.
// The write pump drains it; a slow consumer fills the buffer and loses
// events rather than blocking the relay.
type ConnSink struct {
	Events chan event.DomainEvent
}

func NewConnSink(bufferSize int) *ConnSink {
	return &ConnSink{Events: make(chan event.DomainEvent, bufferSize)}
}

// Consume is called by the hub's fan-out.
// Redirect the event through the concerned owner of the channel;
// the connection's write pump will take it from now.
func (s *ConnSink) Consume(ctx context.Context, e event.DomainEvent) error {
	select {
	case s.Events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("connection buffer full, event dropped")
	}
}
