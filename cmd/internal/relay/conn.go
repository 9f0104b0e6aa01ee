package relay

import (
	"sync"
	"time"

	"careline/cmd/internal/auth"
)

// Conn represents one registered websocket connection.
//
// Design notes:
// - send is intentionally NOT closed by the server to keep fan-out safe under
//   concurrent broadcasters.
// - done signals goroutines (and pending senders) to stop.
// - Close is idempotent.
type Conn struct {
	auth.Identity
	ConnectedAt time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(id auth.Identity, queueSize int, now time.Time) *Conn {
	if queueSize < minSendQueueSize {
		queueSize = minSendQueueSize
	}
	return &Conn{
		Identity:    id,
		ConnectedAt: now,
		send:        make(chan []byte, queueSize),
		done:        make(chan struct{}),
	}
}

// Done returns a channel closed when the connection is shutting down.
func (c *Conn) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals shutdown (idempotent). It does NOT close send.
func (c *Conn) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Frames exposes the outbound queue to the gateway's writer goroutine.
func (c *Conn) Frames() <-chan []byte { return c.send }

// enqueue hands a serialized frame to the writer without blocking.
// A closed or saturated connection reports ErrDeliveryFailed.
func (c *Conn) enqueue(frame []byte) error {
	select {
	case <-c.done:
		return ErrDeliveryFailed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return ErrDeliveryFailed
	}
}
