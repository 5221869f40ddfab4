package msgbus

import (
	"context"
	"time"

	lattice "github.com/ashgrove/latticerun"
)

// pollInterval is how long ReceiveWithTimeout sleeps between polls. The
// contract (spec.md §4.2) forbids busy-spinning; a few microseconds per
// poll satisfies it without meaningfully delaying delivery.
const pollInterval = 5 * time.Microsecond

// Channel is a bidirectional message path between two thread ids, with an
// independent priority queue for each direction.
type Channel struct {
	A, B ThreadID
	aToB *PriorityQueue
	bToA *PriorityQueue
}

// NewChannel creates a channel between a and b.
func NewChannel(a, b ThreadID) *Channel {
	return &Channel{A: a, B: b, aToB: NewPriorityQueue(), bToA: NewPriorityQueue()}
}

// Endpoints returns the channel's two thread ids.
func (c *Channel) Endpoints() (ThreadID, ThreadID) { return c.A, c.B }

// HasEndpoint reports whether t is one of the channel's two thread ids.
func (c *Channel) HasEndpoint(t ThreadID) bool { return t == c.A || t == c.B }

// Send routes msg by its sender: msg.Sender must be one of the channel's
// two endpoints, or the send fails with ErrInvalidSender.
func (c *Channel) Send(msg *Message) error {
	switch msg.Sender {
	case c.A:
		c.aToB.Enqueue(msg)
		return nil
	case c.B:
		c.bToA.Enqueue(msg)
		return nil
	default:
		return lattice.ErrInvalidSender
	}
}

// Receive dequeues the next message addressed to thread, i.e. the one
// enqueued by the other endpoint. It never blocks.
func (c *Channel) Receive(thread ThreadID) (*Message, bool) {
	switch thread {
	case c.A:
		return c.bToA.Dequeue()
	case c.B:
		return c.aToB.Dequeue()
	default:
		return nil, false
	}
}

// ReceiveWithTimeout polls Receive until a message arrives, the deadline
// passes, or ctx is cancelled. It sleeps pollInterval between polls rather
// than busy-spinning.
func (c *Channel) ReceiveWithTimeout(ctx context.Context, thread ThreadID, timeout time.Duration) (*Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		if msg, ok := c.Receive(thread); ok {
			return msg, nil
		}
		if !time.Now().Before(deadline) {
			return nil, lattice.ErrTimeout
		}
		select {
		case <-ctx.Done():
			return nil, lattice.WrapError("channel.receive_with_timeout", ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}
