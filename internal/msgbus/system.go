package msgbus

import (
	"sync"

	lattice "github.com/ashgrove/latticerun"
)

// System owns the message pool and the channel registry for a lattice. It
// is the top-level object the rest of the runtime constructs once per
// pool and shares across every worker.
type System struct {
	pool *Pool

	mu          sync.RWMutex
	channels    []*Channel
	maxChannels int

	observer lattice.Observer
}

// NewSystem constructs a system with a pool sized poolSize and a channel
// registry capped at maxChannels entries.
func NewSystem(maxChannels, poolSize int, allowHeapFallback bool, observer lattice.Observer) *System {
	if observer == nil {
		observer = lattice.NoOpObserver{}
	}
	return &System{
		pool:        NewPool(poolSize, allowHeapFallback, observer),
		channels:    make([]*Channel, 0, maxChannels),
		maxChannels: maxChannels,
		observer:    observer,
	}
}

// Pool returns the system's message pool.
func (s *System) Pool() *Pool { return s.pool }

// CreateChannel appends a new channel between a and b. There is no
// deduplication: creating two channels for the same pair is the caller's
// mistake to avoid, not the system's to prevent.
func (s *System) CreateChannel(a, b ThreadID) (*Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.channels) >= s.maxChannels {
		return nil, lattice.NewError("system.create_channel", lattice.KindExhausted, "channel registry is full")
	}
	ch := NewChannel(a, b)
	s.channels = append(s.channels, ch)
	return ch, nil
}

// Channels returns a snapshot of the registered channels.
func (s *System) Channels() []*Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Channel, len(s.channels))
	copy(out, s.channels)
	return out
}

// Broadcast clones msg onto every channel where msg.Sender is an endpoint.
// This is a real fan-out, not the no-op the fabric's contract also
// permits (see DESIGN.md for the rationale). It returns the number of
// channels the clone was successfully enqueued on.
func (s *System) Broadcast(msg *Message) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	delivered := 0
	for _, ch := range s.channels {
		if !ch.HasEndpoint(msg.Sender) {
			continue
		}
		clone, err := s.pool.Alloc()
		if err != nil {
			// Alloc has already recorded the drop with the shared observer.
			continue
		}
		clone.Type = msg.Type
		clone.Priority = msg.Priority
		clone.Sender = msg.Sender
		clone.Receiver = Broadcast
		clone.Payload = msg.Payload
		clone.PayloadSize = msg.PayloadSize
		clone.Timestamp = msg.Timestamp
		clone.Deadline = msg.Deadline

		if err := ch.Send(clone); err != nil {
			s.pool.Free(clone)
			s.observer.ObserveFailedSend()
			continue
		}
		s.observer.ObserveRouted()
		delivered++
	}
	return delivered
}
