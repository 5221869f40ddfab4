package msgbus

import (
	"sync/atomic"

	lattice "github.com/ashgrove/latticerun"
)

// Pool is a fixed-capacity free list of messages, sized at construction.
// A buffered channel rather than sync.Pool backs the free list: sync.Pool
// makes no capacity or exhaustion guarantees and the GC is free to drain it
// between cycles, but the fabric needs a bounded pool with an exact
// capacity. Exhaustion is metered only when heap fallback is disabled (as a
// dropped message); a heap-fallback allocation records no metric.
type Pool struct {
	free      chan *Message
	nextID    atomic.Uint64
	allowHeap bool
	observer  lattice.Observer
}

// NewPool preallocates size messages. When allowHeapFallback is false,
// Alloc on an exhausted pool returns ErrPoolExhausted instead of falling
// back to the heap. observer may be nil, in which case allocations are
// unmetered.
func NewPool(size int, allowHeapFallback bool, observer lattice.Observer) *Pool {
	if observer == nil {
		observer = lattice.NoOpObserver{}
	}
	p := &Pool{
		free:      make(chan *Message, size),
		allowHeap: allowHeapFallback,
		observer:  observer,
	}
	for i := 0; i < size; i++ {
		m := &Message{pooled: true}
		p.free <- m
	}
	return p
}

// Alloc returns a zeroed message with a freshly assigned, non-zero,
// monotone ID. It pops from the free list first; on exhaustion it either
// falls back to a heap allocation or returns ErrPoolExhausted.
func (p *Pool) Alloc() (*Message, error) {
	id := p.nextID.Add(1) // id 0 is reserved; first Alloc yields 1

	select {
	case m := <-p.free:
		pooled := m.pooled
		*m = Message{ID: id, pooled: pooled}
		return m, nil
	default:
	}

	if !p.allowHeap {
		p.observer.ObserveDropped()
		return nil, lattice.ErrPoolExhausted
	}
	// Heap fallback succeeds: the message is not dropped, so dropped_messages
	// is not incremented here, and no other counter records the fallback.
	return &Message{ID: id}, nil
}

// Free returns a pooled message to the free list, or discards a
// heap-allocated overflow message immediately. If the message carries a
// drop function, it runs before the message is reclaimed.
func (p *Pool) Free(m *Message) {
	if m == nil {
		return
	}
	if m.Drop != nil {
		m.Drop(m.Payload)
	}
	if !m.pooled {
		return
	}
	pooled := m.pooled
	*m = Message{pooled: pooled}
	select {
	case p.free <- m:
	default:
		// Free list is already full, which only happens when a message is
		// freed more than once; drop it.
	}
}
