package lattice

import "sync"

// barrier is a reusable N-party rendezvous point: the last of N arrivals
// releases every waiter and resets for the next round. A one-party
// barrier releases immediately, matching the W=1 lattice boundary case.
type barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	parties int
	waiting int
	round   uint64
}

// newBarrier returns a barrier that releases once parties goroutines
// have called Wait. parties must be >= 1.
func newBarrier(parties int) *barrier {
	b := &barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until parties goroutines have all called Wait in the same
// round, then releases all of them and advances to the next round.
func (b *barrier) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.parties <= 1 {
		b.round++
		return
	}

	round := b.round
	b.waiting++
	if b.waiting == b.parties {
		b.waiting = 0
		b.round++
		b.cond.Broadcast()
		return
	}
	for round == b.round {
		b.cond.Wait()
	}
}

// Parties reports how many goroutines must arrive to release a round.
func (b *barrier) Parties() int { return b.parties }
