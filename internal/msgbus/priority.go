package msgbus

// PriorityQueue fans four single-priority lock-free queues into one
// dequeue call. Dequeue scans priority 0 (critical) through 3 (low) in
// order and returns the first message found; there is no aging or
// starvation protection for lower priorities under sustained higher-
// priority traffic. This is an accepted trade, not an oversight — see
// TestPriorityInversionCanStarveLow for the property under test.
type PriorityQueue struct {
	queues [numPriorities]*Queue
}

// NewPriorityQueue creates an empty four-level priority queue.
func NewPriorityQueue() *PriorityQueue {
	pq := &PriorityQueue{}
	for i := range pq.queues {
		pq.queues[i] = NewQueue()
	}
	return pq
}

// Enqueue dispatches msg to the queue for its (normalized) priority.
func (pq *PriorityQueue) Enqueue(msg *Message) {
	p := normalizePriority(msg.Priority)
	pq.queues[p].Enqueue(msg)
}

// Dequeue returns the highest-priority message available, or reports
// empty if every level is empty.
func (pq *PriorityQueue) Dequeue() (*Message, bool) {
	for _, q := range pq.queues {
		if msg, ok := q.Dequeue(); ok {
			return msg, true
		}
	}
	return nil, false
}
