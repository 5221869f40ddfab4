// Package worker implements the per-thread execution unit of the lattice:
// a state machine, an own-mutex FIFO of dispatchable work, and the run
// loop that pins itself to an OS thread and drains that FIFO.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	lattice "github.com/ashgrove/latticerun"
	"github.com/ashgrove/latticerun/internal/gradient"
	"github.com/ashgrove/latticerun/internal/logging"
	"github.com/ashgrove/latticerun/internal/model"
	"github.com/ashgrove/latticerun/internal/region"
)

// Role distinguishes the layer's coordinator (position 0) from its
// ordinary workers. Only the role assignment is special; the dispatch
// and state-machine code paths do not otherwise differ.
type Role int

const (
	RoleWorker Role = iota
	RoleCoordinator
)

// Worker is one (layer, position) thread in the lattice: its own state
// machine, its own work queue, its own activation buffer, and a view
// into the shared gradient accumulator.
type Worker struct {
	id   lattice.ThreadID
	role Role

	sm    *StateMachine
	queue *WorkQueue

	activation    []byte
	accumulator   *gradient.Accumulator
	gradientIndex int

	neighborsMu sync.Mutex
	neighbors   map[lattice.ThreadID]*region.Region

	callbacks *model.CallbackTable

	cpuAffinity []int

	layerSync  func()
	globalSync func()

	workCompleted atomic.Uint64
	workDropped   atomic.Uint64

	logger  *logging.Logger
	metrics *lattice.Metrics
}

// New constructs a worker at id, ready to be transitioned into service.
// accumulator and gradientIndex may be nil/zero for workers that do not
// participate in gradient reduction (none do today, but the field is
// optional to keep the constructor usable in isolation, e.g. in tests).
func New(id lattice.ThreadID, activationBytes int, accumulator *gradient.Accumulator, gradientIndex int, callbacks *model.CallbackTable, logger *logging.Logger, metrics *lattice.Metrics) *Worker {
	role := RoleWorker
	if id.Position == 0 {
		role = RoleCoordinator
	}

	w := &Worker{
		id:            id,
		role:          role,
		sm:            NewStateMachine(),
		queue:         NewWorkQueue(),
		activation:    make([]byte, activationBytes),
		accumulator:   accumulator,
		gradientIndex: gradientIndex,
		neighbors:     make(map[lattice.ThreadID]*region.Region),
		callbacks:     callbacks,
		logger:        logger.ForWorker(id.Layer, id.Position),
		metrics:       metrics,
	}
	w.sm.Transition(StateInitialized)
	return w
}

// ID returns the worker's lattice coordinate.
func (w *Worker) ID() lattice.ThreadID { return w.id }

// Role reports whether this worker is its layer's coordinator.
func (w *Worker) Role() Role { return w.role }

// State returns the worker's current lifecycle state.
func (w *Worker) State() State { return w.sm.Current() }

// WorkCompleted returns the number of work items this worker has
// finished dispatching. It is monotonically non-decreasing for the
// lifetime of the worker.
func (w *Worker) WorkCompleted() uint64 { return w.workCompleted.Load() }

// WorkDropped returns the number of work items dropped without running a
// callback: unrecognized or OPTIMIZE tags, items with no callback bound,
// and items discarded from the queue by Stop.
func (w *Worker) WorkDropped() uint64 { return w.workDropped.Load() }

// GradientSlice returns this worker's disjoint slice of the shared
// gradient accumulator, or nil if the worker has none configured.
func (w *Worker) GradientSlice() []float64 {
	if w.accumulator == nil {
		return nil
	}
	return w.accumulator.Slice(w.gradientIndex)
}

// Neighbor lazily creates (or returns) the copy-on-write boundary region
// shared with neighborID, used for passing activations/gradients across
// a layer boundary without per-item message copies. Callers that want a
// region genuinely shared with the other side (not just a same-keyed
// private one) must install it with SetNeighbor first; Neighbor only
// creates a fresh, unshared region as a fallback.
func (w *Worker) Neighbor(neighborID lattice.ThreadID, size int) *region.Region {
	w.neighborsMu.Lock()
	defer w.neighborsMu.Unlock()

	if r, ok := w.neighbors[neighborID]; ok {
		return r
	}
	id := fmt.Sprintf("%s->%s", w.id, neighborID)
	r := region.Create(size, region.CopyOnWrite, id)
	w.neighbors[neighborID] = r
	return r
}

// SetNeighbor installs a region the pool has already created to be
// shared by both sides of a layer boundary, so the two workers on either
// side of it hand off the same *region.Region instance instead of each
// lazily creating their own.
func (w *Worker) SetNeighbor(neighborID lattice.ThreadID, r *region.Region) {
	w.neighborsMu.Lock()
	defer w.neighborsMu.Unlock()
	w.neighbors[neighborID] = r
}

// lookupNeighbor returns the boundary region for neighborID if one has
// been installed, or nil otherwise. Unlike Neighbor, it never creates
// one — dispatch uses this to tell "no boundary configured" apart from
// "boundary exists but is empty."
func (w *Worker) lookupNeighbor(neighborID lattice.ThreadID) *region.Region {
	w.neighborsMu.Lock()
	defer w.neighborsMu.Unlock()
	return w.neighbors[neighborID]
}

// SetCPUAffinity configures the set of logical CPUs Run will attempt to
// pin this worker's OS thread to. Pinning is best-effort: a failure to
// set affinity is logged and otherwise ignored.
func (w *Worker) SetCPUAffinity(cpus []int) {
	w.cpuAffinity = cpus
}

// SetLayerSync configures the callback dispatch invokes after a forward
// work item, corresponding to the layer barrier all W positions in a
// layer rendezvous at during a pipeline stage.
func (w *Worker) SetLayerSync(fn func()) { w.layerSync = fn }

// SetGlobalSync configures the callback dispatch invokes after a
// backward work item, corresponding to the whole-pool barrier used
// between backward and the optimizer phase.
func (w *Worker) SetGlobalSync(fn func()) { w.globalSync = fn }

// Enqueue hands item to the worker's own FIFO for later dispatch.
func (w *Worker) Enqueue(item *WorkItem) error {
	return w.queue.Enqueue(item)
}

// QueueDepth reports the current backlog on this worker's FIFO.
func (w *Worker) QueueDepth() int { return w.queue.Len() }

// Run pins the calling goroutine to its OS thread, applies CPU affinity
// if configured, and drains the work queue until Stop is called. It
// finishes whatever item it is dispatching at the moment Stop runs and
// then exits; it does not pick up anything Stop discarded. It returns
// when the worker has reached STOPPED.
func (w *Worker) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if len(w.cpuAffinity) > 0 {
		cpu := w.cpuAffinity[w.id.Position%len(w.cpuAffinity)]
		var set unix.CPUSet
		set.Zero()
		set.Set(cpu)
		if err := unix.SchedSetaffinity(0, &set); err != nil {
			w.logger.Warn("cpu affinity pin failed", "cpu", cpu, "err", err)
		}
	}

	if res := w.sm.Transition(StateReady); res != TransitionSuccess {
		return lattice.NewThreadError("Worker.Run", w.id, lattice.KindInvariantViolation, "could not reach READY")
	}
	w.sm.Transition(StateRunning)

	for {
		select {
		case <-ctx.Done():
			w.Stop()
		default:
		}

		item, ok := w.queue.Dequeue()
		if !ok {
			break
		}
		w.dispatch(item)
		w.workCompleted.Add(1)
	}

	// Stop may have run before this loop reached RUNNING, in which case its
	// own move to STOPPING was rejected; STOPPED is only reachable from it.
	w.sm.Transition(StateStopping)
	w.sm.Transition(StateStopped)
	return nil
}

// Stop requests that Run finish the item currently in flight, if any,
// and then exit without dequeuing anything further; it does not block.
// Anything still sitting in the FIFO at the moment Stop runs is
// discarded, counted against WorkDropped.
func (w *Worker) Stop() {
	w.sm.Transition(StateStopping)
	if discarded := w.queue.Stop(); discarded > 0 {
		w.workDropped.Add(uint64(discarded))
		w.logger.Warn("discarding queued work on stop", "count", discarded)
	}
}
