package worker

import (
	"context"

	lattice "github.com/ashgrove/latticerun"
	"github.com/ashgrove/latticerun/internal/model"
)

// dispatch routes item to the callback table entry matching its tag.
// Unknown tags are logged and dropped rather than retried, per the work
// item contract: a work item is a single attempt, not a durable job.
func (w *Worker) dispatch(item *WorkItem) {
	switch item.Tag {
	case WorkForward:
		w.runForward(item)
	case WorkBackward:
		w.runBackward(item)
	case WorkOptimize:
		// Optimizer steps run under the pool's exclusive phase after the
		// global barrier, not through per-worker dispatch.
		w.logger.Warn("optimize work item dispatched to worker, dropping", "token", item.TokenID)
		w.workDropped.Add(1)
	default:
		w.logger.Warn("unknown work item tag, dropping", "tag", item.Tag)
		w.workDropped.Add(1)
	}
}

func (w *Worker) runForward(item *WorkItem) {
	if w.callbacks == nil || w.callbacks.Forward == nil {
		w.logger.Error("forward dispatched with no callback bound")
		w.workDropped.Add(1)
		return
	}

	input := w.activation
	switch {
	case w.callbacks.GetInput != nil:
		if buf := w.callbacks.GetInput(nil, item.TokenID); buf != nil {
			input = buf
		}
	case w.id.Layer > 0:
		// No model-resolved input: fall back to whatever the previous
		// layer's worker at the same position last published into the
		// shared boundary region between the two layers.
		upstream := lattice.ThreadID{Layer: w.id.Layer - 1, Position: w.id.Position}
		if boundary := w.lookupNeighbor(upstream); boundary != nil {
			if buf, err := boundary.ReadAcquire(context.Background()); err == nil {
				copy(w.activation, buf)
				boundary.ReadRelease()
			}
		}
	}

	wid := model.WorkerID{Layer: w.id.Layer, Position: w.id.Position}
	status := w.callbacks.Forward(nil, wid, w.id.Layer, input, w.activation)
	if status != model.StatusOK {
		w.logger.Error("forward callback reported failure", "token", item.TokenID)
	}

	if w.callbacks.SetOutput != nil {
		w.callbacks.SetOutput(nil, item.TokenID, w.activation)
	}

	downstream := lattice.ThreadID{Layer: w.id.Layer + 1, Position: w.id.Position}
	if boundary := w.lookupNeighbor(downstream); boundary != nil {
		if buf, err := boundary.WriteAcquire(context.Background()); err == nil {
			copy(buf, w.activation)
			boundary.WriteRelease(buf)
		}
	}

	if w.layerSync != nil {
		w.layerSync()
	}
}

func (w *Worker) runBackward(item *WorkItem) {
	if w.callbacks == nil || w.callbacks.Backward == nil {
		w.logger.Error("backward dispatched with no callback bound")
		w.workDropped.Add(1)
		return
	}

	// Zero this step's slice before writing into it: a worker whose
	// callback only partially fills the slice must reduce as zero in the
	// untouched positions rather than carry over a prior step's values.
	// A worker that skips the step never gets here; Lattice.BeginStep
	// covers that case.
	if w.accumulator != nil {
		w.accumulator.ZeroSlice(w.gradientIndex)
	}

	// gradOut would come from the downstream neighbor's boundary region in
	// a full layer-to-layer pipeline; accumulation in place is correct for
	// the single-layer backward case this dispatch path exercises today.
	gradIn := w.GradientSlice()
	wid := model.WorkerID{Layer: w.id.Layer, Position: w.id.Position}
	status := w.callbacks.Backward(nil, wid, w.id.Layer, gradIn, gradIn)
	if status != model.StatusOK {
		w.logger.Error("backward callback reported failure", "token", item.TokenID)
	}

	if w.globalSync != nil {
		w.globalSync()
	}
}
