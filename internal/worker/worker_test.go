package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lattice "github.com/ashgrove/latticerun"
	"github.com/ashgrove/latticerun/internal/gradient"
	"github.com/ashgrove/latticerun/internal/logging"
	"github.com/ashgrove/latticerun/internal/model"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(&logging.Config{Level: logging.LevelError})
}

func countingCallbacks() *model.CallbackTable {
	return &model.CallbackTable{
		EmbeddingDim: 4,
		NumLayers:    1,
		VocabSize:    10,
		Forward: func(any, model.WorkerID, int, []byte, []byte) model.Status {
			return model.StatusOK
		},
		Backward: func(any, model.WorkerID, int, []float64, []float64) model.Status {
			return model.StatusOK
		},
	}
}

func TestNewWorkerAssignsCoordinatorRole(t *testing.T) {
	w := New(lattice.ThreadID{Layer: 0, Position: 0}, 16, nil, 0, countingCallbacks(), testLogger(), lattice.NewMetrics())
	assert.Equal(t, RoleCoordinator, w.Role())
}

func TestNewWorkerAssignsWorkerRole(t *testing.T) {
	w := New(lattice.ThreadID{Layer: 0, Position: 3}, 16, nil, 0, countingCallbacks(), testLogger(), lattice.NewMetrics())
	assert.Equal(t, RoleWorker, w.Role())
}

func TestNewWorkerStartsInitialized(t *testing.T) {
	w := New(lattice.ThreadID{Layer: 1, Position: 1}, 16, nil, 0, countingCallbacks(), testLogger(), lattice.NewMetrics())
	assert.Equal(t, StateInitialized, w.State())
}

func TestWorkerRunProcessesQueuedItemsThenStops(t *testing.T) {
	w := New(lattice.ThreadID{Layer: 0, Position: 1}, 16, nil, 0, countingCallbacks(), testLogger(), lattice.NewMetrics())

	for i := 0; i < 5; i++ {
		require.NoError(t, w.Enqueue(&WorkItem{Tag: WorkForward, TokenID: int64(i)}))
	}

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	w.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop within timeout")
	}

	assert.Equal(t, uint64(5), w.WorkCompleted())
	assert.Equal(t, StateStopped, w.State())
}

func TestWorkerStopDiscardsBacklogWithoutProcessingIt(t *testing.T) {
	slowCallbacks := &model.CallbackTable{
		EmbeddingDim: 4,
		NumLayers:    1,
		VocabSize:    10,
		Forward: func(any, model.WorkerID, int, []byte, []byte) model.Status {
			time.Sleep(2 * time.Millisecond)
			return model.StatusOK
		},
		Backward: func(any, model.WorkerID, int, []float64, []float64) model.Status {
			return model.StatusOK
		},
	}
	w := New(lattice.ThreadID{Layer: 0, Position: 1}, 16, nil, 0, slowCallbacks, testLogger(), lattice.NewMetrics())

	const total = 50
	for i := 0; i < total; i++ {
		require.NoError(t, w.Enqueue(&WorkItem{Tag: WorkForward, TokenID: int64(i)}))
	}

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	// Long enough for Run to reach RUNNING and process a few slow items,
	// nowhere near long enough to drain all of them.
	time.Sleep(10 * time.Millisecond)
	w.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop within timeout")
	}

	accounted := w.WorkCompleted() + w.WorkDropped()
	assert.Equal(t, uint64(total), accounted, "every enqueued item must be either completed or accounted as dropped")
	assert.Less(t, w.WorkCompleted(), uint64(total), "stop-before-drain must not let the whole backlog run")
	assert.Equal(t, StateStopped, w.State())
}

func TestWorkerGradientSliceIsDisjointFromOtherWorkers(t *testing.T) {
	acc := gradient.NewAccumulator(2, 4, lattice.ReductionAverage, 0)
	w0 := New(lattice.ThreadID{Layer: 0, Position: 0}, 4, acc, 0, countingCallbacks(), testLogger(), lattice.NewMetrics())
	w1 := New(lattice.ThreadID{Layer: 0, Position: 1}, 4, acc, 1, countingCallbacks(), testLogger(), lattice.NewMetrics())

	w0.GradientSlice()[0] = 99
	assert.Zero(t, w1.GradientSlice()[0])
}

func TestWorkerNeighborRegionIsReusedForSameID(t *testing.T) {
	w := New(lattice.ThreadID{Layer: 0, Position: 0}, 4, nil, 0, countingCallbacks(), testLogger(), lattice.NewMetrics())
	neighbor := lattice.ThreadID{Layer: 1, Position: 0}

	r1 := w.Neighbor(neighbor, 64)
	r2 := w.Neighbor(neighbor, 64)
	assert.Same(t, r1, r2)
}

func TestWorkerWithoutAccumulatorHasNilGradientSlice(t *testing.T) {
	w := New(lattice.ThreadID{Layer: 0, Position: 0}, 4, nil, 0, countingCallbacks(), testLogger(), lattice.NewMetrics())
	assert.Nil(t, w.GradientSlice())
}
