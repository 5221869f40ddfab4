package lattice

import (
	"sync"

	"github.com/ashgrove/latticerun/internal/model"
)

// MockCallbacks provides a mock model.CallbackTable for unit testing code
// that drives a Lattice. It records call counts and lets callers override
// any field's behavior; by default Forward and Backward both succeed and
// touch their output buffers just enough to prove they ran.
type MockCallbacks struct {
	mu sync.Mutex

	forwardCalls  int
	backwardCalls int

	OnForward  func(worker model.WorkerID, layer int, input, output []byte) model.Status
	OnBackward func(worker model.WorkerID, layer int, gradOut, gradIn []float64) model.Status
}

// NewMockCallbacks returns a MockCallbacks with default Forward/Backward
// implementations that always succeed.
func NewMockCallbacks() *MockCallbacks {
	return &MockCallbacks{}
}

// Table builds a model.CallbackTable bound to this mock's Forward/Backward
// methods, suitable for passing directly to Create.
func (m *MockCallbacks) Table(embeddingDim, numLayers, vocabSize int) *model.CallbackTable {
	return &model.CallbackTable{
		EmbeddingDim: embeddingDim,
		NumLayers:    numLayers,
		VocabSize:    vocabSize,
		Forward:      m.forward,
		Backward:     m.backward,
	}
}

func (m *MockCallbacks) forward(_ any, worker model.WorkerID, layer int, input, output []byte) model.Status {
	m.mu.Lock()
	m.forwardCalls++
	m.mu.Unlock()

	if m.OnForward != nil {
		return m.OnForward(worker, layer, input, output)
	}
	copy(output, input)
	return model.StatusOK
}

func (m *MockCallbacks) backward(_ any, worker model.WorkerID, layer int, gradOut, gradIn []float64) model.Status {
	m.mu.Lock()
	m.backwardCalls++
	m.mu.Unlock()

	if m.OnBackward != nil {
		return m.OnBackward(worker, layer, gradOut, gradIn)
	}
	for i := range gradIn {
		gradIn[i] = gradOut[i]
	}
	return model.StatusOK
}

// ForwardCalls reports how many times Forward has been invoked.
func (m *MockCallbacks) ForwardCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forwardCalls
}

// BackwardCalls reports how many times Backward has been invoked.
func (m *MockCallbacks) BackwardCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backwardCalls
}
