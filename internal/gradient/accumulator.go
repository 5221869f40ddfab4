// Package gradient implements the disjoint-slice gradient accumulation
// discipline: each worker writes exclusively into its own slice of a
// shared buffer, and a reduction pass folds the slices together between
// training steps.
package gradient

import (
	"math"

	lattice "github.com/ashgrove/latticerun"
)

// Accumulator owns one contiguous grad[0..P*S] buffer where worker i
// writes exclusively into grad[i*S : (i+1)*S]. Because the slices are
// disjoint and every write completes before the global barrier that
// precedes Reduce, the write path needs no lock or atomic.
type Accumulator struct {
	workers  int // P
	sliceLen int // S

	grad  []float64 // P*S
	accum []float64 // S, the last computed reduction

	policy  lattice.ReductionPolicy
	maxNorm float64
}

// NewAccumulator allocates a buffer for workers worker slices of sliceLen
// each, zeroed.
func NewAccumulator(workers, sliceLen int, policy lattice.ReductionPolicy, maxNorm float64) *Accumulator {
	return &Accumulator{
		workers:  workers,
		sliceLen: sliceLen,
		grad:     make([]float64, workers*sliceLen),
		accum:    make([]float64, sliceLen),
		policy:   policy,
		maxNorm:  maxNorm,
	}
}

// Workers returns P.
func (a *Accumulator) Workers() int { return a.workers }

// SliceLen returns S.
func (a *Accumulator) SliceLen() int { return a.sliceLen }

// Slice returns worker's disjoint write region. Callers must not retain a
// reference across steps without re-zeroing it, and must never write into
// another worker's slice.
func (a *Accumulator) Slice(worker int) []float64 {
	start := worker * a.sliceLen
	return a.grad[start : start+a.sliceLen]
}

// ZeroSlice zeros one worker's slice. The default failure-mode policy has
// every worker zero its own slice before writing into it during backward,
// so a partially written slice never carries over a prior step's values
// in the positions the callback didn't touch.
func (a *Accumulator) ZeroSlice(worker int) {
	s := a.Slice(worker)
	for i := range s {
		s[i] = 0
	}
}

// ZeroAll zeros every worker's slice. A worker's own ZeroSlice call only
// protects the workers that actually run backward in a given step; a
// worker that sits a step out entirely never gets that call, so callers
// that dispatch a step where not every position necessarily participates
// should call ZeroAll first, before enqueuing that step's work.
func (a *Accumulator) ZeroAll() {
	for i := range a.grad {
		a.grad[i] = 0
	}
}

// Reduce folds the P disjoint slices into the consolidated S-length
// buffer using the configured policy, and returns it. Callers must only
// call this after the global barrier following backward: that barrier is
// what makes every worker's write happen-before this read.
func (a *Accumulator) Reduce() []float64 {
	for j := range a.accum {
		a.accum[j] = 0
	}

	for i := 0; i < a.workers; i++ {
		slice := a.Slice(i)
		scale := 1.0
		if a.policy == lattice.ReductionClippedAverage {
			scale = clipScale(slice, a.maxNorm)
		}
		for j, v := range slice {
			a.accum[j] += v * scale
		}
	}

	if a.policy != lattice.ReductionSum {
		inv := 1.0 / float64(a.workers)
		for j := range a.accum {
			a.accum[j] *= inv
		}
	}
	return a.accum
}

// clipScale returns the factor that shrinks slice's L2 norm to maxNorm, or
// 1.0 if the slice is already within bound.
func clipScale(slice []float64, maxNorm float64) float64 {
	var sumSq float64
	for _, v := range slice {
		sumSq += v * v
	}
	norm := math.Sqrt(sumSq)
	if norm <= maxNorm || norm == 0 {
		return 1.0
	}
	return maxNorm / norm
}

// Accumulated returns the result of the last Reduce call without
// recomputing it.
func (a *Accumulator) Accumulated() []float64 { return a.accum }
