// Package region implements the three shared-memory access disciplines the
// lattice uses to pass buffers between workers: read-only, copy-on-write,
// and locked-write.
package region

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	lattice "github.com/ashgrove/latticerun"
)

// Mode selects a region's concurrent-access discipline.
type Mode int

const (
	// ReadOnly regions are wait-free to read and never accept a writer.
	ReadOnly Mode = iota
	// CopyOnWrite regions hand each writer a private copy; release folds
	// it back atomically and bumps the version.
	CopyOnWrite
	// LockedWrite regions serialize every writer against every reader and
	// every other writer.
	LockedWrite
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case CopyOnWrite:
		return "copy-on-write"
	case LockedWrite:
		return "locked-write"
	default:
		return "unknown"
	}
}

// lockedWriteWeight is the semaphore capacity a LockedWrite region uses to
// emulate a readers-writer lock on top of golang.org/x/sync/semaphore: a
// reader acquires one unit, a writer acquires the entire pool, which is
// only possible once every outstanding reader (and any other writer) has
// released its unit.
const lockedWriteWeight = 1 << 20

// InvalidationFunc is notified on every successful write_release, with the
// version before and after the write.
type InvalidationFunc func(oldVersion, newVersion uint64)

// VersionRecord is one entry in a region's bounded version history.
type VersionRecord struct {
	Version   uint64
	Timestamp int64 // UnixNano
	Size      int
}

// Stats is a point-in-time snapshot of a region's operation counters.
type Stats struct {
	Reads         uint64
	Writes        uint64
	COWCopies     uint64
	Invalidations uint64
}

// Region is a bounded buffer with one of three access disciplines, a
// monotonically increasing version, and optional invalidation listeners
// and version history.
type Region struct {
	id   string
	mode Mode
	size int

	dataMu sync.RWMutex
	data   []byte

	version atomic.Uint64
	readers atomic.Int64
	writers atomic.Int64

	sem *semaphore.Weighted // non-nil only for LockedWrite

	listenersMu sync.Mutex
	listeners   []InvalidationFunc

	historyMu  sync.Mutex
	history    []VersionRecord
	historyCap int
	historyPos int

	reads, writes, cowCopies, invalidations atomic.Uint64
}

// Create allocates a zeroed region of size bytes under the given mode.
func Create(size int, mode Mode, id string) *Region {
	r := &Region{
		id:   id,
		mode: mode,
		size: size,
		data: make([]byte, size),
	}
	if mode == LockedWrite {
		r.sem = semaphore.NewWeighted(lockedWriteWeight)
	}
	return r
}

func (r *Region) ID() string      { return r.id }
func (r *Region) Mode() Mode      { return r.mode }
func (r *Region) Size() int       { return r.size }
func (r *Region) Version() uint64 { return r.version.Load() }

// Seed installs initial content outside the acquire/release protocol, for
// regions (typically ReadOnly) that are populated once at construction
// rather than through a write cycle — e.g. broadcasting immutable model
// parameters. Callers must not use Seed after the region has been shared.
func (r *Region) Seed(data []byte) error {
	if len(data) != r.size {
		return lattice.NewError("region.seed", lattice.KindInvalidArgument, "seed data length does not match region size")
	}
	r.dataMu.Lock()
	copy(r.data, data)
	r.dataMu.Unlock()
	return nil
}

// ReadAcquire returns a view of the region's bytes. ReadOnly and
// CopyOnWrite reads never block. LockedWrite blocks (respecting ctx
// cancellation) until no writer holds the region.
func (r *Region) ReadAcquire(ctx context.Context) ([]byte, error) {
	switch r.mode {
	case ReadOnly, CopyOnWrite:
		r.dataMu.RLock()
		out := r.data
		r.dataMu.RUnlock()
		r.readers.Add(1)
		r.reads.Add(1)
		return out, nil
	case LockedWrite:
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return nil, lattice.WrapError("region.read_acquire", err)
		}
		r.dataMu.RLock()
		out := r.data
		r.dataMu.RUnlock()
		r.readers.Add(1)
		r.reads.Add(1)
		return out, nil
	default:
		return nil, lattice.NewError("region.read_acquire", lattice.KindInvalidArgument, "unknown access mode")
	}
}

// ReadRelease releases a read acquired via ReadAcquire. Releasing without a
// matching acquire is an invariant violation.
func (r *Region) ReadRelease() error {
	if r.readers.Add(-1) < 0 {
		r.readers.Add(1)
		return lattice.AssertInvariant(lattice.NewError("region.read_release", lattice.KindInvariantViolation, "read_release without matching read_acquire"))
	}
	if r.mode == LockedWrite {
		r.sem.Release(1)
	}
	return nil
}

// WriteAcquire returns a buffer the caller may mutate. ReadOnly always
// fails with ErrAccessDenied. CopyOnWrite returns a private copy; the
// canonical buffer is untouched until WriteRelease folds it back.
// LockedWrite blocks for exclusive access and returns the canonical buffer
// directly.
func (r *Region) WriteAcquire(ctx context.Context) ([]byte, error) {
	switch r.mode {
	case ReadOnly:
		return nil, lattice.ErrAccessDenied
	case CopyOnWrite:
		r.dataMu.RLock()
		cp := make([]byte, len(r.data))
		copy(cp, r.data)
		r.dataMu.RUnlock()
		r.writers.Add(1)
		r.cowCopies.Add(1)
		return cp, nil
	case LockedWrite:
		if err := r.sem.Acquire(ctx, lockedWriteWeight); err != nil {
			return nil, lattice.WrapError("region.write_acquire", err)
		}
		r.writers.Add(1)
		return r.data, nil
	default:
		return nil, lattice.NewError("region.write_acquire", lattice.KindInvalidArgument, "unknown access mode")
	}
}

// WriteRelease commits a write acquired via WriteAcquire. For CopyOnWrite,
// buf is the private copy and is folded back into the canonical buffer
// here, bumping the version and firing invalidation listeners. For
// LockedWrite, buf is the canonical buffer (already mutated in place);
// it is accepted for API symmetry and not copied.
func (r *Region) WriteRelease(buf []byte) error {
	switch r.mode {
	case ReadOnly:
		return lattice.AssertInvariant(lattice.NewError("region.write_release", lattice.KindInvariantViolation, "write_release on read-only region"))
	case CopyOnWrite:
		if r.writers.Add(-1) < 0 {
			r.writers.Add(1)
			return lattice.AssertInvariant(lattice.NewError("region.write_release", lattice.KindInvariantViolation, "write_release without matching write_acquire"))
		}
		r.dataMu.Lock()
		r.data = buf
		r.dataMu.Unlock()
		r.bumpVersion(len(buf))
		return nil
	case LockedWrite:
		if r.writers.Add(-1) < 0 {
			r.writers.Add(1)
			return lattice.AssertInvariant(lattice.NewError("region.write_release", lattice.KindInvariantViolation, "write_release without matching write_acquire"))
		}
		r.bumpVersion(len(buf))
		r.sem.Release(lockedWriteWeight)
		return nil
	default:
		return lattice.NewError("region.write_release", lattice.KindInvalidArgument, "unknown access mode")
	}
}

func (r *Region) bumpVersion(size int) {
	old := r.version.Load()
	newVersion := r.version.Add(1)
	r.writes.Add(1)
	r.recordHistory(newVersion, size)
	r.fireInvalidation(old, newVersion)
}

// EnableHistory turns on a fixed-capacity ring of version records,
// overwritten oldest-first once full.
func (r *Region) EnableHistory(capacity int) {
	r.historyMu.Lock()
	defer r.historyMu.Unlock()
	r.history = make([]VersionRecord, 0, capacity)
	r.historyCap = capacity
	r.historyPos = 0
}

func (r *Region) recordHistory(version uint64, size int) {
	r.historyMu.Lock()
	defer r.historyMu.Unlock()
	if r.historyCap == 0 {
		return
	}
	rec := VersionRecord{Version: version, Timestamp: time.Now().UnixNano(), Size: size}
	if len(r.history) < r.historyCap {
		r.history = append(r.history, rec)
		return
	}
	r.history[r.historyPos] = rec
	r.historyPos = (r.historyPos + 1) % r.historyCap
}

// History returns a copy of the recorded version history, oldest entries
// first among whatever has not yet been overwritten.
func (r *Region) History() []VersionRecord {
	r.historyMu.Lock()
	defer r.historyMu.Unlock()
	out := make([]VersionRecord, 0, len(r.history))
	out = append(out, r.history[r.historyPos:]...)
	out = append(out, r.history[:r.historyPos]...)
	return out
}

// SetInvalidationCallback registers fn to be called on every successful
// write_release. Multiple callbacks may be registered; all fire in
// registration order.
func (r *Region) SetInvalidationCallback(fn InvalidationFunc) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Region) fireInvalidation(old, newVersion uint64) {
	r.listenersMu.Lock()
	listeners := make([]InvalidationFunc, len(r.listeners))
	copy(listeners, r.listeners)
	r.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(old, newVersion)
		r.invalidations.Add(1)
	}
}

// Stats returns a point-in-time snapshot of the region's counters.
func (r *Region) Stats() Stats {
	return Stats{
		Reads:         r.reads.Load(),
		Writes:        r.writes.Load(),
		COWCopies:     r.cowCopies.Load(),
		Invalidations: r.invalidations.Load(),
	}
}

// Free releases the region's backing buffer. The region must not be used
// after Free.
func (r *Region) Free() {
	r.dataMu.Lock()
	r.data = nil
	r.dataMu.Unlock()
}
