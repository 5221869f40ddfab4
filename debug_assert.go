//go:build !latticedebug

package lattice

// AssertInvariant returns err unchanged in release builds. Build with
// -tags latticedebug to panic on invariant violations instead, surfacing
// usage bugs (double release, queue corruption) immediately rather than
// letting the pool limp on in a mark-unusable state.
func AssertInvariant(err *Error) *Error {
	return err
}
