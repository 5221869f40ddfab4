//go:build latticedebug

package lattice

// AssertInvariant panics with err in debug builds.
func AssertInvariant(err *Error) *Error {
	panic(err)
}
