package lattice

import (
	"errors"
	"fmt"
	"testing"
)

func TestStructuredError(t *testing.T) {
	err := NewError("write_acquire", KindAccessDenied, "region is read-only")

	if err.Op != "write_acquire" {
		t.Errorf("Op = %q, want write_acquire", err.Op)
	}
	if err.Kind != KindAccessDenied {
		t.Errorf("Kind = %q, want %q", err.Kind, KindAccessDenied)
	}

	want := "lattice: access denied: region is read-only (op=write_acquire)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestThreadError(t *testing.T) {
	err := NewThreadError("enqueue", ThreadID{Layer: 3, Position: 7}, KindShuttingDown, "worker stopping")

	want := "lattice: shutting down: worker stopping (op=enqueue thread=(3,7))"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapError(t *testing.T) {
	inner := errors.New("boom")
	err := WrapError("reduce", inner)

	if err.Kind != KindInvariantViolation {
		t.Errorf("Kind = %q, want %q", err.Kind, KindInvariantViolation)
	}
	if !errors.Is(err, inner) && err.Unwrap() != inner {
		t.Error("expected WrapError to retain the inner error for Unwrap")
	}

	// Wrapping an already-structured error preserves its Kind and Thread.
	structured := NewThreadError("write_acquire", ThreadID{Layer: 1, Position: 2}, KindAccessDenied, "read-only")
	rewrapped := WrapError("caller_op", structured)
	if rewrapped.Kind != KindAccessDenied {
		t.Errorf("rewrapped Kind = %q, want %q", rewrapped.Kind, KindAccessDenied)
	}
	if rewrapped.Thread != (ThreadID{Layer: 1, Position: 2}) {
		t.Errorf("rewrapped Thread = %v, want (1,2)", rewrapped.Thread)
	}
}

func TestWrapErrorNil(t *testing.T) {
	if WrapError("op", nil) != nil {
		t.Error("WrapError(nil) should return nil")
	}
}

func TestIsKind(t *testing.T) {
	err := NewError("recv", KindTimeout, "deadline passed")

	if !IsKind(err, KindTimeout) {
		t.Error("IsKind should match KindTimeout")
	}
	if IsKind(err, KindExhausted) {
		t.Error("IsKind should not match KindExhausted")
	}
	if IsKind(nil, KindTimeout) {
		t.Error("IsKind(nil, ...) should be false")
	}
}

func TestErrorIsByKind(t *testing.T) {
	a := NewError("op1", KindExhausted, "pool empty")
	b := NewError("op2", KindExhausted, "different message, same kind")
	c := NewError("op3", KindTimeout, "different kind")

	if !errors.Is(a, b) {
		t.Error("errors with the same Kind should satisfy errors.Is")
	}
	if errors.Is(a, c) {
		t.Error("errors with different Kind should not satisfy errors.Is")
	}
}

func TestSentinelErrorsHaveDistinctKinds(t *testing.T) {
	sentinels := []*Error{
		ErrAccessDenied, ErrInvalidSender, ErrPoolExhausted,
		ErrInvariantViolation, ErrShuttingDown, ErrTimeout,
	}
	seen := map[Kind]bool{}
	for _, s := range sentinels {
		if seen[s.Kind] {
			t.Errorf("duplicate sentinel kind %q among distinct sentinels", s.Kind)
		}
		seen[s.Kind] = true
	}
}

func ExampleError_Error() {
	err := NewError("alloc", KindAllocationFailure, "gradient buffer too large")
	fmt.Println(err)
	// Output: lattice: allocation failure: gradient buffer too large (op=alloc)
}
