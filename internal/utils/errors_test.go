package utils

import (
	"errors"
	"fmt"
	"testing"
)

var errSentinel = errors.New("sentinel")

func TestAppErrorUnwrap(t *testing.T) {
	err := Errorf("sweep.windows", errSentinel, "odd transition count %d", 3)
	wrapped := fmt.Errorf("load cell: %w", err)

	if !errors.Is(wrapped, errSentinel) {
		t.Fatalf("expected sentinel in chain, got %v", wrapped)
	}
	if got := OpOf(wrapped); got != "sweep.windows" {
		t.Fatalf("expected op sweep.windows, got %q", got)
	}
	if got := err.Error(); got != "sweep.windows: odd transition count 3: sentinel" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestAppErrorWithoutCause(t *testing.T) {
	err := NewAppError("query", "empty cell list", nil)
	if err.Error() != "query: empty cell list" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if OpOf(errSentinel) != "" {
		t.Fatalf("expected empty op for plain error")
	}
}
