package mutbox

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsNonRetriable(t *testing.T) {
	if !IsNonRetriable(NewNonRetriableError(fmt.Errorf("bad input"))) {
		t.Errorf("expected CodeNonRetriable to be non-retriable")
	}
	if !IsNonRetriable(NewUnknownMutationFnError("ghost")) {
		t.Errorf("expected CodeUnknownMutationFn to be non-retriable")
	}
	if IsNonRetriable(NewTransientError(fmt.Errorf("timeout"))) {
		t.Errorf("expected CodeTransient to be retriable")
	}
	if IsNonRetriable(fmt.Errorf("plain error")) {
		t.Errorf("expected a plain error to not be non-retriable")
	}
}

func TestIsNonRetriableThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("mutation failed: %w", NewNonRetriableError(fmt.Errorf("denied")))
	if !IsNonRetriable(wrapped) {
		t.Errorf("expected IsNonRetriable to see through fmt.Errorf wrapping via errors.As")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := NewTransientError(cause)
	if !errors.Is(err, cause) {
		t.Errorf("expected errors.Is to find the wrapped cause")
	}
}
