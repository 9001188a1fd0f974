package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestStructuralError(t *testing.T) {
	err := NewStructuralError("2025-02-16", "user_data.google_fit", "")
	if !strings.Contains(err.Error(), "2025-02-16") || !strings.Contains(err.Error(), "user_data.google_fit") {
		t.Errorf("unexpected message: %q", err.Error())
	}

	wrapped := fmt.Errorf("extracting features: %w", err)
	if !IsStructural(wrapped) {
		t.Error("IsStructural() = false for wrapped StructuralError")
	}
	if IsMismatch(wrapped) {
		t.Error("IsMismatch() = true for StructuralError")
	}
}

func TestMismatchError(t *testing.T) {
	err := &MismatchError{
		Date:     "2025-02-16",
		NextDate: "2025-02-17",
		Missing:  []string{"08:00-09:00"},
		Extra:    []string{"10:00-11:00"},
	}
	msg := err.Error()
	for _, want := range []string{"2025-02-16", "2025-02-17", "08:00-09:00", "10:00-11:00"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, want to contain %q", msg, want)
		}
	}
	if !IsMismatch(fmt.Errorf("pair skipped: %w", err)) {
		t.Error("IsMismatch() = false for wrapped MismatchError")
	}
}

func TestSentinels(t *testing.T) {
	sentinels := []error{ErrInsufficientData, ErrOrdering, ErrMissingArtifact}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if (i == j) != errors.Is(fmt.Errorf("wrap: %w", a), b) {
				t.Errorf("errors.Is(%v, %v) mismatch", a, b)
			}
		}
	}
}
