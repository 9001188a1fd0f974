package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInsufficientData is returned when a training run has nothing to learn from.
	// It is an expected outcome, not a fault.
	ErrInsufficientData = errors.New("insufficient training data")
	// ErrOrdering is returned when a private model is trained before any global model exists
	ErrOrdering = errors.New("global model must be trained before private models")
	// ErrMissingArtifact is returned when a prediction is requested with no trained model
	ErrMissingArtifact = errors.New("model artifact not available")
)

// StructuralError reports a day record missing a section the pipeline cannot work without.
// It is fatal for that day only.
type StructuralError struct {
	Date    string
	Section string
	Detail  string
}

func (e *StructuralError) Error() string {
	msg := fmt.Sprintf("day %s: missing or malformed section %q", e.Date, e.Section)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// NewStructuralError builds a StructuralError for the given day and section
func NewStructuralError(date, section, detail string) *StructuralError {
	return &StructuralError{Date: date, Section: section, Detail: detail}
}

// MismatchError reports that the observed slots of one day do not line up with
// the labeled slots of the following day.
type MismatchError struct {
	Date     string
	NextDate string
	// Missing holds slots observed on Date with no label on NextDate
	Missing []string
	// Extra holds slots labeled on NextDate that were never observed on Date
	Extra []string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("slot mismatch between %s and %s (unlabeled: [%s], unobserved: [%s])",
		e.Date, e.NextDate, strings.Join(e.Missing, ", "), strings.Join(e.Extra, ", "))
}

// IsStructural reports whether err is, or wraps, a StructuralError
func IsStructural(err error) bool {
	var se *StructuralError
	return errors.As(err, &se)
}

// IsMismatch reports whether err is, or wraps, a MismatchError
func IsMismatch(err error) bool {
	var me *MismatchError
	return errors.As(err, &me)
}
