package errors

import (
	"errors"
	"fmt"
	"os"

	"github.com/julianstephens/daypulse/internal/constants"
	"github.com/julianstephens/daypulse/internal/logger"
)

// Exit codes returned by the CLI
const (
	ExitFailure = 1
	// ExitNoData means the run had nothing to learn from
	ExitNoData = 2
)

// Format renders err for the terminal with an "Error: " prefix and, for pipeline
// sentinels, a hint on the command that resolves it
func Format(err error) string {
	if err == nil {
		return ""
	}
	msg := fmt.Sprintf("Error: %v", err)
	if hint := Hint(err); hint != "" {
		msg += "\nHint: " + hint
	}
	return msg
}

// Hint suggests the next command for the pipeline sentinels wrapped in err
func Hint(err error) string {
	switch {
	case errors.Is(err, ErrMissingArtifact), errors.Is(err, ErrOrdering):
		return fmt.Sprintf("run '%s train global' first", constants.AppName)
	case errors.Is(err, ErrInsufficientData):
		return fmt.Sprintf("import at least two consecutive days with '%s import'", constants.AppName)
	default:
		return ""
	}
}

// ExitCode maps err to the process exit status
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInsufficientData):
		return ExitNoData
	default:
		return ExitFailure
	}
}

// Fatal logs err and exits with its ExitCode. A nil error returns normally.
func Fatal(err error) {
	if err == nil {
		return
	}
	logger.Error("Command execution failed", "error", err)
	fmt.Fprintln(os.Stderr, Format(err))
	os.Exit(ExitCode(err))
}
