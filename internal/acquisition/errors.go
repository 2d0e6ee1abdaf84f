package acquisition

import (
	"errors"
	"fmt"
)

// Error kinds for the acquisition subsystem. Every failure a control loop
// can see maps to one of these, so the orchestration layer can log and
// classify without string matching.
var (
	// ErrNotFound means a referenced plan/collection/spec/plate is missing.
	ErrNotFound = errors.New("not found")

	// ErrValidation means the request is malformed (e.g. copy to the
	// collection's own tier).
	ErrValidation = errors.New("validation failed")

	// ErrConflict means a uniqueness constraint rejected an insert.
	ErrConflict = errors.New("conflict")

	// ErrTransfer means a file-transfer process exited non-zero.
	ErrTransfer = errors.New("transfer failed")

	// ErrExternalSubmission means the executor accepted the command but
	// returned no parseable job id, or exited non-zero.
	ErrExternalSubmission = errors.New("external submission failed")

	// ErrExternalStateParse means a job status query returned text the
	// state pattern could not match.
	ErrExternalStateParse = errors.New("external state parse failed")
)

// NotFoundf wraps ErrNotFound with context.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// Validationf wraps ErrValidation with context.
func Validationf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}

// Conflictf wraps ErrConflict with context.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}
