package domain

import (
	"errors"
	"fmt"
)

// ErrCanceled signals that the backing job record no longer exists: the job
// was deleted externally while we were processing it. It always propagates
// out of a status write and is never masked.
var ErrCanceled = errors.New("job record no longer exists")

// ValidationError marks a malformed or incomplete message. This is a
// producer defect, never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid slicing request: " + e.Reason
}

// SlicerError marks an abnormal exit of the external slicing engine. The
// input model itself is unsliceable, so the message must not be retried.
type SlicerError struct {
	ExitCode int
	Output   string
}

func (e *SlicerError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("slicer exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("slicer exited with code %d: %s", e.ExitCode, e.Output)
}

// IsValidation reports whether err is a ValidationError anywhere in its chain.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsSlicerFailure reports whether err is a SlicerError anywhere in its chain.
func IsSlicerFailure(err error) bool {
	var se *SlicerError
	return errors.As(err, &se)
}
