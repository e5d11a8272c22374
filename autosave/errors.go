package autosave

import (
	"errors"
	"fmt"
)

var (
	// ErrPersistenceFailed marks a save that exhausted its retries.
	ErrPersistenceFailed = errors.New("autosave: persistence failed")
	// ErrClosed is returned by SaveNow after Close.
	ErrClosed = errors.New("autosave: pipeline closed")
)

// PersistenceFailedError reports a save that could not be made durable.
type PersistenceFailedError struct {
	Attempts int
	Err      error
}

func (e *PersistenceFailedError) Error() string {
	return fmt.Sprintf("autosave: persist failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *PersistenceFailedError) Unwrap() []error {
	return []error{ErrPersistenceFailed, e.Err}
}
