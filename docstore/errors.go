package docstore

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing document. Callers treat it as "no data yet".
	ErrNotFound = errors.New("docstore: not found")
	// ErrWrite marks every failed write; see WriteError.
	ErrWrite = errors.New("docstore: write failed")
	// ErrQuery marks every failed query; see QueryError.
	ErrQuery = errors.New("docstore: query failed")
	// ErrInvalidDocument is returned when a document cannot be decoded into
	// its record type or fails validation.
	ErrInvalidDocument = errors.New("docstore: invalid document")
	// ErrClosed is returned by stores that have been shut down.
	ErrClosed = errors.New("docstore: store closed")
)

// WriteError wraps a failed Set or Update.
type WriteError struct {
	Collection string
	ID         string
	Err        error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("docstore: write %s/%s: %v", e.Collection, e.ID, e.Err)
}

func (e *WriteError) Unwrap() []error {
	return []error{ErrWrite, e.Err}
}

// QueryError wraps a failed Query.
type QueryError struct {
	Collection string
	Err        error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("docstore: query %s: %v", e.Collection, e.Err)
}

func (e *QueryError) Unwrap() []error {
	return []error{ErrQuery, e.Err}
}

func invalid(collection, id string, err error) error {
	return fmt.Errorf("%w: %s/%s: %v", ErrInvalidDocument, collection, id, err)
}
