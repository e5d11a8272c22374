// Package docstore defines the document-store collaborator the marketplace core
// talks to. A document is a flat map of JSON-compatible fields addressed by
// collection and id; writes merge into the stored fields rather than replacing
// them.
package docstore

import (
	"context"
	"time"
)

// Logical collections.
const (
	CollectionProfiles       = "profiles"
	CollectionJobs           = "jobs"
	CollectionMatches        = "matches"
	CollectionMatchPairs     = "match_pairs"
	CollectionMessages       = "messages"
	CollectionRatings        = "ratings"
	CollectionCompletedTasks = "completed_tasks"
)

// OrderByCreateTime orders query results by the store-assigned creation time.
const OrderByCreateTime = ""

// Fields holds the top-level fields of a document.
type Fields map[string]any

// Document is a stored document together with its store metadata.
type Document struct {
	Collection string
	ID         string
	Fields     Fields
	CreateTime time.Time
	UpdateTime time.Time
}

// Event is a single delivery on a subscription channel. Either Err is set, or
// the event carries a full snapshot of the document (Exists reports whether
// the document is present at all).
type Event struct {
	Document Document
	Exists   bool
	Err      error
}

// Filter is an equality predicate on one top-level field.
type Filter struct {
	Field string
	Value any
}

// Query selects documents from one collection.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Desc       bool
	Limit      int
}

// UpdateFunc computes the fields to merge into a document from its current
// state. Returning nil fields and a nil error skips the write. A returned error
// aborts the update and is passed back to the caller unchanged.
type UpdateFunc func(current Document, exists bool) (Fields, error)

// Store is the document-store collaborator.
type Store interface {
	// Get returns ErrNotFound when the document does not exist.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Set merges fields into the document, creating it if needed.
	Set(ctx context.Context, collection, id string, fields Fields) error
	// Update performs an atomic read-modify-write of a single document.
	// The function must not call back into the store.
	Update(ctx context.Context, collection, id string, fn UpdateFunc) (Document, error)
	// Subscribe streams full snapshots of one document, starting with its
	// current state. The returned cancel func is idempotent and closes the
	// channel.
	Subscribe(ctx context.Context, collection, id string) (<-chan Event, func(), error)
	// Query returns documents matching every filter.
	Query(ctx context.Context, q Query) ([]Document, error)
}

// Clone returns a shallow copy of the fields.
func (f Fields) Clone() Fields {
	if f == nil {
		return Fields{}
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// String returns the field as a string, or "" when absent or not a string.
func (f Fields) String(key string) string {
	s, _ := f[key].(string)
	return s
}
