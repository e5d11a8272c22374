package task

import (
	"context"
	"errors"
	"fmt"

	"helpmate/docstore"
)

var (
	ErrNotFound     = errors.New("task: not found")
	ErrInvalidDraft = errors.New("task: invalid draft")
)

// Repository persists tasks.
type Repository interface {
	Create(ctx context.Context, t Task) error
	Get(ctx context.Context, id string) (Task, error)
	ListOpen(ctx context.Context, limit int) ([]Task, error)
	SetStatus(ctx context.Context, id string, status Status) (Task, error)
}

// DocRepository stores tasks in the jobs collection.
type DocRepository struct {
	store docstore.Store
}

func NewRepository(store docstore.Store) *DocRepository {
	return &DocRepository{store: store}
}

func (r *DocRepository) Create(ctx context.Context, t Task) error {
	fields, err := docstore.Encode(docstore.CollectionJobs, t.ID, t)
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, docstore.CollectionJobs, t.ID, fields); err != nil {
		return fmt.Errorf("task: create: %w", err)
	}
	return nil
}

func (r *DocRepository) Get(ctx context.Context, id string) (Task, error) {
	doc, err := r.store.Get(ctx, docstore.CollectionJobs, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Task{}, ErrNotFound
		}
		return Task{}, fmt.Errorf("task: get: %w", err)
	}
	return FromDocument(doc)
}

func (r *DocRepository) ListOpen(ctx context.Context, limit int) ([]Task, error) {
	docs, err := r.store.Query(ctx, docstore.Query{
		Collection: docstore.CollectionJobs,
		Filters:    []docstore.Filter{{Field: "status", Value: string(StatusOpen)}},
		OrderBy:    docstore.OrderByCreateTime,
		Desc:       true,
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("task: list open: %w", err)
	}
	out := make([]Task, 0, len(docs))
	for _, doc := range docs {
		t, err := FromDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *DocRepository) SetStatus(ctx context.Context, id string, status Status) (Task, error) {
	doc, err := r.store.Update(ctx, docstore.CollectionJobs, id, func(cur docstore.Document, exists bool) (docstore.Fields, error) {
		if !exists {
			return nil, ErrNotFound
		}
		if cur.Fields.String("status") == string(status) {
			return nil, nil
		}
		return docstore.Fields{"status": string(status)}, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Task{}, err
		}
		return Task{}, fmt.Errorf("task: set status: %w", err)
	}
	return FromDocument(doc)
}

// FromDocument decodes and validates a jobs document.
func FromDocument(doc docstore.Document) (Task, error) {
	var t Task
	if err := docstore.Decode(doc, &t); err != nil {
		return Task{}, err
	}
	t.ID = doc.ID
	return t, nil
}
