// Package livesync keeps one in-memory copy of a document reconciled with a
// one-shot load, a live subscription and local edits.
package livesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"helpmate/docstore"
)

var (
	// ErrLoadFailed wraps a failed initial load. It does not prevent Subscribe.
	ErrLoadFailed = errors.New("livesync: load failed")
	// ErrSync wraps a snapshot delivery error. The subscription stays up.
	ErrSync = errors.New("livesync: sync error")
	// ErrSubscribed is returned when Subscribe is called twice.
	ErrSubscribed = errors.New("livesync: already subscribed")
)

const defaultErrorBuffer = 16

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithErrorBuffer sets the capacity of the Errors channel.
func WithErrorBuffer(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.errs = make(chan error, n)
		}
	}
}

// Coordinator owns the authoritative in-memory value of one document.
type Coordinator struct {
	store      docstore.Store
	collection string
	id         string
	logger     *slog.Logger
	errs       chan error

	mu         sync.Mutex
	fields     docstore.Fields
	cleared    map[string]bool
	subscribed bool
	cancelled  bool
}

func New(store docstore.Store, collection, id string, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      store,
		collection: collection,
		id:         id,
		logger:     slog.Default(),
		errs:       make(chan error, defaultErrorBuffer),
		fields:     docstore.Fields{},
		cleared:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("collection", collection, "id", id)
	return c
}

// Load reads the document once and merges it into the local value. It returns
// docstore.ErrNotFound when the document does not exist yet.
func (c *Coordinator) Load(ctx context.Context) (docstore.Fields, error) {
	doc, err := c.store.Get(ctx, c.collection, c.id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return c.Fields(), err
		}
		wrapped := fmt.Errorf("%w: %s/%s: %w", ErrLoadFailed, c.collection, c.id, err)
		c.report(wrapped)
		return c.Fields(), wrapped
	}

	c.mu.Lock()
	changed := c.mergeLocked(doc.Fields)
	out := c.fields.Clone()
	c.mu.Unlock()

	c.logger.Debug("document loaded", "changed", changed)
	return out, nil
}

// Subscribe starts consuming live snapshots. onUpdate, when non-nil, receives a
// copy of the merged value after every snapshot that changed it. The returned
// cancel func is idempotent; once it returns no further snapshot is applied.
func (c *Coordinator) Subscribe(ctx context.Context, onUpdate func(docstore.Fields)) (func(), error) {
	c.mu.Lock()
	if c.subscribed {
		c.mu.Unlock()
		return nil, ErrSubscribed
	}
	c.subscribed = true
	c.mu.Unlock()

	events, storeCancel, err := c.store.Subscribe(ctx, c.collection, c.id)
	if err != nil {
		c.mu.Lock()
		c.subscribed = false
		c.mu.Unlock()
		return nil, fmt.Errorf("livesync: subscribe %s/%s: %w", c.collection, c.id, err)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			c.cancelled = true
			c.mu.Unlock()
			storeCancel()
		})
	}

	go c.run(events, onUpdate)
	return cancel, nil
}

func (c *Coordinator) run(events <-chan docstore.Event, onUpdate func(docstore.Fields)) {
	for ev := range events {
		if ev.Err != nil {
			c.report(fmt.Errorf("%w: %s/%s: %w", ErrSync, c.collection, c.id, ev.Err))
			continue
		}
		if !ev.Exists {
			continue
		}

		c.mu.Lock()
		if c.cancelled {
			c.mu.Unlock()
			return
		}
		changed := c.mergeLocked(ev.Document.Fields)
		snapshot := c.fields.Clone()
		c.mu.Unlock()

		if len(changed) == 0 {
			continue
		}
		c.logger.Debug("snapshot merged", "changed", changed)
		if onUpdate != nil {
			onUpdate(snapshot)
		}
	}
}

// Set records a local edit.
func (c *Coordinator) Set(field string, value any) {
	c.mu.Lock()
	c.fields[field] = value
	if !docstore.IsBlank(value) {
		delete(c.cleared, field)
	}
	c.mu.Unlock()
}

// Clear blanks a field on purpose. Snapshots do not refill it until one
// arrives with the field blank, showing the store has caught up.
func (c *Coordinator) Clear(field string) {
	c.mu.Lock()
	c.fields[field] = nil
	c.cleared[field] = true
	c.mu.Unlock()
}

// mergeLocked must be called with c.mu held.
func (c *Coordinator) mergeLocked(snapshot docstore.Fields) []string {
	if len(c.cleared) == 0 {
		return MergeBlank(c.fields, snapshot)
	}
	filtered := make(docstore.Fields, len(snapshot))
	for name, v := range snapshot {
		if c.cleared[name] {
			if docstore.IsBlank(v) {
				delete(c.cleared, name)
			}
			continue
		}
		filtered[name] = v
	}
	for name := range c.cleared {
		if _, present := snapshot[name]; !present {
			delete(c.cleared, name)
		}
	}
	return MergeBlank(c.fields, filtered)
}

// Fields returns a copy of the current value.
func (c *Coordinator) Fields() docstore.Fields {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fields.Clone()
}

// Errors delivers ErrLoadFailed and ErrSync errors.
func (c *Coordinator) Errors() <-chan error {
	return c.errs
}

func (c *Coordinator) report(err error) {
	c.logger.Warn("document sync problem", "error", err)
	select {
	case c.errs <- err:
	default:
		c.logger.Error("error channel full, dropping notification", "error", err)
	}
}
