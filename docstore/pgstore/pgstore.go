// Package pgstore implements docstore.Store on PostgreSQL. Documents live in a
// single JSONB table; writes merge with the jsonb || operator and a trigger
// announces every change on the docstore_changes channel.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"helpmate/docstore"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// Channel is the NOTIFY channel written by the documents trigger.
const Channel = "docstore_changes"

const (
	minBackoff = 250 * time.Millisecond
	maxBackoff = 10 * time.Second
)

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type key struct{ collection, id string }

// Store is a docstore.Store backed by a pgx pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	mu       sync.Mutex
	subs     map[key]map[uint64]*docstore.Relay
	subSeq   uint64
	listener context.CancelFunc
	stopped  chan struct{}
	closed   bool
}

func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:   pool,
		logger: slog.Default(),
		subs:   make(map[key]map[uint64]*docstore.Relay),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const selectDocument = `
	SELECT fields, created_at, updated_at
	FROM documents
	WHERE collection = $1 AND id = $2
`

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	doc, err := scanDocument(s.pool.QueryRow(ctx, selectDocument, collection, id), collection, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return docstore.Document{}, docstore.ErrNotFound
		}
		return docstore.Document{}, fmt.Errorf("pgstore: get %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

const mergeDocument = `
	INSERT INTO documents (collection, id, fields)
	VALUES ($1, $2, $3::jsonb)
	ON CONFLICT (collection, id) DO UPDATE
	SET fields = documents.fields || EXCLUDED.fields,
	    updated_at = clock_timestamp()
	RETURNING fields, created_at, updated_at
`

func (s *Store) Set(ctx context.Context, collection, id string, fields docstore.Fields) error {
	raw, err := encodeFields(fields)
	if err != nil {
		return &docstore.WriteError{Collection: collection, ID: id, Err: err}
	}
	if _, err := s.pool.Exec(ctx, mergeDocument, collection, id, raw); err != nil {
		return &docstore.WriteError{Collection: collection, ID: id, Err: err}
	}
	return nil
}

// Update locks the row for the duration of fn. A missing document is first
// inserted as an empty placeholder inside the transaction so concurrent
// creators serialize on it; the placeholder disappears if fn writes nothing.
func (s *Store) Update(ctx context.Context, collection, id string, fn docstore.UpdateFunc) (docstore.Document, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return docstore.Document{}, &docstore.WriteError{Collection: collection, ID: id, Err: fmt.Errorf("begin: %w", err)}
	}
	defer tx.Rollback(ctx)

	var created bool
	err = tx.QueryRow(ctx, `
		INSERT INTO documents (collection, id) VALUES ($1, $2)
		ON CONFLICT (collection, id) DO NOTHING
		RETURNING true
	`, collection, id).Scan(&created)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return docstore.Document{}, &docstore.WriteError{Collection: collection, ID: id, Err: fmt.Errorf("reserve: %w", err)}
	}

	current, err := scanDocument(tx.QueryRow(ctx, selectDocument+" FOR UPDATE", collection, id), collection, id)
	if err != nil {
		return docstore.Document{}, &docstore.WriteError{Collection: collection, ID: id, Err: fmt.Errorf("lock: %w", err)}
	}

	changes, err := fn(current, !created)
	if err != nil {
		return docstore.Document{}, err
	}
	if changes == nil {
		if created {
			return docstore.Document{Collection: collection, ID: id, Fields: docstore.Fields{}}, nil
		}
		return current, nil
	}

	raw, err := encodeFields(changes)
	if err != nil {
		return docstore.Document{}, &docstore.WriteError{Collection: collection, ID: id, Err: err}
	}
	updated, err := scanDocument(tx.QueryRow(ctx, mergeDocument, collection, id, raw), collection, id)
	if err != nil {
		return docstore.Document{}, &docstore.WriteError{Collection: collection, ID: id, Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return docstore.Document{}, &docstore.WriteError{Collection: collection, ID: id, Err: fmt.Errorf("commit: %w", err)}
	}
	return updated, nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	sql, args, err := buildQuery(q)
	if err != nil {
		return nil, &docstore.QueryError{Collection: q.Collection, Err: err}
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, &docstore.QueryError{Collection: q.Collection, Err: err}
	}
	defer rows.Close()

	out := make([]docstore.Document, 0, 16)
	for rows.Next() {
		var (
			id  string
			raw []byte
			doc docstore.Document
		)
		if err := rows.Scan(&id, &raw, &doc.CreateTime, &doc.UpdateTime); err != nil {
			return nil, &docstore.QueryError{Collection: q.Collection, Err: fmt.Errorf("scan: %w", err)}
		}
		fields, err := decodeFields(raw)
		if err != nil {
			return nil, &docstore.QueryError{Collection: q.Collection, Err: err}
		}
		doc.Collection, doc.ID, doc.Fields = q.Collection, id, fields
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, &docstore.QueryError{Collection: q.Collection, Err: err}
	}
	return out, nil
}

func buildQuery(q docstore.Query) (string, []any, error) {
	var b strings.Builder
	args := []any{q.Collection}
	b.WriteString("SELECT id, fields, created_at, updated_at FROM documents WHERE collection = $1")

	if len(q.Filters) > 0 {
		match := make(docstore.Fields, len(q.Filters))
		for _, f := range q.Filters {
			match[f.Field] = f.Value
		}
		raw, err := encodeFields(match)
		if err != nil {
			return "", nil, err
		}
		args = append(args, raw)
		fmt.Fprintf(&b, " AND fields @> $%d::jsonb", len(args))
	}

	dir, nulls := "ASC", "NULLS FIRST"
	if q.Desc {
		dir, nulls = "DESC", "NULLS LAST"
	}
	if q.OrderBy == docstore.OrderByCreateTime {
		fmt.Fprintf(&b, " ORDER BY created_at %s, seq %s", dir, dir)
	} else {
		args = append(args, q.OrderBy)
		fmt.Fprintf(&b, " ORDER BY fields -> $%d %s %s, seq %s", len(args), dir, nulls, dir)
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args, nil
}

// Subscribe starts the shared listener on first use and streams snapshots of
// one document.
func (s *Store) Subscribe(ctx context.Context, collection, id string) (<-chan docstore.Event, func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, docstore.ErrClosed
	}
	s.ensureListenerLocked()
	relay := docstore.NewRelay(ctx)
	k := key{collection, id}
	s.subSeq++
	subID := s.subSeq
	if s.subs[k] == nil {
		s.subs[k] = make(map[uint64]*docstore.Relay)
	}
	s.subs[k][subID] = relay
	s.mu.Unlock()

	relay.Push(s.snapshot(ctx, k))

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[k], subID)
			if len(s.subs[k]) == 0 {
				delete(s.subs, k)
			}
			s.mu.Unlock()
			relay.Close()
		})
	}
	return relay.Events(), cancel, nil
}

// Close stops the listener and every subscription.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	stop, stopped := s.listener, s.stopped
	for k, subs := range s.subs {
		for _, r := range subs {
			r.Close()
		}
		delete(s.subs, k)
	}
	s.mu.Unlock()

	if stop != nil {
		stop()
		<-stopped
	}
}

func (s *Store) ensureListenerLocked() {
	if s.listener != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.listener = cancel
	s.stopped = make(chan struct{})
	go s.listen(ctx)
}

func (s *Store) listen(ctx context.Context) {
	defer close(s.stopped)
	backoff := minBackoff
	for {
		err := s.listenOnce(ctx, func() { backoff = minBackoff })
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("docstore listener lost connection", "error", err, "retry_in", backoff)
		s.broadcastError(fmt.Errorf("pgstore: listen: %w", err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (s *Store) listenOnce(ctx context.Context, connected func()) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return err
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), "UNLISTEN "+Channel)
	}()
	connected()

	// Changes may have been missed while disconnected.
	s.refreshAll(ctx)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		s.handle(ctx, n)
	}
}

func (s *Store) handle(ctx context.Context, n *pgconn.Notification) {
	collection, id, ok := strings.Cut(n.Payload, "/")
	if !ok {
		return
	}
	k := key{collection, id}
	if len(s.relays(k)) == 0 {
		return
	}
	s.deliver(k, s.snapshot(ctx, k))
}

func (s *Store) refreshAll(ctx context.Context) {
	s.mu.Lock()
	keys := make([]key, 0, len(s.subs))
	for k := range s.subs {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, k := range keys {
		g.Go(func() error {
			s.deliver(k, s.snapshot(gctx, k))
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Store) snapshot(ctx context.Context, k key) docstore.Event {
	doc, err := s.Get(ctx, k.collection, k.id)
	switch {
	case err == nil:
		return docstore.Event{Document: doc, Exists: true}
	case errors.Is(err, docstore.ErrNotFound):
		return docstore.Event{Document: docstore.Document{Collection: k.collection, ID: k.id, Fields: docstore.Fields{}}}
	default:
		return docstore.Event{Err: err}
	}
}

func (s *Store) relays(k key) []*docstore.Relay {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*docstore.Relay, 0, len(s.subs[k]))
	for _, r := range s.subs[k] {
		out = append(out, r)
	}
	return out
}

func (s *Store) deliver(k key, ev docstore.Event) {
	for _, r := range s.relays(k) {
		r.Push(ev)
	}
}

func (s *Store) broadcastError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, subs := range s.subs {
		for _, r := range subs {
			r.Push(docstore.Event{Err: err})
		}
	}
}

func scanDocument(row pgx.Row, collection, id string) (docstore.Document, error) {
	var (
		raw []byte
		doc = docstore.Document{Collection: collection, ID: id}
	)
	if err := row.Scan(&raw, &doc.CreateTime, &doc.UpdateTime); err != nil {
		return docstore.Document{}, err
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return docstore.Document{}, err
	}
	doc.Fields = fields
	return doc, nil
}

func encodeFields(fields docstore.Fields) ([]byte, error) {
	if fields == nil {
		fields = docstore.Fields{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	return raw, nil
}

func decodeFields(raw []byte) (docstore.Fields, error) {
	fields := docstore.Fields{}
	if len(raw) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return fields, nil
}
