// Package memstore is an in-process docstore.Store. It keeps the same merge,
// ordering and subscription semantics as the Postgres store and is used by the
// CLI's memory mode and by package tests.
package memstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"helpmate/docstore"
)

// Op names a store operation for fault injection.
type Op string

const (
	OpGet    Op = "get"
	OpSet    Op = "set"
	OpUpdate Op = "update"
	OpQuery  Op = "query"
)

type key struct {
	collection string
	id         string
}

type entry struct {
	fields  docstore.Fields
	created time.Time
	updated time.Time
	seq     uint64
}

type fault struct {
	op         Op
	collection string
	err        error
	remaining  int
}

// Store is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	docs   map[key]*entry
	subs   map[key]map[uint64]*docstore.Relay
	faults []*fault
	seq    uint64
	subSeq uint64
	closed bool
	now    func() time.Time
	writes int
}

func New() *Store {
	return &Store{
		docs: make(map[key]*entry),
		subs: make(map[key]map[uint64]*docstore.Relay),
		now:  time.Now,
	}
}

// WithClock overrides the clock used for document create/update times.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

// FailNext makes the next n calls of op on collection fail with err. An empty
// collection matches every collection.
func (s *Store) FailNext(op Op, collection string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, &fault{op: op, collection: collection, err: err, remaining: n})
}

// PushError delivers an error event to every subscriber of the document.
func (s *Store) PushError(collection, id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for subID, r := range s.subs[key{collection, id}] {
		if !r.Push(docstore.Event{Err: err}) {
			delete(s.subs[key{collection, id}], subID)
		}
	}
}

// Writes returns the number of successful Set and Update writes.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Subscribers returns the number of live subscriptions on a document.
func (s *Store) Subscribers(collection, id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[key{collection, id}])
}

// Close cancels every subscription. Later calls fail with docstore.ErrClosed.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for k, subs := range s.subs {
		for _, r := range subs {
			r.Close()
		}
		delete(s.subs, k)
	}
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return docstore.Document{}, docstore.ErrClosed
	}
	if err := s.takeFault(OpGet, collection); err != nil {
		return docstore.Document{}, fmt.Errorf("memstore: get %s/%s: %w", collection, id, err)
	}
	e, ok := s.docs[key{collection, id}]
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return e.document(collection, id), nil
}

func (s *Store) Set(ctx context.Context, collection, id string, fields docstore.Fields) error {
	if err := ctx.Err(); err != nil {
		return &docstore.WriteError{Collection: collection, ID: id, Err: err}
	}
	normalized, err := docstore.Normalize(fields)
	if err != nil {
		return &docstore.WriteError{Collection: collection, ID: id, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &docstore.WriteError{Collection: collection, ID: id, Err: docstore.ErrClosed}
	}
	if err := s.takeFault(OpSet, collection); err != nil {
		return &docstore.WriteError{Collection: collection, ID: id, Err: err}
	}
	s.merge(collection, id, normalized)
	return nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fn docstore.UpdateFunc) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, &docstore.WriteError{Collection: collection, ID: id, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return docstore.Document{}, &docstore.WriteError{Collection: collection, ID: id, Err: docstore.ErrClosed}
	}
	if err := s.takeFault(OpUpdate, collection); err != nil {
		return docstore.Document{}, &docstore.WriteError{Collection: collection, ID: id, Err: err}
	}

	current := docstore.Document{Collection: collection, ID: id, Fields: docstore.Fields{}}
	e, exists := s.docs[key{collection, id}]
	if exists {
		current = e.document(collection, id)
	}

	changes, err := fn(current, exists)
	if err != nil {
		return docstore.Document{}, err
	}
	if changes == nil {
		return current, nil
	}
	normalized, err := docstore.Normalize(changes)
	if err != nil {
		return docstore.Document{}, &docstore.WriteError{Collection: collection, ID: id, Err: err}
	}
	return s.merge(collection, id, normalized), nil
}

func (s *Store) Subscribe(ctx context.Context, collection, id string) (<-chan docstore.Event, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, docstore.ErrClosed
	}

	relay := docstore.NewRelay(ctx)
	k := key{collection, id}
	relay.Push(s.snapshot(k))

	s.subSeq++
	subID := s.subSeq
	if s.subs[k] == nil {
		s.subs[k] = make(map[uint64]*docstore.Relay)
	}
	s.subs[k][subID] = relay

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

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, &docstore.QueryError{Collection: q.Collection, Err: err}
	}
	filters := make([]docstore.Filter, len(q.Filters))
	for i, f := range q.Filters {
		normalized, err := docstore.Normalize(docstore.Fields{"v": f.Value})
		if err != nil {
			return nil, &docstore.QueryError{Collection: q.Collection, Err: err}
		}
		filters[i] = docstore.Filter{Field: f.Field, Value: normalized["v"]}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, &docstore.QueryError{Collection: q.Collection, Err: docstore.ErrClosed}
	}
	if err := s.takeFault(OpQuery, q.Collection); err != nil {
		return nil, &docstore.QueryError{Collection: q.Collection, Err: err}
	}

	type hit struct {
		id string
		e  *entry
	}
	hits := make([]hit, 0, 16)
	for k, e := range s.docs {
		if k.collection != q.Collection {
			continue
		}
		if !matches(e.fields, filters) {
			continue
		}
		hits = append(hits, hit{id: k.id, e: e})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i].e, hits[j].e
		var c int
		if q.OrderBy == docstore.OrderByCreateTime {
			c = a.created.Compare(b.created)
		} else {
			c = compareValues(a.fields[q.OrderBy], b.fields[q.OrderBy])
		}
		if c == 0 {
			c = compareSeq(a.seq, b.seq)
		}
		if q.Desc {
			return c > 0
		}
		return c < 0
	})

	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	out := make([]docstore.Document, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.e.document(q.Collection, h.id))
	}
	return out, nil
}

// merge must be called with s.mu held.
func (s *Store) merge(collection, id string, fields docstore.Fields) docstore.Document {
	k := key{collection, id}
	now := s.now()
	e, ok := s.docs[k]
	if !ok {
		s.seq++
		e = &entry{fields: docstore.Fields{}, created: now, seq: s.seq}
		s.docs[k] = e
	}
	for name, v := range fields {
		e.fields[name] = v
	}
	e.updated = now
	s.writes++

	doc := e.document(collection, id)
	for subID, r := range s.subs[k] {
		if !r.Push(docstore.Event{Document: e.document(collection, id), Exists: true}) {
			delete(s.subs[k], subID)
		}
	}
	return doc
}

func (s *Store) snapshot(k key) docstore.Event {
	e, ok := s.docs[k]
	if !ok {
		return docstore.Event{Document: docstore.Document{Collection: k.collection, ID: k.id, Fields: docstore.Fields{}}}
	}
	return docstore.Event{Document: e.document(k.collection, k.id), Exists: true}
}

func (s *Store) takeFault(op Op, collection string) error {
	for i, f := range s.faults {
		if f.op != op || (f.collection != "" && f.collection != collection) {
			continue
		}
		f.remaining--
		if f.remaining <= 0 {
			s.faults = append(s.faults[:i], s.faults[i+1:]...)
		}
		return f.err
	}
	return nil
}

func (e *entry) document(collection, id string) docstore.Document {
	return docstore.Document{
		Collection: collection,
		ID:         id,
		Fields:     deepCopy(e.fields),
		CreateTime: e.created,
		UpdateTime: e.updated,
	}
}

func matches(fields docstore.Fields, filters []docstore.Filter) bool {
	for _, f := range filters {
		v, ok := fields[f.Field]
		if !ok || !reflect.DeepEqual(v, f.Value) {
			return false
		}
	}
	return true
}

func compareSeq(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 1
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case string:
		bv, ok := b.(string)
		if !ok {
			return 1
		}
		at, aerr := time.Parse(time.RFC3339Nano, av)
		bt, berr := time.Parse(time.RFC3339Nano, bv)
		if aerr == nil && berr == nil {
			return at.Compare(bt)
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case nil:
		if b == nil {
			return 0
		}
		return -1
	}
	return 0
}

func deepCopy(f docstore.Fields) docstore.Fields {
	out := make(docstore.Fields, len(f))
	for k, v := range f {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = copyValue(inner)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = copyValue(inner)
		}
		return s
	}
	return v
}
