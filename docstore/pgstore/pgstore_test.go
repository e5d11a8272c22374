package pgstore_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"helpmate/docstore"
	"helpmate/docstore/pgstore"
	"helpmate/test/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newStore(t *testing.T) *pgstore.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, dsn, err := infra.StartPostgres16(ctx, "")
	if err != nil {
		t.Skipf("postgres unavailable (set %s to use an existing database): %v", infra.DSNEnv, err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, true)
	require.NoError(t, err)
	store := pgstore.New(pool)
	t.Cleanup(func() {
		store.Close()
		pool.Close()
		_ = teardown(context.Background())
	})
	return store
}

func TestSetMergesFields(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, docstore.CollectionProfiles, "u1")
	require.ErrorIs(t, err, docstore.ErrNotFound)

	require.NoError(t, store.Set(ctx, docstore.CollectionProfiles, "u1", docstore.Fields{"name": "Ana", "bio": "hi"}))
	require.NoError(t, store.Set(ctx, docstore.CollectionProfiles, "u1", docstore.Fields{"bio": "hello", "phone": nil}))

	doc, err := store.Get(ctx, docstore.CollectionProfiles, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", doc.Fields["name"])
	assert.Equal(t, "hello", doc.Fields["bio"])
	assert.Contains(t, doc.Fields, "phone")
	assert.Nil(t, doc.Fields["phone"])
	assert.False(t, doc.CreateTime.IsZero())
	assert.False(t, doc.UpdateTime.Before(doc.CreateTime))
}

func TestUpdateIsAtomic(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := store.Update(ctx, docstore.CollectionMatchPairs, "counter", func(cur docstore.Document, exists bool) (docstore.Fields, error) {
				n, _ := cur.Fields["n"].(float64)
				return docstore.Fields{"n": n + 1}, nil
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	doc, err := store.Get(ctx, docstore.CollectionMatchPairs, "counter")
	require.NoError(t, err)
	assert.Equal(t, float64(20), doc.Fields["n"])
}

func TestUpdateCreateIfAbsentHasOneWinner(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	taken := errors.New("taken")

	var wins atomic.Int32
	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			_, err := store.Update(ctx, docstore.CollectionRatings, "t1:u1", func(_ docstore.Document, exists bool) (docstore.Fields, error) {
				if exists {
					return nil, taken
				}
				return docstore.Fields{"by": fmt.Sprint(i)}, nil
			})
			if err == nil {
				wins.Add(1)
				return nil
			}
			if errors.Is(err, taken) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), wins.Load())
}

func TestUpdateWithoutChangesLeavesNoDocument(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	doc, err := store.Update(ctx, docstore.CollectionCompletedTasks, "m1", func(_ docstore.Document, exists bool) (docstore.Fields, error) {
		assert.False(t, exists)
		return nil, nil
	})
	require.NoError(t, err)
	assert.Empty(t, doc.Fields)

	_, err = store.Get(ctx, docstore.CollectionCompletedTasks, "m1")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestQueryFiltersAndOrders(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, docstore.CollectionJobs, "a", docstore.Fields{"status": "open", "pay": 30.0}))
	require.NoError(t, store.Set(ctx, docstore.CollectionJobs, "b", docstore.Fields{"status": "closed", "pay": 10.0}))
	require.NoError(t, store.Set(ctx, docstore.CollectionJobs, "c", docstore.Fields{"status": "open", "pay": 20.0}))
	require.NoError(t, store.Set(ctx, docstore.CollectionMessages, "a", docstore.Fields{"status": "open"}))

	docs, err := store.Query(ctx, docstore.Query{
		Collection: docstore.CollectionJobs,
		Filters:    []docstore.Filter{{Field: "status", Value: "open"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(docs))

	docs, err = store.Query(ctx, docstore.Query{Collection: docstore.CollectionJobs, OrderBy: "pay", Desc: true, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(docs))

	docs, err = store.Query(ctx, docstore.Query{Collection: docstore.CollectionJobs, OrderBy: docstore.OrderByCreateTime, Desc: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids(docs))
}

func TestSubscribeStreamsSnapshots(t *testing.T) {
	store := newStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	events, stop, err := store.Subscribe(ctx, docstore.CollectionProfiles, "u2")
	require.NoError(t, err)
	defer stop()

	first := next(t, events)
	require.NoError(t, first.Err)
	assert.False(t, first.Exists)

	require.NoError(t, store.Set(ctx, docstore.CollectionProfiles, "u2", docstore.Fields{"name": "Bo"}))
	for {
		ev := next(t, events)
		require.NoError(t, ev.Err)
		if ev.Exists {
			assert.Equal(t, "Bo", ev.Document.Fields["name"])
			break
		}
	}

	stop()
	stop()
	for range events {
	}
}

func next(t *testing.T, events <-chan docstore.Event) docstore.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(10 * time.Second):
		t.Fatal("no event")
		return docstore.Event{}
	}
}

func ids(docs []docstore.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}
