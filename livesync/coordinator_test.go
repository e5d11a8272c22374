package livesync

import (
	"context"
	"errors"
	"testing"
	"time"

	"helpmate/docstore"
	"helpmate/docstore/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeBlankKeepsLocalEdits(t *testing.T) {
	local := docstore.Fields{"name": "Alice"}
	changed := MergeBlank(local, docstore.Fields{"name": "Bob"})
	assert.Empty(t, changed)
	assert.Equal(t, "Alice", local["name"])

	local = docstore.Fields{"name": ""}
	changed = MergeBlank(local, docstore.Fields{"name": "Bob"})
	assert.Equal(t, []string{"name"}, changed)
	assert.Equal(t, "Bob", local["name"])
}

func TestMergeBlankFillsMissingAndIgnoresBlankRemote(t *testing.T) {
	local := docstore.Fields{"phone": "555-1234", "bio": "  "}
	MergeBlank(local, docstore.Fields{
		"phone":    "",
		"bio":      "Retired teacher",
		"location": map[string]any{"lat": 34.05, "lng": -118.25},
		"address":  "",
	})

	assert.Equal(t, "555-1234", local["phone"])
	assert.Equal(t, "Retired teacher", local["bio"])
	assert.Equal(t, map[string]any{"lat": 34.05, "lng": -118.25}, local["location"])
	_, hasAddress := local["address"]
	assert.False(t, hasAddress)
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c := New(store, docstore.CollectionProfiles, "u1")

	_, err := c.Load(ctx)
	require.ErrorIs(t, err, docstore.ErrNotFound)

	require.NoError(t, store.Set(ctx, docstore.CollectionProfiles, "u1", docstore.Fields{"name": "Bob", "phone": "555"}))
	c.Set("name", "Alice")

	fields, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Alice", fields["name"])
	assert.Equal(t, "555", fields["phone"])
}

func TestLoadFailureDoesNotBlockSubscribe(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.Set(ctx, docstore.CollectionProfiles, "u1", docstore.Fields{"name": "Bob"}))
	store.FailNext(memstore.OpGet, docstore.CollectionProfiles, 1, errors.New("offline"))

	c := New(store, docstore.CollectionProfiles, "u1")
	_, err := c.Load(ctx)
	require.ErrorIs(t, err, ErrLoadFailed)
	assert.ErrorIs(t, nextError(t, c), ErrLoadFailed)

	updates := make(chan docstore.Fields, 4)
	cancel, err := c.Subscribe(ctx, func(f docstore.Fields) { updates <- f })
	require.NoError(t, err)
	defer cancel()

	select {
	case f := <-updates:
		assert.Equal(t, "Bob", f["name"])
	case <-time.After(time.Second):
		t.Fatal("expected initial snapshot after failed load")
	}
}

func TestSubscribeAppliesBlankMergePolicy(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c := New(store, docstore.CollectionProfiles, "u1")
	c.Set("name", "Alice")
	c.Set("phone", "")

	cancel, err := c.Subscribe(ctx, nil)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, store.Set(ctx, docstore.CollectionProfiles, "u1", docstore.Fields{"name": "Bob", "phone": "555-1234"}))

	require.Eventually(t, func() bool {
		return c.Fields()["phone"] == "555-1234"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Alice", c.Fields()["name"])
}

func TestSnapshotErrorKeepsSubscription(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c := New(store, docstore.CollectionProfiles, "u1")

	cancel, err := c.Subscribe(ctx, nil)
	require.NoError(t, err)
	defer cancel()

	require.Eventually(t, func() bool {
		return store.Subscribers(docstore.CollectionProfiles, "u1") == 1
	}, time.Second, 5*time.Millisecond)
	store.PushError(docstore.CollectionProfiles, "u1", errors.New("stream reset"))
	assert.ErrorIs(t, nextError(t, c), ErrSync)

	require.NoError(t, store.Set(ctx, docstore.CollectionProfiles, "u1", docstore.Fields{"bio": "still here"}))
	require.Eventually(t, func() bool {
		return c.Fields()["bio"] == "still here"
	}, time.Second, 5*time.Millisecond)
}

func TestCancelIsIdempotentAndStopsUpdates(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c := New(store, docstore.CollectionProfiles, "u1")

	cancel, err := c.Subscribe(ctx, nil)
	require.NoError(t, err)
	cancel()
	cancel()

	assert.Equal(t, 0, store.Subscribers(docstore.CollectionProfiles, "u1"))
	require.NoError(t, store.Set(ctx, docstore.CollectionProfiles, "u1", docstore.Fields{"name": "late"}))
	assert.Never(t, func() bool {
		return c.Fields()["name"] == "late"
	}, 50*time.Millisecond, 5*time.Millisecond)

	_, err = c.Subscribe(ctx, nil)
	assert.ErrorIs(t, err, ErrSubscribed)
}

func TestClearedFieldIsNotRefilledByStaleSnapshots(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.Set(ctx, docstore.CollectionProfiles, "u1", docstore.Fields{"location": map[string]any{"lat": 1.0, "lng": 2.0}}))
	c := New(store, docstore.CollectionProfiles, "u1")
	_, err := c.Load(ctx)
	require.NoError(t, err)

	c.Clear("location")
	require.NoError(t, store.Set(ctx, docstore.CollectionProfiles, "u1", docstore.Fields{"address": "new"}))

	cancel, err := c.Subscribe(ctx, nil)
	require.NoError(t, err)
	defer cancel()

	require.Eventually(t, func() bool {
		return c.Fields()["address"] == "new"
	}, time.Second, 5*time.Millisecond)
	assert.Nil(t, c.Fields()["location"])

	require.NoError(t, store.Set(ctx, docstore.CollectionProfiles, "u1", docstore.Fields{"location": nil}))
	require.NoError(t, store.Set(ctx, docstore.CollectionProfiles, "u1", docstore.Fields{"location": map[string]any{"lat": 3.0, "lng": 4.0}}))
	require.Eventually(t, func() bool {
		return c.Fields()["location"] != nil
	}, time.Second, 5*time.Millisecond)
}

func nextError(t *testing.T, c *Coordinator) error {
	t.Helper()
	select {
	case err := <-c.Errors():
		return err
	case <-time.After(time.Second):
		t.Fatal("expected error notification")
	}
	return nil
}
