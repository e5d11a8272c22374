package message

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"helpmate/docstore"
	"helpmate/docstore/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() (*Service, *memstore.Store) {
	store := memstore.New()
	n := 0
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := NewService(store).
		WithClock(func() time.Time { return now }).
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("msg-%d", n)
		})
	return svc, store
}

func TestSendAndListOldestFirst(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	for _, body := range []string{"Hi, still available?", "Yes!", "  See you at 10  "} {
		_, err := svc.Send(ctx, SendParams{SenderID: "worker-1", ReceiverID: "poster-1", TaskID: "task-1", Body: body})
		require.NoError(t, err)
	}
	_, err := svc.Send(ctx, SendParams{SenderID: "worker-2", ReceiverID: "poster-1", TaskID: "task-2", Body: "other task"})
	require.NoError(t, err)

	msgs, err := svc.ListForTask(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "msg-1", msgs[0].ID)
	assert.Equal(t, "See you at 10", msgs[2].Body)
	assert.Nil(t, msgs[0].ReadAt)
}

func TestSendRejectsInvalidMessages(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	_, err := svc.Send(ctx, SendParams{SenderID: "a", ReceiverID: "b", TaskID: "t", Body: "   "})
	assert.ErrorIs(t, err, ErrEmptyBody)
	_, err = svc.Send(ctx, SendParams{SenderID: "a", ReceiverID: "a", TaskID: "t", Body: "hi"})
	assert.ErrorIs(t, err, ErrSelfAddressed)
	_, err = svc.Send(ctx, SendParams{SenderID: "a", ReceiverID: "b", Body: "hi"})
	assert.ErrorIs(t, err, ErrMissingParty)
	_, err = svc.Send(ctx, SendParams{SenderID: "a", ReceiverID: "b", TaskID: "t", Body: strings.Repeat("x", MaxBodyLength+1)})
	assert.ErrorIs(t, err, docstore.ErrInvalidDocument)

	assert.Zero(t, store.Writes())
}

func TestMarkRead(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	m, err := svc.Send(ctx, SendParams{SenderID: "a", ReceiverID: "b", TaskID: "t", Body: "hi"})
	require.NoError(t, err)

	_, err = svc.MarkRead(ctx, m.ID, "a")
	require.Error(t, err)

	read, err := svc.MarkRead(ctx, m.ID, "b")
	require.NoError(t, err)
	require.NotNil(t, read.ReadAt)

	_, err = svc.MarkRead(ctx, "missing", "b")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}
