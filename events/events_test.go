package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"helpmate/match"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

var _ match.EventSink = (*NATSPublisher)(nil)

func TestPublishEncodesEventOnSubject(t *testing.T) {
	conn := &fakeConn{}
	p := NewNATSPublisher(conn, "helpmate", nil)
	ev := match.Event{
		Type:       match.EventMatchStatusChanged,
		MatchID:    "m-1",
		TaskID:     "t-1",
		Previous:   match.StatusPending,
		Next:       match.StatusAccepted,
		OccurredAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.Publish(context.Background(), ev))

	require.Equal(t, []string{"helpmate.match.status_changed"}, conn.subjects)
	var got match.Event
	require.NoError(t, json.Unmarshal(conn.payloads[0], &got))
	assert.Equal(t, ev, got)
}

func TestPublishErrors(t *testing.T) {
	boom := errors.New("connection closed")
	p := NewNATSPublisher(&fakeConn{err: boom}, "", nil)
	err := p.Publish(context.Background(), match.Event{Type: match.EventMatchCreated})
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, match.Event{}), context.Canceled)

	assert.ErrorIs(t, NewNATSPublisher(nil, "x", nil).Publish(context.Background(), match.Event{}), ErrNotConnected)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "match.created", Subject("", match.EventMatchCreated))
	assert.Equal(t, "hm.>", Subject("hm", ">"))
}
