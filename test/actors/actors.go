// Package actors drives concurrent marketplace traffic against a shared store
// for the stress test.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"helpmate/docstore"
	"helpmate/feed"
	"helpmate/match"
	"helpmate/message"
	"helpmate/task"
)

// World is the shared state every actor works on.
type World struct {
	Store    docstore.Store
	Tasks    *task.Service
	Matches  *match.Service
	Messages *message.Service
	Workers  []string

	// Unexpected counts errors outside the domain's normal rejections, such as
	// connections killed by chaos.
	Unexpected atomic.Int64
	Logf       func(format string, args ...any)
}

var expected = []error{
	match.ErrDuplicateMatch,
	match.ErrInvalidTransition,
	match.ErrForbidden,
	match.ErrTaskClosed,
	match.ErrDuplicateRating,
	match.ErrNotCompleted,
	match.ErrNotFound,
	feed.ErrEndOfFeed,
	feed.ErrUnknownCandidate,
	context.Canceled,
	context.DeadlineExceeded,
}

func (w *World) note(actor string, err error) {
	if err == nil {
		return
	}
	for _, e := range expected {
		if errors.Is(err, e) {
			return
		}
	}
	w.Unexpected.Add(1)
	if w.Logf != nil {
		w.Logf("%s: %v", actor, err)
	}
}

func (w *World) worker() string {
	return w.Workers[rand.Intn(len(w.Workers))]
}

func pause(min, spread int) {
	time.Sleep(time.Duration(min+rand.Intn(spread)) * time.Millisecond)
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

// Liker browses a fresh feed as workerID and likes a random candidate.
func Liker(ctx context.Context, w *World, workerID string, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		f := feed.New(w.Tasks, w.Matches, feed.Viewer{WorkerID: workerID})
		if _, err := f.Refresh(ctx); err != nil {
			w.note("liker refresh", err)
			pause(20, 20)
			continue
		}
		cands := f.Candidates()
		if len(cands) > 0 {
			pick := cands[rand.Intn(len(cands))]
			_, err := f.Decide(ctx, pick.Item.ID, feed.Like)
			w.note("liker like", err)
		}
		pause(10, 20)
	}
	return nil
}

// Progressor pushes a random match of a random worker one step forward. The
// poster accepts; the worker starts and completes.
func Progressor(ctx context.Context, w *World, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		m, ok := w.pickActive(ctx)
		if ok {
			actor, next := m.WorkerID, match.StatusInProgress
			switch m.Status {
			case match.StatusPending:
				actor, next = m.PosterID, match.StatusAccepted
			case match.StatusInProgress:
				next = match.StatusCompleted
			}
			_, err := w.Matches.Transition(ctx, match.TransitionParams{MatchID: m.ID, ActorID: actor, Next: next})
			w.note("progressor", err)
		}
		pause(10, 30)
	}
	return nil
}

// Canceller cancels random active matches, which frees the pair for a new like.
func Canceller(ctx context.Context, w *World, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		if m, ok := w.pickActive(ctx); ok {
			actor := m.PosterID
			if rand.Intn(2) == 0 {
				actor = m.WorkerID
			}
			_, err := w.Matches.Transition(ctx, match.TransitionParams{MatchID: m.ID, ActorID: actor, Next: match.StatusCancelled})
			w.note("canceller", err)
		}
		pause(40, 60)
	}
	return nil
}

// Rater rates both sides of completed matches; repeats are rejected.
func Rater(ctx context.Context, w *World, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		workerID := w.worker()
		ms, err := w.Matches.ListForWorker(ctx, workerID, match.FilterAll)
		w.note("rater list", err)
		for _, m := range ms {
			if m.Status != match.StatusCompleted {
				continue
			}
			rater := m.PosterID
			if rand.Intn(2) == 0 {
				rater = m.WorkerID
			}
			_, err := w.Matches.SubmitRating(ctx, match.RatingParams{MatchID: m.ID, RaterID: rater, Score: 1 + rand.Intn(5)})
			w.note("rater", err)
			break
		}
		pause(30, 40)
	}
	return nil
}

// Messenger sends a message on a random active match.
func Messenger(ctx context.Context, w *World, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		if m, ok := w.pickActive(ctx); ok {
			_, err := w.Messages.Send(ctx, message.SendParams{
				SenderID:   m.WorkerID,
				ReceiverID: m.PosterID,
				TaskID:     m.TaskID,
				Body:       fmt.Sprintf("status is %s", m.Status),
			})
			w.note("messenger", err)
		}
		pause(30, 40)
	}
	return nil
}

var statusRank = map[match.Status]int{
	match.StatusPending:    0,
	match.StatusAccepted:   1,
	match.StatusInProgress: 2,
	match.StatusCompleted:  3,
	match.StatusCancelled:  3,
}

// Watcher subscribes to active matches and fails if a snapshot ever shows a
// match moving backwards or leaving a terminal status.
func Watcher(ctx context.Context, w *World, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		m, ok := w.pickActive(ctx)
		if !ok {
			pause(20, 20)
			continue
		}
		if err := w.follow(ctx, m.ID, stop); err != nil {
			return err
		}
	}
	return nil
}

func (w *World) follow(ctx context.Context, matchID string, stop <-chan struct{}) error {
	subCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	events, unsubscribe, err := w.Store.Subscribe(subCtx, docstore.CollectionMatches, matchID)
	if err != nil {
		w.note("watcher subscribe", err)
		return nil
	}
	defer unsubscribe()

	var prev match.Status
	for {
		select {
		case <-stop:
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Err != nil || !ev.Exists {
				continue
			}
			m, err := match.FromDocument(ev.Document)
			if err != nil {
				return fmt.Errorf("watcher: match %s: %w", matchID, err)
			}
			if prev != "" {
				if prev.Terminal() && m.Status != prev {
					return fmt.Errorf("watcher: match %s left terminal status %s for %s", matchID, prev, m.Status)
				}
				if statusRank[m.Status] < statusRank[prev] {
					return fmt.Errorf("watcher: match %s went back from %s to %s", matchID, prev, m.Status)
				}
			}
			prev = m.Status
			if m.Status.Terminal() {
				return nil
			}
		}
	}
}

func (w *World) pickActive(ctx context.Context) (match.Match, bool) {
	ms, err := w.Matches.ListForWorker(ctx, w.worker(), match.FilterAll)
	if err != nil {
		w.note("list", err)
		return match.Match{}, false
	}
	active := ms[:0]
	for _, m := range ms {
		if !m.Status.Terminal() {
			active = append(active, m)
		}
	}
	if len(active) == 0 {
		return match.Match{}, false
	}
	return active[rand.Intn(len(active))], true
}
