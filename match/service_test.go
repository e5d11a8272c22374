package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"helpmate/docstore"
	"helpmate/docstore/memstore"
	"helpmate/task"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingSink) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	store *memstore.Store
	tasks *task.Service
	svc   *Service
	sink  *recordingSink
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	var mu sync.Mutex
	n := 0
	ids := func(prefix string) func() string {
		return func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("%s-%d", prefix, n)
		}
	}

	tasks := task.NewService(task.NewRepository(store), nil).
		WithClock(clock).
		WithIDGenerator(ids("task"))
	sink := &recordingSink{}
	svc := NewService(NewRepository(store), tasks).
		WithClock(clock).
		WithIDGenerator(ids("match")).
		WithEventSink(sink).
		WithSleep(func(context.Context, time.Duration) error { return nil })
	return &fixture{store: store, tasks: tasks, svc: svc, sink: sink, now: now}
}

func (f *fixture) postTask(t *testing.T, posterID string, pay float64) task.Task {
	t.Helper()
	created, err := f.tasks.Create(context.Background(), posterID, task.Draft{
		Title:         "Mow the lawn",
		Category:      "Yard Work",
		Description:   "Front and back yard.",
		Pay:           pay,
		TimeEstimate:  "2 hours",
		PreferredDate: "2025-03-08",
		PreferredTime: "09:00",
	})
	require.NoError(t, err)
	return created
}

func TestFullLifecycleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	posted := f.postTask(t, "poster-1", 40)

	m, err := f.svc.Create(ctx, CreateParams{TaskID: posted.ID, WorkerID: "worker-1"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, m.Status)
	assert.Equal(t, "poster-1", m.PosterID)

	_, err = f.svc.Create(ctx, CreateParams{TaskID: posted.ID, WorkerID: "worker-1"})
	require.ErrorIs(t, err, ErrDuplicateMatch)

	_, err = f.svc.Transition(ctx, TransitionParams{MatchID: m.ID, ActorID: "poster-1", Next: StatusAccepted})
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, TransitionParams{MatchID: m.ID, ActorID: "poster-1", Next: StatusInProgress})
	require.ErrorIs(t, err, ErrInvalidTransition, "worker-only progress by default")

	_, err = f.svc.Transition(ctx, TransitionParams{MatchID: m.ID, ActorID: "stranger", Next: StatusCancelled})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Transition(ctx, TransitionParams{MatchID: m.ID, ActorID: "worker-1", Next: StatusInProgress})
	require.NoError(t, err)

	res, err := f.svc.Transition(ctx, TransitionParams{MatchID: m.ID, ActorID: "worker-1", Next: StatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Match.Status)
	assert.Equal(t, StatusInProgress, res.Previous)
	require.NotNil(t, res.Earnings)
	assert.Equal(t, 40.0, res.Earnings.Amount)
	assert.Equal(t, "worker-1", res.Earnings.WorkerID)
	require.Len(t, res.Prompts, 2)
	assert.Equal(t, RatingPrompt{MatchID: m.ID, TaskID: posted.ID, RaterID: "worker-1", RaterRole: RoleWorker, RatedID: "poster-1"}, res.Prompts[0])
	assert.Equal(t, RatingPrompt{MatchID: m.ID, TaskID: posted.ID, RaterID: "poster-1", RaterRole: RolePoster, RatedID: "worker-1"}, res.Prompts[1])

	closed, err := f.tasks.Get(ctx, posted.ID)
	require.NoError(t, err)
	assert.False(t, closed.Open())

	earnings, err := f.store.Query(ctx, docstore.Query{Collection: docstore.CollectionCompletedTasks})
	require.NoError(t, err)
	assert.Len(t, earnings, 1)

	_, err = f.svc.Transition(ctx, TransitionParams{MatchID: m.ID, ActorID: "worker-1", Next: StatusCancelled})
	require.ErrorIs(t, err, ErrInvalidTransition)
	stored, err := f.svc.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)

	_, err = f.svc.SubmitRating(ctx, RatingParams{MatchID: m.ID, RaterID: "worker-1", Score: 5})
	require.NoError(t, err)
	rt, err := f.svc.SubmitRating(ctx, RatingParams{MatchID: m.ID, RaterID: "poster-1", Score: 4, Comment: " Great job "})
	require.NoError(t, err)
	assert.Equal(t, "worker-1", rt.RatedID)
	assert.Equal(t, "Great job", rt.Comment)

	_, err = f.svc.SubmitRating(ctx, RatingParams{MatchID: m.ID, RaterID: "poster-1", Score: 1})
	require.ErrorIs(t, err, ErrDuplicateRating)
	_, err = f.svc.SubmitRating(ctx, RatingParams{MatchID: m.ID, RaterID: "stranger", Score: 3})
	require.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.SubmitRating(ctx, RatingParams{MatchID: m.ID, RaterID: "worker-1", Score: 6})
	require.ErrorIs(t, err, ErrInvalidScore)

	summary, err := f.svc.Earnings(ctx, "worker-1", f.now)
	require.NoError(t, err)
	assert.Equal(t, 40.0, summary.Total)
	assert.Equal(t, 40.0, summary.ThisWeek)
	assert.Equal(t, 1, summary.Tasks)
	assert.Equal(t, 4.0, summary.AverageRating)
	require.Len(t, summary.Entries, 1)
	assert.Equal(t, 4, summary.Entries[0].Score)

	later, err := f.svc.Earnings(ctx, "worker-1", f.now.Add(8*24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, later.ThisWeek)
	assert.Equal(t, 40.0, later.Total)

	assert.Equal(t, []string{
		EventMatchCreated,
		EventMatchStatusChanged,
		EventMatchStatusChanged,
		EventMatchStatusChanged,
		EventMatchCompleted,
		EventRatingSubmitted,
		EventRatingSubmitted,
	}, f.sink.types())
}

func TestLifecycleTableIsExhaustive(t *testing.T) {
	type move struct {
		from, to Status
		role     Role
	}
	allowed := map[move]bool{
		{StatusPending, StatusAccepted, RoleWorker}:     true,
		{StatusPending, StatusAccepted, RolePoster}:     true,
		{StatusPending, StatusCancelled, RoleWorker}:    true,
		{StatusPending, StatusCancelled, RolePoster}:    true,
		{StatusAccepted, StatusInProgress, RoleWorker}:  true,
		{StatusAccepted, StatusCancelled, RoleWorker}:   true,
		{StatusAccepted, StatusCancelled, RolePoster}:   true,
		{StatusInProgress, StatusCompleted, RoleWorker}: true,
		{StatusInProgress, StatusCancelled, RoleWorker}: true,
		{StatusInProgress, StatusCancelled, RolePoster}: true,
	}
	for _, from := range Statuses {
		for _, to := range Statuses {
			for _, role := range []Role{RoleWorker, RolePoster} {
				mv := move{from, to, role}
				assert.Equal(t, allowed[mv], DefaultPolicy.Allowed(from, to, role), "%s -> %s by %s", from, to, role)
			}
		}
	}

	for _, terminal := range []Status{StatusCompleted, StatusCancelled} {
		assert.True(t, terminal.Terminal())
		for _, to := range Statuses {
			assert.False(t, Policy{PosterMayProgress: true}.Allowed(terminal, to, RoleWorker))
		}
	}
}

func TestPolicyLetsPosterProgress(t *testing.T) {
	p := Policy{PosterMayProgress: true}
	assert.True(t, p.Allowed(StatusAccepted, StatusInProgress, RolePoster))
	assert.True(t, p.Allowed(StatusInProgress, StatusCompleted, RolePoster))
	assert.False(t, p.Allowed(StatusPending, StatusCompleted, RolePoster))
}

func TestInvalidTransitionLeavesStatusUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	posted := f.postTask(t, "poster-1", 20)
	m, err := f.svc.Create(ctx, CreateParams{TaskID: posted.ID, WorkerID: "worker-1"})
	require.NoError(t, err)

	for _, next := range []Status{StatusPending, StatusInProgress, StatusCompleted, Status("bogus")} {
		_, err := f.svc.Transition(ctx, TransitionParams{MatchID: m.ID, ActorID: "worker-1", Next: next})
		assert.ErrorIs(t, err, ErrInvalidTransition, "pending -> %s", next)
	}
	stored, err := f.svc.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)

	_, err = f.svc.Transition(ctx, TransitionParams{MatchID: "missing", ActorID: "worker-1", Next: StatusAccepted})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRejectsOwnAndClosedTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	posted := f.postTask(t, "poster-1", 20)

	_, err := f.svc.Create(ctx, CreateParams{TaskID: posted.ID, WorkerID: "poster-1"})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.tasks.Close(ctx, posted.ID)
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, CreateParams{TaskID: posted.ID, WorkerID: "worker-1"})
	require.ErrorIs(t, err, ErrTaskClosed)

	_, err = f.svc.Create(ctx, CreateParams{TaskID: "missing", WorkerID: "worker-1"})
	require.ErrorIs(t, err, task.ErrNotFound)
}

func TestCancelledMatchFreesPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	posted := f.postTask(t, "poster-1", 20)

	first, err := f.svc.Create(ctx, CreateParams{TaskID: posted.ID, WorkerID: "worker-1"})
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, TransitionParams{MatchID: first.ID, ActorID: "poster-1", Next: StatusCancelled})
	require.NoError(t, err)

	second, err := f.svc.Create(ctx, CreateParams{TaskID: posted.ID, WorkerID: "worker-1"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestStalePairLockIsReclaimed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	posted := f.postTask(t, "poster-1", 20)

	first, err := f.svc.Create(ctx, CreateParams{TaskID: posted.ID, WorkerID: "worker-1"})
	require.NoError(t, err)
	// Terminal status written without releasing the pair lock.
	require.NoError(t, f.store.Set(ctx, docstore.CollectionMatches, first.ID, docstore.Fields{"status": string(StatusCancelled)}))

	_, err = f.svc.Create(ctx, CreateParams{TaskID: posted.ID, WorkerID: "worker-1"})
	require.NoError(t, err)
}

func TestFailedMatchWriteReleasesPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	posted := f.postTask(t, "poster-1", 20)

	f.store.FailNext(memstore.OpSet, docstore.CollectionMatches, 1, errors.New("unavailable"))
	_, err := f.svc.Create(ctx, CreateParams{TaskID: posted.ID, WorkerID: "worker-1"})
	require.ErrorIs(t, err, docstore.ErrWrite)

	_, err = f.svc.Create(ctx, CreateParams{TaskID: posted.ID, WorkerID: "worker-1"})
	require.NoError(t, err)
}

func TestConcurrentLikesCreateOneMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	posted := f.postTask(t, "poster-1", 20)

	const likers = 25
	var (
		mu         sync.Mutex
		created    int
		duplicates int
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < likers; i++ {
		g.Go(func() error {
			_, err := f.svc.Create(gctx, CreateParams{TaskID: posted.ID, WorkerID: "worker-1"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrDuplicateMatch):
				duplicates++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, created)
	assert.Equal(t, likers-1, duplicates)

	matches, err := f.svc.ListForWorker(ctx, "worker-1", FilterAll)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestListFiltersByRoleAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.postTask(t, "poster-1", 10)
	b := f.postTask(t, "poster-1", 15)
	c := f.postTask(t, "poster-2", 30)

	ma, err := f.svc.Create(ctx, CreateParams{TaskID: a.ID, WorkerID: "worker-1"})
	require.NoError(t, err)
	mb, err := f.svc.Create(ctx, CreateParams{TaskID: b.ID, WorkerID: "worker-1"})
	require.NoError(t, err)
	mc, err := f.svc.Create(ctx, CreateParams{TaskID: c.ID, WorkerID: "worker-1"})
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, TransitionParams{MatchID: mb.ID, ActorID: "poster-1", Next: StatusAccepted})
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, TransitionParams{MatchID: mc.ID, ActorID: "worker-1", Next: StatusCancelled})
	require.NoError(t, err)

	all, err := f.svc.ListForWorker(ctx, "worker-1", FilterAll)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{mc.ID, mb.ID, ma.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	pending, err := f.svc.ListForWorker(ctx, "worker-1", FilterPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ma.ID, pending[0].ID)

	active, err := f.svc.ListForPoster(ctx, "poster-1", FilterActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, mb.ID, active[0].ID)

	ids, err := f.svc.ActiveTaskIDs(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{a.ID: true, b.ID: true}, ids)
}

func TestRatingRequiresCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	posted := f.postTask(t, "poster-1", 10)
	m, err := f.svc.Create(ctx, CreateParams{TaskID: posted.ID, WorkerID: "worker-1"})
	require.NoError(t, err)

	_, err = f.svc.SubmitRating(ctx, RatingParams{MatchID: m.ID, RaterID: "poster-1", Score: 3})
	require.ErrorIs(t, err, ErrNotCompleted)

	before := f.store.Writes()
	f.svc.SkipRating(ctx, RatingPrompt{MatchID: m.ID, RaterID: "poster-1"})
	assert.Equal(t, before, f.store.Writes())
}

func TestSinkFailureDoesNotFailTransition(t *testing.T) {
	f := newFixture(t)
	f.sink.err = errors.New("broker down")
	ctx := context.Background()
	posted := f.postTask(t, "poster-1", 10)

	m, err := f.svc.Create(ctx, CreateParams{TaskID: posted.ID, WorkerID: "worker-1"})
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, TransitionParams{MatchID: m.ID, ActorID: "worker-1", Next: StatusAccepted})
	require.NoError(t, err)
}

func (f *fixture) inProgress(t *testing.T, pay float64) (task.Task, Match) {
	t.Helper()
	ctx := context.Background()
	posted := f.postTask(t, "poster-1", pay)
	m, err := f.svc.Create(ctx, CreateParams{TaskID: posted.ID, WorkerID: "worker-1"})
	require.NoError(t, err)
	for _, next := range []Status{StatusAccepted, StatusInProgress} {
		_, err = f.svc.Transition(ctx, TransitionParams{MatchID: m.ID, ActorID: "worker-1", Next: next})
		require.NoError(t, err)
	}
	return posted, m
}

func (f *fixture) earningsCount(t *testing.T) int {
	t.Helper()
	docs, err := f.store.Query(context.Background(), docstore.Query{Collection: docstore.CollectionCompletedTasks})
	require.NoError(t, err)
	return len(docs)
}

func TestCompletionRetriesTransientEarningsWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, m := f.inProgress(t, 25)

	f.store.FailNext(memstore.OpUpdate, docstore.CollectionCompletedTasks, DefaultCompletionAttempts-1, errors.New("transient"))
	res, err := f.svc.Transition(ctx, TransitionParams{MatchID: m.ID, ActorID: "worker-1", Next: StatusCompleted})
	require.NoError(t, err)
	require.NotNil(t, res.Earnings)
	assert.Equal(t, 25.0, res.Earnings.Amount)
	assert.Equal(t, 1, f.earningsCount(t))
}

func TestFinishCompletionRecoversLostEarnings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	posted, m := f.inProgress(t, 40)

	f.store.FailNext(memstore.OpUpdate, docstore.CollectionCompletedTasks, DefaultCompletionAttempts, errors.New("transient"))
	_, err := f.svc.Transition(ctx, TransitionParams{MatchID: m.ID, ActorID: "worker-1", Next: StatusCompleted})
	require.ErrorIs(t, err, docstore.ErrWrite)

	stored, err := f.svc.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Equal(t, 0, f.earningsCount(t))

	_, err = f.svc.Transition(ctx, TransitionParams{MatchID: m.ID, ActorID: "worker-1", Next: StatusCompleted})
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.FinishCompletion(ctx, m.ID, "stranger")
	require.ErrorIs(t, err, ErrForbidden)

	rec, err := f.svc.FinishCompletion(ctx, m.ID, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 40.0, rec.Amount)
	assert.Equal(t, "worker-1", rec.WorkerID)
	assert.Equal(t, 1, f.earningsCount(t))

	closed, err := f.tasks.Get(ctx, posted.ID)
	require.NoError(t, err)
	assert.False(t, closed.Open())

	again, err := f.svc.FinishCompletion(ctx, m.ID, "poster-1")
	require.NoError(t, err)
	assert.Equal(t, rec, again)
	assert.Equal(t, 1, f.earningsCount(t))
}

func TestFinishCompletionRequiresCompletedMatch(t *testing.T) {
	f := newFixture(t)
	_, m := f.inProgress(t, 10)
	_, err := f.svc.FinishCompletion(context.Background(), m.ID, "worker-1")
	require.ErrorIs(t, err, ErrNotCompleted)
	assert.Equal(t, 0, f.earningsCount(t))
}

func TestScoreLabels(t *testing.T) {
	assert.Equal(t, "Poor", ScoreLabel(1))
	assert.Equal(t, "Very Good", ScoreLabel(4))
	assert.Equal(t, "Excellent", ScoreLabel(5))
	assert.Empty(t, ScoreLabel(0))
}

func TestParseStatusFilter(t *testing.T) {
	for in, want := range map[string]StatusFilter{"": FilterAll, "ALL": FilterAll, " pending ": FilterPending, "active": FilterActive} {
		got, err := ParseStatusFilter(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseStatusFilter("done")
	assert.Error(t, err)
}
