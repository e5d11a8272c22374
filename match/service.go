// Package match runs the task lifecycle between a poster and a worker: likes
// become pending matches that move through acceptance, work and completion,
// after which both sides may rate each other.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"helpmate/docstore"
	"helpmate/task"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("match: not found")
	ErrDuplicateMatch    = errors.New("match: active match already exists for task and worker")
	ErrDuplicateRating   = errors.New("match: task already rated by this user")
	ErrInvalidTransition = errors.New("match: invalid transition")
	ErrForbidden         = errors.New("match: forbidden")
	ErrTaskClosed        = errors.New("match: task is closed")
	ErrNotCompleted      = errors.New("match: not completed")
	ErrInvalidScore      = errors.New("match: score must be between 1 and 5")
)

// Week is the window used for ThisWeek earnings.
const Week = 7 * 24 * time.Hour

// Completion write retry defaults.
const (
	DefaultCompletionAttempts  = 3
	DefaultCompletionBaseDelay = 200 * time.Millisecond
)

// Tasks is the subset of the task service the lifecycle needs.
type Tasks interface {
	Get(ctx context.Context, id string) (task.Task, error)
	Close(ctx context.Context, id string) (task.Task, error)
}

type Service struct {
	repo   Repository
	tasks  Tasks
	sink   EventSink
	policy Policy
	now    func() time.Time
	idGen  func() string
	logger *slog.Logger

	attempts  int
	baseDelay time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewService(repo Repository, tasks Tasks) *Service {
	return &Service{
		repo:   repo,
		tasks:  tasks,
		policy: DefaultPolicy,
		now:    time.Now,
		idGen:  uuid.NewString,
		logger: slog.Default(),

		attempts:  DefaultCompletionAttempts,
		baseDelay: DefaultCompletionBaseDelay,
		sleep:     sleepContext,
	}
}

func (s *Service) WithPolicy(p Policy) *Service {
	s.policy = p
	return s
}

func (s *Service) WithEventSink(sink EventSink) *Service {
	s.sink = sink
	return s
}

// WithClock allows tests to override the clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// WithIDGenerator allows tests to override id generation.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	if gen != nil {
		s.idGen = gen
	}
	return s
}

// WithCompletionRetry bounds the retries of the writes that follow a
// completion. Attempt n waits base*n before running.
func (s *Service) WithCompletionRetry(attempts int, base time.Duration) *Service {
	if attempts > 0 {
		s.attempts = attempts
	}
	if base >= 0 {
		s.baseDelay = base
	}
	return s
}

// WithSleep allows tests to skip retry delays.
func (s *Service) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Service {
	if sleep != nil {
		s.sleep = sleep
	}
	return s
}

func (s *Service) WithLogger(logger *slog.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Create records a worker's like as a pending match.
func (s *Service) Create(ctx context.Context, params CreateParams) (Match, error) {
	taskID := strings.TrimSpace(params.TaskID)
	workerID := strings.TrimSpace(params.WorkerID)
	if taskID == "" || workerID == "" {
		return Match{}, fmt.Errorf("match: task id and worker id required")
	}

	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return Match{}, fmt.Errorf("match: load task %s: %w", taskID, err)
	}
	if t.PosterID == workerID {
		return Match{}, fmt.Errorf("%w: cannot like own task", ErrForbidden)
	}
	if !t.Open() {
		return Match{}, ErrTaskClosed
	}

	now := s.now().UTC()
	m := Match{
		ID:        s.idGen(),
		TaskID:    taskID,
		WorkerID:  workerID,
		PosterID:  t.PosterID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		UpdatedBy: workerID,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return Match{}, err
	}

	s.logger.Info("match created", "match_id", m.ID, "task_id", taskID, "worker_id", workerID)
	s.publish(ctx, Event{
		Type:       EventMatchCreated,
		MatchID:    m.ID,
		TaskID:     taskID,
		ActorID:    workerID,
		Next:       StatusPending,
		OccurredAt: now,
	})
	return m, nil
}

// Transition moves a match to the next status. Completing a match records the
// worker's earnings, closes the task and returns the rating prompts.
func (s *Service) Transition(ctx context.Context, params TransitionParams) (TransitionResult, error) {
	now := s.now().UTC()
	var previous Status
	updated, err := s.repo.Apply(ctx, params.MatchID, func(cur Match) (Match, error) {
		role, ok := cur.RoleOf(params.ActorID)
		if !ok {
			return Match{}, ErrForbidden
		}
		if !s.policy.Allowed(cur.Status, params.Next, role) {
			return Match{}, fmt.Errorf("%w: %s -> %s by %s", ErrInvalidTransition, cur.Status, params.Next, role)
		}
		previous = cur.Status
		cur.Status = params.Next
		cur.UpdatedAt = now
		cur.UpdatedBy = params.ActorID
		return cur, nil
	})
	if err != nil {
		return TransitionResult{}, err
	}

	logger := s.logger.With("match_id", updated.ID, "task_id", updated.TaskID)
	logger.Info("match status changed", "previous", previous, "next", updated.Status, "actor_id", params.ActorID)
	s.publish(ctx, Event{
		Type:       EventMatchStatusChanged,
		MatchID:    updated.ID,
		TaskID:     updated.TaskID,
		ActorID:    params.ActorID,
		Previous:   previous,
		Next:       updated.Status,
		OccurredAt: now,
	})

	result := TransitionResult{Match: updated, Previous: previous}
	if updated.Status.Terminal() {
		if err := s.repo.ReleasePair(ctx, updated); err != nil {
			logger.Warn("pair lock not released", "error", err)
		}
	}
	if updated.Status != StatusCompleted {
		return result, nil
	}

	rec, err := s.complete(ctx, updated, now)
	if err != nil {
		return result, err
	}
	result.Earnings = &rec
	result.Prompts = []RatingPrompt{
		{MatchID: updated.ID, TaskID: updated.TaskID, RaterID: updated.WorkerID, RaterRole: RoleWorker, RatedID: updated.PosterID},
		{MatchID: updated.ID, TaskID: updated.TaskID, RaterID: updated.PosterID, RaterRole: RolePoster, RatedID: updated.WorkerID},
	}
	s.publish(ctx, Event{
		Type:       EventMatchCompleted,
		MatchID:    updated.ID,
		TaskID:     updated.TaskID,
		ActorID:    params.ActorID,
		Previous:   previous,
		Next:       StatusCompleted,
		OccurredAt: now,
		Payload:    map[string]any{"worker_id": rec.WorkerID, "amount": rec.Amount},
	})
	return result, nil
}

// FinishCompletion re-runs the bookkeeping of a completed match: the earnings
// record and the task close. Both writes are idempotent, so calling it after
// a successful completion returns the existing record.
func (s *Service) FinishCompletion(ctx context.Context, matchID, actorID string) (EarningsRecord, error) {
	m, err := s.repo.Get(ctx, matchID)
	if err != nil {
		return EarningsRecord{}, err
	}
	if _, ok := m.RoleOf(actorID); !ok {
		return EarningsRecord{}, ErrForbidden
	}
	if m.Status != StatusCompleted {
		return EarningsRecord{}, fmt.Errorf("%w: match %s is %s", ErrNotCompleted, m.ID, m.Status)
	}
	rec, err := s.complete(ctx, m, m.UpdatedAt)
	if err != nil {
		return rec, err
	}
	s.logger.Info("completion finished", "match_id", m.ID, "task_id", m.TaskID, "actor_id", actorID)
	return rec, nil
}

func (s *Service) complete(ctx context.Context, m Match, at time.Time) (EarningsRecord, error) {
	t, err := s.tasks.Get(ctx, m.TaskID)
	if err != nil {
		return EarningsRecord{}, fmt.Errorf("match: complete: load task: %w", err)
	}
	var rec EarningsRecord
	err = s.retry(ctx, m.ID, "record earnings", func() error {
		var err error
		rec, err = s.repo.RecordEarnings(ctx, EarningsRecord{
			MatchID:     m.ID,
			TaskID:      m.TaskID,
			WorkerID:    m.WorkerID,
			TaskTitle:   t.Title,
			Amount:      t.Pay,
			CompletedAt: at,
		})
		return err
	})
	if err != nil {
		return EarningsRecord{}, fmt.Errorf("match: complete: %w", err)
	}
	err = s.retry(ctx, m.ID, "close task", func() error {
		_, err := s.tasks.Close(ctx, m.TaskID)
		return err
	})
	if err != nil {
		return rec, fmt.Errorf("match: complete: close task: %w", err)
	}
	return rec, nil
}

// retry runs fn until it succeeds, fails with a non-write error, or runs out
// of attempts.
func (s *Service) retry(ctx context.Context, matchID, step string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if attempt > 1 {
			if serr := s.sleep(ctx, s.baseDelay*time.Duration(attempt-1)); serr != nil {
				return errors.Join(err, serr)
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if !errors.Is(err, docstore.ErrWrite) || errors.Is(err, docstore.ErrClosed) || ctx.Err() != nil {
			return err
		}
		s.logger.Warn("completion write failed", "match_id", matchID, "step", step, "attempt", attempt, "error", err)
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SubmitRating stores a participant's score for the other side of a completed
// match.
func (s *Service) SubmitRating(ctx context.Context, params RatingParams) (Rating, error) {
	if params.Score < 1 || params.Score > 5 {
		return Rating{}, ErrInvalidScore
	}
	m, err := s.repo.Get(ctx, params.MatchID)
	if err != nil {
		return Rating{}, err
	}
	if _, ok := m.RoleOf(params.RaterID); !ok {
		return Rating{}, ErrForbidden
	}
	if m.Status != StatusCompleted {
		return Rating{}, ErrNotCompleted
	}

	rt := Rating{
		TaskID:    m.TaskID,
		MatchID:   m.ID,
		RaterID:   params.RaterID,
		RatedID:   m.Counterpart(params.RaterID),
		Score:     params.Score,
		Comment:   strings.TrimSpace(params.Comment),
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateRating(ctx, rt); err != nil {
		return Rating{}, err
	}

	s.logger.Info("rating submitted", "match_id", m.ID, "task_id", m.TaskID, "score", rt.Score)
	s.publish(ctx, Event{
		Type:       EventRatingSubmitted,
		MatchID:    m.ID,
		TaskID:     m.TaskID,
		ActorID:    params.RaterID,
		OccurredAt: rt.CreatedAt,
		Payload:    map[string]any{"rated_id": rt.RatedID, "score": rt.Score},
	})
	return rt, nil
}

// SkipRating dismisses a rating prompt. Nothing is written.
func (s *Service) SkipRating(_ context.Context, prompt RatingPrompt) {
	s.logger.Debug("rating skipped", "match_id", prompt.MatchID, "rater_id", prompt.RaterID)
}

func (s *Service) Get(ctx context.Context, id string) (Match, error) {
	return s.repo.Get(ctx, id)
}

// ListForWorker returns the worker's matches, newest first.
func (s *Service) ListForWorker(ctx context.Context, workerID string, filter StatusFilter) ([]Match, error) {
	return s.list(ctx, "workerId", workerID, filter)
}

// ListForPoster returns matches on the poster's tasks, newest first.
func (s *Service) ListForPoster(ctx context.Context, posterID string, filter StatusFilter) ([]Match, error) {
	return s.list(ctx, "posterId", posterID, filter)
}

func (s *Service) list(ctx context.Context, field, userID string, filter StatusFilter) ([]Match, error) {
	all, err := s.repo.ListBy(ctx, field, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Match, 0, len(all))
	for _, m := range all {
		if filter.includes(m.Status) {
			out = append(out, m)
		}
	}
	return out, nil
}

// ActiveTaskIDs returns the tasks the worker holds a non-terminal match on.
func (s *Service) ActiveTaskIDs(ctx context.Context, workerID string) (map[string]bool, error) {
	all, err := s.repo.ListBy(ctx, "workerId", workerID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(all))
	for _, m := range all {
		if !m.Status.Terminal() {
			out[m.TaskID] = true
		}
	}
	return out, nil
}

// Earnings summarizes a worker's completed tasks as of now. ThisWeek covers
// the trailing seven days.
func (s *Service) Earnings(ctx context.Context, workerID string, now time.Time) (EarningsSummary, error) {
	records, err := s.repo.ListEarnings(ctx, workerID)
	if err != nil {
		return EarningsSummary{}, err
	}
	ratings, err := s.repo.ListRatingsFor(ctx, workerID)
	if err != nil {
		return EarningsSummary{}, err
	}

	scoreByTask := make(map[string]int, len(ratings))
	var scoreSum int
	for _, rt := range ratings {
		scoreByTask[rt.TaskID] = rt.Score
		scoreSum += rt.Score
	}

	summary := EarningsSummary{Tasks: len(records), Entries: make([]EarningsEntry, 0, len(records))}
	weekStart := now.Add(-Week)
	for _, rec := range records {
		summary.Total += rec.Amount
		if !rec.CompletedAt.Before(weekStart) {
			summary.ThisWeek += rec.Amount
		}
		summary.Entries = append(summary.Entries, EarningsEntry{EarningsRecord: rec, Score: scoreByTask[rec.TaskID]})
	}
	if len(ratings) > 0 {
		summary.AverageRating = float64(scoreSum) / float64(len(ratings))
	}
	return summary, nil
}

func (s *Service) publish(ctx context.Context, ev Event) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Publish(ctx, ev); err != nil {
		s.logger.Warn("lifecycle event not published", "type", ev.Type, "match_id", ev.MatchID, "error", err)
	}
}
