// Package feed builds the worker's swipe sequence of nearby open tasks and
// turns likes into pending matches.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"helpmate/geo"
	"helpmate/match"
	"helpmate/profile"
	"helpmate/task"
)

var (
	ErrEndOfFeed        = errors.New("feed: no more candidates")
	ErrUnknownCandidate = errors.New("feed: task is not in the feed")
)

type Decision int

const (
	Pass Decision = iota
	Like
)

func (d Decision) String() string {
	if d == Like {
		return "like"
	}
	return "pass"
}

// TaskSource lists open tasks, newest first.
type TaskSource interface {
	ListOpen(ctx context.Context, limit int) ([]task.Task, error)
}

// Lifecycle is the part of the match service the feed drives.
type Lifecycle interface {
	Create(ctx context.Context, params match.CreateParams) (match.Match, error)
	ActiveTaskIDs(ctx context.Context, workerID string) (map[string]bool, error)
}

// Viewer is the worker browsing the feed. A nil Location disables distance
// filtering.
type Viewer struct {
	WorkerID    string
	Location    *geo.Point
	RadiusMiles float64
}

// ViewerFromProfile uses the profile's saved location and search radius.
func ViewerFromProfile(p profile.Profile) Viewer {
	return Viewer{WorkerID: p.UserID, Location: p.Location, RadiusMiles: p.SearchRadius()}
}

// Candidate is one task in the feed with its display distance.
type Candidate = geo.Ranked[task.Task]

type Option func(*Feed)

// WithPageSize bounds how many open tasks a refresh reads.
func WithPageSize(n int) Option {
	return func(f *Feed) {
		if n > 0 {
			f.pageSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(f *Feed) {
		if logger != nil {
			f.logger = logger
		}
	}
}

type Feed struct {
	tasks     TaskSource
	lifecycle Lifecycle
	viewer    Viewer
	pageSize  int
	logger    *slog.Logger

	mu         sync.Mutex
	candidates []Candidate
	cursor     int
	liked      map[string]bool
}

func New(tasks TaskSource, lifecycle Lifecycle, viewer Viewer, opts ...Option) *Feed {
	f := &Feed{
		tasks:     tasks,
		lifecycle: lifecycle,
		viewer:    viewer,
		pageSize:  task.DefaultPageSize,
		logger:    slog.Default(),
		liked:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Refresh reloads open tasks, drops the viewer's own tasks and tasks they
// already hold an active match on, ranks the rest and rewinds the cursor.
func (f *Feed) Refresh(ctx context.Context) (int, error) {
	open, err := f.tasks.ListOpen(ctx, f.pageSize)
	if err != nil {
		return 0, fmt.Errorf("feed: list open tasks: %w", err)
	}
	active, err := f.lifecycle.ActiveTaskIDs(ctx, f.viewer.WorkerID)
	if err != nil {
		return 0, fmt.Errorf("feed: active matches: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	eligible := make([]task.Task, 0, len(open))
	for _, t := range open {
		if t.PosterID == f.viewer.WorkerID || active[t.ID] || f.liked[t.ID] {
			continue
		}
		eligible = append(eligible, t)
	}

	radius := f.viewer.RadiusMiles
	if radius <= 0 {
		radius = profile.DefaultRadiusMiles
	}
	f.candidates = geo.Rank(f.viewer.Location, radius, eligible,
		func(t task.Task) *geo.Point { return t.PosterLocation },
		func(t task.Task) time.Time { return t.CreatedAt },
	)
	f.cursor = 0
	f.logger.Debug("feed refreshed", "worker_id", f.viewer.WorkerID, "open", len(open), "candidates", len(f.candidates))
	return len(f.candidates), nil
}

// Next returns the candidate under the cursor without advancing.
func (f *Feed) Next() (Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.candidates) == 0 {
		return Candidate{}, ErrEndOfFeed
	}
	return f.candidates[f.cursor], nil
}

// Len reports how many candidates remain in the sequence.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.candidates)
}

// Candidates returns the remaining sequence in display order, starting at the
// cursor.
func (f *Feed) Candidates() []Candidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Candidate, 0, len(f.candidates))
	out = append(out, f.candidates[f.cursor:]...)
	return append(out, f.candidates[:f.cursor]...)
}

// Decide records a like or pass on a candidate and advances the cursor,
// wrapping at the end. A like creates a pending match; the liked task leaves
// the feed for the rest of the session, including when the match already
// existed. Liking a task again goes back to the lifecycle, which rejects it
// with match.ErrDuplicateMatch while the first match is active.
func (f *Feed) Decide(ctx context.Context, taskID string, d Decision) (*match.Match, error) {
	f.mu.Lock()
	idx := f.indexLocked(taskID)
	if idx < 0 && !(d == Like && f.liked[taskID]) {
		f.mu.Unlock()
		return nil, ErrUnknownCandidate
	}
	if d != Like {
		f.cursor = f.wrapLocked(idx + 1)
		f.mu.Unlock()
		return nil, nil
	}
	f.mu.Unlock()

	m, err := f.lifecycle.Create(ctx, match.CreateParams{TaskID: taskID, WorkerID: f.viewer.WorkerID})
	if err != nil && !errors.Is(err, match.ErrDuplicateMatch) {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.liked[taskID] = true
	if idx = f.indexLocked(taskID); idx >= 0 {
		f.candidates = append(f.candidates[:idx], f.candidates[idx+1:]...)
		if idx < f.cursor {
			f.cursor--
		}
		f.cursor = f.wrapLocked(f.cursor)
	}
	if err != nil {
		return nil, err
	}
	f.logger.Info("task liked", "worker_id", f.viewer.WorkerID, "task_id", taskID, "match_id", m.ID)
	return &m, nil
}

func (f *Feed) indexLocked(taskID string) int {
	for i, c := range f.candidates {
		if c.Item.ID == taskID {
			return i
		}
	}
	return -1
}

func (f *Feed) wrapLocked(i int) int {
	if i >= len(f.candidates) {
		return 0
	}
	return i
}
