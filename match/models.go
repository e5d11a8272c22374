package match

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every match status in lifecycle order.
var Statuses = []Status{StatusPending, StatusAccepted, StatusInProgress, StatusCompleted, StatusCancelled}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Match links a worker to a task they liked.
type Match struct {
	ID        string    `json:"-"`
	TaskID    string    `json:"taskId" validate:"required"`
	WorkerID  string    `json:"workerId" validate:"required"`
	PosterID  string    `json:"posterId" validate:"required"`
	Status    Status    `json:"status" validate:"oneof=pending accepted in_progress completed cancelled"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
}

// RoleOf returns the actor's role in the match.
func (m Match) RoleOf(userID string) (Role, bool) {
	switch userID {
	case "":
		return "", false
	case m.WorkerID:
		return RoleWorker, true
	case m.PosterID:
		return RolePoster, true
	}
	return "", false
}

// Counterpart returns the other participant.
func (m Match) Counterpart(userID string) string {
	if userID == m.WorkerID {
		return m.PosterID
	}
	return m.WorkerID
}

// Rating is one participant's score for the other after completion.
type Rating struct {
	TaskID    string    `json:"taskId" validate:"required"`
	MatchID   string    `json:"matchId" validate:"required"`
	RaterID   string    `json:"raterId" validate:"required"`
	RatedID   string    `json:"ratedId" validate:"required"`
	Score     int       `json:"score" validate:"gte=1,lte=5"`
	Comment   string    `json:"comment,omitempty" validate:"max=1000"`
	CreatedAt time.Time `json:"createdAt"`
}

// EarningsRecord is written once per completed match.
type EarningsRecord struct {
	MatchID     string    `json:"matchId" validate:"required"`
	TaskID      string    `json:"taskId" validate:"required"`
	WorkerID    string    `json:"workerId" validate:"required"`
	TaskTitle   string    `json:"taskTitle,omitempty"`
	Amount      float64   `json:"amount" validate:"gt=0"`
	CompletedAt time.Time `json:"completedAt"`
}

// RatingPrompt asks one participant to rate the other.
type RatingPrompt struct {
	MatchID   string
	TaskID    string
	RaterID   string
	RaterRole Role
	RatedID   string
}

var scoreLabels = map[int]string{
	1: "Poor",
	2: "Fair",
	3: "Good",
	4: "Very Good",
	5: "Excellent",
}

// ScoreLabel names a 1-5 score, or returns "" for anything else.
func ScoreLabel(score int) string {
	return scoreLabels[score]
}

// StatusFilter narrows role-based match lists.
type StatusFilter string

const (
	FilterAll     StatusFilter = "all"
	FilterPending StatusFilter = "pending"
	// FilterActive selects accepted and in-progress matches.
	FilterActive StatusFilter = "active"
)

// ParseStatusFilter accepts all, pending or active. Empty means all.
func ParseStatusFilter(s string) (StatusFilter, error) {
	switch f := StatusFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterPending, FilterActive:
		return f, nil
	default:
		return "", fmt.Errorf("match: unknown status filter %q", s)
	}
}

func (f StatusFilter) includes(s Status) bool {
	switch f {
	case FilterPending:
		return s == StatusPending
	case FilterActive:
		return s == StatusAccepted || s == StatusInProgress
	default:
		return true
	}
}

// EarningsEntry is one completed task in a worker's earnings history.
type EarningsEntry struct {
	EarningsRecord
	// Score is the poster's rating for this task, zero when not rated.
	Score int
}

// EarningsSummary aggregates a worker's completed tasks.
type EarningsSummary struct {
	Total         float64
	ThisWeek      float64
	Tasks         int
	AverageRating float64
	Entries       []EarningsEntry
}

// Lifecycle event types.
const (
	EventMatchCreated       = "match.created"
	EventMatchStatusChanged = "match.status_changed"
	EventMatchCompleted     = "match.completed"
	EventRatingSubmitted    = "rating.submitted"
)

// Event is published after a successful lifecycle write.
type Event struct {
	Type       string         `json:"type"`
	MatchID    string         `json:"matchId"`
	TaskID     string         `json:"taskId"`
	ActorID    string         `json:"actorId,omitempty"`
	Previous   Status         `json:"previous,omitempty"`
	Next       Status         `json:"next,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// EventSink receives lifecycle events.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// CreateParams enumerates the fields needed to like a task.
type CreateParams struct {
	TaskID   string
	WorkerID string
}

type TransitionParams struct {
	MatchID string
	ActorID string
	Next    Status
}

// TransitionResult carries the updated match and, on completion, the earnings
// record and one rating prompt per participant.
type TransitionResult struct {
	Match    Match
	Previous Status
	Earnings *EarningsRecord
	Prompts  []RatingPrompt
}

type RatingParams struct {
	MatchID string
	RaterID string
	Score   int
	Comment string
}
