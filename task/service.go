package task

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"helpmate/geo"

	"github.com/google/uuid"
)

// PosterLocator resolves the poster's saved location. A nil point means the
// poster has no geocoded address.
type PosterLocator interface {
	Location(ctx context.Context, userID string) (*geo.Point, error)
}

type Service struct {
	repo    Repository
	locator PosterLocator
	now     func() time.Time
	idGen   func() string
	logger  *slog.Logger
}

func NewService(repo Repository, locator PosterLocator) *Service {
	return &Service{
		repo:    repo,
		locator: locator,
		now:     time.Now,
		idGen:   uuid.NewString,
		logger:  slog.Default(),
	}
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

func (s *Service) WithLogger(logger *slog.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Create validates the draft and posts an open task with a snapshot of the
// poster's current location.
func (s *Service) Create(ctx context.Context, posterID string, d Draft) (Task, error) {
	posterID = strings.TrimSpace(posterID)
	if posterID == "" {
		return Task{}, fmt.Errorf("task: poster id required")
	}
	if err := d.Validate(); err != nil {
		return Task{}, err
	}

	var loc *geo.Point
	if s.locator != nil {
		var err error
		loc, err = s.locator.Location(ctx, posterID)
		if err != nil {
			return Task{}, fmt.Errorf("task: poster location: %w", err)
		}
	}

	t := Task{
		ID:             s.idGen(),
		PosterID:       posterID,
		Title:          d.Title,
		Category:       d.StoredCategory(),
		Description:    d.Description,
		Pay:            d.Pay,
		TimeEstimate:   d.TimeEstimate,
		PreferredDate:  d.PreferredDate,
		PreferredTime:  d.PreferredTime,
		Urgency:        strings.TrimSpace(d.Urgency),
		Requirements:   d.Requirements,
		PosterLocation: loc,
		Status:         StatusOpen,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return Task{}, err
	}
	s.logger.Info("task posted", "task_id", t.ID, "poster_id", posterID, "located", loc != nil)
	return t, nil
}

func (s *Service) Get(ctx context.Context, id string) (Task, error) {
	return s.repo.Get(ctx, id)
}

// ListOpen returns open tasks, newest first.
func (s *Service) ListOpen(ctx context.Context, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	return s.repo.ListOpen(ctx, limit)
}

// Close marks the task closed. Closing a closed task is a no-op.
func (s *Service) Close(ctx context.Context, id string) (Task, error) {
	t, err := s.repo.SetStatus(ctx, id, StatusClosed)
	if err != nil {
		return Task{}, err
	}
	s.logger.Info("task closed", "task_id", id)
	return t, nil
}
