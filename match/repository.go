package match

import (
	"context"
	"errors"
	"fmt"
	"time"

	"helpmate/docstore"
)

// Repository persists matches, pair locks, earnings records and ratings.
type Repository interface {
	Create(ctx context.Context, m Match) error
	Get(ctx context.Context, id string) (Match, error)
	// Apply atomically replaces a match with the result of fn. An error from
	// fn aborts the write and is returned unchanged.
	Apply(ctx context.Context, id string, fn func(Match) (Match, error)) (Match, error)
	ReleasePair(ctx context.Context, m Match) error
	ListBy(ctx context.Context, field, value string) ([]Match, error)
	RecordEarnings(ctx context.Context, rec EarningsRecord) (EarningsRecord, error)
	ListEarnings(ctx context.Context, workerID string) ([]EarningsRecord, error)
	CreateRating(ctx context.Context, r Rating) error
	ListRatingsFor(ctx context.Context, ratedID string) ([]Rating, error)
}

const fieldPairMatchID = "matchId"

// PairKey identifies the (task, worker) pair lock and rating documents.
func PairKey(taskID, userID string) string {
	return taskID + ":" + userID
}

// DocRepository stores the lifecycle in the document store.
type DocRepository struct {
	store docstore.Store
	now   func() time.Time
}

func NewRepository(store docstore.Store) *DocRepository {
	return &DocRepository{store: store, now: time.Now}
}

// Create takes the pair lock and writes the match. A pair lock held by a
// match that has since ended is treated as free.
func (r *DocRepository) Create(ctx context.Context, m Match) error {
	fields, err := docstore.Encode(docstore.CollectionMatches, m.ID, m)
	if err != nil {
		return err
	}

	key := PairKey(m.TaskID, m.WorkerID)
	stale, err := r.staleHolder(ctx, key)
	if err != nil {
		return err
	}
	_, err = r.store.Update(ctx, docstore.CollectionMatchPairs, key, func(cur docstore.Document, exists bool) (docstore.Fields, error) {
		if exists {
			if held := cur.Fields.String(fieldPairMatchID); held != "" && held != stale {
				return nil, ErrDuplicateMatch
			}
		}
		return docstore.Fields{
			"taskId":         m.TaskID,
			"workerId":       m.WorkerID,
			fieldPairMatchID: m.ID,
			"lockedAt":       r.now().UTC(),
		}, nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateMatch) {
			return err
		}
		return fmt.Errorf("match: lock pair: %w", err)
	}

	if err := r.store.Set(ctx, docstore.CollectionMatches, m.ID, fields); err != nil {
		werr := fmt.Errorf("match: create: %w", err)
		if rerr := r.ReleasePair(ctx, m); rerr != nil {
			return errors.Join(werr, rerr)
		}
		return werr
	}
	return nil
}

func (r *DocRepository) staleHolder(ctx context.Context, key string) (string, error) {
	doc, err := r.store.Get(ctx, docstore.CollectionMatchPairs, key)
	if errors.Is(err, docstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("match: read pair: %w", err)
	}
	held := doc.Fields.String(fieldPairMatchID)
	if held == "" {
		return "", nil
	}
	m, err := r.Get(ctx, held)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Lock taken, match not written yet.
			return "", nil
		}
		return "", err
	}
	if m.Status.Terminal() {
		return held, nil
	}
	return "", nil
}

// ReleasePair frees the pair lock if m still holds it.
func (r *DocRepository) ReleasePair(ctx context.Context, m Match) error {
	_, err := r.store.Update(ctx, docstore.CollectionMatchPairs, PairKey(m.TaskID, m.WorkerID), func(cur docstore.Document, exists bool) (docstore.Fields, error) {
		if !exists || cur.Fields.String(fieldPairMatchID) != m.ID {
			return nil, nil
		}
		return docstore.Fields{fieldPairMatchID: "", "releasedAt": r.now().UTC()}, nil
	})
	if err != nil {
		return fmt.Errorf("match: release pair: %w", err)
	}
	return nil
}

func (r *DocRepository) Get(ctx context.Context, id string) (Match, error) {
	doc, err := r.store.Get(ctx, docstore.CollectionMatches, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Match{}, ErrNotFound
		}
		return Match{}, fmt.Errorf("match: get: %w", err)
	}
	return FromDocument(doc)
}

func (r *DocRepository) Apply(ctx context.Context, id string, fn func(Match) (Match, error)) (Match, error) {
	doc, err := r.store.Update(ctx, docstore.CollectionMatches, id, func(cur docstore.Document, exists bool) (docstore.Fields, error) {
		if !exists {
			return nil, ErrNotFound
		}
		m, err := FromDocument(cur)
		if err != nil {
			return nil, err
		}
		next, err := fn(m)
		if err != nil {
			return nil, err
		}
		return docstore.Encode(docstore.CollectionMatches, id, next)
	})
	if err != nil {
		var werr *docstore.WriteError
		if errors.As(err, &werr) {
			return Match{}, fmt.Errorf("match: update: %w", err)
		}
		return Match{}, err
	}
	return FromDocument(doc)
}

// ListBy returns matches whose field equals value, newest first.
func (r *DocRepository) ListBy(ctx context.Context, field, value string) ([]Match, error) {
	docs, err := r.store.Query(ctx, docstore.Query{
		Collection: docstore.CollectionMatches,
		Filters:    []docstore.Filter{{Field: field, Value: value}},
		OrderBy:    docstore.OrderByCreateTime,
		Desc:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("match: list by %s: %w", field, err)
	}
	out := make([]Match, 0, len(docs))
	for _, doc := range docs {
		m, err := FromDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// RecordEarnings writes the earnings record for a match unless one exists,
// and returns the stored record either way.
func (r *DocRepository) RecordEarnings(ctx context.Context, rec EarningsRecord) (EarningsRecord, error) {
	fields, err := docstore.Encode(docstore.CollectionCompletedTasks, rec.MatchID, rec)
	if err != nil {
		return EarningsRecord{}, err
	}
	doc, err := r.store.Update(ctx, docstore.CollectionCompletedTasks, rec.MatchID, func(_ docstore.Document, exists bool) (docstore.Fields, error) {
		if exists {
			return nil, nil
		}
		return fields, nil
	})
	if err != nil {
		return EarningsRecord{}, fmt.Errorf("match: record earnings: %w", err)
	}
	var stored EarningsRecord
	if err := docstore.Decode(doc, &stored); err != nil {
		return EarningsRecord{}, err
	}
	return stored, nil
}

func (r *DocRepository) ListEarnings(ctx context.Context, workerID string) ([]EarningsRecord, error) {
	docs, err := r.store.Query(ctx, docstore.Query{
		Collection: docstore.CollectionCompletedTasks,
		Filters:    []docstore.Filter{{Field: "workerId", Value: workerID}},
		OrderBy:    "completedAt",
		Desc:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("match: list earnings: %w", err)
	}
	out := make([]EarningsRecord, 0, len(docs))
	for _, doc := range docs {
		var rec EarningsRecord
		if err := docstore.Decode(doc, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// CreateRating stores a rating keyed by task and rater. A second rating for
// the same pair fails with ErrDuplicateRating.
func (r *DocRepository) CreateRating(ctx context.Context, rt Rating) error {
	key := PairKey(rt.TaskID, rt.RaterID)
	fields, err := docstore.Encode(docstore.CollectionRatings, key, rt)
	if err != nil {
		return err
	}
	_, err = r.store.Update(ctx, docstore.CollectionRatings, key, func(_ docstore.Document, exists bool) (docstore.Fields, error) {
		if exists {
			return nil, ErrDuplicateRating
		}
		return fields, nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateRating) {
			return err
		}
		return fmt.Errorf("match: create rating: %w", err)
	}
	return nil
}

func (r *DocRepository) ListRatingsFor(ctx context.Context, ratedID string) ([]Rating, error) {
	docs, err := r.store.Query(ctx, docstore.Query{
		Collection: docstore.CollectionRatings,
		Filters:    []docstore.Filter{{Field: "ratedId", Value: ratedID}},
	})
	if err != nil {
		return nil, fmt.Errorf("match: list ratings: %w", err)
	}
	out := make([]Rating, 0, len(docs))
	for _, doc := range docs {
		var rt Rating
		if err := docstore.Decode(doc, &rt); err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, nil
}

// FromDocument decodes and validates a matches document.
func FromDocument(doc docstore.Document) (Match, error) {
	var m Match
	if err := docstore.Decode(doc, &m); err != nil {
		return Match{}, err
	}
	m.ID = doc.ID
	return m, nil
}
