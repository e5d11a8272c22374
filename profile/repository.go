package profile

import (
	"context"
	"errors"
	"fmt"

	"helpmate/docstore"
	"helpmate/geo"
)

var ErrNotFound = errors.New("profile: not found")

// Repository reads profiles for other components. Writes go through Editor.
type Repository struct {
	store docstore.Store
}

func NewRepository(store docstore.Store) *Repository {
	return &Repository{store: store}
}

func (r *Repository) Get(ctx context.Context, userID string) (Profile, error) {
	doc, err := r.store.Get(ctx, docstore.CollectionProfiles, userID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("profile: get: %w", err)
	}
	return FromDocument(doc)
}

// Location returns the saved location, or nil when the user has no profile or
// no geocoded address.
func (r *Repository) Location(ctx context.Context, userID string) (*geo.Point, error) {
	p, err := r.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return p.Location, nil
}

// FromDocument decodes and validates a profiles document.
func FromDocument(doc docstore.Document) (Profile, error) {
	return FromFields(doc.Collection, doc.ID, doc.Fields)
}

// FromFields decodes in-memory profile fields.
func FromFields(collection, userID string, fields docstore.Fields) (Profile, error) {
	var p Profile
	if err := docstore.Decode(docstore.Document{Collection: collection, ID: userID, Fields: fields}, &p); err != nil {
		return Profile{}, err
	}
	p.UserID = userID
	return p, nil
}
