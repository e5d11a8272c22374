package auth

import (
	"context"
	"errors"
	"fmt"

	"helpmate/docstore"
)

// CollectionRevokedTokens holds signed-out token ids.
const CollectionRevokedTokens = "revoked_tokens"

// Revocations persists signed-out tokens.
type Revocations interface {
	Revoke(ctx context.Context, r Revocation) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// DocRevocations implements Revocations on the document store.
type DocRevocations struct {
	store docstore.Store
}

// NewRevocations creates a document-store backed revocation list.
func NewRevocations(store docstore.Store) *DocRevocations {
	return &DocRevocations{store: store}
}

func (r *DocRevocations) Revoke(ctx context.Context, rev Revocation) error {
	fields, err := docstore.Encode(CollectionRevokedTokens, rev.TokenID, rev)
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, CollectionRevokedTokens, rev.TokenID, fields); err != nil {
		return fmt.Errorf("auth: revoke token: %w", err)
	}
	return nil
}

func (r *DocRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	_, err := r.store.Get(ctx, CollectionRevokedTokens, tokenID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("auth: get revocation: %w", err)
	}
	return true, nil
}
