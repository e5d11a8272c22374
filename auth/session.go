package auth

import (
	"context"
	"sync"
)

// Session is the signed-in user's context, passed explicitly to the
// components that act on the user's behalf.
type Session interface {
	// CurrentUserID returns false once the session is signed out.
	CurrentUserID() (string, bool)
	SignOut(ctx context.Context) error
}

// TokenSession is a Session backed by a verified token.
type TokenSession struct {
	issuer *Issuer

	mu       sync.RWMutex
	claims   Claims
	signedIn bool
}

// OpenSession verifies token and returns a signed-in session.
func OpenSession(ctx context.Context, issuer *Issuer, token string) (*TokenSession, error) {
	claims, err := issuer.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	return &TokenSession{issuer: issuer, claims: claims, signedIn: true}, nil
}

func (s *TokenSession) CurrentUserID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.signedIn {
		return "", false
	}
	return s.claims.UserID, true
}

// SignOut revokes the token. The session is signed out even when the
// revocation write fails; the error is still returned.
func (s *TokenSession) SignOut(ctx context.Context) error {
	s.mu.Lock()
	if !s.signedIn {
		s.mu.Unlock()
		return nil
	}
	s.signedIn = false
	claims := s.claims
	s.mu.Unlock()

	return s.issuer.Revoke(ctx, claims)
}

// StaticSession is a fixed-user Session for local tooling.
type StaticSession struct {
	mu     sync.RWMutex
	userID string
}

func NewStaticSession(userID string) *StaticSession {
	return &StaticSession{userID: userID}
}

func (s *StaticSession) CurrentUserID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.userID != ""
}

func (s *StaticSession) SignOut(context.Context) error {
	s.mu.Lock()
	s.userID = ""
	s.mu.Unlock()
	return nil
}
