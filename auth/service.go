package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken signals a token that fails signature or claim checks.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrRevokedToken signals a token that was signed out.
	ErrRevokedToken = errors.New("auth: token revoked")
	// ErrEmptySecret signals a missing signing secret.
	ErrEmptySecret = errors.New("auth: signing secret required")
)

// DefaultTokenTTL is the lifetime of issued tokens.
const DefaultTokenTTL = 24 * time.Hour

// Issuer signs and verifies HS256 session tokens. Identity is issued by an
// external provider; the issuer only vouches for a user id.
type Issuer struct {
	secret      []byte
	ttl         time.Duration
	now         func() time.Time
	idGen       func() string
	revocations Revocations
}

// NewIssuer creates an issuer for the given secret.
func NewIssuer(secret string) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrEmptySecret
	}
	return &Issuer{
		secret: []byte(secret),
		ttl:    DefaultTokenTTL,
		now:    time.Now,
		idGen:  uuid.NewString,
	}, nil
}

// WithTTL overrides the token lifetime.
func (i *Issuer) WithTTL(ttl time.Duration) *Issuer {
	if ttl > 0 {
		i.ttl = ttl
	}
	return i
}

// WithClock overrides the clock used for iat/exp.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	if now != nil {
		i.now = now
	}
	return i
}

// WithRevocations enables revocation checks during Verify.
func (i *Issuer) WithRevocations(r Revocations) *Issuer {
	i.revocations = r
	return i
}

// Issue signs a token for userID.
func (i *Issuer) Issue(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("auth: user id required")
	}
	now := i.now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"jti":     i.idGen(),
		"exp":     now.Add(i.ttl).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify validates a token and returns its claims.
func (i *Issuer) Verify(ctx context.Context, tokenString string) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	userID, ok := mc["user_id"].(string)
	if !ok || userID == "" {
		return Claims{}, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	tokenID, _ := mc["jti"].(string)

	claims := Claims{UserID: userID, TokenID: tokenID}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}

	if i.revocations != nil && tokenID != "" {
		revoked, err := i.revocations.IsRevoked(ctx, tokenID)
		if err != nil {
			return Claims{}, fmt.Errorf("auth: check revocation: %w", err)
		}
		if revoked {
			return Claims{}, ErrRevokedToken
		}
	}
	return claims, nil
}

// Revoke records the token as signed out.
func (i *Issuer) Revoke(ctx context.Context, claims Claims) error {
	if i.revocations == nil || claims.TokenID == "" {
		return nil
	}
	return i.revocations.Revoke(ctx, Revocation{
		TokenID:   claims.TokenID,
		UserID:    claims.UserID,
		ExpiresAt: claims.ExpiresAt,
		RevokedAt: i.now().UTC(),
	})
}
