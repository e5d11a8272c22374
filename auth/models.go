package auth

import "time"

// Claims is the verified content of a session token.
type Claims struct {
	UserID    string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Revocation records a token that was signed out before it expired.
type Revocation struct {
	TokenID   string    `json:"tokenId" validate:"required"`
	UserID    string    `json:"userId" validate:"required"`
	ExpiresAt time.Time `json:"expiresAt"`
	RevokedAt time.Time `json:"revokedAt"`
}
