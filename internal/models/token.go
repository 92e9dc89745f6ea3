package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is one issued refresh credential.
// Value of 'Token' is the lookup key and never reused.
// Nil RevokedAt means the token is still active; RevokedByIP and
// ReplacedByToken are set together with it and stay nil otherwise.
type RefreshToken struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Token           string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	CreatedByIP     string
	RevokedAt       *time.Time
	RevokedByIP     *string
	ReplacedByToken *string
}

func (t RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t RefreshToken) IsActive(now time.Time) bool {
	return t.RevokedAt == nil && !t.IsExpired(now)
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Pair of tokens returned to the user on login or refresh
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}
