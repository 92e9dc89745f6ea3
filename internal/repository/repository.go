package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vmelnikov/tokenvault/internal/models"
)

type CreateUserParams struct {
	Username       string
	FirstName      string
	LastName       string
	PhoneNumber    string
	HashedPassword string
	Role           string
}

// User repository interface
type UserRepo interface {
	// Create user
	// If user with username exists already has to return apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, arg CreateUserParams) (models.User, error)

	// Get user by it's id or username
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
}

// Parameters of a single token revocation
// ReplacedBy is set on rotation only and stays nil on plain revoke
type RevokeParams struct {
	At         time.Time
	ByIP       string
	ReplacedBy *string
}

// RefreshToken repository interface
type RefreshTokenRepo interface {
	// Save token in repository
	Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Get token by the token string itself
	// Returns the token even if it is expired or revoked already
	// If token not found must return apperrors.ErrTokenNotFound
	Get(ctx context.Context, tokenString string) (models.RefreshToken, error)

	// Get token and hold an exclusive row lock until the transaction ends
	// Must be called inside Storage.InTx only, otherwise the lock is released at once
	GetForUpdate(ctx context.Context, tokenString string) (models.RefreshToken, error)

	// Revoke the token if it is not revoked yet
	// Returns the number of rows updated: zero means a racing
	// rotation or revocation already claimed the row
	Revoke(ctx context.Context, tokenString string, arg RevokeParams) (int64, error)

	// Revoke every active token of the user, returns the number of revoked rows
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)

	// List all tokens of the user, newest first
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error)

	// Delete rows that expired before the given moment, returns the number deleted
	DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error)
}

// Storage aggregates the repositories and the transaction scope
type Storage interface {
	User() UserRepo
	RefreshToken() RefreshTokenRepo

	// InTx runs fn within a serializable transaction
	// Repositories obtained from the passed Storage share that transaction
	// fn returning nil commits, any error rolls back
	InTx(ctx context.Context, fn func(Storage) error) error
}
