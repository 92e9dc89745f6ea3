package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vmelnikov/tokenvault/internal/apperrors"
	"github.com/vmelnikov/tokenvault/internal/models"
	"github.com/vmelnikov/tokenvault/internal/repository"
)

type UserRepo struct {
	s *Storage
}

func (r *UserRepo) CreateUser(ctx context.Context, arg repository.CreateUserParams) (models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.state.users {
		if u.Username == arg.Username {
			return models.User{}, apperrors.ErrUserAlreadyExists
		}
	}

	now := time.Now()
	user := models.User{
		ID:             uuid.New(),
		CreatedAt:      now,
		UpdatedAt:      now,
		Username:       arg.Username,
		FirstName:      arg.FirstName,
		LastName:       arg.LastName,
		PhoneNumber:    arg.PhoneNumber,
		HashedPassword: arg.HashedPassword,
		Role:           arg.Role,
	}
	r.s.state.users[user.ID] = user

	return user, nil
}

func (r *UserRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	user, ok := r.s.state.users[userID]
	if !ok {
		return models.User{}, apperrors.ErrUserNotFound
	}

	return user, nil
}

func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.state.users {
		if u.Username == username {
			return u, nil
		}
	}

	return models.User{}, apperrors.ErrUserNotFound
}
