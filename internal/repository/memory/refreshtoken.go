package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vmelnikov/tokenvault/internal/apperrors"
	"github.com/vmelnikov/tokenvault/internal/models"
	"github.com/vmelnikov/tokenvault/internal/repository"
)

type RefreshTokenRepo struct {
	s *Storage
}

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.state.tokens[token.Token]; exists {
		return models.RefreshToken{}, fmt.Errorf("db error: token value %q exists already", token.Token)
	}
	r.s.state.tokens[token.Token] = token

	return token, nil
}

func (r *RefreshTokenRepo) Get(ctx context.Context, tokenString string) (models.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	token, ok := r.s.state.tokens[tokenString]
	if !ok {
		return token, fmt.Errorf("repo error: %w", apperrors.ErrTokenNotFound)
	}

	return token, nil
}

// GetForUpdate behaves as Get: the InTx mutex already serializes the
// whole transaction, which is the strongest form of the row lock
func (r *RefreshTokenRepo) GetForUpdate(ctx context.Context, tokenString string) (models.RefreshToken, error) {
	return r.Get(ctx, tokenString)
}

func (r *RefreshTokenRepo) Revoke(ctx context.Context, tokenString string, arg repository.RevokeParams) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	token, ok := r.s.state.tokens[tokenString]
	if !ok || token.RevokedAt != nil {
		return 0, nil
	}

	at := arg.At
	byIP := arg.ByIP
	token.RevokedAt = &at
	token.RevokedByIP = &byIP
	token.ReplacedByToken = arg.ReplacedBy
	r.s.state.tokens[tokenString] = token

	return 1, nil
}

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var count int64
	for value, token := range r.s.state.tokens {
		if token.UserID != userID || token.RevokedAt != nil {
			continue
		}

		revokedAt := at
		token.RevokedAt = &revokedAt
		r.s.state.tokens[value] = token
		count++
	}

	return count, nil
}

func (r *RefreshTokenRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var tokens []models.RefreshToken
	for _, token := range r.s.state.tokens {
		if token.UserID == userID {
			tokens = append(tokens, token)
		}
	}

	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.After(tokens[j].CreatedAt)
	})

	return tokens, nil
}

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var count int64
	for value, token := range r.s.state.tokens {
		if token.ExpiresAt.Before(olderThan) {
			delete(r.s.state.tokens, value)
			count++
		}
	}

	return count, nil
}
