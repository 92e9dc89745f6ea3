package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/vmelnikov/tokenvault/internal/models"
	"github.com/vmelnikov/tokenvault/internal/repository"
)

// Storage is an in-memory repository.Storage for tests.
// InTx holds one mutex for the whole transaction and commits by swapping
// a copied state in, so transactions are serializable and roll back cleanly.
type Storage struct {
	mu    sync.Mutex
	state *state
}

type state struct {
	users  map[uuid.UUID]models.User
	tokens map[string]models.RefreshToken
}

func NewStorage() *Storage {
	return &Storage{
		state: &state{
			users:  map[uuid.UUID]models.User{},
			tokens: map[string]models.RefreshToken{},
		},
	}
}

func (s *Storage) User() repository.UserRepo {
	return &UserRepo{s: s}
}

func (s *Storage) RefreshToken() repository.RefreshTokenRepo {
	return &RefreshTokenRepo{s: s}
}

func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	draft := &Storage{state: s.state.clone()}

	if err := fn(draft); err != nil {
		return err
	}

	s.state = draft.state
	return nil
}

func (s *state) clone() *state {
	return &state{
		users:  maps.Clone(s.users),
		tokens: maps.Clone(s.tokens),
	}
}
