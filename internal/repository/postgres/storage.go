package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vmelnikov/tokenvault/internal/apperrors"
	"github.com/vmelnikov/tokenvault/internal/repository"
)

// Upper bound on waiting for a row lock inside InTx.
// A rotation blocked longer than this aborts with a retryable error
// instead of hanging behind a concurrent transaction.
const lockTimeout = "3s"

type Storage struct {
	db DBTX
}

func NewStorage(db DBTX) repository.Storage {
	return &Storage{db: db}
}

func (s *Storage) User() repository.UserRepo {
	return &UserRepo{DB: s.db}
}

func (s *Storage) RefreshToken() repository.RefreshTokenRepo {
	return &RefreshTokenRepo{DB: s.db}
}

// InTx runs fn in a serializable transaction with a bounded lock wait.
// Must not be called when the Storage wraps a transaction already:
// postgres forbids changing the isolation level of a subtransaction.
func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db tx error: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return fmt.Errorf("db tx error: %w", err)
	}
	_, err = tx.Exec(ctx, "SET LOCAL lock_timeout = '"+lockTimeout+"'")
	if err != nil {
		return fmt.Errorf("db tx error: %w", err)
	}

	if err := fn(NewStorage(tx)); err != nil {
		return remapTxConflict(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return remapTxConflict(fmt.Errorf("db tx error: %w", err))
	}

	return nil
}

// Serialization failures and lock waits over the bound are both lost
// races: the caller may retry the whole transaction
func remapTxConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure, pgerrcode.LockNotAvailable:
			return fmt.Errorf("tx conflict (%s): %w", pgErr.Code, apperrors.ErrConcurrentModification)
		}
	}

	return err
}
