package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vmelnikov/tokenvault/internal/apperrors"
	"github.com/vmelnikov/tokenvault/internal/models"
	"github.com/vmelnikov/tokenvault/internal/repository"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const tokenColumns = `id, user_id, token, created_at, expires_at, created_by_ip, revoked_at, revoked_by_ip, replaced_by_token`

const saveToken = `-- name: SaveToken
INSERT INTO refresh_tokens (id, user_id, token, created_at, expires_at, created_by_ip, revoked_at, revoked_by_ip, replaced_by_token)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + tokenColumns

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, saveToken,
		token.ID, token.UserID, token.Token, token.CreatedAt, token.ExpiresAt,
		token.CreatedByIP, token.RevokedAt, token.RevokedByIP, token.ReplacedByToken,
	)
	saved, err := pgx.CollectOneRow(rows, rowToToken)
	if err != nil {
		return saved, fmt.Errorf("db error: %w", err)
	}

	return saved, nil
}

const getToken = `-- name: GetToken by the token string itself
SELECT ` + tokenColumns + `
FROM refresh_tokens
WHERE token = $1
`

// Get token
// It should return result even if the token expired or revoked already
func (r *RefreshTokenRepo) Get(ctx context.Context, tokenString string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getToken, tokenString)
	return collectToken(rows)
}

const getTokenForUpdate = getToken + `FOR UPDATE
`

// Get token holding an exclusive row lock until the enclosing transaction ends
// Concurrent rotation or revocation of the same token blocks here, bounded
// by the lock_timeout that Storage.InTx sets
func (r *RefreshTokenRepo) GetForUpdate(ctx context.Context, tokenString string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getTokenForUpdate, tokenString)
	return collectToken(rows)
}

const revokeToken = `-- name: RevokeToken if it is still active
UPDATE refresh_tokens
SET revoked_at = $2, revoked_by_ip = $3, replaced_by_token = $4
WHERE token = $1 AND revoked_at IS NULL
`

// Revoke the token
// Conditioned on 'revoked_at IS NULL': zero rows updated means a racing
// writer claimed the row first and its revocation state must stay intact
func (r *RefreshTokenRepo) Revoke(ctx context.Context, tokenString string, arg repository.RevokeParams) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeToken, tokenString, arg.At, arg.ByIP, arg.ReplacedBy)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return tag.RowsAffected(), nil
}

const revokeAllForUser = `-- name: RevokeAllForUser active tokens
UPDATE refresh_tokens
SET revoked_at = $2
WHERE user_id = $1 AND revoked_at IS NULL
`

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeAllForUser, userID, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return tag.RowsAffected(), nil
}

const listForUser = `-- name: ListForUser
SELECT ` + tokenColumns + `
FROM refresh_tokens
WHERE user_id = $1
ORDER BY created_at DESC
`

func (r *RefreshTokenRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, listForUser, userID)
	tokens, err := pgx.CollectRows(rows, rowToToken)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return tokens, nil
}

const deleteExpired = `-- name: DeleteExpired
DELETE FROM refresh_tokens
WHERE expires_at < $1
`

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpired, olderThan)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return tag.RowsAffected(), nil
}

func collectToken(rows pgx.Rows) (models.RefreshToken, error) {
	token, err := pgx.CollectOneRow(rows, rowToToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

func rowToToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(
		&t.ID, &t.UserID, &t.Token, &t.CreatedAt, &t.ExpiresAt,
		&t.CreatedByIP, &t.RevokedAt, &t.RevokedByIP, &t.ReplacedByToken,
	)
	return t, err
}
