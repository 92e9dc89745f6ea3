package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmelnikov/tokenvault/internal/apperrors"
	"github.com/vmelnikov/tokenvault/internal/models"
	"github.com/vmelnikov/tokenvault/internal/repository"
	"github.com/vmelnikov/tokenvault/internal/testutil"
)

func mustParseTime(value string) time.Time {
	dt, err := time.Parse("2006-01-02 15:04:05Z07:00", value)
	if err != nil {
		panic(err)
	}
	return dt
}

// Tokens reference users, so every token test needs an owner row
func createTestUser(t *testing.T, tx pgx.Tx, username string) models.User {
	t.Helper()

	repo := UserRepo{DB: tx}
	user, err := repo.CreateUser(t.Context(), repository.CreateUserParams{
		Username:       username,
		HashedPassword: "hash",
		Role:           models.RoleUser,
	})
	require.NoError(t, err, "user must be created for token tests")

	return user
}

func newToken(userID uuid.UUID, value string) models.RefreshToken {
	return models.RefreshToken{
		ID:          uuid.New(),
		UserID:      userID,
		Token:       value,
		CreatedAt:   mustParseTime("2024-01-01 19:00:01Z"),
		ExpiresAt:   mustParseTime("2200-01-01 03:00:02Z"),
		CreatedByIP: "192.0.2.10",
	}
}

func Test_RefreshTokenRepo(t *testing.T) {
	t.Parallel() // It's ok to run in parallel with other tests, but not with subtests

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("save token ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			user := createTestUser(t, tx, "saver")
			repo := RefreshTokenRepo{DB: tx}
			token := newToken(user.ID, "secret-token")

			got, err := repo.Save(t.Context(), token)

			require.NoError(t, err)
			require.Equal(t, token.ID, got.ID)
			require.Equal(t, token.UserID, got.UserID)
			require.Equal(t, token.Token, got.Token)
			require.Equal(t, token.CreatedByIP, got.CreatedByIP)
			require.WithinDuration(t, token.CreatedAt, got.CreatedAt, time.Microsecond)
			require.WithinDuration(t, token.ExpiresAt, got.ExpiresAt, time.Microsecond)
			require.Nil(t, got.RevokedAt, "fresh token must not be revoked")
			require.Nil(t, got.RevokedByIP)
			require.Nil(t, got.ReplacedByToken)
		})
	})

	t.Run("save duplicate token value fails", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			user := createTestUser(t, tx, "dup-saver")
			repo := RefreshTokenRepo{DB: tx}

			_, err := repo.Save(t.Context(), newToken(user.ID, "same-value"))
			require.NoError(t, err)

			_, err = repo.Save(t.Context(), newToken(user.ID, "same-value"))

			require.Error(t, err, "token values are unique, second insert must fail")
		})
	})

	t.Run("get token ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			user := createTestUser(t, tx, "getter")
			repo := RefreshTokenRepo{DB: tx}
			token := newToken(user.ID, "secret-token")
			_, err := repo.Save(t.Context(), token)
			require.NoError(t, err)

			got, err := repo.Get(t.Context(), token.Token)

			require.NoError(t, err)
			require.Equal(t, token.Token, got.Token)
			require.Equal(t, token.UserID, got.UserID)
			require.WithinDuration(t, token.CreatedAt, got.CreatedAt, 0)
			require.WithinDuration(t, token.ExpiresAt, got.ExpiresAt, 0)
			require.Nil(t, got.RevokedAt)
		})
	})

	t.Run("get not existed token", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}

			_, err := repo.Get(t.Context(), "never-issued")

			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrTokenNotFound)
		})
	})

	t.Run("get for update returns the row", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			user := createTestUser(t, tx, "locker")
			repo := RefreshTokenRepo{DB: tx}
			token := newToken(user.ID, "locked-token")
			_, err := repo.Save(t.Context(), token)
			require.NoError(t, err)

			got, err := repo.GetForUpdate(t.Context(), token.Token)

			require.NoError(t, err)
			require.Equal(t, token.Token, got.Token)
		})
	})

	t.Run("revoke active token", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			user := createTestUser(t, tx, "revoker")
			repo := RefreshTokenRepo{DB: tx}
			token := newToken(user.ID, "to-revoke")
			_, err := repo.Save(t.Context(), token)
			require.NoError(t, err)

			now := time.Now().Truncate(time.Second)
			successor := "successor-value"
			updated, err := repo.Revoke(t.Context(), token.Token, repository.RevokeParams{
				At:         now,
				ByIP:       "198.51.100.7",
				ReplacedBy: &successor,
			})

			require.NoError(t, err)
			require.Equal(t, int64(1), updated, "exactly one row must be updated")

			got, err := repo.Get(t.Context(), token.Token)
			require.NoError(t, err)
			require.NotNil(t, got.RevokedAt)
			require.WithinDuration(t, now, *got.RevokedAt, time.Microsecond)
			require.NotNil(t, got.RevokedByIP)
			require.Equal(t, "198.51.100.7", *got.RevokedByIP)
			require.NotNil(t, got.ReplacedByToken)
			require.Equal(t, successor, *got.ReplacedByToken)
		})
	})

	t.Run("revoke is conditional on active row", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			user := createTestUser(t, tx, "double-revoker")
			repo := RefreshTokenRepo{DB: tx}
			token := newToken(user.ID, "revoke-once")
			_, err := repo.Save(t.Context(), token)
			require.NoError(t, err)

			first := time.Now().Truncate(time.Second)
			updated, err := repo.Revoke(t.Context(), token.Token, repository.RevokeParams{At: first, ByIP: "192.0.2.1"})
			require.NoError(t, err)
			require.Equal(t, int64(1), updated)

			updated, err = repo.Revoke(t.Context(), token.Token, repository.RevokeParams{At: first.Add(time.Hour), ByIP: "192.0.2.2"})
			require.NoError(t, err)
			require.Equal(t, int64(0), updated, "revoked row must not be claimed twice")

			got, err := repo.Get(t.Context(), token.Token)
			require.NoError(t, err)
			require.WithinDuration(t, first, *got.RevokedAt, time.Microsecond, "first revocation must stay intact")
			require.Equal(t, "192.0.2.1", *got.RevokedByIP)
		})
	})

	t.Run("revoke not existed token updates nothing", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}

			updated, err := repo.Revoke(t.Context(), "never-issued", repository.RevokeParams{At: time.Now()})

			require.NoError(t, err)
			require.Equal(t, int64(0), updated)
		})
	})

	t.Run("revoke all for user", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			user := createTestUser(t, tx, "bulk-revoker")
			other := createTestUser(t, tx, "bystander")
			repo := RefreshTokenRepo{DB: tx}

			// Two active and one already revoked token for the user
			for _, value := range []string{"bulk-1", "bulk-2", "bulk-revoked"} {
				_, err := repo.Save(t.Context(), newToken(user.ID, value))
				require.NoError(t, err)
			}
			_, err := repo.Revoke(t.Context(), "bulk-revoked", repository.RevokeParams{At: time.Now(), ByIP: "192.0.2.3"})
			require.NoError(t, err)

			// And an active token of another user
			_, err = repo.Save(t.Context(), newToken(other.ID, "bystander-token"))
			require.NoError(t, err)

			revoked, err := repo.RevokeAllForUser(t.Context(), user.ID, time.Now().Truncate(time.Second))

			require.NoError(t, err)
			require.Equal(t, int64(2), revoked, "only previously active tokens count")

			tokens, err := repo.ListForUser(t.Context(), user.ID)
			require.NoError(t, err)
			for _, token := range tokens {
				assert.NotNil(t, token.RevokedAt, "token %q must be revoked", token.Token)
			}

			bystander, err := repo.Get(t.Context(), "bystander-token")
			require.NoError(t, err)
			require.Nil(t, bystander.RevokedAt, "other user's token must stay active")
		})
	})

	t.Run("list for user newest first", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			user := createTestUser(t, tx, "lister")
			repo := RefreshTokenRepo{DB: tx}

			older := newToken(user.ID, "older")
			newer := newToken(user.ID, "newer")
			newer.CreatedAt = older.CreatedAt.Add(time.Hour)

			for _, token := range []models.RefreshToken{older, newer} {
				_, err := repo.Save(t.Context(), token)
				require.NoError(t, err)
			}

			tokens, err := repo.ListForUser(t.Context(), user.ID)

			require.NoError(t, err)
			require.Len(t, tokens, 2)
			require.Equal(t, "newer", tokens[0].Token)
			require.Equal(t, "older", tokens[1].Token)
		})
	})

	t.Run("delete expired", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			user := createTestUser(t, tx, "purger")
			repo := RefreshTokenRepo{DB: tx}

			expired := newToken(user.ID, "long-dead")
			expired.ExpiresAt = mustParseTime("2020-01-01 00:00:00Z")
			alive := newToken(user.ID, "still-alive")

			for _, token := range []models.RefreshToken{expired, alive} {
				_, err := repo.Save(t.Context(), token)
				require.NoError(t, err)
			}

			deleted, err := repo.DeleteExpired(t.Context(), mustParseTime("2021-01-01 00:00:00Z"))

			require.NoError(t, err)
			require.Equal(t, int64(1), deleted)

			_, err = repo.Get(t.Context(), "long-dead")
			require.ErrorIs(t, err, apperrors.ErrTokenNotFound)

			_, err = repo.Get(t.Context(), "still-alive")
			require.NoError(t, err)
		})
	})
}
