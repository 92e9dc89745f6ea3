package postgres

import (
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/vmelnikov/tokenvault/internal/apperrors"
	"github.com/vmelnikov/tokenvault/internal/models"
	"github.com/vmelnikov/tokenvault/internal/repository"
	"github.com/vmelnikov/tokenvault/internal/testutil"
)

func Test_UserRepo(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	arg := repository.CreateUserParams{
		Username:       "alice",
		FirstName:      "Alice",
		LastName:       "Liddell",
		PhoneNumber:    "+15550100",
		HashedPassword: "hash",
		Role:           models.RoleUser,
	}

	t.Run("create user ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := UserRepo{DB: tx}

			user, err := repo.CreateUser(t.Context(), arg)

			require.NoError(t, err)
			require.NotEqual(t, uuid.Nil, user.ID, "id must be assigned")
			require.Equal(t, "alice", user.Username)
			require.Equal(t, "Alice", user.FirstName)
			require.Equal(t, "Liddell", user.LastName)
			require.Equal(t, "+15550100", user.PhoneNumber)
			require.Equal(t, "hash", user.HashedPassword)
			require.Equal(t, models.RoleUser, user.Role)
			require.False(t, user.CreatedAt.IsZero())
			require.False(t, user.UpdatedAt.IsZero())
		})
	})

	t.Run("create duplicate username fails", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := UserRepo{DB: tx}

			_, err := repo.CreateUser(t.Context(), arg)
			require.NoError(t, err)

			_, err = repo.CreateUser(t.Context(), arg)

			require.Error(t, err)
			require.ErrorIs(t, err, apperrors.ErrUserAlreadyExists)
		})
	})

	t.Run("get user by id", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := UserRepo{DB: tx}
			created, err := repo.CreateUser(t.Context(), arg)
			require.NoError(t, err)

			got, err := repo.GetUserByID(t.Context(), created.ID)

			require.NoError(t, err)
			require.Equal(t, created.ID, got.ID)
			require.Equal(t, created.Username, got.Username)
		})
	})

	t.Run("get user by username", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := UserRepo{DB: tx}
			created, err := repo.CreateUser(t.Context(), arg)
			require.NoError(t, err)

			got, err := repo.GetUserByUsername(t.Context(), "alice")

			require.NoError(t, err)
			require.Equal(t, created.ID, got.ID)
		})
	})

	t.Run("get not existed user", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := UserRepo{DB: tx}

			_, err := repo.GetUserByID(t.Context(), uuid.New())
			require.ErrorIs(t, err, apperrors.ErrUserNotFound)

			_, err = repo.GetUserByUsername(t.Context(), "nobody")
			require.ErrorIs(t, err, apperrors.ErrUserNotFound)
		})
	})

	t.Run("deleting user cascades to tokens", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			users := UserRepo{DB: tx}
			tokens := RefreshTokenRepo{DB: tx}

			user, err := users.CreateUser(t.Context(), arg)
			require.NoError(t, err)
			_, err = tokens.Save(t.Context(), newToken(user.ID, "cascade-me"))
			require.NoError(t, err)

			_, err = tx.Exec(t.Context(), "DELETE FROM users WHERE id = $1", user.ID)
			require.NoError(t, err)

			_, err = tokens.Get(t.Context(), "cascade-me")
			require.ErrorIs(t, err, apperrors.ErrTokenNotFound, "tokens must be cascade deleted with the user")
		})
	})
}
