package integration

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/vmelnikov/tokenvault/internal/repository"
	"github.com/vmelnikov/tokenvault/internal/repository/postgres"
	"github.com/vmelnikov/tokenvault/internal/service/auth"
	"github.com/vmelnikov/tokenvault/internal/service/auth/tokenmanager"
)

// Services wired on a live database, the way the app wires them
type Services struct {
	Storage     repository.Storage
	AuthService *auth.AuthService
}

// Run builds the service stack on the pool and runs testFunc with it.
// Rotation opens its own serializable transactions, so the usual
// transaction-rollback isolation can't be used here; instead every table
// is truncated afterward to keep tests independent.
func Run(pool *pgxpool.Pool, t *testing.T, testFunc func(s Services)) {
	t.Helper()

	storage := postgres.NewStorage(pool)

	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		SecretKey:  "integration-secret-key",
		RefreshTTL: time.Hour,
	}, storage, nil)
	require.NoError(t, err)

	authService, err := auth.NewService(auth.Config{}, tokenManager, storage, nil)
	require.NoError(t, err)

	defer func() {
		_, err := pool.Exec(context.Background(), "TRUNCATE users CASCADE")
		require.NoError(t, err, "Error happened when cleaning tables after test")
	}()

	testFunc(Services{
		Storage:     storage,
		AuthService: authService,
	})
}
