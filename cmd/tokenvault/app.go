package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vmelnikov/tokenvault/internal/db"
	"github.com/vmelnikov/tokenvault/internal/logger"
	"github.com/vmelnikov/tokenvault/internal/ratelimit"
	"github.com/vmelnikov/tokenvault/internal/repository/postgres"
	"github.com/vmelnikov/tokenvault/internal/service/auth"
	"github.com/vmelnikov/tokenvault/internal/service/auth/tokenmanager"
	"github.com/vmelnikov/tokenvault/internal/service/tokencleaner"
)

// App wires the token lifecycle services together. The HTTP surface is
// served elsewhere and talks to AuthService only.
type App struct {
	Logger      logger.Logger
	AuthService *auth.AuthService

	cleaner  *tokencleaner.Cleaner
	limiters []*ratelimit.Limiter
	close    func()
}

func NewApp(ctx context.Context, c *Config) (*App, error) {
	log, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	if c.DatabaseDSN == "" {
		return nil, errors.New("database DSN must be set")
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	storage := postgres.NewStorage(pool)

	tokenManager, err := tokenmanager.New(
		tokenmanager.Config{
			SecretKey:  c.SecretKey,
			AccessTTL:  c.AccessTTL,
			RefreshTTL: c.RefreshTTL,
		},
		storage,
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	loginLimiter := ratelimit.New(ratelimit.LoginLimit, ratelimit.DefaultWindow)
	refreshLimiter := ratelimit.New(ratelimit.RefreshLimit, ratelimit.DefaultWindow)

	authService, err := auth.NewService(auth.Config{
		LoginLimiter:   loginLimiter,
		RefreshLimiter: refreshLimiter,
	}, tokenManager, storage, log)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	cleaner, err := tokencleaner.New(
		tokencleaner.Config{Interval: c.CleanInterval},
		storage,
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("error while creating token cleaner. Err: %w", err)
	}

	return &App{
		Logger:      log,
		AuthService: authService,
		cleaner:     cleaner,
		limiters:    []*ratelimit.Limiter{loginLimiter, refreshLimiter},
		close:       pool.Close,
	}, nil
}

// Run blocks running the background jobs until the context is cancelled
func (a *App) Run(ctx context.Context) {
	a.Logger.Info("tokenvault started")

	go a.sweepLimiters(ctx)
	a.cleaner.Run(ctx)

	a.close()
	a.Logger.Info("tokenvault stopped")
}

func (a *App) sweepLimiters(ctx context.Context) {
	ticker := time.NewTicker(ratelimit.DefaultWindow)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, l := range a.limiters {
				l.Sweep()
			}
		}
	}
}
