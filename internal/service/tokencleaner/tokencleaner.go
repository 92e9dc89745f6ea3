package tokencleaner

import (
	"context"
	"errors"
	"time"

	"github.com/vmelnikov/tokenvault/internal/logger"
	"github.com/vmelnikov/tokenvault/internal/repository"
)

const (
	defaultInterval = time.Hour

	// How long expired rows are kept around. The replacement chain of a
	// session stays inspectable for a while after the session dies.
	defaultRetention = 30 * 24 * time.Hour
)

type Config struct {
	// How often to sweep, defaultInterval if zero
	Interval time.Duration

	// Expired tokens younger than this are kept, defaultRetention if zero
	Retention time.Duration
}

// Cleaner periodically deletes refresh tokens that expired long ago.
// This is the administrative purge: revocation never deletes rows.
type Cleaner struct {
	storage   repository.Storage
	logger    logger.Logger
	interval  time.Duration
	retention time.Duration
}

func New(cfg Config, storage repository.Storage, l logger.Logger) (*Cleaner, error) {
	if storage == nil {
		return nil, errors.New("storage must not be nil")
	}

	if cfg.Interval == 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Retention == 0 {
		cfg.Retention = defaultRetention
	}

	if l == nil {
		l = logger.NewNoOp()
	}

	return &Cleaner{
		storage:   storage,
		logger:    l,
		interval:  cfg.Interval,
		retention: cfg.Retention,
	}, nil
}

// Run sweeps on a ticker until the context is cancelled
func (c *Cleaner) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.CleanOnce(ctx); err != nil {
				c.logger.Error("token cleanup failed", "error", err.Error())
			}
		}
	}
}

// CleanOnce deletes tokens that expired more than the retention ago
func (c *Cleaner) CleanOnce(ctx context.Context) error {
	olderThan := time.Now().Add(-c.retention)

	deleted, err := c.storage.RefreshToken().DeleteExpired(ctx, olderThan)
	if err != nil {
		return err
	}

	if deleted > 0 {
		c.logger.Info("expired refresh tokens purged", "deleted", deleted)
	}

	return nil
}
