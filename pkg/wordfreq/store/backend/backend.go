// Package backend opens the store.Store selected by the configuration.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cognicore/wordfreq/internal/logging"
	"github.com/cognicore/wordfreq/pkg/wordfreq/config"
	"github.com/cognicore/wordfreq/pkg/wordfreq/internalerr"
	"github.com/cognicore/wordfreq/pkg/wordfreq/store"
	"github.com/cognicore/wordfreq/pkg/wordfreq/store/flatfile"
	"github.com/cognicore/wordfreq/pkg/wordfreq/store/memstore"
	"github.com/cognicore/wordfreq/pkg/wordfreq/store/postgres"
	"github.com/cognicore/wordfreq/pkg/wordfreq/store/redis"
	"github.com/cognicore/wordfreq/pkg/wordfreq/store/sqlite"
)

// Open returns the configured backend, ready for use.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	logger = logging.Component(logger, "store")

	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		var s *sqlite.Store
		if s, err = sqlite.OpenSQLite(ctx, cfg.StorePath()); err == nil {
			st = s
		}
	case config.BackendFlatFile:
		var s *flatfile.Store
		if s, err = flatfile.Open(cfg.StorePath(), logger); err == nil {
			st = s
		}
	case config.BackendMemory:
		st = memstore.New()
	case config.BackendPostgres:
		var s *postgres.Store
		if s, err = postgres.Open(ctx, postgres.Config{DSN: cfg.Store.DSN, Table: cfg.Store.Table}); err == nil {
			st = s
		}
	case config.BackendRedis:
		var s *redis.Store
		s, err = redis.Open(ctx, redis.Config{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			Key:      cfg.Store.Redis.Key,
		})
		if err == nil {
			st = s
		}
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", internalerr.ErrInvalidConfig, cfg.Store.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}

	switch cfg.Store.Backend {
	case config.BackendSQLite, config.BackendFlatFile:
		logger.Info("initialized database", "backend", cfg.Store.Backend, "path", cfg.StorePath())
	default:
		logger.Info("initialized database", "backend", cfg.Store.Backend)
	}
	return st, nil
}
