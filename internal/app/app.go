// Package app assembles the service graph from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/economy-engine/internal/api"
	"github.com/atmx/economy-engine/internal/config"
	"github.com/atmx/economy-engine/internal/ledger"
	"github.com/atmx/economy-engine/internal/levels"
	"github.com/atmx/economy-engine/internal/store"
	"github.com/atmx/economy-engine/internal/wire"
)

// Services is built once at startup and owns every long-lived component.
type Services struct {
	Store     store.Store
	Engine    *ledger.Engine
	Wires     *wire.Manager
	Directory *wire.Directory
	Hub       *api.Hub
	Router    http.Handler

	closers []func()
}

// New wires the service graph. Without DATABASE_URL the ledger runs on the
// in-memory store.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Services{}

	st, err := s.openStore(ctx, cfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Store = st

	var lookup levels.Lookup
	if cfg.LevelsURL != "" {
		lookup = levels.NewHTTPClient(cfg.LevelsURL, cfg.LevelsTimeout)
		logger.Info("level metadata lookups enabled", "url", cfg.LevelsURL)
	}

	s.Hub = api.NewHub(logger)
	s.Engine = ledger.New(st, cfg.Policy(), ledger.Options{
		Levels:    lookup,
		Publisher: s.Hub,
		Logger:    logger,
	})

	s.Directory = wire.NewDirectory()
	for _, id := range cfg.EntityIDs() {
		s.Directory.Register(wire.EntityRecipient(s.Engine, id, cfg.WireEntities[id], nil, nil))
	}
	s.Wires = wire.NewManager(cfg.WireTimeout, s.Hub, logger)
	s.closers = append(s.closers, s.Wires.Close)

	h := api.NewHandler(s.Engine, s.Wires, s.Directory, logger)
	s.Router = api.NewRouter(h, s.Hub, st)
	return s, nil
}

func (s *Services) openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), nil
	}

	pool, err := store.Connect(ctx, cfg.DatabaseURL, cfg.DB.MinConns, cfg.DB.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	s.closers = append(s.closers, pool.Close)
	logger.Info("connected to PostgreSQL", "max_conns", cfg.DB.MaxConns)

	if cfg.DB.AutoMigrate {
		if err := store.Migrate(ctx, pool); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied")
	}

	var st store.Store = store.NewPostgresStore(pool)
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		s.closers = append(s.closers, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		logger.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
	}
	return st, nil
}

// Close releases resources in reverse order of acquisition.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
