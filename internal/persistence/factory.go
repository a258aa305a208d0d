package persistence

import (
	"context"
	"fmt"

	"github.com/verax-io/verax/internal/audit"
	"github.com/verax-io/verax/internal/config"
	"github.com/verax-io/verax/internal/logger"
)

// NewStore creates an audit store based on configuration
func NewStore(ctx context.Context, cfg config.StoreConfig, log logger.Logger) (audit.Store, error) {
	switch cfg.Type {
	case "memory":
		log.Info("Using in-memory audit store")
		return NewMemoryStore(), nil
	case "badger":
		log.Info("Using BadgerDB audit store",
			logger.String("data_dir", cfg.DataDir),
			logger.Bool("sync_writes", cfg.SyncWrites))
		return NewBadgerStore(cfg.DataDir, cfg.SyncWrites, log)
	case "postgres":
		log.Info("Using PostgreSQL audit store")
		return NewPostgresStore(ctx, PostgresConfig{
			URL:             cfg.PostgresURL,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}
