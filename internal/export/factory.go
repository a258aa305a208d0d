package export

import (
	"context"
	"fmt"

	"github.com/verax-io/verax/internal/audit"
	"github.com/verax-io/verax/internal/config"
	"github.com/verax-io/verax/internal/logger"
)

// NewSink creates the configured export sink. A disabled export section
// yields a nil exporter, which turns off cold storage export everywhere.
func NewSink(ctx context.Context, cfg config.ExportConfig, log logger.Logger) (audit.Exporter, error) {
	if !cfg.Enabled {
		log.Info("Cold storage export disabled")
		return nil, nil
	}

	switch cfg.Type {
	case "minio":
		return NewMinioSink(ctx, cfg, log)
	case "memory":
		log.Info("Using in-memory export sink", logger.String("prefix", cfg.Prefix))
		return NewMemorySink(cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("unsupported export sink type: %s", cfg.Type)
	}
}
