package redis

import (
	"context"

	"github.com/alem-hub/skillforge/internal/domain/catalog"
	"github.com/alem-hub/skillforge/internal/domain/shared"
	"github.com/alem-hub/skillforge/pkg/logger"
)

// CatalogReloader returns a handler that reloads cat from its repository when
// another process announces a catalog change. Envelopes stamped with self are
// ignored. Reloading bumps the local catalog version, so cached snapshots are
// rebuilt on next read.
func CatalogReloader(cat *catalog.Catalog, self string, log *logger.Logger) EnvelopeHandler {
	if log == nil {
		log = logger.Nop()
	}
	return func(ctx context.Context, env shared.EventEnvelope) {
		if env.Type != shared.EventCatalogChanged || env.Source == self {
			return
		}
		if err := cat.Load(ctx); err != nil {
			log.Error("catalog reload failed", logger.String("source", env.Source), logger.Err(err))
			return
		}
		log.Info("catalog reloaded after remote change",
			logger.String("source", env.Source),
			logger.String("aggregate_id", env.AggregateID),
			logger.Int64("catalog_version", cat.View().Version()),
		)
	}
}
