package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/peter-kozarec/roundtrip/pkg/common"
	"github.com/peter-kozarec/roundtrip/pkg/data/duckdb"
	"github.com/peter-kozarec/roundtrip/pkg/pipeline"
)

// archivingSource copies every fill it loads into the DuckDB fills table.
type archivingSource struct {
	logger *zap.Logger
	source pipeline.FillSource
	store  *duckdb.Store
}

func (a *archivingSource) LoadFills(ctx context.Context) ([]common.Fill, error) {
	fills, err := a.source.LoadFills(ctx)
	if err != nil {
		return nil, err
	}

	inserted, err := a.store.InsertFills(ctx, fills)
	if err != nil {
		return nil, fmt.Errorf("unable to archive fills: %w", err)
	}
	a.logger.Info("fills archived", zap.Int("new", inserted), zap.Int("known", len(fills)-inserted))

	return fills, nil
}
