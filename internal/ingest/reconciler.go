package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nabachouhan/gatishakti3.0/internal/catalog"
	"github.com/nabachouhan/gatishakti3.0/internal/retry"
)

type reconcilerStore interface {
	Describe(ctx context.Context, schema, table, column string) (catalog.GeometryTableDescriptor, error)
	Upsert(ctx context.Context, m *catalog.LayerMetadata) error
}

// Reconciler records what PostGIS registered for a freshly loaded table in
// layer_metadata. It only runs after a successful load.
type Reconciler struct {
	store          reconcilerStore
	geometryColumn string
	retry          *retry.Executor
	log            *slog.Logger
}

func NewReconciler(store reconcilerStore, geometryColumn string, log *slog.Logger) *Reconciler {
	return &Reconciler{
		store:          store,
		geometryColumn: geometryColumn,
		retry:          retry.Default(),
		log:            log,
	}
}

func (r *Reconciler) Reconcile(ctx context.Context, table TableName, req Request) (catalog.GeometryTableDescriptor, error) {
	desc, err := r.store.Describe(ctx, table.Schema, table.Table, r.geometryColumn)
	if errors.Is(err, catalog.ErrNoGeometry) {
		return desc, fmt.Errorf("%w: %s", ErrGeometryNotFound, table)
	}
	if err != nil {
		return desc, fmt.Errorf("reconcile %s: %w", table, err)
	}

	m := &catalog.LayerMetadata{
		Department:   table.Schema,
		LayerName:    table.Table,
		Title:        req.Title,
		Description:  req.Description,
		SRID:         desc.SRID,
		GeometryType: desc.GeometryType,
	}
	err = r.retry.WithOnRetry(func(attempt int, err error, _ time.Duration) {
		r.log.Warn("metadata upsert retry", "attempt", attempt+1, "error", err)
	}).Execute(ctx, func(ctx context.Context) error {
		return r.store.Upsert(ctx, m)
	})
	if err != nil {
		return desc, fmt.Errorf("reconcile %s: %w", table, err)
	}
	return desc, nil
}
