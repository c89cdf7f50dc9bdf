// Package catalog owns the layer_metadata table and the PostGIS system
// catalog lookups the ingestion pipeline depends on.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nabachouhan/gatishakti3.0/internal/db"
)

// NotifyChannel receives "<schema>.<table>" whenever a layer is reconciled.
const NotifyChannel = "layer_update"

var (
	ErrNoGeometry    = errors.New("no geometry column registered")
	ErrLayerNotFound = errors.New("layer metadata not found")
)

// Repository is the gorm-backed store for layer metadata. Every method takes a
// pooled connection for the duration of one statement or transaction only.
type Repository struct {
	db *gorm.DB
}

func NewRepository(d *gorm.DB) *Repository {
	return &Repository{db: d}
}

// LayerExists reports whether either the metadata row or the table exists.
func (r *Repository) LayerExists(ctx context.Context, schema, table string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&LayerMetadata{}).
		Where("department = ? AND layer_name = ?", schema, table).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("count layer metadata: %w", err)
	}
	if count > 0 {
		return true, nil
	}

	var exists bool
	if err := r.db.WithContext(ctx).
		Raw(`SELECT to_regclass(?) IS NOT NULL`, db.QuoteQualified(schema, table)).
		Row().Scan(&exists); err != nil {
		return false, fmt.Errorf("look up table %s.%s: %w", schema, table, err)
	}
	return exists, nil
}

// EnsureSchema creates the department schema if needed.
func (r *Repository) EnsureSchema(ctx context.Context, schema string) error {
	return db.EnsureSchema(r.db.WithContext(ctx), schema)
}

// DropTable removes the table and everything that depends on it.
func (r *Repository) DropTable(ctx context.Context, schema, table string) error {
	q := `DROP TABLE IF EXISTS ` + db.QuoteQualified(schema, table) + ` CASCADE`
	if err := r.db.WithContext(ctx).Exec(q).Error; err != nil {
		return fmt.Errorf("drop %s.%s: %w", schema, table, err)
	}
	return nil
}

// Describe reads srid and geometry type for one geometry column from geometry_columns.
func (r *Repository) Describe(ctx context.Context, schema, table, column string) (GeometryTableDescriptor, error) {
	var rows []GeometryTableDescriptor
	err := r.db.WithContext(ctx).Raw(`
		SELECT srid, type
		FROM geometry_columns
		WHERE f_table_schema = ? AND f_table_name = ? AND f_geometry_column = ?
	`, schema, table, column).Scan(&rows).Error
	if err != nil {
		return GeometryTableDescriptor{}, fmt.Errorf("read geometry_columns for %s.%s: %w", schema, table, err)
	}
	if len(rows) == 0 {
		return GeometryTableDescriptor{}, fmt.Errorf("%s.%s(%s): %w", schema, table, column, ErrNoGeometry)
	}
	return rows[0], nil
}

// Upsert inserts or refreshes the metadata row for m.Department/m.LayerName.
// srid and geometry_type are always overwritten; title and description only
// when provided. The transaction holds an advisory lock on the pair so other
// instances reconciling the same layer queue behind it.
func (r *Repository) Upsert(ctx context.Context, m *LayerMetadata) error {
	key := m.Department + "." + m.LayerName
	update := []string{"srid", "geometry_type"}
	if m.Title != nil {
		update = append(update, "title")
	}
	if m.Description != nil {
		update = append(update, "description")
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`SELECT pg_advisory_xact_lock(hashtext(?))`, key).Error; err != nil {
			return fmt.Errorf("advisory lock %s: %w", key, err)
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "department"}, {Name: "layer_name"}},
			DoUpdates: clause.AssignmentColumns(update),
		}).Create(m).Error; err != nil {
			return fmt.Errorf("upsert layer_metadata %s: %w", key, err)
		}
		if err := tx.Exec(`SELECT pg_notify(?, ?)`, NotifyChannel, key).Error; err != nil {
			return fmt.Errorf("notify %s: %w", key, err)
		}
		return nil
	})
}

// Get returns the metadata row for a layer.
func (r *Repository) Get(ctx context.Context, department, layer string) (*LayerMetadata, error) {
	var m LayerMetadata
	err := r.db.WithContext(ctx).
		First(&m, "department = ? AND layer_name = ?", department, layer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLayerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateInfo changes only the descriptive fields of an existing layer.
func (r *Repository) UpdateInfo(ctx context.Context, department, layer string, title, description *string) error {
	res := r.db.WithContext(ctx).Model(&LayerMetadata{}).
		Where("department = ? AND layer_name = ?", department, layer).
		Updates(map[string]any{"title": title, "description": description})
	if res.Error != nil {
		return fmt.Errorf("update layer info %s.%s: %w", department, layer, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLayerNotFound
	}
	return nil
}
