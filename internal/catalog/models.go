package catalog

import "time"

// LayerMetadata is the catalog record for one loaded layer. The pair
// (Department, LayerName) is unique and always lower-case.
type LayerMetadata struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	Department   string    `gorm:"not null" json:"department"`
	LayerName    string    `gorm:"not null" json:"layer_name"`
	Title        *string   `json:"title"`
	Description  *string   `json:"description"`
	SRID         int       `gorm:"column:srid" json:"srid"`
	GeometryType string    `gorm:"column:geometry_type" json:"geometry_type"`
	CreatedAt    time.Time `json:"created_at"`
}

func (LayerMetadata) TableName() string { return "layer_metadata" }

// GeometryTableDescriptor is what PostGIS reports for a table's geometry column.
type GeometryTableDescriptor struct {
	SRID         int    `gorm:"column:srid"`
	GeometryType string `gorm:"column:type"`
}
