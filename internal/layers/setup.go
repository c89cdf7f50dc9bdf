package layers

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gorm.io/gorm"

	"github.com/nabachouhan/gatishakti3.0/internal/catalog"
	"github.com/nabachouhan/gatishakti3.0/internal/config"
	"github.com/nabachouhan/gatishakti3.0/internal/db"
	"github.com/nabachouhan/gatishakti3.0/internal/ingest"
)

// Init migrates the catalog, prepares the scratch directory and builds the
// ingestion pipeline on top of d.
func Init(ctx context.Context, d *gorm.DB, cfg *config.Config, log *slog.Logger) (*ingest.Pipeline, error) {
	if err := db.Migrate(ctx, d); err != nil {
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	if err := os.MkdirAll(cfg.ScratchDir, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	return ingest.New(catalog.NewRepository(d), ingest.Options{
		ScratchDir:      cfg.ScratchDir,
		MaxUploadBytes:  cfg.MaxUploadBytes,
		MaxExtractBytes: cfg.MaxExtractBytes,
		Loader: ingest.LoaderConfig{
			Shp2pgsqlPath:  cfg.Shp2pgsqlPath,
			PsqlPath:       cfg.PsqlPath,
			DatabaseURL:    cfg.DatabaseURL,
			SSLMode:        cfg.PGSSLMode,
			GeometryColumn: cfg.GeometryColumn,
			Timeout:        cfg.LoadTimeout,
			MaxConcurrent:  cfg.MaxConcurrentLoads,
		},
		Logger: log,
	})
}
