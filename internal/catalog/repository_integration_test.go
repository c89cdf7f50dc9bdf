package catalog_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nabachouhan/gatishakti3.0/internal/catalog"
	"github.com/nabachouhan/gatishakti3.0/internal/db"
	"github.com/nabachouhan/gatishakti3.0/internal/testinfra"
)

func setup(t *testing.T) (*catalog.Repository, string) {
	t.Helper()
	ctr := testinfra.PostGIS(t)
	ctx := context.Background()

	d, err := db.Connect(ctx, ctr.ConnString, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(d) })
	require.NoError(t, db.Migrate(ctx, d))

	repo := catalog.NewRepository(d)
	require.NoError(t, repo.EnsureSchema(ctx, "forest"))
	require.NoError(t, d.Exec(`CREATE TABLE forest.roads (gid serial PRIMARY KEY, geom geometry(MultiLineString, 4326))`).Error)
	return repo, ctr.ConnString
}

func TestRepositoryLifecycle(t *testing.T) {
	repo, _ := setup(t)
	ctx := context.Background()

	exists, err := repo.LayerExists(ctx, "forest", "roads")
	require.NoError(t, err)
	assert.True(t, exists, "table without metadata still counts")

	exists, err = repo.LayerExists(ctx, "forest", "rivers")
	require.NoError(t, err)
	assert.False(t, exists)

	desc, err := repo.Describe(ctx, "forest", "roads", "geom")
	require.NoError(t, err)
	assert.Equal(t, 4326, desc.SRID)
	assert.Equal(t, "MULTILINESTRING", desc.GeometryType)

	_, err = repo.Describe(ctx, "forest", "rivers", "geom")
	assert.ErrorIs(t, err, catalog.ErrNoGeometry)

	title := "Roads"
	require.NoError(t, repo.Upsert(ctx, &catalog.LayerMetadata{
		Department: "forest", LayerName: "roads", Title: &title, SRID: desc.SRID, GeometryType: desc.GeometryType,
	}))

	// Second upsert without a title keeps the stored one.
	require.NoError(t, repo.Upsert(ctx, &catalog.LayerMetadata{
		Department: "forest", LayerName: "roads", SRID: 3857, GeometryType: "MULTILINESTRING",
	}))
	m, err := repo.Get(ctx, "forest", "roads")
	require.NoError(t, err)
	assert.Equal(t, 3857, m.SRID)
	require.NotNil(t, m.Title)
	assert.Equal(t, "Roads", *m.Title)

	desc2 := "District roads"
	require.NoError(t, repo.UpdateInfo(ctx, "forest", "roads", &title, &desc2))
	assert.ErrorIs(t, repo.UpdateInfo(ctx, "forest", "rivers", &title, nil), catalog.ErrLayerNotFound)

	require.NoError(t, repo.DropTable(ctx, "forest", "roads"))
	require.NoError(t, repo.DropTable(ctx, "forest", "roads"), "drop is idempotent")
}

func TestUpsertNotifies(t *testing.T) {
	repo, connStr := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, connStr)
	require.NoError(t, err)
	defer conn.Close(context.Background())
	_, err = conn.Exec(ctx, "LISTEN "+catalog.NotifyChannel)
	require.NoError(t, err)

	require.NoError(t, repo.Upsert(ctx, &catalog.LayerMetadata{
		Department: "forest", LayerName: "roads", SRID: 4326, GeometryType: "MULTILINESTRING",
	}))

	n, err := conn.WaitForNotification(ctx)
	require.NoError(t, err)
	assert.Equal(t, "forest.roads", n.Payload)
}
