package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepCommand(t *testing.T) {
	scratch := t.TempDir()
	stale := filepath.Join(scratch, uuid.NewString())
	require.NoError(t, os.Mkdir(stale, 0o700))
	old := time.Now().Add(-24 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	t.Setenv("GEOINGEST_CONFIG", "")
	t.Setenv("DATABASE_URL", "postgres://unused@localhost/gis")
	t.Setenv("SCRATCH_DIR", scratch)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"sweep"})
	require.NoError(t, root.Execute())

	assert.Equal(t, "removed 1 workspace(s)\n", out.String())
	assert.NoDirExists(t, stale)
}

func TestIngestRequiresSRID(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"ingest", "forest", "roads", "roads.zip"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "srid")
}

func TestIngestRejectsUnknownMode(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"ingest", "--srid", "4326", "--mode", "append", "forest", "roads", "roads.zip"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown load mode "append"`)
}
