package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalEncoding(t *testing.T) {
	tests := map[string]string{
		"UTF-8":      "UTF-8",
		"utf8":       "UTF-8",
		"65001":      "UTF-8",
		"1252":       "WINDOWS-1252",
		"ISO-8859-1": "WINDOWS-1252",
		"GBK":        "GBK",
		"GB-18030":   "GB18030",
		" cp1251 ":   "WINDOWS-1251",
	}
	for in, want := range tests {
		got, ok := canonicalEncoding(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "klingon"} {
		_, ok := canonicalEncoding(bad)
		assert.False(t, ok, bad)
	}
}

func TestDetectEncodingPrefersCPG(t *testing.T) {
	dir := t.TempDir()
	files := writeShapefile(t, dir, "roads")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "roads.cpg"), []byte("1252\r\n"), 0o600))

	assert.Equal(t, "WINDOWS-1252", DetectEncoding(files[0], discardLogger()))
}

func TestDetectEncodingSamplesDBF(t *testing.T) {
	dir := t.TempDir()
	files := writeShapefile(t, dir, "roads")
	assert.Equal(t, "UTF-8", DetectEncoding(files[0], discardLogger()))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "roads.cpg"), []byte("klingon"), 0o600))
	assert.Equal(t, "UTF-8", DetectEncoding(files[0], discardLogger()))
}
