package archive

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func TestExtractAll(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "Exercises.zip")
	writeZip(t, zipPath, map[string]string{
		"sheet1.pdf":           "one",
		"solutions/sheet1.pdf": "two",
	})

	destDir := filepath.Join(dir, "Exercises")
	require.NoError(t, NewManager().ExtractAll(context.Background(), zipPath, destDir))

	data, err := os.ReadFile(filepath.Join(destDir, "sheet1.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))

	data, err = os.ReadFile(filepath.Join(destDir, "solutions", "sheet1.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestExtractAll_MissingArchive(t *testing.T) {
	dir := t.TempDir()
	err := NewManager().ExtractAll(context.Background(), filepath.Join(dir, "nope.zip"), filepath.Join(dir, "out"))
	require.Error(t, err)
}
