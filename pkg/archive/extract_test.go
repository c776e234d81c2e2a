package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTarGz(t *testing.T, root string, files map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	path := filepath.Join(root, "archive.tar.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestExtract_TarGz_StripsLeadingComponent(t *testing.T) {
	root := t.TempDir()
	archivePath := buildTarGz(t, root, map[string]string{
		"cmake-3.28.0/bin/cmake":     "binary",
		"cmake-3.28.0/share/doc.txt": "docs",
	})

	dest := filepath.Join(root, "stage")
	require.NoError(t, Extract(context.Background(), archivePath, dest, 1))

	data, err := os.ReadFile(filepath.Join(dest, "bin", "cmake"))
	require.NoError(t, err)
	assert.Equal(t, "binary", string(data))
}

func buildZip(t *testing.T, root string, files map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	path := filepath.Join(root, "archive.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestExtract_Zip_NoStrip(t *testing.T) {
	root := t.TempDir()
	archivePath := buildZip(t, root, map[string]string{"ninja": "binary"})

	dest := filepath.Join(root, "stage")
	require.NoError(t, Extract(context.Background(), archivePath, dest, 0))

	data, err := os.ReadFile(filepath.Join(dest, "ninja"))
	require.NoError(t, err)
	assert.Equal(t, "binary", string(data))
}

func TestExtract_RejectsPathTraversal(t *testing.T) {
	root := t.TempDir()
	_, err := safeJoin(root, "../../etc/passwd")
	assert.Error(t, err)
}
