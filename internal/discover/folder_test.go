package discover

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writePage(t *testing.T, dir, rel string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("<html><body>page</body></html>"), 0o644))
}

func TestFolderRoutes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writePage(t, dir, "index.html")
	writePage(t, dir, "about.html")
	writePage(t, dir, "docs/index.html")
	writePage(t, dir, "docs/setup.html")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "style.css"), []byte("body{}"), 0o644))

	routes, err := FolderRoutes(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/about.html", "/docs/", "/docs/setup.html"}, routes)
}

func TestFolderRoutesEmptyFolder(t *testing.T) {
	t.Parallel()

	_, err := FolderRoutes(t.TempDir())
	require.Error(t, err)
}

func TestServeFolderServesPages(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writePage(t, dir, "index.html")

	srv, err := ServeFolder(dir, zap.NewNop())
	require.NoError(t, err)
	defer srv.Close()

	resp, err := http.Get(srv.BaseURL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "page")
}

func TestServeFolderRejectsFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "index.html")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := ServeFolder(file, zap.NewNop())
	require.Error(t, err)
}
