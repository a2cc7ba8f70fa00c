package discover

import (
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// FolderServer serves a local static folder on an ephemeral port so its
// routes can be audited like a deployed site.
type FolderServer struct {
	BaseURL string
	server  *http.Server
	logger  *zap.Logger
}

// ServeFolder starts serving dir on 127.0.0.1 with an OS-assigned port.
func ServeFolder(dir string, logger *zap.Logger) (*FolderServer, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat folder: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen for folder server: %w", err)
	}

	srv := &http.Server{Handler: http.FileServer(http.Dir(dir))}
	f := &FolderServer{
		BaseURL: fmt.Sprintf("http://%s", ln.Addr().String()),
		server:  srv,
		logger:  logger,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("folder server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving folder", zap.String("dir", dir), zap.String("base_url", f.BaseURL))
	return f, nil
}

// Close stops the server.
func (f *FolderServer) Close() error {
	return f.server.Close()
}

// FolderRoutes lists the site routes a static folder exposes, derived from
// its .html files: index.html maps to its directory, other pages drop the
// extension.
func FolderRoutes(dir string) ([]string, error) {
	routes := map[string]bool{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".html") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		routes[routeFor(rel)] = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk folder: %w", err)
	}
	if len(routes) == 0 {
		return nil, fmt.Errorf("no .html pages under %s", dir)
	}

	out := make([]string, 0, len(routes))
	for r := range routes {
		out = append(out, r)
	}
	sort.Strings(out)
	return out, nil
}

func routeFor(rel string) string {
	r := "/" + filepath.ToSlash(rel)
	if strings.HasSuffix(r, "/index.html") {
		return strings.TrimSuffix(r, "index.html")
	}
	return r
}
