package httpserver

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// staticHandler serves the bundled UI. Unknown non-API paths fall back
// to index.html so client-side routing works; traversal outside the
// static directory is rejected.
func (s *Server) staticHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/v1/") {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}

		root, err := filepath.Abs(s.cfg.StaticDir)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}

		rel := strings.TrimPrefix(filepath.Clean("/"+r.URL.Path), "/")
		if rel == "" {
			rel = "index.html"
		}
		target := filepath.Join(root, rel)
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}

		if info, err := os.Stat(target); err == nil && !info.IsDir() {
			http.ServeFile(w, r, target)
			return
		}

		index := filepath.Join(root, "index.html")
		if _, err := os.Stat(index); err == nil {
			http.ServeFile(w, r, index)
			return
		}
		writeError(w, http.StatusNotFound, "not_found")
	})
}
