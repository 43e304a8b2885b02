package httpapi

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// spaHandler serves static files from a directory and falls back to its
// index.html for unknown paths, matching single-page-application routing.
type spaHandler struct {
	root  string
	files http.Handler
}

func newSPAHandler(root string) *spaHandler {
	return &spaHandler{root: root, files: http.FileServer(http.Dir(root))}
}

func (s *spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.NotFound(w, r)
		return
	}
	// API paths never fall back to the entry document.
	if strings.HasPrefix(r.URL.Path, "/api/") {
		http.NotFound(w, r)
		return
	}
	candidate := filepath.Join(s.root, filepath.Clean("/"+r.URL.Path))
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		s.files.ServeHTTP(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.root, "index.html"))
}
