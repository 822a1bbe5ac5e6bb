package api

import (
	"net/http"
	"os"
	"path/filepath"
)

// assetHandler serves a file by base name from the first directory that has
// it.
type assetHandler struct {
	dirs []string
}

func newAssetHandler(dirs ...string) *assetHandler {
	return &assetHandler{dirs: dirs}
}

func (h *assetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(r.URL.Path)
	for _, dir := range h.dirs {
		path := filepath.Join(dir, filename)
		if fileExists(path) {
			http.ServeFile(w, r, path)
			return
		}
	}
	writeError(w, "Endpoint not found", http.StatusNotFound)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
