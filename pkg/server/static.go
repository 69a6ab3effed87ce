package server

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// assetsCacheControl marks fingerprinted build assets as cacheable forever.
const assetsCacheControl = "max-age=31536000, public, immutable"

// spaHandler serves the frontend build. Paths that are not regular files
// fall back to index.html so client-side routes work on reload. Files under
// /assets/ are served with a long-lived cache header and never fall back.
type spaHandler struct {
	dir string
}

func (h spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clean := path.Clean("/" + r.URL.Path)
	full := filepath.Join(h.dir, filepath.FromSlash(clean))

	if strings.HasPrefix(clean, "/assets/") {
		if !isRegularFile(full) {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", assetsCacheControl)
		http.ServeFile(w, r, full)
		return
	}

	if !isRegularFile(full) {
		full = filepath.Join(h.dir, "index.html")
		if !isRegularFile(full) {
			http.NotFound(w, r)
			return
		}
	}
	http.ServeFile(w, r, full)
}

func isRegularFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
