package webmonitor

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
)

//go:embed static
var staticFiles embed.FS

type assetHandler struct {
	overrideDir string
	embedded    http.Handler
}

// NewAssetHandler serves files from overrideDir when present, falling back
// to the stylesheet bundled with the binary. Mount it under StripPrefix.
func NewAssetHandler(overrideDir string) http.Handler {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	return &assetHandler{
		overrideDir: overrideDir,
		embedded:    http.FileServer(http.FS(sub)),
	}
}

func (h *assetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(r.URL.Path)
	if h.overrideDir != "" {
		overridePath := filepath.Join(h.overrideDir, filename)
		if fileExists(overridePath) {
			http.ServeFile(w, r, overridePath)
			return
		}
	}

	r2 := r.Clone(r.Context())
	r2.URL.Path = "/" + filename
	h.embedded.ServeHTTP(w, r2)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
