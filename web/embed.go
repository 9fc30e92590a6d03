// Package web embeds the practice page (dist/).
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// reservedPrefixes belong to the server. A miss under them is a 404, not the page.
var reservedPrefixes = []string{"/api/", "/ws/"}

// PracticePage serves the embedded practice page and its assets. Any other
// path renders the page so the client can route it. The page is never
// cached so a deploy is picked up on the next load.
func PracticePage() http.Handler {
	pages, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: embedded dist missing: " + err.Error())
	}
	files := http.FileServer(http.FS(pages))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range reservedPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				http.NotFound(w, r)
				return
			}
		}

		name := strings.TrimPrefix(r.URL.Path, "/")
		if name != "" && name != "index.html" && exists(pages, name) {
			files.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Cache-Control", "no-cache")
		r.URL.Path = "/"
		files.ServeHTTP(w, r)
	})
}

func exists(fsys fs.FS, name string) bool {
	f, err := fsys.Open(name)
	if err != nil {
		return false
	}
	if err := f.Close(); err != nil {
		slog.Debug("web: failed to close embedded file", "path", name, "error", err)
	}
	return true
}
