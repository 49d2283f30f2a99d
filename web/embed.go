// Package web ships the mentoring UI: one page with the key/model/step
// sidebar, the streaming chat pane and the step output panel. app.js talks
// to /api/mentor and /ws/mentor and tags every call with the tab's session
// header.
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

const shellFile = "index.html"

// serverPrefixes never fall back to the page; a miss there is a real 404.
var serverPrefixes = []string{"api/", "ws/"}

// SPAHandler serves the embedded assets. Any other path renders the page so
// links such as /steps/problem open on that step. The page itself is never
// cached so a redeploy picks up renamed assets immediately.
func SPAHandler() http.Handler {
	assets, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: missing dist: " + err.Error())
	}
	shell, err := fs.ReadFile(assets, shellFile)
	if err != nil {
		panic("web: missing " + shellFile + ": " + err.Error())
	}
	files := http.FileServer(http.FS(assets))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		for _, p := range serverPrefixes {
			if strings.HasPrefix(name+"/", p) {
				http.NotFound(w, r)
				return
			}
		}

		if name != "" && name != shellFile {
			if info, err := fs.Stat(assets, name); err == nil && !info.IsDir() {
				w.Header().Set("Cache-Control", "public, max-age=300")
				files.ServeHTTP(w, r)
				return
			}
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(shell); err != nil {
			slog.Debug("web: failed to write page", "path", r.URL.Path, "error", err)
		}
	})
}
