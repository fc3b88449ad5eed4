package handlers

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static
var staticFiles embed.FS

// StaticHandler serves the embedded browser client: "/" returns index.html
// and "/static/" serves the remaining assets.
type StaticHandler struct{}

func (h StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeCoreErrorJSON(w, requestIDFromContext(r.Context()), methodNotAllowed(), http.StatusMethodNotAllowed)
		return
	}
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		http.Error(w, "static assets unavailable", http.StatusInternalServerError)
		return
	}
	if r.URL.Path == "/" {
		http.ServeFileFS(w, r, sub, "index.html")
		return
	}
	http.StripPrefix("/static/", http.FileServerFS(sub)).ServeHTTP(w, r)
}
