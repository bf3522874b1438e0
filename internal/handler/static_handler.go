package handler

import (
	"net/http"
	"path/filepath"

	"github.com/gorilla/mux"
)

// StaticHandler serves the browser call simulator and its assets.
type StaticHandler struct {
	staticDir string
}

// NewStaticHandler creates a static file handler rooted at staticDir.
func NewStaticHandler(staticDir string) *StaticHandler {
	return &StaticHandler{staticDir: staticDir}
}

// SetupStaticRoutes registers the simulator page and the asset prefix.
func (h *StaticHandler) SetupStaticRoutes(router *mux.Router) {
	router.HandleFunc("/simulator", h.serveSimulator).Methods(http.MethodGet)
	router.PathPrefix("/static/").Handler(
		http.StripPrefix("/static/", http.FileServer(http.Dir(h.staticDir))))
}

func (h *StaticHandler) serveSimulator(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(h.staticDir, "simulator.html"))
}
