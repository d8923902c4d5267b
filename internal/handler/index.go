package handler

import (
	"net/http"
	"os"

	"detectserver/internal/config"
)

// IndexHandler serves the upload page. A missing page is a deployment error and yields 404.
func IndexHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := os.Stat(cfg.IndexPath); os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		http.ServeFile(w, r, cfg.IndexPath)
	}
}
