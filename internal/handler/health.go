package handler

import (
	"net/http"

	"detectserver/internal/config"
	"detectserver/internal/logger"
)

// HealthHandler reports liveness and the configured detector backend.
func HealthHandler(cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, map[string]string{
			"status":  "ok",
			"backend": cfg.DetectorBackend,
		})
	}
}
