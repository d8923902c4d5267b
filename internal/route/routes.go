package route

import (
	"net/http"
	"path/filepath"

	"detectserver/internal/config"
	"detectserver/internal/handler"
	"detectserver/internal/logger"
	"detectserver/internal/middleware"
	"detectserver/internal/repository"
	"detectserver/internal/service"
	"detectserver/internal/service/websocket"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies are the services the HTTP layer is built on. Hub, UploadRepo and
// DetectionRepo may be nil when the corresponding feature is disabled.
type Dependencies struct {
	Manager       *service.Manager
	Hub           *websocket.HubService
	UploadRepo    repository.UploadRepository
	DetectionRepo repository.DetectionRepository
}

// SetupRoutes registers the page, upload, record, catalog and operational endpoints
// and wraps them with request logging and metrics.
func SetupRoutes(deps Dependencies, cfg *config.Config, logger *logger.Logger) http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.RequestLogger(logger), middleware.Metrics)

	// Page and static assets next to it
	router.HandleFunc("/", handler.IndexHandler(cfg)).Methods(http.MethodGet, http.MethodHead)
	staticDir := filepath.Dir(cfg.IndexPath)
	router.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))

	// Upload pipeline and its records
	router.HandleFunc("/upload", handler.UploadHandler(deps.Manager, cfg, logger)).Methods(http.MethodPost)
	router.HandleFunc("/records/{stem}", handler.RecordHandler(cfg)).Methods(http.MethodGet)

	// API endpoints
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/uploads", handler.GetUploadsHandler(cfg, logger, deps.UploadRepo)).Methods(http.MethodGet)
	api.HandleFunc("/uploads/{name}", handler.GetUploadHandler(logger, deps.UploadRepo, deps.DetectionRepo)).Methods(http.MethodGet)
	if deps.Hub != nil {
		api.HandleFunc("/events", handler.EventsWebsocketHandler(deps.Hub, logger)).Methods(http.MethodGet)
	}

	// Operational endpoints
	router.HandleFunc("/health", handler.HealthHandler(cfg, logger)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/logs/{level:info|warning|error}", handler.ShowLogsHandler(logger)).Methods(http.MethodGet)
	router.HandleFunc("/logs/{level:info|warning|error}/clear", handler.ClearLogsHandler(logger)).Methods(http.MethodPost)

	return router
}
