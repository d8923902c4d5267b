package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/repository/sqlite"
	"detectserver/internal/route"
	"detectserver/internal/service"
	"detectserver/internal/service/ai"
	"detectserver/internal/service/events"
	"detectserver/internal/service/record"
	"detectserver/internal/service/storage"
	"detectserver/internal/service/websocket"
)

const shutdownTimeout = 10 * time.Second

// App owns every long-lived component. The detector is loaded exactly once, here.
type App struct {
	config        *config.Config
	logger        *logger.Logger
	detector      ai.Detector
	uploadStore   *storage.UploadStore
	records       *record.Writer
	db            *sqlite.DB
	uploadRepo    *sqlite.UploadRepository
	detectionRepo *sqlite.DetectionRepository
	natsPublisher *events.NATSPublisher
	hubService    *websocket.HubService
	manager       *service.Manager
}

// NewApp creates the working directories, loads the detection model and wires the
// upload pipeline. Catalog and NATS failures are logged and the features disabled.
func NewApp(cfg *config.Config, logger *logger.Logger) (*App, error) {
	for _, dir := range []string{cfg.UploadDirectory, cfg.OutputDirectory} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	detector, err := ai.NewDetector(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	a := &App{
		config:      cfg,
		logger:      logger,
		detector:    detector,
		uploadStore: storage.NewUploadStore(cfg, logger),
		records:     record.NewWriter(cfg, logger),
		hubService:  websocket.NewHubService(logger),
	}
	a.manager = service.NewManager(detector, a.uploadStore, a.records, logger)

	if cfg.DatabasePath != "" {
		if err := a.OpenCatalog(); err != nil {
			logger.Warning("Upload catalog disabled: %v", err)
		} else {
			a.manager.SetCatalog(a.uploadRepo, a.detectionRepo)
		}
	}

	if cfg.NATSURL != "" {
		nc, err := events.Connect(cfg.NATSURL)
		if err != nil {
			logger.Warning("Event publishing disabled: %v", err)
		} else {
			a.natsPublisher = events.NewNATSPublisher(nc, cfg.NATSSubject, 2)
			a.manager.AddPublisher(a.natsPublisher)
			logger.Info("Publishing upload events to %s on %s", cfg.NATSURL, cfg.NATSSubject)
		}
	}

	return a, nil
}

// OpenCatalog opens the SQLite upload catalog if it is not open yet.
func (a *App) OpenCatalog() error {
	if a.db != nil {
		return nil
	}

	db, err := sqlite.New(a.config.DatabasePath)
	if err != nil {
		return err
	}
	a.db = db
	a.uploadRepo = sqlite.NewUploadRepository(db)
	a.detectionRepo = sqlite.NewDetectionRepository(db)
	return nil
}

// Manager returns the upload pipeline.
func (a *App) Manager() *service.Manager {
	return a.manager
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	go a.hubService.Run()
	defer a.hubService.Stop()
	a.manager.AddPublisher(a.hubService)

	deps := route.Dependencies{
		Manager: a.manager,
		Hub:     a.hubService,
	}
	if a.db != nil {
		deps.UploadRepo = a.uploadRepo
		deps.DetectionRepo = a.detectionRepo
	}

	server := &http.Server{
		Addr:              a.config.Addr(),
		Handler:           route.SetupRoutes(deps, a.config, a.logger),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("🚀 Detection server listening on http://%s", server.Addr)
	a.logger.Info("🤖 Model: %s (%s)", a.config.ModelPath, a.config.DetectorBackend)
	a.logger.Info("📁 Uploads: %s, records: %s", a.config.UploadDirectory, a.config.OutputDirectory)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// Close releases the detector, the catalog and the NATS connection.
func (a *App) Close() error {
	var errs []error
	if err := a.detector.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close detector: %w", err))
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close catalog: %w", err))
		}
	}
	if a.natsPublisher != nil {
		if err := a.natsPublisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close nats: %w", err))
		}
	}
	return errors.Join(errs...)
}
