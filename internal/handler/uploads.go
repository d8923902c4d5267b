package handler

import (
	"net/http"
	"strconv"

	"detectserver/internal/config"
	"detectserver/internal/dto"
	"detectserver/internal/logger"
	"detectserver/internal/model"
	"detectserver/internal/repository"

	"github.com/gorilla/mux"
)

const (
	defaultPage  = 1
	defaultLimit = 24
)

// GetUploadsHandler returns a page of the upload catalog, newest first, optionally
// filtered by outcome via ?status=.
func GetUploadsHandler(cfg *config.Config, logger *logger.Logger, uploadRepo repository.UploadRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if uploadRepo == nil {
			http.Error(w, "Upload catalog disabled", http.StatusServiceUnavailable)
			return
		}

		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), defaultPage)
		limit := atoiDefault(q.Get("limit"), defaultLimit)

		filter := &dto.UploadFilters{
			Outcome: q.Get("status"),
			Limit:   limit,
			Offset:  (page - 1) * limit,
		}

		uploads, err := uploadRepo.GetAll(filter)
		if err != nil {
			logger.Error("Error querying uploads from database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		totalCount, err := uploadRepo.GetTotalCount(filter)
		if err != nil {
			logger.Error("Error counting uploads: %v", err)
			totalCount = len(uploads)
		}

		infos := make([]dto.UploadInfo, 0, len(uploads))
		for _, upload := range uploads {
			infos = append(infos, uploadInfo(upload, nil))
		}

		writeJSON(w, logger, http.StatusOK, dto.UploadsData{
			Uploads:     infos,
			UploadsDir:  cfg.UploadDirectory,
			Length:      totalCount,
			TotalPages:  (totalCount + limit - 1) / limit,
			CurrentPage: page,
			Limit:       limit,
		})
	}
}

// GetUploadHandler returns one catalogued upload with its detections.
func GetUploadHandler(logger *logger.Logger, uploadRepo repository.UploadRepository,
	detectionRepo repository.DetectionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if uploadRepo == nil {
			http.Error(w, "Upload catalog disabled", http.StatusServiceUnavailable)
			return
		}

		name := mux.Vars(r)["name"]
		upload, err := uploadRepo.GetByStoredName(name)
		if err != nil {
			logger.Error("Error loading upload %s: %v", name, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if upload == nil {
			http.NotFound(w, r)
			return
		}

		detections := []model.Detection{}
		if detectionRepo != nil {
			detections, err = detectionRepo.GetByUploadID(upload.ID)
			if err != nil {
				logger.Error("Error getting detections for upload %d: %v", upload.ID, err)
				detections = []model.Detection{}
			}
		}

		writeJSON(w, logger, http.StatusOK, uploadInfo(*upload, detections))
	}
}

func uploadInfo(upload model.Upload, detections []model.Detection) dto.UploadInfo {
	return dto.UploadInfo{
		Name:       upload.StoredName,
		Original:   upload.OriginalName,
		Record:     upload.RecordPath,
		Outcome:    upload.Outcome,
		Count:      upload.DetectionCount,
		Date:       upload.CreatedAt,
		TimeOfDay:  upload.CreatedAt,
		Detections: detections,
	}
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}
