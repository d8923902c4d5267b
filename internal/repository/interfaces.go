package repository

import (
	"detectserver/internal/dto"
	"detectserver/internal/model"
)

// UploadRepository defines the interface for upload catalog operations.
type UploadRepository interface {
	// Create operations
	Insert(upload *model.Upload) (int64, error)

	// Read operations
	GetByStoredName(storedName string) (*model.Upload, error)
	GetAll(filter *dto.UploadFilters) ([]model.Upload, error)
	GetTotalCount(filter *dto.UploadFilters) (int, error)
	Exists(storedName string) (bool, error)
}

// DetectionRepository defines the interface for catalogued detections.
type DetectionRepository interface {
	InsertBatch(uploadID int64, detections []model.Detection) error
	GetByUploadID(uploadID int64) ([]model.Detection, error)
}
