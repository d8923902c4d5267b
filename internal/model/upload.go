package model

import "time"

// Upload is the catalog entry for one processed upload.
type Upload struct {
	ID             int64     `json:"id"`
	StoredName     string    `json:"stored_name"`
	OriginalName   string    `json:"original_name"`
	StoredPath     string    `json:"stored_path"`
	RecordPath     string    `json:"record_path"`
	FileSize       int64     `json:"file_size"`
	Outcome        string    `json:"outcome"`
	DetectionCount int       `json:"detection_count"`
	CreatedAt      time.Time `json:"created_at"`
}
