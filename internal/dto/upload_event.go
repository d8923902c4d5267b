package dto

import (
	"time"

	"detectserver/internal/model"
)

// UploadEvent is broadcast to live viewers and published to NATS after each upload.
type UploadEvent struct {
	StoredName   string            `json:"stored_name"`
	OriginalName string            `json:"original_name"`
	Outcome      string            `json:"outcome"`
	Result       []model.Detection `json:"result"`
	CreatedAt    time.Time         `json:"created_at"`
}
