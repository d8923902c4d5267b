package dto

import (
	"encoding/json"
	"time"

	"detectserver/internal/model"
)

// UploadInfo is one catalog row as shown to clients.
type UploadInfo struct {
	Name       string            `json:"name"`
	Original   string            `json:"original"`
	Record     string            `json:"record"`
	Outcome    string            `json:"outcome"`
	Count      int               `json:"count"`
	Date       time.Time         `json:"date"`
	TimeOfDay  time.Time         `json:"timeOfDay"`
	Detections []model.Detection `json:"detections,omitempty"`
}

// MarshalJSON customizes JSON output for UploadInfo to format date and time-of-day.
func (p UploadInfo) MarshalJSON() ([]byte, error) {
	type Alias UploadInfo
	return json.Marshal(&struct {
		Date      string `json:"date"`
		TimeOfDay string `json:"timeOfDay"`
		Alias
	}{
		Date:      p.Date.Format("02-01-2006"),
		TimeOfDay: p.TimeOfDay.Format("15:04:05"),
		Alias:     (Alias)(p),
	})
}
