package dto

import "detectserver/internal/model"

// UploadResponse is the body of every POST /upload reply.
type UploadResponse struct {
	Result []model.Detection `json:"result"`
}

// NewUploadResponse never yields a null result list.
func NewUploadResponse(detections []model.Detection) UploadResponse {
	if detections == nil {
		detections = []model.Detection{}
	}
	return UploadResponse{Result: detections}
}
