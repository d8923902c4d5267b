// UploadsData is a paginated response payload for the upload catalog.
package dto

type UploadsData struct {
	Uploads     []UploadInfo `json:"uploads"`
	UploadsDir  string       `json:"uploadsDir"`
	Length      int          `json:"length"`
	TotalPages  int          `json:"totalPages"`
	CurrentPage int          `json:"currentPage"`
	Limit       int          `json:"pageSize"`
}
