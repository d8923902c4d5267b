// UploadFilters narrow the upload catalog listing.
package dto

type UploadFilters struct {
	Outcome string
	Limit   int
	Offset  int
}
