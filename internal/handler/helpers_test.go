package handler

import (
	"errors"
	"io"

	"detectserver/internal/logger"
	"detectserver/internal/model"
	"detectserver/internal/service"
)

type nopStore struct{}

func (nopStore) StoredName(original string) string { return original }

func (nopStore) Save(string, io.Reader) (string, int64, error) {
	return "", 0, errors.New("store disabled in tests")
}

type nopRecords struct{}

func (nopRecords) Save([]model.Detection, string) []model.Detection { return nil }
func (nopRecords) Path(string) string                               { return "" }

type nopDetector struct{}

func (nopDetector) Detect(string) ([]model.Detection, error) { return nil, nil }

func newRejectingManager(log *logger.Logger) *service.Manager {
	return service.NewManager(nopDetector{}, nopStore{}, nopRecords{}, log)
}
