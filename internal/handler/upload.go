package handler

import (
	"errors"
	"fmt"
	"net/http"

	"detectserver/internal/config"
	"detectserver/internal/dto"
	"detectserver/internal/logger"
	"detectserver/internal/service"
)

// FormField is the multipart field carrying the uploaded image.
const FormField = "file"

var ErrNoFile = errors.New("no file in upload request")

var ErrUploadPanic = errors.New("upload pipeline panicked")

// UploadHandler accepts one image as multipart field "file", runs it through the
// pipeline and always answers 200 with {"result": [...]}. Any failure yields an
// empty result list.
func UploadHandler(manager *service.Manager, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes())
		defer removeMultipart(r, logger)

		outcome := receive(manager, r, logger)
		writeJSON(w, logger, http.StatusOK, dto.NewUploadResponse(outcome.Result()))
	}
}

// receive runs the pipeline for the request's file. A panic anywhere in it is
// reported as a failed outcome so the client still gets an answer.
func receive(manager *service.Manager, r *http.Request, logger *logger.Logger) (outcome service.Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Recovered from panic while handling upload: %v", rec)
			outcome = manager.Reject(fmt.Errorf("%w: %v", ErrUploadPanic, rec))
		}
	}()

	file, header, err := r.FormFile(FormField)
	if err != nil {
		return manager.Reject(fmt.Errorf("%w: %v", ErrNoFile, err))
	}
	defer file.Close()

	return manager.ProcessUpload(header.Filename, file)
}

func removeMultipart(r *http.Request, logger *logger.Logger) {
	if r.MultipartForm == nil {
		return
	}
	if err := r.MultipartForm.RemoveAll(); err != nil {
		logger.Warning("Could not remove multipart temp files: %v", err)
	}
}
