package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"detectserver/internal/logger"
	"detectserver/internal/model"
	"detectserver/internal/repository"
	"detectserver/internal/service/record"
)

// RecordReader loads detection records by stem.
type RecordReader interface {
	Read(stem string) ([]model.Detection, error)
	Dir() string
}

// ReindexResult summarizes one Reindex run.
type ReindexResult struct {
	Inserted int
	Existing int
	Skipped  int
}

// Reindexer rebuilds the upload catalog from the record and upload directories.
type Reindexer struct {
	uploadDir     string
	records       RecordReader
	uploadRepo    repository.UploadRepository
	detectionRepo repository.DetectionRepository
	logger        *logger.Logger
}

func NewReindexer(uploadDir string, records RecordReader, uploadRepo repository.UploadRepository,
	detectionRepo repository.DetectionRepository, logger *logger.Logger) *Reindexer {
	return &Reindexer{
		uploadDir:     uploadDir,
		records:       records,
		uploadRepo:    uploadRepo,
		detectionRepo: detectionRepo,
		logger:        logger,
	}
}

// Run catalogues every record that has a matching upload and is not catalogued yet.
// Records without an upload, or that cannot be parsed, are skipped.
func (r *Reindexer) Run() (ReindexResult, error) {
	var result ReindexResult

	uploads, err := r.uploadsByStem()
	if err != nil {
		return result, err
	}

	files, err := os.ReadDir(r.records.Dir())
	if err != nil {
		return result, fmt.Errorf("read record directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != record.Extension {
			continue
		}
		stem := strings.TrimSuffix(file.Name(), record.Extension)

		upload, ok := uploads[stem]
		if !ok {
			r.logger.Warning("Skipping %s: no upload with stem %q", file.Name(), stem)
			result.Skipped++
			continue
		}

		exists, err := r.uploadRepo.Exists(upload.Name())
		if err != nil {
			return result, err
		}
		if exists {
			result.Existing++
			continue
		}

		detections, err := r.records.Read(stem)
		if err != nil {
			r.logger.Warning("Skipping %s: %v", file.Name(), err)
			result.Skipped++
			continue
		}

		if err := r.insert(upload, filepath.Join(r.records.Dir(), file.Name()), detections); err != nil {
			return result, err
		}
		result.Inserted++
	}

	r.logger.Info("Reindex finished: %d inserted, %d already catalogued, %d skipped",
		result.Inserted, result.Existing, result.Skipped)
	return result, nil
}

func (r *Reindexer) insert(upload os.DirEntry, recordPath string, detections []model.Detection) error {
	info, err := upload.Info()
	if err != nil {
		return fmt.Errorf("stat upload %s: %w", upload.Name(), err)
	}

	status := StatusDetected
	if len(detections) == 0 {
		status = StatusEmpty
	}

	id, err := r.uploadRepo.Insert(&model.Upload{
		StoredName:     upload.Name(),
		OriginalName:   originalName(upload.Name()),
		StoredPath:     filepath.Join(r.uploadDir, upload.Name()),
		RecordPath:     recordPath,
		FileSize:       info.Size(),
		Outcome:        string(status),
		DetectionCount: len(detections),
		CreatedAt:      storedTime(upload.Name(), info.ModTime()),
	})
	if err != nil {
		return err
	}

	if r.detectionRepo == nil || len(detections) == 0 {
		return nil
	}
	return r.detectionRepo.InsertBatch(id, detections)
}

// uploadsByStem maps record stems to upload files. When several uploads share a
// stem the last one in directory order wins, matching the record that overwrote.
func (r *Reindexer) uploadsByStem() (map[string]os.DirEntry, error) {
	files, err := os.ReadDir(r.uploadDir)
	if err != nil {
		return nil, fmt.Errorf("read upload directory: %w", err)
	}

	byStem := make(map[string]os.DirEntry, len(files))
	for _, file := range files {
		if !file.IsDir() {
			byStem[record.Stem(file.Name())] = file
		}
	}
	return byStem, nil
}

// timestampDigits is the width of a Unix-nanosecond prefix for any date in 2001-2286.
const timestampDigits = 19

func splitStoredName(name string) (int64, string, bool) {
	if len(name) < timestampDigits {
		return 0, name, false
	}
	nanos, err := strconv.ParseInt(name[:timestampDigits], 10, 64)
	if err != nil {
		return 0, name, false
	}
	return nanos, name[timestampDigits:], true
}

func originalName(storedName string) string {
	_, original, _ := splitStoredName(storedName)
	return original
}

func storedTime(storedName string, fallback time.Time) time.Time {
	if nanos, _, ok := splitStoredName(storedName); ok {
		return time.Unix(0, nanos)
	}
	return fallback
}
