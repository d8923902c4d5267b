package service

import (
	"fmt"
	"io"
	"time"

	"detectserver/internal/dto"
	"detectserver/internal/logger"
	"detectserver/internal/metrics"
	"detectserver/internal/model"
	"detectserver/internal/repository"
)

// Detector finds objects in an image file.
type Detector interface {
	Detect(imagePath string) ([]model.Detection, error)
}

// UploadStore names and persists raw uploads.
type UploadStore interface {
	StoredName(original string) string
	Save(storedName string, src io.Reader) (string, int64, error)
}

// RecordWriter persists detections per upload. Save returns nil when the write failed.
type RecordWriter interface {
	Save(detections []model.Detection, baseName string) []model.Detection
	Path(baseName string) string
}

// EventPublisher is notified of every processed upload.
type EventPublisher interface {
	Publish(event *dto.UploadEvent) error
}

// Manager runs the upload pipeline: store, detect, record. It never returns an error;
// every failure is folded into the Outcome.
type Manager struct {
	detector      Detector
	uploads       UploadStore
	records       RecordWriter
	uploadRepo    repository.UploadRepository
	detectionRepo repository.DetectionRepository
	publishers    []EventPublisher
	now           func() time.Time
	logger        *logger.Logger
}

func NewManager(detector Detector, uploads UploadStore, records RecordWriter, logger *logger.Logger) *Manager {
	return &Manager{
		detector: detector,
		uploads:  uploads,
		records:  records,
		now:      time.Now,
		logger:   logger,
	}
}

// SetCatalog enables best-effort cataloguing of processed uploads.
func (m *Manager) SetCatalog(uploadRepo repository.UploadRepository, detectionRepo repository.DetectionRepository) {
	m.uploadRepo = uploadRepo
	m.detectionRepo = detectionRepo
}

// AddPublisher registers p for upload events.
func (m *Manager) AddPublisher(p EventPublisher) {
	m.publishers = append(m.publishers, p)
}

// ProcessUpload stores src under a fresh name derived from originalName, runs detection
// on it and writes the detection record.
func (m *Manager) ProcessUpload(originalName string, src io.Reader) Outcome {
	start := m.now()
	out := Outcome{OriginalName: originalName, CreatedAt: start}

	out.StoredName = m.uploads.StoredName(originalName)
	path, size, err := m.uploads.Save(out.StoredName, src)
	if err != nil {
		return m.finish(out.fail(StageStore, err), start)
	}
	out.StoredPath = path
	out.FileSize = size

	detections, err := m.detect(path)
	if err != nil {
		return m.finish(out.fail(StageDetect, err), start)
	}

	if detections == nil {
		detections = []model.Detection{}
	}
	out.Detections = detections
	out.Status = StatusDetected
	if len(detections) == 0 {
		out.Status = StatusEmpty
	}

	if saved := m.records.Save(detections, out.StoredName); saved == nil {
		out.Stage = StageRecord
		out.Err = ErrRecordNotSaved
		metrics.RecordWriteFailures.Inc()
	} else {
		out.RecordPath = m.records.Path(out.StoredName)
	}

	return m.finish(out, start)
}

// detect runs the detector, turning a panic inside it into an error.
func (m *Manager) detect(path string) (detections []model.Detection, err error) {
	start := time.Now()
	defer func() {
		metrics.InferenceDuration.Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			detections, err = nil, fmt.Errorf("%w: %v", ErrDetectorPanic, r)
		}
	}()
	return m.detector.Detect(path)
}

// Reject accounts for a request that never delivered a file.
func (m *Manager) Reject(err error) Outcome {
	start := m.now()
	out := Outcome{CreatedAt: start}
	return m.finish(out.fail(StageReceive, err), start)
}

func (m *Manager) finish(out Outcome, start time.Time) Outcome {
	out.Duration = m.now().Sub(start)
	metrics.UploadRequests.WithLabelValues(out.Label()).Inc()

	switch {
	case out.Status == StatusFailed:
		m.logger.Error("Upload %q failed at %s stage: %v", out.OriginalName, out.Stage, out.Err)
	case out.Degraded():
		m.logger.Warning("Upload %s: %d detection(s) returned but %v", out.StoredName, len(out.Detections), out.Err)
	default:
		m.logger.Info("Upload %s: %s, %d detection(s) in %v", out.StoredName, out.Status, len(out.Detections), out.Duration)
	}

	if out.StoredPath != "" {
		m.catalog(out)
	}
	if out.Stage != StageReceive {
		m.publish(out)
	}
	return out
}

// catalog records out in the upload catalog. Failures are logged only.
func (m *Manager) catalog(out Outcome) {
	if m.uploadRepo == nil {
		return
	}

	upload := &model.Upload{
		StoredName:     out.StoredName,
		OriginalName:   out.OriginalName,
		StoredPath:     out.StoredPath,
		RecordPath:     out.RecordPath,
		FileSize:       out.FileSize,
		Outcome:        out.Label(),
		DetectionCount: len(out.Detections),
		CreatedAt:      out.CreatedAt,
	}
	id, err := m.uploadRepo.Insert(upload)
	if err != nil {
		m.logger.Error("Failed to catalog upload %s: %v", out.StoredName, err)
		return
	}

	if m.detectionRepo == nil || len(out.Detections) == 0 {
		return
	}
	if err := m.detectionRepo.InsertBatch(id, out.Detections); err != nil {
		m.logger.Error("Failed to catalog detections for %s: %v", out.StoredName, err)
	}
}

func (m *Manager) publish(out Outcome) {
	if len(m.publishers) == 0 {
		return
	}

	event := &dto.UploadEvent{
		StoredName:   out.StoredName,
		OriginalName: out.OriginalName,
		Outcome:      out.Label(),
		Result:       out.Result(),
		CreatedAt:    out.CreatedAt,
	}
	for _, p := range m.publishers {
		if err := p.Publish(event); err != nil {
			m.logger.Warning("Failed to publish event for %s: %v", out.StoredName, err)
		}
	}
}
