package service

import (
	"errors"
	"time"

	"detectserver/internal/model"
)

// Status is the overall result of one upload pipeline run.
type Status string

const (
	StatusDetected Status = "detected"
	StatusEmpty    Status = "empty"
	StatusFailed   Status = "failed"
)

// Stage names the pipeline step an error came from.
type Stage string

const (
	StageNone    Stage = ""
	StageReceive Stage = "receive"
	StageStore   Stage = "store"
	StageDetect  Stage = "detect"
	StageRecord  Stage = "record"
)

// ErrRecordNotSaved marks an outcome whose detections could not be written to disk.
var ErrRecordNotSaved = errors.New("detection record not saved")

// ErrDetectorPanic wraps a panic recovered from the detector.
var ErrDetectorPanic = errors.New("detector panicked")

// Outcome describes what happened to one upload. A failed record write keeps the
// detected/empty status; Stage and Err then report the record failure.
type Outcome struct {
	Status       Status
	Stage        Stage
	Err          error
	OriginalName string
	StoredName   string
	StoredPath   string
	RecordPath   string
	FileSize     int64
	Detections   []model.Detection
	CreatedAt    time.Time
	Duration     time.Duration
}

func (o Outcome) fail(stage Stage, err error) Outcome {
	o.Status = StatusFailed
	o.Stage = stage
	o.Err = err
	o.Detections = nil
	return o
}

// Result is the detection list returned to clients: the detections for any run that
// got past inference, an empty list otherwise.
func (o Outcome) Result() []model.Detection {
	if o.Status == StatusFailed || o.Detections == nil {
		return []model.Detection{}
	}
	return o.Detections
}

// Label is the metric and catalog label: "detected", "empty" or "failed_<stage>".
func (o Outcome) Label() string {
	if o.Status == StatusFailed {
		return string(StatusFailed) + "_" + string(o.Stage)
	}
	return string(o.Status)
}

// Degraded reports a run that produced detections but could not persist them.
func (o Outcome) Degraded() bool {
	return o.Status != StatusFailed && o.Err != nil
}
