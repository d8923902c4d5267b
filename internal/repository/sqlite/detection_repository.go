package sqlite

import (
	"fmt"

	"detectserver/internal/model"
)

// DetectionRepository implements repository.DetectionRepository for SQLite.
type DetectionRepository struct {
	db *DB
}

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// InsertBatch adds the detections of one upload in a single transaction, keeping their order.
func (r *DetectionRepository) InsertBatch(uploadID int64, detections []model.Detection) error {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO detections (upload_id, position, class_idx, confidence, xmin, ymin, xmax, ymax)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, det := range detections {
		if _, err := stmt.Exec(uploadID, i, det.ClassIdx, det.Conf, det.Xmin, det.Ymin, det.Xmax, det.Ymax); err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}
	}

	return tx.Commit()
}

// GetByUploadID retrieves the detections of an upload in their original order.
func (r *DetectionRepository) GetByUploadID(uploadID int64) ([]model.Detection, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT class_idx, confidence, xmin, ymin, xmax, ymax
		FROM detections WHERE upload_id = ? ORDER BY position
	`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	detections := []model.Detection{}
	for rows.Next() {
		var det model.Detection
		if err := rows.Scan(&det.ClassIdx, &det.Conf, &det.Xmin, &det.Ymin, &det.Xmax, &det.Ymax); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		detections = append(detections, det)
	}
	return detections, rows.Err()
}
