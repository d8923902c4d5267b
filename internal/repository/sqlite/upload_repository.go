package sqlite

import (
	"database/sql"
	"fmt"

	"detectserver/internal/dto"
	"detectserver/internal/model"
)

const uploadColumns = `id, stored_name, original_name, stored_path, record_path, filesize, outcome, detection_count, created_at`

// UploadRepository implements repository.UploadRepository for SQLite.
type UploadRepository struct {
	db *DB
}

func NewUploadRepository(db *DB) *UploadRepository {
	return &UploadRepository{db: db}
}

// Insert adds a new upload record to the database.
func (r *UploadRepository) Insert(upload *model.Upload) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO uploads (stored_name, original_name, stored_path, record_path, filesize, outcome, detection_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, upload.StoredName, upload.OriginalName, upload.StoredPath, upload.RecordPath,
		upload.FileSize, upload.Outcome, upload.DetectionCount, upload.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert upload: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read upload id: %w", err)
	}
	upload.ID = id
	return id, nil
}

// GetByStoredName retrieves an upload by its stored file name. A missing upload is (nil, nil).
func (r *UploadRepository) GetByStoredName(storedName string) (*model.Upload, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	row := r.db.Conn().QueryRow(`SELECT `+uploadColumns+` FROM uploads WHERE stored_name = ?`, storedName)
	upload, err := scanUpload(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}
	return upload, nil
}

// GetAll retrieves uploads matching filter, newest first.
func (r *UploadRepository) GetAll(filter *dto.UploadFilters) ([]model.Upload, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	query := `SELECT ` + uploadColumns + ` FROM uploads WHERE 1=1`
	where, args := filterClause(filter)
	query += where + " ORDER BY created_at DESC, id DESC"

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)

		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query uploads: %w", err)
	}
	defer rows.Close()

	var uploads []model.Upload
	for rows.Next() {
		upload, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		uploads = append(uploads, *upload)
	}
	return uploads, rows.Err()
}

// GetTotalCount returns the number of uploads matching filter, ignoring paging.
func (r *UploadRepository) GetTotalCount(filter *dto.UploadFilters) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := filterClause(filter)

	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM uploads WHERE 1=1`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count uploads: %w", err)
	}
	return count, nil
}

// Exists checks if an upload with the given stored name exists.
func (r *UploadRepository) Exists(storedName string) (bool, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var count int
	err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM uploads WHERE stored_name = ?`, storedName).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check upload existence: %w", err)
	}
	return count > 0, nil
}

func filterClause(filter *dto.UploadFilters) (string, []interface{}) {
	if filter == nil || filter.Outcome == "" {
		return "", nil
	}
	return " AND outcome = ?", []interface{}{filter.Outcome}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanUpload(s scanner) (*model.Upload, error) {
	var u model.Upload
	err := s.Scan(&u.ID, &u.StoredName, &u.OriginalName, &u.StoredPath, &u.RecordPath,
		&u.FileSize, &u.Outcome, &u.DetectionCount, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
