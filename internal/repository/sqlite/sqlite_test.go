package sqlite

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"detectserver/internal/dto"
	"detectserver/internal/model"
)

// ========================================
// Database Integration Tests
// ========================================

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func insertUpload(t *testing.T, repo *UploadRepository, name, outcome string, at time.Time) int64 {
	t.Helper()

	id, err := repo.Insert(&model.Upload{
		StoredName:   name,
		OriginalName: name[4:],
		StoredPath:   "uploads/" + name,
		RecordPath:   "outputs/" + name + ".csv",
		FileSize:     2048,
		Outcome:      outcome,
		CreatedAt:    at,
	})
	if err != nil {
		t.Fatalf("Failed to insert upload %s: %v", name, err)
	}
	return id
}

func TestDatabase_CreatesDirectoryAndFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	dbPath := filepath.Join(dir, "uploads.db")

	db, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file should exist")
	}
}

func TestDatabase_MigrationIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 2; i++ {
		db, err := New(dbPath)
		if err != nil {
			t.Fatalf("Open #%d failed: %v", i+1, err)
		}
		db.Close()
	}
}

// ========================================
// Upload Repository Tests
// ========================================

func TestUploadRepository_InsertAndGet(t *testing.T) {
	repo := NewUploadRepository(newTestDB(t))
	at := time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)

	upload := &model.Upload{
		StoredName:     "1750000000000000000street.jpg",
		OriginalName:   "street.jpg",
		StoredPath:     "uploads/1750000000000000000street.jpg",
		RecordPath:     "outputs/1750000000000000000street.csv",
		FileSize:       4096,
		Outcome:        "detected",
		DetectionCount: 3,
		CreatedAt:      at,
	}
	id, err := repo.Insert(upload)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if id <= 0 || upload.ID != id {
		t.Fatalf("Expected positive id set on upload, got %d (upload.ID=%d)", id, upload.ID)
	}

	got, err := repo.GetByStoredName(upload.StoredName)
	if err != nil {
		t.Fatalf("GetByStoredName failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected upload, got nil")
	}
	if got.OriginalName != "street.jpg" || got.DetectionCount != 3 || got.Outcome != "detected" {
		t.Errorf("Unexpected upload: %+v", got)
	}
	if !got.CreatedAt.Equal(at) {
		t.Errorf("Expected created_at %v, got %v", at, got.CreatedAt)
	}
}

func TestUploadRepository_GetMissing(t *testing.T) {
	repo := NewUploadRepository(newTestDB(t))

	got, err := repo.GetByStoredName("nope.jpg")
	if err != nil {
		t.Fatalf("GetByStoredName failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for unknown upload, got %+v", got)
	}
}

func TestUploadRepository_DuplicateStoredName(t *testing.T) {
	repo := NewUploadRepository(newTestDB(t))
	now := time.Now()

	insertUpload(t, repo, "0001dup.jpg", "empty", now)
	if _, err := repo.Insert(&model.Upload{StoredName: "0001dup.jpg", Outcome: "empty", CreatedAt: now}); err == nil {
		t.Error("Expected unique constraint error for duplicate stored name")
	}
}

func TestUploadRepository_FilterAndPaging(t *testing.T) {
	repo := NewUploadRepository(newTestDB(t))
	base := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)

	insertUpload(t, repo, "0001a.jpg", "detected", base)
	insertUpload(t, repo, "0002b.jpg", "empty", base.Add(time.Minute))
	insertUpload(t, repo, "0003c.jpg", "detected", base.Add(2*time.Minute))
	insertUpload(t, repo, "0004d.jpg", "failed_detect", base.Add(3*time.Minute))

	all, err := repo.GetAll(&dto.UploadFilters{})
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(all) != 4 || all[0].StoredName != "0004d.jpg" {
		t.Fatalf("Expected 4 uploads newest first, got %d (first %q)", len(all), all[0].StoredName)
	}

	detected, err := repo.GetAll(&dto.UploadFilters{Outcome: "detected"})
	if err != nil {
		t.Fatalf("GetAll with outcome failed: %v", err)
	}
	if len(detected) != 2 {
		t.Errorf("Expected 2 detected uploads, got %d", len(detected))
	}

	page, err := repo.GetAll(&dto.UploadFilters{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("GetAll with paging failed: %v", err)
	}
	if len(page) != 2 || page[0].StoredName != "0002b.jpg" {
		t.Errorf("Unexpected second page: %+v", page)
	}

	count, err := repo.GetTotalCount(&dto.UploadFilters{Outcome: "detected", Limit: 1})
	if err != nil {
		t.Fatalf("GetTotalCount failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected count 2, got %d", count)
	}
}

func TestUploadRepository_Exists(t *testing.T) {
	repo := NewUploadRepository(newTestDB(t))
	insertUpload(t, repo, "0001here.jpg", "empty", time.Now())

	ok, err := repo.Exists("0001here.jpg")
	if err != nil || !ok {
		t.Errorf("Expected upload to exist (err=%v)", err)
	}

	ok, err = repo.Exists("0001gone.jpg")
	if err != nil || ok {
		t.Errorf("Expected upload not to exist (err=%v)", err)
	}
}

// ========================================
// Detection Repository Tests
// ========================================

func TestDetectionRepository_BatchKeepsOrder(t *testing.T) {
	db := newTestDB(t)
	uploads := NewUploadRepository(db)
	detections := NewDetectionRepository(db)

	id := insertUpload(t, uploads, "0001order.jpg", "detected", time.Now())
	want := []model.Detection{
		{ClassIdx: 2, Conf: 0.91, Xmin: 1, Ymin: 2, Xmax: 30, Ymax: 40},
		{ClassIdx: 0, Conf: 0.55, Xmin: 5.5, Ymin: 6.25, Xmax: 7, Ymax: 8},
		{ClassIdx: 16, Conf: 0.3, Xmin: 100, Ymin: 100, Xmax: 120, Ymax: 180},
	}

	if err := detections.InsertBatch(id, want); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	got, err := detections.GetByUploadID(id)
	if err != nil {
		t.Fatalf("GetByUploadID failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d detections, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Detection %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestDetectionRepository_EmptyForUnknownUpload(t *testing.T) {
	detections := NewDetectionRepository(newTestDB(t))

	got, err := detections.GetByUploadID(42)
	if err != nil {
		t.Fatalf("GetByUploadID failed: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", got)
	}
}
