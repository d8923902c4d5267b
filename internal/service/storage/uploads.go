package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"detectserver/internal/config"
	"detectserver/internal/logger"
)

// UploadStore writes raw uploads to the upload directory under timestamp-prefixed names.
type UploadStore struct {
	dir    string
	now    func() time.Time
	last   atomic.Int64
	logger *logger.Logger
}

// NewUploadStore creates a new UploadStore with the target directory and logger.
func NewUploadStore(cfg *config.Config, logger *logger.Logger) *UploadStore {
	return &UploadStore{
		dir:    cfg.UploadDirectory,
		now:    time.Now,
		logger: logger,
	}
}

// SetClock replaces the time source used for stored names.
func (s *UploadStore) SetClock(now func() time.Time) {
	s.now = now
}

// Dir returns the upload directory.
func (s *UploadStore) Dir() string {
	return s.dir
}

// StoredName prefixes original with a Unix-nanosecond timestamp. Timestamps handed
// out by one store are strictly increasing, so repeated names never collide.
func (s *UploadStore) StoredName(original string) string {
	return strconv.FormatInt(s.nextTimestamp(), 10) + original
}

func (s *UploadStore) nextTimestamp() int64 {
	for {
		last := s.last.Load()
		ts := s.now().UnixNano()
		if ts <= last {
			ts = last + 1
		}
		if s.last.CompareAndSwap(last, ts) {
			return ts
		}
	}
}

// Path returns where storedName lives on disk.
func (s *UploadStore) Path(storedName string) string {
	return filepath.Join(s.dir, storedName)
}

// Save reads src fully and writes it to the upload directory as storedName.
// It returns the written path and byte count.
func (s *UploadStore) Save(storedName string, src io.Reader) (string, int64, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return "", 0, fmt.Errorf("read upload: %w", err)
	}

	path := s.Path(storedName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", 0, fmt.Errorf("write upload %s: %w", storedName, err)
	}

	s.logger.Info("Stored upload %s (%d bytes)", storedName, len(data))
	return path, int64(len(data)), nil
}
