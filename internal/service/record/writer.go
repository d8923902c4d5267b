package record

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/model"
)

// Extension is appended to every record file stem.
const Extension = ".csv"

// Header lists the record columns in file order.
var Header = []string{"class_idx", "conf", "xmin", "ymin", "xmax", "ymax"}

var ErrBadHeader = errors.New("record file has an unexpected header")

// Writer persists detections as one CSV file per upload under the output directory.
type Writer struct {
	dir    string
	logger *logger.Logger
}

func NewWriter(cfg *config.Config, logger *logger.Logger) *Writer {
	return &Writer{
		dir:    cfg.OutputDirectory,
		logger: logger,
	}
}

// Stem returns baseName up to its first dot, or the whole name when it has none.
// "1700000000a.b.c.jpg" gives "1700000000a".
func Stem(baseName string) string {
	if i := strings.IndexByte(baseName, '.'); i >= 0 {
		return baseName[:i]
	}
	return baseName
}

// Path returns the record file path for baseName.
func (w *Writer) Path(baseName string) string {
	return filepath.Join(w.dir, Stem(baseName)+Extension)
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Write truncates the record file for baseName and writes the header followed by
// one row per detection, in the order given.
func (w *Writer) Write(detections []model.Detection, baseName string) (string, error) {
	path := w.Path(baseName)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create record file: %w", err)
	}

	if err := writeRows(f, detections); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close record file: %w", err)
	}
	return path, nil
}

// Save is Write with errors logged and swallowed. It returns the detections that were
// written, an empty non-nil slice for an empty record, and nil when writing failed.
func (w *Writer) Save(detections []model.Detection, baseName string) []model.Detection {
	path, err := w.Write(detections, baseName)
	if err != nil {
		w.logger.Error("Failed to save detection record for %s: %v", baseName, err)
		return nil
	}

	w.logger.Info("Saved %d detection(s) to %s", len(detections), path)
	if detections == nil {
		return []model.Detection{}
	}
	return detections
}

// Read loads the record file with the given stem.
func (w *Writer) Read(stem string) ([]model.Detection, error) {
	f, err := os.Open(filepath.Join(w.dir, stem+Extension))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return readRows(f)
}

func writeRows(out io.Writer, detections []model.Detection) error {
	cw := csv.NewWriter(out)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write record header: %w", err)
	}

	for i, det := range detections {
		row := []string{
			strconv.Itoa(det.ClassIdx),
			FormatFloat(det.Conf),
			FormatFloat(det.Xmin),
			FormatFloat(det.Ymin),
			FormatFloat(det.Xmax),
			FormatFloat(det.Ymax),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write record row %d: %w", i, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush record: %w", err)
	}
	return nil
}

func readRows(in io.Reader) ([]model.Detection, error) {
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = len(Header)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read record header: %w", err)
	}
	for i, name := range Header {
		if header[i] != name {
			return nil, ErrBadHeader
		}
	}

	detections := []model.Detection{}
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record row: %w", err)
		}

		det, err := parseRow(row)
		if err != nil {
			return nil, err
		}
		detections = append(detections, det)
	}
	return detections, nil
}

func parseRow(row []string) (model.Detection, error) {
	var det model.Detection

	classIdx, err := strconv.Atoi(row[0])
	if err != nil {
		return det, fmt.Errorf("parse class_idx %q: %w", row[0], err)
	}
	det.ClassIdx = classIdx

	fields := []*float64{&det.Conf, &det.Xmin, &det.Ymin, &det.Xmax, &det.Ymax}
	for i, dst := range fields {
		v, err := strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return det, fmt.Errorf("parse %s %q: %w", Header[i+1], row[i+1], err)
		}
		*dst = v
	}
	return det, nil
}

// FormatFloat formats a record value; see model.FormatFloat.
func FormatFloat(v float64) string {
	return model.FormatFloat(v)
}
