package route

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detectserver/internal/config"
	"detectserver/internal/dto"
	"detectserver/internal/logger"
	"detectserver/internal/model"
	"detectserver/internal/repository/sqlite"
	"detectserver/internal/service"
	"detectserver/internal/service/record"
	"detectserver/internal/service/storage"
)

type stubDetector struct {
	detections []model.Detection
	err        error
}

func (s *stubDetector) Detect(string) ([]model.Detection, error) {
	return s.detections, s.err
}

type panicDetector struct{}

func (panicDetector) Detect(string) ([]model.Detection, error) {
	panic("inference crashed")
}

type panicPublisher struct{}

func (panicPublisher) Publish(*dto.UploadEvent) error {
	panic("subscriber crashed")
}

type server struct {
	cfg     *config.Config
	handler http.Handler
	records *record.Writer
	manager *service.Manager
}

func newServer(t *testing.T, detector service.Detector, withCatalog bool) *server {
	t.Helper()

	root := t.TempDir()
	cfg := config.Default()
	cfg.UploadDirectory = filepath.Join(root, "uploads")
	cfg.OutputDirectory = filepath.Join(root, "outputs")
	cfg.IndexPath = filepath.Join(root, "static", "index.html")
	cfg.LogDirectory = ""
	for _, dir := range []string{cfg.UploadDirectory, cfg.OutputDirectory, filepath.Dir(cfg.IndexPath)} {
		require.NoError(t, os.MkdirAll(dir, 0755))
	}
	require.NoError(t, os.WriteFile(cfg.IndexPath, []byte("<html><body>upload</body></html>"), 0644))

	log := logger.New(&bytes.Buffer{})
	records := record.NewWriter(cfg, log)
	manager := service.NewManager(detector, storage.NewUploadStore(cfg, log), records, log)

	deps := Dependencies{Manager: manager}
	if withCatalog {
		db, err := sqlite.New(filepath.Join(root, "data", "uploads.db"))
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		deps.UploadRepo = sqlite.NewUploadRepository(db)
		deps.DetectionRepo = sqlite.NewDetectionRepository(db)
		manager.SetCatalog(deps.UploadRepo, deps.DetectionRepo)
	}

	return &server{cfg: cfg, handler: SetupRoutes(deps, cfg, log), records: records, manager: manager}
}

func (s *server) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *server) upload(t *testing.T, field, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.do(req)
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) []model.Detection {
	t.Helper()

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp dto.UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Result, "result must be a list, never null")
	return resp.Result
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func sampleDetections() []model.Detection {
	return []model.Detection{
		{ClassIdx: 0, Conf: 0.8731, Xmin: 12.5, Ymin: 40, Xmax: 220.75, Ymax: 470},
		{ClassIdx: 2, Conf: 0.5, Xmin: 300, Ymin: 210, Xmax: 610, Ymax: 398.5},
	}
}

func TestIndexServesPage(t *testing.T) {
	s := newServer(t, &stubDetector{}, false)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Equal(t, "<html><body>upload</body></html>", rec.Body.String())
}

func TestIndexMissingPageIs404(t *testing.T) {
	s := newServer(t, &stubDetector{}, false)
	require.NoError(t, os.Remove(s.cfg.IndexPath))

	rec := s.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadReturnsDetectionsAndWritesRecord(t *testing.T) {
	s := newServer(t, &stubDetector{detections: sampleDetections()}, false)

	got := decodeResult(t, s.upload(t, "file", "street.jpg", []byte("image-bytes")))
	assert.Equal(t, sampleDetections(), got)

	uploads := listDir(t, s.cfg.UploadDirectory)
	require.Len(t, uploads, 1)
	assert.Regexp(t, regexp.MustCompile(`^\d+street\.jpg$`), uploads[0])

	data, err := os.ReadFile(filepath.Join(s.cfg.UploadDirectory, uploads[0]))
	require.NoError(t, err)
	assert.Equal(t, "image-bytes", string(data))

	recorded, err := s.records.Read(record.Stem(uploads[0]))
	require.NoError(t, err)
	assert.Equal(t, got, recorded, "JSON body and record file carry the same detections")
}

func TestUploadWithNoDetections(t *testing.T) {
	s := newServer(t, &stubDetector{}, false)

	rec := s.upload(t, "file", "empty.png", []byte("png"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":[]}`, rec.Body.String())

	outputs := listDir(t, s.cfg.OutputDirectory)
	require.Len(t, outputs, 1)
	data, err := os.ReadFile(filepath.Join(s.cfg.OutputDirectory, outputs[0]))
	require.NoError(t, err)
	assert.Equal(t, "class_idx,conf,xmin,ymin,xmax,ymax\n", string(data))
}

func TestUploadDetectorFailureReturnsEmptyResult(t *testing.T) {
	s := newServer(t, &stubDetector{err: errors.New("failed to decode image")}, false)

	rec := s.upload(t, "file", "garbage.jpg", []byte("not an image"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":[]}`, rec.Body.String())
	assert.Empty(t, listDir(t, s.cfg.OutputDirectory))
}

func TestUploadDetectorPanicReturnsEmptyResult(t *testing.T) {
	s := newServer(t, panicDetector{}, false)
	ts := httptest.NewServer(s.handler)
	defer ts.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "crash.jpg")
	require.NoError(t, err)
	_, err = part.Write([]byte("jpeg"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/upload", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":[]}`, string(data))
	assert.Empty(t, listDir(t, s.cfg.OutputDirectory))
	assert.Len(t, listDir(t, s.cfg.UploadDirectory), 1)
}

func TestUploadPipelinePanicReturnsEmptyResult(t *testing.T) {
	s := newServer(t, &stubDetector{detections: sampleDetections()}, false)
	s.manager.AddPublisher(panicPublisher{})

	rec := s.upload(t, "file", "street.jpg", []byte("jpeg"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":[]}`, rec.Body.String())
}

func TestUploadRecordFailureStillReturnsDetections(t *testing.T) {
	s := newServer(t, &stubDetector{detections: sampleDetections()}, false)
	require.NoError(t, os.RemoveAll(s.cfg.OutputDirectory))

	got := decodeResult(t, s.upload(t, "file", "street.jpg", []byte("jpeg")))
	assert.Equal(t, sampleDetections(), got)
}

func TestUploadWithoutFileField(t *testing.T) {
	s := newServer(t, &stubDetector{detections: sampleDetections()}, false)

	rec := s.upload(t, "image", "street.jpg", []byte("jpeg"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":[]}`, rec.Body.String())
	assert.Empty(t, listDir(t, s.cfg.UploadDirectory))

	req := httptest.NewRequest(http.MethodPost, "/upload", nil)
	rec = s.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":[]}`, rec.Body.String())
}

func TestUploadSameNameTwiceKeepsBothFiles(t *testing.T) {
	s := newServer(t, &stubDetector{detections: sampleDetections()}, false)

	decodeResult(t, s.upload(t, "file", "dup.jpg", []byte("first")))
	decodeResult(t, s.upload(t, "file", "dup.jpg", []byte("second")))

	uploads := listDir(t, s.cfg.UploadDirectory)
	require.Len(t, uploads, 2)
	assert.NotEqual(t, uploads[0], uploads[1])
	assert.Len(t, listDir(t, s.cfg.OutputDirectory), 2)
}

func TestUploadMultiDotNameUsesFirstDotStem(t *testing.T) {
	s := newServer(t, &stubDetector{detections: sampleDetections()}, false)

	decodeResult(t, s.upload(t, "file", "a.b.c.jpg", []byte("jpeg")))

	outputs := listDir(t, s.cfg.OutputDirectory)
	require.Len(t, outputs, 1)
	assert.Regexp(t, regexp.MustCompile(`^\d+a\.csv$`), outputs[0])
}

func TestUploadRejectsGet(t *testing.T) {
	s := newServer(t, &stubDetector{}, false)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/upload", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRecordEndpoint(t *testing.T) {
	s := newServer(t, &stubDetector{detections: sampleDetections()}, false)
	decodeResult(t, s.upload(t, "file", "street.jpg", []byte("jpeg")))
	stem := record.Stem(listDir(t, s.cfg.UploadDirectory)[0])

	rec := s.do(httptest.NewRequest(http.MethodGet, "/records/"+stem, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Body.String(), "class_idx,conf,xmin,ymin,xmax,ymax\n0,0.8731,12.5,40.0,220.75,470.0\n")

	rec = s.do(httptest.NewRequest(http.MethodGet, "/records/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/records/..", nil))
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestUploadCatalogEndpoints(t *testing.T) {
	s := newServer(t, &stubDetector{detections: sampleDetections()}, true)
	decodeResult(t, s.upload(t, "file", "one.jpg", []byte("1")))
	decodeResult(t, s.upload(t, "file", "two.jpg", []byte("2")))

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/uploads?limit=1&page=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Uploads []struct {
			Name    string `json:"name"`
			Outcome string `json:"outcome"`
			Count   int    `json:"count"`
		} `json:"uploads"`
		Length      int `json:"length"`
		TotalPages  int `json:"totalPages"`
		CurrentPage int `json:"currentPage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Length)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, 2, page.CurrentPage)
	require.Len(t, page.Uploads, 1)
	assert.Equal(t, "detected", page.Uploads[0].Outcome)
	assert.Equal(t, 2, page.Uploads[0].Count)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/uploads/"+page.Uploads[0].Name, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var one struct {
		Detections []model.Detection `json:"detections"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, sampleDetections(), one.Detections)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/uploads/missing.jpg", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCatalogDisabled(t *testing.T) {
	s := newServer(t, &stubDetector{}, false)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/uploads", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t, &stubDetector{}, false)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","backend":"opencv"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	s.upload(t, "file", "m.jpg", []byte("m"))
	rec = s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "upload_requests_total")
}
