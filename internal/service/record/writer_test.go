package record

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/model"
)

func newTestWriter(t *testing.T, dir string) (*Writer, *bytes.Buffer) {
	t.Helper()

	cfg := config.Default()
	cfg.OutputDirectory = dir
	var logs bytes.Buffer
	return NewWriter(cfg, logger.New(&logs)), &logs
}

func sampleDetections() []model.Detection {
	return []model.Detection{
		{ClassIdx: 0, Conf: 0.8999999761581421, Xmin: 12.5, Ymin: 30, Xmax: 200.25, Ymax: 410},
		{ClassIdx: 16, Conf: 0.5, Xmin: 0, Ymin: 0, Xmax: 64, Ymax: 48.75},
		{ClassIdx: 2, Conf: 0.31, Xmin: 300, Ymin: 120.5, Xmax: 301, Ymax: 121},
	}
}

func TestStem(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1712345678901234567photo.jpg", "1712345678901234567photo"},
		{"1712345678901234567a.b.c.jpg", "1712345678901234567a"},
		{"a.b.c.jpg", "a"},
		{"noextension", "noextension"},
		{".hidden", ""},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, Stem(tc.in), "Stem(%q)", tc.in)
	}
}

func TestWriteHeaderOnlyForNoDetections(t *testing.T) {
	dir := t.TempDir()
	w, _ := newTestWriter(t, dir)

	path, err := w.Write(nil, "17000empty.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "17000empty.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "class_idx,conf,xmin,ymin,xmax,ymax\n", string(data))
}

func TestWriteKeepsOrderAndFormatsFloats(t *testing.T) {
	dir := t.TempDir()
	w, _ := newTestWriter(t, dir)

	path, err := w.Write(sampleDetections(), "17000street.jpg")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	want := "class_idx,conf,xmin,ymin,xmax,ymax\n" +
		"0,0.8999999761581421,12.5,30.0,200.25,410.0\n" +
		"16,0.5,0.0,0.0,64.0,48.75\n" +
		"2,0.31,300.0,120.5,301.0,121.0\n"
	assert.Equal(t, want, string(data))
}

func TestWriteTruncatesExistingRecord(t *testing.T) {
	dir := t.TempDir()
	w, _ := newTestWriter(t, dir)

	_, err := w.Write(sampleDetections(), "same.jpg")
	require.NoError(t, err)
	_, err = w.Write(sampleDetections()[:1], "same.png")
	require.NoError(t, err)

	got, err := w.Read("same")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestFirstDotStemNamesRecord(t *testing.T) {
	dir := t.TempDir()
	w, _ := newTestWriter(t, dir)

	path, err := w.Write(sampleDetections(), "a.b.c.jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.csv"), path)

	_, err = os.Stat(filepath.Join(dir, "a.b.c.csv"))
	assert.True(t, os.IsNotExist(err))
}

func TestReadRoundTrip(t *testing.T) {
	w, _ := newTestWriter(t, t.TempDir())
	want := sampleDetections()

	_, err := w.Write(want, "17000roundtrip.jpeg")
	require.NoError(t, err)

	got, err := w.Read("17000roundtrip")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadRejectsForeignHeader(t *testing.T) {
	dir := t.TempDir()
	w, _ := newTestWriter(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.csv"), []byte("a,b,c,d,e,f\n"), 0o644))

	_, err := w.Read("x")
	assert.ErrorIs(t, err, ErrBadHeader)
}

func TestSaveReturnsDetectionsOnSuccess(t *testing.T) {
	w, _ := newTestWriter(t, t.TempDir())
	dets := sampleDetections()

	assert.Equal(t, dets, w.Save(dets, "17000ok.jpg"))

	empty := w.Save(nil, "17000none.jpg")
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestSaveSwallowsWriteFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does", "not", "exist")
	w, logs := newTestWriter(t, missing)

	var got []model.Detection
	assert.NotPanics(t, func() {
		got = w.Save(sampleDetections(), "17000fail.jpg")
	})
	assert.Nil(t, got)
	assert.Contains(t, logs.String(), "Failed to save detection record")
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "100.0", FormatFloat(100))
	assert.Equal(t, "0.25", FormatFloat(0.25))
	assert.Equal(t, "0.0", FormatFloat(0))
	assert.Equal(t, "1234.5678", FormatFloat(1234.5678))
}
