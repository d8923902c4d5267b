package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Detection is one object instance found by the detection model.
// Coordinates are in source-image pixels.
type Detection struct {
	ClassIdx int     `json:"class_idx"`
	Conf     float64 `json:"conf"`
	Xmin     float64 `json:"xmin"`
	Ymin     float64 `json:"ymin"`
	Xmax     float64 `json:"xmax"`
	Ymax     float64 `json:"ymax"`
}

// MarshalJSON writes floats the same way the CSV record does, so a whole
// coordinate reads 40.0 in both.
func (d Detection) MarshalJSON() ([]byte, error) {
	fields := []struct {
		name  string
		value float64
	}{
		{"conf", d.Conf},
		{"xmin", d.Xmin},
		{"ymin", d.Ymin},
		{"xmax", d.Xmax},
		{"ymax", d.Ymax},
	}

	buf := make([]byte, 0, 96)
	buf = append(buf, `{"class_idx":`...)
	buf = strconv.AppendInt(buf, int64(d.ClassIdx), 10)
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return nil, fmt.Errorf("detection %s is not a finite number: %v", f.name, f.value)
		}
		buf = append(buf, `,"`...)
		buf = append(buf, f.name...)
		buf = append(buf, `":`...)
		buf = append(buf, FormatFloat(f.value)...)
	}
	return append(buf, '}'), nil
}

// FormatFloat renders v with the shortest exact representation, always keeping
// a fractional part so whole pixel values read as floats ("100.0").
func FormatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".NI") {
		s += ".0"
	}
	return s
}
