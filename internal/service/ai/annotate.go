package ai

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"detectserver/internal/model"

	"gocv.io/x/gocv"
)

// Annotator writes a copy of each processed image with its detections drawn on it.
// A nil Annotator does nothing.
type Annotator struct {
	dir string
}

// NewAnnotator returns nil when dir is empty.
func NewAnnotator(dir string) *Annotator {
	if dir == "" {
		return nil
	}
	return &Annotator{dir: dir}
}

// AnnotateFile reads imagePath and renders detections onto it.
func (a *Annotator) AnnotateFile(imagePath string, detections []model.Detection) error {
	if a == nil {
		return nil
	}

	mat := gocv.IMRead(imagePath, gocv.IMReadColor)
	defer mat.Close()
	if mat.Empty() {
		return fmt.Errorf("failed to decode image %s", imagePath)
	}
	return a.Annotate(imagePath, mat, detections)
}

// Annotate draws detection results on a copy of img and writes it to the annotated
// directory under the base name of imagePath.
func (a *Annotator) Annotate(imagePath string, img gocv.Mat, detections []model.Detection) error {
	if a == nil {
		return nil
	}

	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return fmt.Errorf("create annotated directory: %w", err)
	}

	canvas := img.Clone()
	defer canvas.Close()

	red := color.RGBA{R: 255, G: 0, B: 0, A: 0}
	for _, detection := range detections {
		rect := image.Rect(int(detection.Xmin), int(detection.Ymin), int(detection.Xmax), int(detection.Ymax))
		if err := gocv.Rectangle(&canvas, rect, red, 2); err != nil {
			return fmt.Errorf("failed to draw rectangle: %w", err)
		}

		label := fmt.Sprintf("%s %.2f", ClassLabel(detection.ClassIdx), detection.Conf)
		pt := image.Pt(rect.Min.X, max(rect.Min.Y-5, 10))
		if err := gocv.PutText(&canvas, label, pt, gocv.FontHersheySimplex, 0.5, red, 1); err != nil {
			return fmt.Errorf("failed to draw text: %w", err)
		}
	}

	out := filepath.Join(a.dir, filepath.Base(imagePath))
	if !gocv.IMWrite(out, canvas) {
		return fmt.Errorf("failed to write annotated image %s", out)
	}
	return nil
}
