// Package yolo turns raw YOLOv8-style detection tensors into boxes in source-image space.
//
// The expected output layout is [1, 4+classes, anchors]: for every anchor the first four
// rows hold the box centre and size in input pixels, the remaining rows the per-class scores.
package yolo

import (
	"fmt"
	"image"
	"math"
	"sort"

	"detectserver/internal/model"
)

// classOffset separates boxes of different classes so a single NMS pass stays class-aware.
const classOffset = 7680

// PadValue is the grey used to fill letterbox borders.
const PadValue = 114

type Candidate struct {
	ClassIdx int
	Conf     float32
	X1       float32
	Y1       float32
	X2       float32
	Y2       float32
}

// Letterbox describes how a source image is scaled and centred into a square model input.
type Letterbox struct {
	Size  int
	Scale float32
	NewW  int // source size after scaling, before padding
	NewH  int
	PadX  int
	PadY  int
	SrcW  int
	SrcH  int
}

func NewLetterbox(srcW, srcH, size int) Letterbox {
	scale := min(float32(size)/float32(srcW), float32(size)/float32(srcH))
	newW := int(math.Round(float64(float32(srcW) * scale)))
	newH := int(math.Round(float64(float32(srcH) * scale)))

	return Letterbox{
		Size:  size,
		Scale: scale,
		NewW:  newW,
		NewH:  newH,
		PadX:  (size - newW) / 2,
		PadY:  (size - newH) / 2,
		SrcW:  srcW,
		SrcH:  srcH,
	}
}

// Restore maps a candidate from input space back to source pixels, clipped to the image.
func (l Letterbox) Restore(c Candidate) Candidate {
	c.X1 = clamp((c.X1-float32(l.PadX))/l.Scale, 0, float32(l.SrcW))
	c.Y1 = clamp((c.Y1-float32(l.PadY))/l.Scale, 0, float32(l.SrcH))
	c.X2 = clamp((c.X2-float32(l.PadX))/l.Scale, 0, float32(l.SrcW))
	c.Y2 = clamp((c.Y2-float32(l.PadY))/l.Scale, 0, float32(l.SrcH))
	return c
}

// Decode keeps every anchor whose best class score reaches confThreshold.
func Decode(output []float32, shape []int, confThreshold float32) ([]Candidate, error) {
	if len(shape) != 3 || shape[0] != 1 {
		return nil, fmt.Errorf("unexpected output shape %v, want [1 attrs anchors]", shape)
	}
	attrs, anchors := shape[1], shape[2]
	if attrs <= 4 || anchors <= 0 {
		return nil, fmt.Errorf("unexpected output shape %v: no class scores", shape)
	}
	if len(output) < attrs*anchors {
		return nil, fmt.Errorf("output holds %d values, shape %v needs %d", len(output), shape, attrs*anchors)
	}

	var candidates []Candidate
	for i := 0; i < anchors; i++ {
		bestClass, bestScore := -1, float32(0)
		for c := 4; c < attrs; c++ {
			if score := output[c*anchors+i]; score > bestScore {
				bestClass, bestScore = c-4, score
			}
		}
		if bestClass < 0 || bestScore < confThreshold {
			continue
		}

		cx := output[i]
		cy := output[anchors+i]
		w := output[2*anchors+i]
		h := output[3*anchors+i]

		candidates = append(candidates, Candidate{
			ClassIdx: bestClass,
			Conf:     bestScore,
			X1:       cx - w/2,
			Y1:       cy - h/2,
			X2:       cx + w/2,
			Y2:       cy + h/2,
		})
	}
	return candidates, nil
}

// Boxes returns NMS inputs with each class shifted into its own coordinate band.
func Boxes(candidates []Candidate) ([]image.Rectangle, []float32) {
	rects := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		off := float32(c.ClassIdx * classOffset)
		rects[i] = image.Rect(
			int(math.Round(float64(c.X1+off))),
			int(math.Round(float64(c.Y1+off))),
			int(math.Round(float64(c.X2+off))),
			int(math.Round(float64(c.Y2+off))),
		)
		scores[i] = c.Conf
	}
	return rects, scores
}

// Pick returns the candidates kept by NMS, highest confidence first, at most limit of them.
func Pick(candidates []Candidate, keep []int, limit int) []Candidate {
	picked := make([]Candidate, 0, len(keep))
	for _, idx := range keep {
		if idx >= 0 && idx < len(candidates) {
			picked = append(picked, candidates[idx])
		}
	}

	sort.SliceStable(picked, func(i, j int) bool {
		return picked[i].Conf > picked[j].Conf
	})

	if limit > 0 && len(picked) > limit {
		picked = picked[:limit]
	}
	return picked
}

// Detections converts restored candidates into the service's detection records.
func Detections(candidates []Candidate) []model.Detection {
	detections := make([]model.Detection, 0, len(candidates))
	for _, c := range candidates {
		detections = append(detections, model.Detection{
			ClassIdx: c.ClassIdx,
			Conf:     float64(c.Conf),
			Xmin:     float64(c.X1),
			Ymin:     float64(c.Y1),
			Xmax:     float64(c.X2),
			Ymax:     float64(c.Y2),
		})
	}
	return detections
}

func clamp(v, lo, hi float32) float32 {
	return max(lo, min(v, hi))
}
