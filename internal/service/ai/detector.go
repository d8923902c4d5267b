package ai

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"
	"time"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/model"
	"detectserver/internal/service/ai/yolo"

	"gocv.io/x/gocv"
)

// ErrNetworkNotLoaded is returned by Detect when the model could not be loaded at start-up.
var ErrNetworkNotLoaded = errors.New("detection network not initialized")

// Detector runs the object-detection model on an image file.
type Detector interface {
	Detect(imagePath string) ([]model.Detection, error)
	Close() error
}

// NewDetector builds the backend selected in the configuration.
func NewDetector(cfg *config.Config, logger *logger.Logger) (Detector, error) {
	switch cfg.DetectorBackend {
	case config.BackendOpenCV:
		return NewDetectorService(cfg, logger), nil
	case config.BackendONNXRuntime:
		return NewONNXDetector(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown detector backend %q", cfg.DetectorBackend)
	}
}

// Options are the inference settings shared by every backend.
type Options struct {
	InputSize     int
	ConfThreshold float32
	IoUThreshold  float32
	MaxDetections int
}

func optionsFrom(cfg *config.Config) Options {
	return Options{
		InputSize:     cfg.InputSize,
		ConfThreshold: float32(cfg.ConfThreshold),
		IoUThreshold:  float32(cfg.IoUThreshold),
		MaxDetections: cfg.MaxDetections,
	}
}

// DetectorService runs a YOLO ONNX export through OpenCV's DNN module.
type DetectorService struct {
	net       gocv.Net
	loaded    bool
	mu        sync.Mutex // dnn.Net keeps per-call state in SetInput/Forward
	modelPath string
	opts      Options
	annotator *Annotator
	logger    *logger.Logger
}

// NewDetectorService creates a detector for the configured model and tries to load it.
// A model that fails to load is logged; Detect then reports ErrNetworkNotLoaded.
func NewDetectorService(cfg *config.Config, logger *logger.Logger) *DetectorService {
	service := &DetectorService{
		modelPath: cfg.ModelPath,
		opts:      optionsFrom(cfg),
		annotator: NewAnnotator(cfg.AnnotatedDirectory),
		logger:    logger,
	}

	if err := service.initializeNet(); err != nil {
		service.logger.Warning("Could not initialize detection network: %v", err)
		return service
	}

	return service
}

// initializeNet loads the DNN network and sets backend/target preferences.
func (s *DetectorService) initializeNet() error {
	if _, err := os.Stat(s.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", s.modelPath)
	}

	net := gocv.ReadNetFromONNX(s.modelPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network from %s", s.modelPath)
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend or target")
	}

	s.net = net
	s.loaded = true
	s.logger.Info("Detection network initialized from %s", s.modelPath)
	return nil
}

// Detect runs the network on the image at imagePath and returns detections in
// source pixels, highest confidence first.
func (s *DetectorService) Detect(imagePath string) ([]model.Detection, error) {
	if !s.loaded {
		return nil, ErrNetworkNotLoaded
	}

	mat := gocv.IMRead(imagePath, gocv.IMReadColor)
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("failed to decode image %s", imagePath)
	}

	lb := yolo.NewLetterbox(mat.Cols(), mat.Rows(), s.opts.InputSize)
	input, err := letterbox(mat, lb)
	if err != nil {
		return nil, err
	}
	defer input.Close()

	blob := gocv.BlobFromImage(input, 1.0/255.0, image.Pt(lb.Size, lb.Size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	start := time.Now()
	candidates, err := s.forward(blob)
	if err != nil {
		return nil, err
	}

	detections := postprocess(candidates, lb, s.opts)
	s.logger.Info("Detected %d object(s) in %s (%v)", len(detections), imagePath, time.Since(start))

	if err := s.annotator.Annotate(imagePath, mat, detections); err != nil {
		s.logger.Warning("Could not save annotated image for %s: %v", imagePath, err)
	}

	return detections, nil
}

func (s *DetectorService) forward(blob gocv.Mat) ([]yolo.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	defer output.Close()

	if output.Empty() {
		return nil, fmt.Errorf("model inference returned no output")
	}

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read model output: %w", err)
	}
	return yolo.Decode(data, output.Size(), s.opts.ConfThreshold)
}

// Close releases the network.
func (s *DetectorService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return nil
	}
	s.loaded = false
	return s.net.Close()
}

// letterbox scales src into the model input square and pads the borders with grey.
func letterbox(src gocv.Mat, lb yolo.Letterbox) (gocv.Mat, error) {
	resized := gocv.NewMat()
	defer resized.Close()
	if err := gocv.Resize(src, &resized, image.Pt(lb.NewW, lb.NewH), 0, 0, gocv.InterpolationLinear); err != nil {
		return gocv.Mat{}, fmt.Errorf("resize image: %w", err)
	}

	padded := gocv.NewMat()
	grey := color.RGBA{R: yolo.PadValue, G: yolo.PadValue, B: yolo.PadValue, A: 0}
	bottom := lb.Size - lb.NewH - lb.PadY
	right := lb.Size - lb.NewW - lb.PadX
	if err := gocv.CopyMakeBorder(resized, &padded, lb.PadY, bottom, lb.PadX, right, gocv.BorderConstant, grey); err != nil {
		padded.Close()
		return gocv.Mat{}, fmt.Errorf("pad image: %w", err)
	}
	return padded, nil
}

// postprocess applies class-aware NMS, keeps the strongest boxes and maps them back
// to source pixels.
func postprocess(candidates []yolo.Candidate, lb yolo.Letterbox, opts Options) []model.Detection {
	if len(candidates) == 0 {
		return []model.Detection{}
	}

	rects, scores := yolo.Boxes(candidates)
	keep := gocv.NMSBoxes(rects, scores, opts.ConfThreshold, opts.IoUThreshold)

	picked := yolo.Pick(candidates, keep, opts.MaxDetections)
	for i := range picked {
		picked[i] = lb.Restore(picked[i])
	}
	return yolo.Detections(picked)
}
