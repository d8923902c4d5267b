package ai

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"detectserver/internal/config"
	"detectserver/internal/logger"
	"detectserver/internal/model"
	"detectserver/internal/service/ai/yolo"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXDetector runs the model through ONNX Runtime with a single pre-allocated session.
type ONNXDetector struct {
	session     *ort.AdvancedSession
	input       *ort.Tensor[float32]
	output      *ort.Tensor[float32]
	outputShape []int
	mu          sync.Mutex // guards the shared input/output tensors
	opts        Options
	annotator   *Annotator
	logger      *logger.Logger
}

// NewONNXDetector initializes the runtime environment and a session for the configured model.
// Unlike the OpenCV backend a load failure is returned, since the runtime library itself may be missing.
func NewONNXDetector(cfg *config.Config, logger *logger.Logger) (*ONNXDetector, error) {
	if cfg.ONNXRuntimeLibrary != "" {
		ort.SetSharedLibraryPath(cfg.ONNXRuntimeLibrary)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	d := &ONNXDetector{
		opts:      optionsFrom(cfg),
		annotator: NewAnnotator(cfg.AnnotatedDirectory),
		logger:    logger,
	}
	if err := d.initSession(cfg.ModelPath); err != nil {
		ort.DestroyEnvironment()
		return nil, err
	}

	logger.Info("ONNX Runtime session initialized from %s", cfg.ModelPath)
	return d, nil
}

func (d *ONNXDetector) initSession(modelPath string) error {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return fmt.Errorf("inspect model %s: %w", modelPath, err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return fmt.Errorf("model %s has %d inputs and %d outputs, want 1 and 1", modelPath, len(inputs), len(outputs))
	}

	size := int64(d.opts.InputSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return fmt.Errorf("create input tensor: %w", err)
	}

	dims := outputs[0].Dimensions
	shape := make([]int, len(dims))
	for i, dim := range dims {
		if dim <= 0 {
			input.Destroy()
			return fmt.Errorf("model output %s has dynamic shape %v", outputs[0].Name, dims)
		}
		shape[i] = int(dim)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(dims...))
	if err != nil {
		input.Destroy()
		return fmt.Errorf("create output tensor: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output}, options)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return fmt.Errorf("create session: %w", err)
	}

	d.session = session
	d.input = input
	d.output = output
	d.outputShape = shape
	return nil
}

// Detect runs the session on the image at imagePath.
func (d *ONNXDetector) Detect(imagePath string) ([]model.Detection, error) {
	img, err := imaging.Open(imagePath, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", imagePath, err)
	}

	bounds := img.Bounds()
	lb := yolo.NewLetterbox(bounds.Dx(), bounds.Dy(), d.opts.InputSize)
	canvas := letterboxImage(img, lb)

	start := time.Now()
	candidates, err := d.run(canvas)
	if err != nil {
		return nil, err
	}

	detections := postprocess(candidates, lb, d.opts)
	d.logger.Info("Detected %d object(s) in %s (%v)", len(detections), imagePath, time.Since(start))

	if err := d.annotator.AnnotateFile(imagePath, detections); err != nil {
		d.logger.Warning("Could not save annotated image for %s: %v", imagePath, err)
	}
	return detections, nil
}

func (d *ONNXDetector) run(canvas *image.NRGBA) ([]yolo.Candidate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		return nil, ErrNetworkNotLoaded
	}

	fillTensor(canvas, d.input.GetData())
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}
	return yolo.Decode(d.output.GetData(), d.outputShape, d.opts.ConfThreshold)
}

// Close destroys the session, its tensors and the runtime environment.
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		return nil
	}
	d.session.Destroy()
	d.input.Destroy()
	d.output.Destroy()
	d.session = nil
	return ort.DestroyEnvironment()
}

// letterboxImage scales img into the model square and centres it on a grey canvas.
func letterboxImage(img image.Image, lb yolo.Letterbox) *image.NRGBA {
	resized := imaging.Resize(img, lb.NewW, lb.NewH, imaging.Linear)
	grey := color.NRGBA{R: yolo.PadValue, G: yolo.PadValue, B: yolo.PadValue, A: 255}
	canvas := imaging.New(lb.Size, lb.Size, grey)
	return imaging.Paste(canvas, resized, image.Pt(lb.PadX, lb.PadY))
}

// fillTensor writes canvas into dst as planar RGB scaled to [0, 1].
func fillTensor(canvas *image.NRGBA, dst []float32) {
	w, h := canvas.Rect.Dx(), canvas.Rect.Dy()
	plane := w * h
	for y := 0; y < h; y++ {
		row := canvas.Pix[y*canvas.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4:]
			i := y*w + x
			dst[i] = float32(px[0]) / 255.0
			dst[plane+i] = float32(px[1]) / 255.0
			dst[2*plane+i] = float32(px[2]) / 255.0
		}
	}
}
