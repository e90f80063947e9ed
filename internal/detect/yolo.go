//go:build gocv

package detect

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"

	"github.com/kozaktomas/race-photos/internal/logging"
)

const nmsThreshold = 0.45

var _ Detector = (*YOLODetector)(nil)

// YOLODetector runs a YOLOv8 ONNX export in-process through OpenCV DNN.
// The network is not safe for concurrent use, so Detect is serialized.
type YOLODetector struct {
	mu            sync.Mutex
	net           gocv.Net
	model         string
	inputSize     int
	minConfidence float64
	logger        *slog.Logger
}

// NewYOLODetector loads the ONNX model at modelPath, preferring CUDA.
func NewYOLODetector(modelPath, model string, inputSize int, minConfidence float64, logger *slog.Logger) (*YOLODetector, error) {
	logger = logging.OrDiscard(logger)
	if modelPath == "" {
		return nil, errors.New("detection model path is empty")
	}

	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("failed to load detection model %s", modelPath)
	}

	cudaBackendErr := net.SetPreferableBackend(gocv.NetBackendCUDA)
	cudaTargetErr := net.SetPreferableTarget(gocv.NetTargetCUDA)
	if cudaBackendErr != nil || cudaTargetErr != nil {
		_ = net.SetPreferableBackend(gocv.NetBackendDefault)
		_ = net.SetPreferableTarget(gocv.NetTargetCPU)
		logger.Info("yolo detector using CPU", "model", modelPath)
	} else {
		logger.Info("yolo detector using CUDA", "model", modelPath)
	}

	if inputSize <= 0 {
		inputSize = 640
	}
	return &YOLODetector{
		net:           net,
		model:         model,
		inputSize:     inputSize,
		minConfidence: minConfidence,
		logger:        logger,
	}, nil
}

func (d *YOLODetector) Model() string {
	return d.model
}

// Close releases the network.
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// Detect stretches img to the network input, runs the forward pass and
// decodes the [1, 4+classes, anchors] output into person boxes.
func (d *YOLODetector) Detect(ctx context.Context, img image.Image) ([]Box, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert image: %w", err)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(d.inputSize, d.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.mu.Lock()
	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	d.mu.Unlock()
	defer out.Close()

	dims := out.Size()
	if len(dims) != 3 || dims[1] < 5 {
		return nil, fmt.Errorf("unexpected detection output shape %v", dims)
	}
	rows, anchors := dims[1], dims[2]
	grid := out.Reshape(1, rows)
	defer grid.Close()

	size := float64(d.inputSize)
	var (
		boxes  []Box
		rects  []image.Rectangle
		scores []float32
	)
	for i := range anchors {
		score := grid.GetFloatAt(4+PersonClass, i)
		if float64(score) < d.minConfidence {
			continue
		}
		cx := float64(grid.GetFloatAt(0, i))
		cy := float64(grid.GetFloatAt(1, i))
		w := float64(grid.GetFloatAt(2, i))
		h := float64(grid.GetFloatAt(3, i))

		boxes = append(boxes, Box{CX: cx / size, CY: cy / size, W: w / size, H: h / size, Confidence: float64(score), Class: PersonClass})
		rects = append(rects, image.Rect(int(cx-w/2), int(cy-h/2), int(cx+w/2), int(cy+h/2)))
		scores = append(scores, score)
	}
	if len(boxes) == 0 {
		return nil, nil
	}

	keep := gocv.NMSBoxes(rects, scores, float32(d.minConfidence), nmsThreshold)
	kept := make([]Box, 0, len(keep))
	for _, idx := range keep {
		kept = append(kept, boxes[idx])
	}
	d.logger.Debug("yolo detection", "candidates", len(boxes), "kept", len(kept))
	return Filter(kept, d.minConfidence), nil
}
