//go:build !gocv

package detect

import (
	"context"
	"image"
	"log/slog"
)

// YOLODetector is unavailable without the gocv build tag.
type YOLODetector struct{}

// NewYOLODetector always fails in builds without OpenCV.
func NewYOLODetector(modelPath, model string, inputSize int, minConfidence float64, logger *slog.Logger) (*YOLODetector, error) {
	return nil, ErrYOLOUnavailable
}

func (d *YOLODetector) Model() string { return "" }

func (d *YOLODetector) Close() error { return nil }

func (d *YOLODetector) Detect(ctx context.Context, img image.Image) ([]Box, error) {
	return nil, ErrYOLOUnavailable
}
