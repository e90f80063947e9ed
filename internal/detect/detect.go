// Package detect finds people in photos.
package detect

import (
	"cmp"
	"context"
	"errors"
	"image"
	"math"
	"slices"
)

// PersonClass is the COCO class id for "person".
const PersonClass = 0

var (
	// ErrNoPerson is returned by helpers that need at least one detection.
	ErrNoPerson = errors.New("no person detected")
	// ErrYOLOUnavailable means the binary was built without native inference.
	ErrYOLOUnavailable = errors.New("native YOLO detector not compiled in (build with -tags gocv)")
)

// Box is a detection in normalized image coordinates: center (CX, CY) and
// size (W, H) in [0, 1].
type Box struct {
	CX         float64 `json:"cx"`
	CY         float64 `json:"cy"`
	W          float64 `json:"w"`
	H          float64 `json:"h"`
	Confidence float64 `json:"confidence"`
	Class      int     `json:"class"`
}

// Detector returns person boxes sorted by descending confidence.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Box, error)
	// Model identifies the detection model, recorded with every embedding.
	Model() string
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Filter keeps person boxes at or above minConfidence, clamps them into the
// image and sorts them by descending confidence.
func Filter(boxes []Box, minConfidence float64) []Box {
	out := make([]Box, 0, len(boxes))
	for _, b := range boxes {
		if b.Class != PersonClass || b.Confidence < minConfidence {
			continue
		}
		if math.IsNaN(b.CX + b.CY + b.W + b.H + b.Confidence) {
			continue
		}
		// clamp the corners, then rebuild center and size
		x1, y1 := clamp01(b.CX-b.W/2), clamp01(b.CY-b.H/2)
		x2, y2 := clamp01(b.CX+b.W/2), clamp01(b.CY+b.H/2)
		if x2 <= x1 || y2 <= y1 {
			continue
		}
		b.CX, b.CY = (x1+x2)/2, (y1+y2)/2
		b.W, b.H = x2-x1, y2-y1
		b.Confidence = clamp01(b.Confidence)
		out = append(out, b)
	}
	slices.SortStableFunc(out, func(a, b Box) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})
	return out
}

// Best returns the highest-confidence box.
func Best(boxes []Box) (Box, error) {
	if len(boxes) == 0 {
		return Box{}, ErrNoPerson
	}
	best := boxes[0]
	for _, b := range boxes[1:] {
		if b.Confidence > best.Confidence {
			best = b
		}
	}
	return best, nil
}
