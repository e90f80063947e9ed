package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"strconv"

	"github.com/kozaktomas/race-photos/internal/inference"
	"github.com/kozaktomas/race-photos/internal/photo"
)

// maxUploadSide bounds the image sent to the detection server; boxes are
// normalized so downscaling does not change them.
const maxUploadSide = 1280

var _ Detector = (*HTTPDetector)(nil)

// HTTPDetector calls POST /detect/person on a model server.
type HTTPDetector struct {
	client        *inference.Client
	model         string
	minConfidence float64
}

// NewHTTPDetector creates a detector backed by the server at baseURL.
func NewHTTPDetector(client *inference.Client, model string, minConfidence float64) *HTTPDetector {
	return &HTTPDetector{client: client, model: model, minConfidence: minConfidence}
}

// detectResponse is the answer of the detection server
type detectResponse struct {
	Model string `json:"model"`
	Boxes []Box  `json:"boxes"`
}

func (d *HTTPDetector) Model() string {
	return d.model
}

// Detect uploads img and filters the returned boxes.
func (d *HTTPDetector) Detect(ctx context.Context, img image.Image) ([]Box, error) {
	data, err := photo.EncodeJPEG(photo.Fit(img, maxUploadSide))
	if err != nil {
		return nil, err
	}

	body, err := d.client.PostImage(ctx, "/detect/person", data, map[string]string{
		"conf": strconv.FormatFloat(d.minConfidence, 'f', -1, 64),
	})
	if err != nil {
		return nil, fmt.Errorf("person detection: %w", err)
	}

	var resp detectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse detection response: %w", err)
	}
	return Filter(resp.Boxes, d.minConfidence), nil
}
