package embed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"

	"github.com/kozaktomas/race-photos/internal/inference"
	"github.com/kozaktomas/race-photos/internal/photo"
)

var _ Embedder = (*HTTPEmbedder)(nil)

// HTTPEmbedder calls POST /embed/image on the embedding server.
type HTTPEmbedder struct {
	client    *inference.Client
	model     string
	dim       int
	maxCropPx int
}

// NewHTTPEmbedder creates an embedder expecting dim-long vectors. Crops larger
// than maxCropPx on their longest side are downscaled before upload.
func NewHTTPEmbedder(client *inference.Client, model string, dim, maxCropPx int) *HTTPEmbedder {
	return &HTTPEmbedder{client: client, model: model, dim: dim, maxCropPx: maxCropPx}
}

// embeddingResponse represents the response from the embedding server
type embeddingResponse struct {
	Dim        int       `json:"dim"`
	Embedding  []float32 `json:"embedding"`
	Model      string    `json:"model"`
	Pretrained string    `json:"pretrained"`
}

func (e *HTTPEmbedder) Model() string {
	return e.model
}

func (e *HTTPEmbedder) Dim() int {
	return e.dim
}

// Embed uploads crop and returns its unit-length embedding.
func (e *HTTPEmbedder) Embed(ctx context.Context, crop image.Image) ([]float32, error) {
	if e.maxCropPx > 0 {
		crop = photo.Fit(crop, e.maxCropPx)
	}
	data, err := photo.EncodeJPEG(crop)
	if err != nil {
		return nil, err
	}

	body, err := e.client.PostImage(ctx, "/embed/image", data, nil)
	if err != nil {
		return nil, fmt.Errorf("compute embedding: %w", err)
	}

	var resp embeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	if err := checkDim(resp.Embedding, e.dim); err != nil {
		return nil, err
	}
	return Normalize(resp.Embedding)
}
