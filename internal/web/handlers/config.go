package handlers

import (
	"net/http"

	"github.com/kozaktomas/race-photos/internal/config"
)

// ConfigHandler exposes the non-secret pipeline settings.
type ConfigHandler struct {
	config *config.Config
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
	}
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	DetectionModel   string  `json:"detection_model"`
	EmbeddingModel   string  `json:"embedding_model"`
	EmbeddingDim     int     `json:"embedding_dim"`
	MinConfidence    float64 `json:"min_confidence"`
	MinSimilarity    float64 `json:"min_similarity"`
	DefaultK         int     `json:"default_k"`
	MaxK             int     `json:"max_k"`
	IndexStrategy    string  `json:"index_strategy"`
	BibProvider      string  `json:"bib_provider,omitempty"`
	SnapshotMirrored bool    `json:"snapshot_mirrored"`
}

// Get returns the active configuration
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg := h.config
	respondJSON(w, http.StatusOK, ConfigResponse{
		DetectionModel:   cfg.Detection.ModelVersion,
		EmbeddingModel:   cfg.Embedding.ModelVersion,
		EmbeddingDim:     cfg.Embedding.Dim,
		MinConfidence:    cfg.Detection.MinConfidence,
		MinSimilarity:    cfg.Search.MinSimilarity,
		DefaultK:         cfg.Search.DefaultK,
		MaxK:             cfg.Search.MaxK,
		IndexStrategy:    cfg.Index.Strategy,
		BibProvider:      cfg.Bib.Provider,
		SnapshotMirrored: cfg.Mirror.Enabled(),
	})
}
