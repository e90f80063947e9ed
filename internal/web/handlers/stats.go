package handlers

import (
	"log/slog"
	"net/http"

	"github.com/kozaktomas/race-photos/internal/database"
	"github.com/kozaktomas/race-photos/internal/indexer"
	"github.com/kozaktomas/race-photos/internal/logging"
	"github.com/kozaktomas/race-photos/internal/vectorindex"
)

// IndexStats is implemented by *vectorindex.Index.
type IndexStats interface {
	Len() int
	Stats() vectorindex.Stats
}

// StatsHandler reports index health.
type StatsHandler struct {
	index      IndexStats
	embeddings database.EmbeddingReader
	degraded   func() bool
	logger     *slog.Logger
}

// NewStatsHandler creates a new stats handler. degraded reports the search
// service's degraded flag and may be nil.
func NewStatsHandler(index IndexStats, embeddings database.EmbeddingReader, degraded func() bool, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{
		index:      index,
		embeddings: embeddings,
		degraded:   degraded,
		logger:     logging.OrDiscard(logger),
	}
}

// StatsResponse combines index stats with the consistency check.
type StatsResponse struct {
	Index       vectorindex.Stats    `json:"index"`
	Consistency *indexer.Consistency `json:"consistency,omitempty"`
	CheckError  string               `json:"check_error,omitempty"`
	Degraded    bool                 `json:"degraded"`
}

// Get handles GET /api/v1/index/stats.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Index: h.index.Stats()}
	if h.degraded != nil {
		resp.Degraded = h.degraded()
	}

	c, err := indexer.CheckConsistency(r.Context(), h.index, h.embeddings, h.logger)
	if err != nil {
		h.logger.Warn("consistency check failed", "error", err)
		resp.CheckError = err.Error()
	} else {
		resp.Consistency = &c
	}
	respondJSON(w, http.StatusOK, resp)
}
