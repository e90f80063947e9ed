package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kozaktomas/race-photos/internal/constants"
	"github.com/kozaktomas/race-photos/internal/database"
	"github.com/kozaktomas/race-photos/internal/logging"
	"github.com/kozaktomas/race-photos/internal/photo"
	"github.com/kozaktomas/race-photos/internal/search"
)

// Searcher is implemented by *search.Service.
type Searcher interface {
	SearchByImage(ctx context.Context, imageData []byte, k int, filter search.Filter) (*search.Response, error)
	SearchBib(ctx context.Context, raw string, eventID *int64, page database.Page) ([]database.PhotoSummary, error)
}

// SearchHandler handles similarity and bib search.
type SearchHandler struct {
	searcher   Searcher
	embeddings database.EmbeddingReader
	defaultK   int
	logger     *slog.Logger
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(searcher Searcher, embeddings database.EmbeddingReader, defaultK int, logger *slog.Logger) *SearchHandler {
	return &SearchHandler{
		searcher:   searcher,
		embeddings: embeddings,
		defaultK:   defaultK,
		logger:     logging.OrDiscard(logger),
	}
}

// ByImage handles POST /api/v1/search/image.
func (h *SearchHandler) ByImage(w http.ResponseWriter, r *http.Request) {
	data, err := readUpload(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	k, err := intParam(r, "k", h.defaultK)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	eventID, err := optionalInt64(r, "event_id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.searcher.SearchByImage(r.Context(), data, k, search.Filter{EventID: eventID})
	switch {
	case errors.Is(err, search.ErrInvalidK), errors.Is(err, photo.ErrDecode), errors.Is(err, photo.ErrEmptyImage):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("image search failed", "error", err)
		respondError(w, http.StatusInternalServerError, "search failed")
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// BibResponse lists photos carrying a bib number.
type BibResponse struct {
	Bib    string                  `json:"bib"`
	Photos []database.PhotoSummary `json:"photos"`
	Count  int                     `json:"count"`
}

// ByBib handles GET /api/v1/search/bib.
func (h *SearchHandler) ByBib(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("bib")
	eventID, err := optionalInt64(r, "event_id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := pageParams(r, constants.DefaultBibPageSize)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	photos, err := h.searcher.SearchBib(r.Context(), raw, eventID, page)
	if errors.Is(err, search.ErrEmptyBib) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("bib search failed", "bib", sanitizeForLog(raw), "error", err)
		respondError(w, http.StatusInternalServerError, "search failed")
		return
	}
	respondJSON(w, http.StatusOK, BibResponse{Bib: raw, Photos: photos, Count: len(photos)})
}

// ListEmbeddings handles GET /api/v1/embeddings, listing indexed people of an
// event or a photographer.
func (h *SearchHandler) ListEmbeddings(w http.ResponseWriter, r *http.Request) {
	eventID, err := optionalInt64(r, "event_id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	photographerID, err := optionalInt64(r, "photographer_id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if (eventID == nil) == (photographerID == nil) {
		respondError(w, http.StatusBadRequest, "exactly one of event_id and photographer_id is required")
		return
	}
	page, err := pageParams(r, database.DefaultPageLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var records []database.EmbeddingRecord
	if eventID != nil {
		records, err = h.embeddings.ListByEvent(r.Context(), *eventID, page)
	} else {
		records, err = h.embeddings.ListByPhotographer(r.Context(), *photographerID, page)
	}
	if err != nil {
		h.logger.Error("failed to list embeddings", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list embeddings")
		return
	}
	if records == nil {
		records = []database.EmbeddingRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

func pageParams(r *http.Request, defaultLimit int) (database.Page, error) {
	limit, err := intParam(r, "limit", defaultLimit)
	if err != nil {
		return database.Page{}, err
	}
	offset := 0
	if r.FormValue("offset") != "" {
		o, err := optionalInt64(r, "offset")
		if err != nil {
			return database.Page{}, err
		}
		offset = int(*o)
	}
	return database.Page{Limit: limit, Offset: offset}.Normalized(), nil
}
