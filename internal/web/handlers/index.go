package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/race-photos/internal/bib"
	"github.com/kozaktomas/race-photos/internal/database"
	"github.com/kozaktomas/race-photos/internal/indexer"
	"github.com/kozaktomas/race-photos/internal/logging"
)

// PhotoIndexer is implemented by *indexer.Indexer.
type PhotoIndexer interface {
	IndexPhoto(ctx context.Context, ref indexer.PhotoRef, imageData []byte) (*indexer.Result, error)
}

// IndexHandler handles photo indexing.
type IndexHandler struct {
	indexer PhotoIndexer
	bibs    bib.Detector // optional
	logger  *slog.Logger
}

// NewIndexHandler creates a new index handler. bibs may be nil.
func NewIndexHandler(ix PhotoIndexer, bibs bib.Detector, logger *slog.Logger) *IndexHandler {
	return &IndexHandler{indexer: ix, bibs: bibs, logger: logging.OrDiscard(logger)}
}

// IndexResponse reports what happened to an uploaded photo.
type IndexResponse struct {
	PhotoID         int64    `json:"photo_id"`
	Indexed         int      `json:"indexed"`
	Detected        int      `json:"detected"`
	Skipped         int      `json:"skipped"`
	IDs             []int64  `json:"ids"`
	Stage           string   `json:"stage"`
	Orphaned        []int64  `json:"orphaned,omitempty"`
	Error           string   `json:"error,omitempty"`
	DetectError     string   `json:"detect_error,omitempty"`
	CheckpointError string   `json:"checkpoint_error,omitempty"`
	DurationMs      int64    `json:"duration_ms"`
	Bibs            []string `json:"bibs,omitempty"`
	BibNumbers      string   `json:"bib_numbers,omitempty"`
	BibError        string   `json:"bib_error,omitempty"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// IndexPhoto handles POST /api/v1/photos/{photoID}/index. Indexing failures
// are reported in the body of a 200 response; only bad input gets a 4xx.
func (h *IndexHandler) IndexPhoto(w http.ResponseWriter, r *http.Request) {
	photoID, err := strconv.ParseInt(chi.URLParam(r, "photoID"), 10, 64)
	if err != nil || photoID < 0 {
		respondError(w, http.StatusBadRequest, "invalid photo id")
		return
	}

	data, err := readUpload(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
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
	detectBibs, _ := strconv.ParseBool(r.FormValue("detect_bibs"))

	ref := indexer.PhotoRef{PhotoID: photoID, EventID: eventID, PhotographerID: photographerID}
	res, err := h.indexer.IndexPhoto(r.Context(), ref, data)
	if res == nil {
		// cancelled before any stage produced a result
		respondError(w, http.StatusServiceUnavailable, errString(err))
		return
	}

	resp := IndexResponse{
		PhotoID:         photoID,
		Indexed:         res.Indexed,
		Detected:        res.Detected,
		Skipped:         res.Skipped,
		IDs:             res.IDs,
		Stage:           string(res.Stage),
		Orphaned:        res.Orphaned,
		Error:           errString(res.Err),
		DetectError:     errString(res.DetectErr),
		CheckpointError: errString(res.CheckpointErr),
		DurationMs:      res.Duration.Milliseconds(),
	}
	if resp.IDs == nil {
		resp.IDs = []int64{}
	}

	if detectBibs {
		h.detectBibs(r.Context(), data, &resp)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *IndexHandler) detectBibs(ctx context.Context, data []byte, resp *IndexResponse) {
	if h.bibs == nil {
		resp.BibError = bib.ErrNoProvider.Error()
		return
	}
	bibs, err := h.bibs.Detect(ctx, data)
	if err != nil {
		h.logger.Warn("bib detection failed", "photo_id", resp.PhotoID, "provider", h.bibs.Name(), "error", err)
		resp.BibError = err.Error()
		return
	}
	resp.Bibs = bibs
	resp.BibNumbers = database.JoinBibNumbers(bibs)
}
