// Package search finds indexed photos that show the same person as a query
// image, and photos carrying a given bib number.
package search

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/kozaktomas/race-photos/internal/bib"
	"github.com/kozaktomas/race-photos/internal/database"
	"github.com/kozaktomas/race-photos/internal/detect"
	"github.com/kozaktomas/race-photos/internal/embed"
	"github.com/kozaktomas/race-photos/internal/logging"
	"github.com/kozaktomas/race-photos/internal/photo"
	"github.com/kozaktomas/race-photos/internal/vectorindex"
)

// overfetch widens the index query when results are filtered or deduplicated
// after retrieval.
const overfetch = 4

var (
	ErrInvalidK = errors.New("k must be positive")
	ErrEmptyBib = errors.New("bib number is empty")

	ErrInvalidVector = errors.New("query vector must be finite and non-zero")
)

// Index is the read side of *vectorindex.Index.
type Index interface {
	Search(queries [][]float32, k int) (*vectorindex.SearchResult, error)
	Len() int
}

// Filter narrows results after retrieval.
type Filter struct {
	EventID *int64
}

// Hit is one matching person in an indexed photo.
type Hit struct {
	EmbeddingID    int64                  `json:"embedding_id"`
	PhotoID        int64                  `json:"photo_id"`
	EventID        *int64                 `json:"event_id,omitempty"`
	PhotographerID *int64                 `json:"photographer_id,omitempty"`
	BBox           database.BBox          `json:"bbox"`
	Score          float32                `json:"score"`
	Photo          *database.PhotoSummary `json:"photo,omitempty"`
}

// Response is the outcome of a similarity search.
type Response struct {
	Results []Hit `json:"results"`
	// Unresolved counts index hits without a metadata row.
	Unresolved int `json:"unresolved"`
	// WholeImage is set when no person was found in the query and the
	// whole image was embedded instead.
	WholeImage bool        `json:"whole_image"`
	QueryBox   *detect.Box `json:"query_box,omitempty"`
	Degraded   bool        `json:"degraded"`
}

// Options tunes the service.
type Options struct {
	MinSimilarity float64
	MaxK          int
	DedupByPhoto  bool
	Logger        *slog.Logger
}

// Service answers similarity and bib queries.
type Service struct {
	detector   detect.Detector
	embedder   embed.Embedder
	index      Index
	embeddings database.EmbeddingReader
	photos     database.PhotoReader // optional

	minSimilarity float64
	maxK          int
	dedup         bool
	degraded      atomic.Bool
	logger        *slog.Logger
}

// NewService creates a Service. photos may be nil, in which case hits carry
// no photo details and bib search is unavailable.
func NewService(detector detect.Detector, embedder embed.Embedder, index Index, embeddings database.EmbeddingReader, photos database.PhotoReader, opts Options) *Service {
	return &Service{
		detector:      detector,
		embedder:      embedder,
		index:         index,
		embeddings:    embeddings,
		photos:        photos,
		minSimilarity: opts.MinSimilarity,
		maxK:          opts.MaxK,
		dedup:         opts.DedupByPhoto,
		logger:        logging.OrDiscard(opts.Logger),
	}
}

// SetDegraded marks the index as known to disagree with the metadata store.
func (s *Service) SetDegraded(degraded bool) {
	s.degraded.Store(degraded)
}

func (s *Service) Degraded() bool {
	return s.degraded.Load()
}

// SearchByImage embeds the most confident person of the query image and
// returns up to k similar people.
func (s *Service) SearchByImage(ctx context.Context, imageData []byte, k int, filter Filter) (*Response, error) {
	img, err := photo.Decode(imageData)
	if err != nil {
		return nil, err
	}

	query, box := s.queryRegion(ctx, img)
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	resp, err := s.SearchByVector(ctx, vec, k, filter)
	if err != nil {
		return nil, err
	}
	resp.QueryBox = box
	resp.WholeImage = box == nil
	return resp, nil
}

// queryRegion returns the crop of the best person box, or the whole image
// when detection finds nobody or fails.
func (s *Service) queryRegion(ctx context.Context, img image.Image) (image.Image, *detect.Box) {
	boxes, err := s.detector.Detect(ctx, img)
	if err != nil {
		s.logger.Warn("query detection failed, using whole image", "error", err)
		return img, nil
	}
	best, err := detect.Best(boxes)
	if err != nil {
		return img, nil
	}
	crop, err := photo.CropBox(img, best.CX, best.CY, best.W, best.H)
	if err != nil {
		s.logger.Warn("query crop rejected, using whole image", "error", err)
		return img, nil
	}
	return crop, &best
}

// SearchByVector returns up to k people whose embedding scores at least the
// minimum similarity against vec, best first. vec is scaled to unit length
// on a copy; NaN, Inf and zero vectors are rejected with ErrInvalidVector.
func (s *Service) SearchByVector(ctx context.Context, vec []float32, k int, filter Filter) (*Response, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	vec, err := embed.Normalize(slices.Clone(vec))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidVector, err)
	}
	if s.maxK > 0 {
		k = min(k, s.maxK)
	}

	resp := &Response{Results: []Hit{}, Degraded: s.Degraded()}

	fetch := k
	if s.dedup || filter.EventID != nil {
		fetch = k * overfetch
	}
	res, err := s.index.Search([][]float32{vec}, fetch)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	var candidates []vectorindex.Hit
	for _, h := range res.Hits(0) {
		if float64(h.Score) < s.minSimilarity {
			break // hits are sorted by score
		}
		candidates = append(candidates, h)
	}
	if len(candidates) == 0 {
		return resp, nil
	}

	ids := make([]int64, len(candidates))
	for i, h := range candidates {
		ids[i] = h.ID
	}
	records, err := s.embeddings.FindByIDs(ctx, ids)
	if err != nil {
		s.logger.Error("resolve embedding ids", "candidates", len(ids), "error", err)
		resp.Degraded = true
		return resp, nil
	}

	seenPhotos := make(map[int64]bool)
	for i, rec := range records {
		if rec == nil {
			resp.Unresolved++
			continue
		}
		if filter.EventID != nil && (rec.EventID == nil || *rec.EventID != *filter.EventID) {
			continue
		}
		if s.dedup {
			if seenPhotos[rec.PhotoID] {
				continue
			}
			seenPhotos[rec.PhotoID] = true
		}
		resp.Results = append(resp.Results, Hit{
			EmbeddingID:    rec.ID,
			PhotoID:        rec.PhotoID,
			EventID:        rec.EventID,
			PhotographerID: rec.PhotographerID,
			BBox:           rec.BBox,
			Score:          candidates[i].Score,
		})
		if len(resp.Results) == k {
			break
		}
	}
	if resp.Unresolved > 0 {
		s.logger.Warn("index hits without metadata rows", "unresolved", resp.Unresolved)
	}

	s.attachPhotos(ctx, resp.Results)
	return resp, nil
}

// attachPhotos joins hits to the photos projection. A failed lookup leaves
// Photo nil.
func (s *Service) attachPhotos(ctx context.Context, hits []Hit) {
	if s.photos == nil || len(hits) == 0 {
		return
	}
	ids := make([]int64, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.PhotoID)
	}
	photos, err := s.photos.GetPhotos(ctx, ids)
	if err != nil {
		s.logger.Warn("failed to load photo details", "error", err)
		return
	}
	for i := range hits {
		hits[i].Photo = photos[hits[i].PhotoID]
	}
}

// SearchBib returns photos whose bib list contains the normalized bib.
func (s *Service) SearchBib(ctx context.Context, raw string, eventID *int64, page database.Page) ([]database.PhotoSummary, error) {
	if s.photos == nil {
		return nil, errors.New("photo store not configured")
	}
	b := bib.Normalize(raw)
	if b == "" {
		return nil, ErrEmptyBib
	}
	photos, err := s.photos.SearchByBib(ctx, b, eventID, page)
	if err != nil {
		return nil, fmt.Errorf("bib search: %w", err)
	}
	if photos == nil {
		photos = []database.PhotoSummary{}
	}
	return photos, nil
}
