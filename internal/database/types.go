package database

import (
	"errors"
	"strings"
	"time"
)

// BBox is a detection box in normalized image coordinates: center (X, Y)
// and size (W, H), all in [0, 1].
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// EmbeddingRecord is the metadata row for one vector in the index. ID is
// the vector's position in the index; rows are never updated or deleted.
type EmbeddingRecord struct {
	ID                    int64     `json:"id"`
	PhotoID               int64     `json:"photo_id"`
	EventID               *int64    `json:"event_id,omitempty"`
	PhotographerID        *int64    `json:"photographer_id,omitempty"`
	BBox                  BBox      `json:"bbox"`
	EmbeddingModelVersion string    `json:"embedding_model_version"`
	DetectionModelVersion string    `json:"detection_model_version"`
	ProcessingTimeMs      *float64  `json:"processing_time_ms,omitempty"`
	CreatedAt             time.Time `json:"created_at"`

	// Copy of the indexed vector, used to replay rows into a lagging index.
	Embedding []float32 `json:"-"`
}

// PhotoSummary is the slice of the photos table the search path joins to.
// The photos table itself is owned by the upload service.
type PhotoSummary struct {
	ID             int64     `json:"id"`
	EventID        *int64    `json:"event_id,omitempty"`
	PhotographerID *int64    `json:"photographer_id,omitempty"`
	FilePath       string    `json:"file_path"`
	BibNumbers     []string  `json:"bib_numbers,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Page bounds list queries.
type Page struct {
	Limit  int
	Offset int
}

const (
	DefaultPageLimit = 100
	MaxPageLimit     = 1000
)

// Normalized clamps the page to sane bounds.
func (p Page) Normalized() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

var ErrDuplicateID = errors.New("embedding id already exists")

// SplitBibNumbers parses the comma-joined bib_numbers column.
func SplitBibNumbers(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// JoinBibNumbers is the inverse of SplitBibNumbers.
func JoinBibNumbers(bibs []string) string {
	return strings.Join(bibs, ",")
}

// Int64Ptr is a small helper for optional ids.
func Int64Ptr(v int64) *int64 {
	return &v
}
