package database

import (
	"context"
)

// EmbeddingReader provides read-only access to embedding metadata
type EmbeddingReader interface {
	// FindByIDs returns one entry per id in the same order; ids without a row map to nil
	FindByIDs(ctx context.Context, ids []int64) ([]*EmbeddingRecord, error)
	// Count returns the total number of rows
	Count(ctx context.Context) (int, error)
	// MaxID returns the largest id, or -1 when the table is empty
	MaxID(ctx context.Context) (int64, error)
	// ListByEvent returns rows for an event ordered by id
	ListByEvent(ctx context.Context, eventID int64, page Page) ([]EmbeddingRecord, error)
	// ListByPhotographer returns rows for a photographer ordered by id
	ListByPhotographer(ctx context.Context, photographerID int64, page Page) ([]EmbeddingRecord, error)
	// ListFromID returns up to limit rows with id >= fromID ordered by id, including vectors
	ListFromID(ctx context.Context, fromID int64, limit int) ([]EmbeddingRecord, error)
}

// EmbeddingWriter provides write access to embedding metadata
type EmbeddingWriter interface {
	EmbeddingReader

	// InsertBatch stores all records in one transaction; either every row is written or none
	InsertBatch(ctx context.Context, records []EmbeddingRecord) error
}

// PhotoReader provides read-only access to the photos projection
type PhotoReader interface {
	// GetPhotos returns the photos found among ids, keyed by id
	GetPhotos(ctx context.Context, ids []int64) (map[int64]*PhotoSummary, error)
	// SearchByBib returns photos whose bib list contains bib as a whole entry
	SearchByBib(ctx context.Context, bib string, eventID *int64, page Page) ([]PhotoSummary, error)
}
