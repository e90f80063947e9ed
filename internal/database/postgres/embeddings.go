package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/race-photos/internal/database"
)

var _ database.EmbeddingWriter = (*EmbeddingRepository)(nil)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const uniqueViolation = "23505"

var embeddingColumns = []string{
	"id", "photo_id", "event_id", "photographer_id",
	"bbox_x", "bbox_y", "bbox_w", "bbox_h",
	"embedding_model_version", "detection_model_version",
	"processing_time_ms", "created_at",
}

// EmbeddingRepository provides PostgreSQL-backed storage for person embedding metadata.
type EmbeddingRepository struct {
	pool *Pool
}

// NewEmbeddingRepository creates a new PostgreSQL embedding repository.
func NewEmbeddingRepository(pool *Pool) *EmbeddingRepository {
	return &EmbeddingRepository{pool: pool}
}

// InsertBatch stores records in a single transaction. A duplicate id aborts
// the whole batch with database.ErrDuplicateID.
func (r *EmbeddingRepository) InsertBatch(ctx context.Context, records []database.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO person_embeddings (id, photo_id, event_id, photographer_id,
		                               bbox_x, bbox_y, bbox_w, bbox_h, embedding,
		                               embedding_model_version, detection_model_version, processing_time_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::vector, $10, $11, $12)
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		rec := &records[i]
		var vec any
		if len(rec.Embedding) > 0 {
			vec = pgvector.NewVector(rec.Embedding)
		}
		if _, err := stmt.ExecContext(ctx,
			rec.ID,
			rec.PhotoID,
			rec.EventID,
			rec.PhotographerID,
			rec.BBox.X,
			rec.BBox.Y,
			rec.BBox.W,
			rec.BBox.H,
			vec,
			rec.EmbeddingModelVersion,
			rec.DetectionModelVersion,
			rec.ProcessingTimeMs,
		); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				return fmt.Errorf("insert embedding %d: %w", rec.ID, database.ErrDuplicateID)
			}
			return fmt.Errorf("insert embedding %d: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// FindByIDs returns records in the order of ids; unknown ids map to nil.
func (r *EmbeddingRepository) FindByIDs(ctx context.Context, ids []int64) ([]*database.EmbeddingRecord, error) {
	out := make([]*database.EmbeddingRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `SELECT ` + strings.Join(embeddingColumns, ", ") + ` FROM person_embeddings WHERE id = ANY($1)`
	rows, err := r.pool.Query(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query embeddings by id: %w", err)
	}
	defer rows.Close()

	found, err := scanEmbeddings(rows, false)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*database.EmbeddingRecord, len(found))
	for i := range found {
		byID[found[i].ID] = &found[i]
	}
	for i, id := range ids {
		out[i] = byID[id]
	}
	return out, nil
}

// Count returns the number of embedding rows.
func (r *EmbeddingRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM person_embeddings").Scan(&count); err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return count, nil
}

// MaxID returns the largest id, or -1 for an empty table.
func (r *EmbeddingRepository) MaxID(ctx context.Context) (int64, error) {
	var maxID int64
	if err := r.pool.QueryRow(ctx, "SELECT COALESCE(MAX(id), -1) FROM person_embeddings").Scan(&maxID); err != nil {
		return 0, fmt.Errorf("max embedding id: %w", err)
	}
	return maxID, nil
}

// ListByEvent returns rows for an event ordered by id.
func (r *EmbeddingRepository) ListByEvent(ctx context.Context, eventID int64, page database.Page) ([]database.EmbeddingRecord, error) {
	return r.list(ctx, sq.Eq{"event_id": eventID}, page)
}

// ListByPhotographer returns rows for a photographer ordered by id.
func (r *EmbeddingRepository) ListByPhotographer(ctx context.Context, photographerID int64, page database.Page) ([]database.EmbeddingRecord, error) {
	return r.list(ctx, sq.Eq{"photographer_id": photographerID}, page)
}

func (r *EmbeddingRepository) list(ctx context.Context, where sq.Sqlizer, page database.Page) ([]database.EmbeddingRecord, error) {
	page = page.Normalized()
	sqlStr, args, err := psql.Select(embeddingColumns...).
		From("person_embeddings").
		Where(where).
		OrderBy("id ASC").
		Limit(uint64(page.Limit)).
		Offset(uint64(page.Offset)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build embedding list query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	defer rows.Close()
	return scanEmbeddings(rows, false)
}

// ListFromID returns up to limit rows with id >= fromID, including vectors.
func (r *EmbeddingRepository) ListFromID(ctx context.Context, fromID int64, limit int) ([]database.EmbeddingRecord, error) {
	builder := psql.Select(slices.Concat(embeddingColumns, []string{"embedding"})...).
		From("person_embeddings").
		Where(sq.GtOrEq{"id": fromID}).
		OrderBy("id ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	sqlStr, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build replay query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list embeddings from %d: %w", fromID, err)
	}
	defer rows.Close()
	return scanEmbeddings(rows, true)
}

func scanEmbeddingRow(scanner interface{ Scan(...any) error }, withVector bool) (database.EmbeddingRecord, error) {
	var rec database.EmbeddingRecord
	var eventID, photographerID sql.NullInt64
	var processingMs sql.NullFloat64
	var vec sql.Null[pgvector.Vector]

	dest := []any{
		&rec.ID,
		&rec.PhotoID,
		&eventID,
		&photographerID,
		&rec.BBox.X,
		&rec.BBox.Y,
		&rec.BBox.W,
		&rec.BBox.H,
		&rec.EmbeddingModelVersion,
		&rec.DetectionModelVersion,
		&processingMs,
		&rec.CreatedAt,
	}
	if withVector {
		dest = append(dest, &vec)
	}

	if err := scanner.Scan(dest...); err != nil {
		return rec, fmt.Errorf("scan embedding: %w", err)
	}

	if eventID.Valid {
		rec.EventID = &eventID.Int64
	}
	if photographerID.Valid {
		rec.PhotographerID = &photographerID.Int64
	}
	if processingMs.Valid {
		rec.ProcessingTimeMs = &processingMs.Float64
	}
	if withVector && vec.Valid {
		rec.Embedding = vec.V.Slice()
	}
	return rec, nil
}

func scanEmbeddings(rows *sql.Rows, withVector bool) ([]database.EmbeddingRecord, error) {
	var records []database.EmbeddingRecord
	for rows.Next() {
		rec, err := scanEmbeddingRow(rows, withVector)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return records, nil
}
