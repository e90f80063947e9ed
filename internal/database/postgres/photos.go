package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/kozaktomas/race-photos/internal/database"
)

var _ database.PhotoReader = (*PhotoRepository)(nil)

var photoColumns = []string{"id", "event_id", "photographer_id", "file_path", "bib_numbers", "created_at"}

// PhotoRepository reads the photos projection owned by the upload service.
type PhotoRepository struct {
	pool *Pool
}

// NewPhotoRepository creates a new PostgreSQL photo repository.
func NewPhotoRepository(pool *Pool) *PhotoRepository {
	return &PhotoRepository{pool: pool}
}

// GetPhotos returns the photos found among ids, keyed by id.
func (r *PhotoRepository) GetPhotos(ctx context.Context, ids []int64) (map[int64]*database.PhotoSummary, error) {
	out := make(map[int64]*database.PhotoSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `SELECT ` + strings.Join(photoColumns, ", ") + ` FROM photos WHERE id = ANY($1)`
	rows, err := r.pool.Query(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query photos: %w", err)
	}
	defer rows.Close()

	photos, err := scanPhotos(rows)
	if err != nil {
		return nil, err
	}
	for i := range photos {
		out[photos[i].ID] = &photos[i]
	}
	return out, nil
}

// escapeLike escapes LIKE wildcards so bib is matched literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// bibMatch matches bib as a whole entry of the comma-joined bib_numbers
// column: the only entry, the first, a middle one or the last.
func bibMatch(bib string) sq.Sqlizer {
	b := escapeLike(bib)
	return sq.Or{
		sq.ILike{"bib_numbers": b},
		sq.ILike{"bib_numbers": b + ",%"},
		sq.ILike{"bib_numbers": "%," + b + ",%"},
		sq.ILike{"bib_numbers": "%," + b},
	}
}

// SearchByBib returns photos whose bib list contains bib, newest first.
func (r *PhotoRepository) SearchByBib(ctx context.Context, bib string, eventID *int64, page database.Page) ([]database.PhotoSummary, error) {
	page = page.Normalized()
	where := sq.And{bibMatch(bib)}
	if eventID != nil {
		where = append(where, sq.Eq{"event_id": *eventID})
	}

	sqlStr, args, err := psql.Select(photoColumns...).
		From("photos").
		Where(where).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(page.Limit)).
		Offset(uint64(page.Offset)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build bib search query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("search photos by bib: %w", err)
	}
	defer rows.Close()
	return scanPhotos(rows)
}

func scanPhotos(rows *sql.Rows) ([]database.PhotoSummary, error) {
	var photos []database.PhotoSummary
	for rows.Next() {
		var p database.PhotoSummary
		var eventID, photographerID sql.NullInt64
		var bibs string
		if err := rows.Scan(&p.ID, &eventID, &photographerID, &p.FilePath, &bibs, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		if eventID.Valid {
			p.EventID = &eventID.Int64
		}
		if photographerID.Valid {
			p.PhotographerID = &photographerID.Int64
		}
		p.BibNumbers = database.SplitBibNumbers(bibs)
		photos = append(photos, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photos: %w", err)
	}
	return photos, nil
}
