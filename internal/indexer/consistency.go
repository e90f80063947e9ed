package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kozaktomas/race-photos/internal/database"
	"github.com/kozaktomas/race-photos/internal/logging"
)

// ErrNotReconcilable is returned by Reconcile for any verdict other than
// VerdictIndexBehind.
var ErrNotReconcilable = errors.New("index cannot be reconciled")

const reconcileBatchSize = 500

// Verdict summarizes how the index and the metadata store relate.
type Verdict string

const (
	VerdictConsistent  Verdict = "consistent"
	VerdictIndexBehind Verdict = "index_behind" // rows exist past the last vector
	VerdictIndexAhead  Verdict = "index_ahead"  // vectors exist past the last row
	VerdictGap         Verdict = "gap"          // row ids are not contiguous
)

// Consistency compares the vector count with the metadata rows.
type Consistency struct {
	NTotal  int     `json:"ntotal"`
	Rows    int     `json:"rows"`
	NextID  int64   `json:"next_id"` // max(id)+1
	Verdict Verdict `json:"verdict"`
}

// OK reports whether every vector has exactly one row.
func (c Consistency) OK() bool {
	return c.Verdict == VerdictConsistent
}

// Sizer reports the number of vectors in an index.
type Sizer interface {
	Len() int
}

// CheckConsistency compares index.Len() with the row count and max id of the
// store. It only reads; a mismatch is logged and returned.
func CheckConsistency(ctx context.Context, index Sizer, store database.EmbeddingReader, logger *slog.Logger) (Consistency, error) {
	logger = logging.OrDiscard(logger)

	rows, err := store.Count(ctx)
	if err != nil {
		return Consistency{}, fmt.Errorf("count embedding rows: %w", err)
	}
	maxID, err := store.MaxID(ctx)
	if err != nil {
		return Consistency{}, fmt.Errorf("max embedding id: %w", err)
	}

	c := Consistency{NTotal: index.Len(), Rows: rows, NextID: maxID + 1}
	switch {
	case c.NextID != int64(c.Rows):
		c.Verdict = VerdictGap
	case c.NTotal == c.Rows:
		c.Verdict = VerdictConsistent
	case c.NTotal < c.Rows:
		c.Verdict = VerdictIndexBehind
	default:
		c.Verdict = VerdictIndexAhead
	}

	if !c.OK() {
		logger.Warn("vector index and embedding rows disagree",
			"verdict", c.Verdict,
			"ntotal", c.NTotal,
			"rows", c.Rows,
			"next_id", c.NextID)
	}
	return c, nil
}

// Reconcile replays rows with id >= ntotal into the index, in id order, and
// checkpoints. It refuses unless the index is strictly behind contiguous
// rows. It returns the number of vectors appended.
func Reconcile(ctx context.Context, index Index, store database.EmbeddingReader, logger *slog.Logger) (int, error) {
	logger = logging.OrDiscard(logger)

	c, err := CheckConsistency(ctx, index, store, logger)
	if err != nil {
		return 0, err
	}
	if c.Verdict != VerdictIndexBehind {
		return 0, fmt.Errorf("%w: verdict is %s (ntotal=%d rows=%d next_id=%d)",
			ErrNotReconcilable, c.Verdict, c.NTotal, c.Rows, c.NextID)
	}

	replayed := 0
	for {
		next := int64(index.Len())
		rows, err := store.ListFromID(ctx, next, reconcileBatchSize)
		if err != nil {
			return replayed, fmt.Errorf("list rows from %d: %w", next, err)
		}
		if len(rows) == 0 {
			break
		}

		vectors := make([][]float32, len(rows))
		for i, r := range rows {
			if r.ID != next+int64(i) {
				return replayed, fmt.Errorf("%w: expected row id %d, found %d", ErrNotReconcilable, next+int64(i), r.ID)
			}
			if len(r.Embedding) == 0 {
				return replayed, fmt.Errorf("%w: row %d has no stored embedding", ErrNotReconcilable, r.ID)
			}
			vectors[i] = r.Embedding
		}

		ids, err := index.AddBatch(vectors)
		if err != nil {
			return replayed, fmt.Errorf("replay rows from %d: %w", next, err)
		}
		for i, id := range ids {
			if id != rows[i].ID {
				return replayed, fmt.Errorf("replay assigned id %d to row %d", id, rows[i].ID)
			}
		}
		replayed += len(ids)
		logger.Info("replayed embedding rows", "from", next, "count", len(ids))

		if len(rows) < reconcileBatchSize {
			break
		}
	}

	if err := index.SaveContext(ctx); err != nil {
		return replayed, fmt.Errorf("checkpoint after reconcile: %w", err)
	}
	return replayed, nil
}
