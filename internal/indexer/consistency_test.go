package indexer

import (
	"context"
	"errors"
	"testing"

	"github.com/kozaktomas/race-photos/internal/database"
	"github.com/kozaktomas/race-photos/internal/database/mock"
	"github.com/kozaktomas/race-photos/internal/vectorindex"
)

func unit(dim, i int) []float32 {
	v := make([]float32, dim)
	v[i%dim] = 1
	return v
}

// seed puts n vectors into a fresh index and one row per id into the store.
func seed(t *testing.T, n int, rowIDs []int64) (*vectorindex.Index, *mock.MockEmbeddingStore) {
	t.Helper()
	idx := vectorindex.New(4, vectorindex.StrategyExact)
	for i := range n {
		if _, err := idx.AddBatch([][]float32{unit(4, i)}); err != nil {
			t.Fatal(err)
		}
	}
	store := mock.NewMockEmbeddingStore()
	var records []database.EmbeddingRecord
	for _, id := range rowIDs {
		records = append(records, database.EmbeddingRecord{ID: id, PhotoID: 1, Embedding: unit(4, int(id))})
	}
	if err := store.InsertBatch(context.Background(), records); err != nil {
		t.Fatal(err)
	}
	return idx, store
}

func TestCheckConsistency(t *testing.T) {
	tests := []struct {
		name   string
		ntotal int
		rows   []int64
		want   Verdict
	}{
		{name: "both empty", ntotal: 0, rows: nil, want: VerdictConsistent},
		{name: "aligned", ntotal: 3, rows: []int64{0, 1, 2}, want: VerdictConsistent},
		{name: "index behind", ntotal: 1, rows: []int64{0, 1, 2}, want: VerdictIndexBehind},
		{name: "index ahead", ntotal: 3, rows: []int64{0, 1}, want: VerdictIndexAhead},
		{name: "hole in ids", ntotal: 3, rows: []int64{0, 2}, want: VerdictGap},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, store := seed(t, tt.ntotal, tt.rows)
			got, err := CheckConsistency(context.Background(), idx, store, nil)
			if err != nil {
				t.Fatal(err)
			}
			if got.Verdict != tt.want {
				t.Errorf("expected %s, got %s (%+v)", tt.want, got.Verdict, got)
			}
			if got.NTotal != tt.ntotal || got.Rows != len(tt.rows) {
				t.Errorf("unexpected counts %+v", got)
			}
		})
	}
}

func TestCheckConsistency_StoreError(t *testing.T) {
	idx, store := seed(t, 0, nil)
	store.CountError = errors.New("db down")
	if _, err := CheckConsistency(context.Background(), idx, store, nil); err == nil {
		t.Error("expected error")
	}
}

func TestReconcile_ReplaysMissingRows(t *testing.T) {
	ctx := context.Background()
	idx, store := seed(t, 2, []int64{0, 1, 2, 3, 4})

	n, err := Reconcile(ctx, idx, store, nil)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if n != 3 || idx.Len() != 5 {
		t.Fatalf("expected 3 replayed and ntotal 5, got %d and %d", n, idx.Len())
	}

	res, err := idx.Search([][]float32{unit(4, 3)}, 1)
	if err != nil {
		t.Fatal(err)
	}
	// unit(4,3) was stored for id 3 only
	if res.IDs[0][0] != 3 {
		t.Errorf("expected replayed vector at id 3, got %d", res.IDs[0][0])
	}

	c, err := CheckConsistency(ctx, idx, store, nil)
	if err != nil || !c.OK() {
		t.Errorf("expected consistent after reconcile, got %+v (%v)", c, err)
	}
}

func TestReconcile_Refuses(t *testing.T) {
	tests := []struct {
		name   string
		ntotal int
		rows   []int64
	}{
		{name: "already consistent", ntotal: 2, rows: []int64{0, 1}},
		{name: "index ahead", ntotal: 3, rows: []int64{0}},
		{name: "gap", ntotal: 1, rows: []int64{0, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, store := seed(t, tt.ntotal, tt.rows)
			n, err := Reconcile(context.Background(), idx, store, nil)
			if !errors.Is(err, ErrNotReconcilable) {
				t.Fatalf("expected ErrNotReconcilable, got %v", err)
			}
			if n != 0 || idx.Len() != tt.ntotal {
				t.Errorf("refused reconcile must not change the index")
			}
		})
	}
}
