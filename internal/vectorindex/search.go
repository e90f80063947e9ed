package vectorindex

import (
	"cmp"
	"container/heap"
	"fmt"
	"slices"
)

// SearchResult holds one row per query. Rows always have exactly k entries;
// missing slots carry NoMatch and MinScore.
type SearchResult struct {
	IDs    [][]int64
	Scores [][]float32
}

// Empty reports whether no row contains a real match.
func (r *SearchResult) Empty() bool {
	for _, row := range r.IDs {
		for _, id := range row {
			if id != NoMatch {
				return false
			}
		}
	}
	return true
}

// Hit is a single (id, score) pair.
type Hit struct {
	ID    int64
	Score float32
}

// Hits returns row i without padding.
func (r *SearchResult) Hits(i int) []Hit {
	var hits []Hit
	for j, id := range r.IDs[i] {
		if id == NoMatch {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: r.Scores[i][j]})
	}
	return hits
}

// better orders hits by descending score, ascending id on ties.
func better(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ID < b.ID
}

func compareHits(a, b Hit) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// topK is a bounded min-heap keeping the k best hits seen.
type topK struct {
	k    int
	hits []Hit
}

func (h *topK) Len() int           { return len(h.hits) }
func (h *topK) Less(i, j int) bool { return better(h.hits[j], h.hits[i]) }
func (h *topK) Swap(i, j int)      { h.hits[i], h.hits[j] = h.hits[j], h.hits[i] }
func (h *topK) Push(x any)         { h.hits = append(h.hits, x.(Hit)) }
func (h *topK) Pop() any {
	old := h.hits
	n := len(old)
	x := old[n-1]
	h.hits = old[:n-1]
	return x
}

func (h *topK) offer(hit Hit) {
	if len(h.hits) < h.k {
		heap.Push(h, hit)
		return
	}
	if better(hit, h.hits[0]) {
		h.hits[0] = hit
		heap.Fix(h, 0)
	}
}

func (h *topK) sorted() []Hit {
	out := slices.Clone(h.hits)
	slices.SortFunc(out, compareHits)
	return out
}

func innerProduct(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Search returns, for every query, the k stored vectors with the highest
// inner product. An empty index yields fully padded rows and no error.
func (x *Index) Search(queries [][]float32, k int) (*SearchResult, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	for i, q := range queries {
		if len(q) != x.dim {
			return nil, fmt.Errorf("query %d: %w: got %d, want %d", i, ErrDimensionMismatch, len(q), x.dim)
		}
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	res := &SearchResult{
		IDs:    make([][]int64, len(queries)),
		Scores: make([][]float32, len(queries)),
	}
	for i, q := range queries {
		var hits []Hit
		if x.strategy == StrategyHNSW && x.graph != nil && x.ntotal >= HNSWMinVectors {
			hits = x.searchGraphLocked(q, k)
		} else {
			hits = x.scanLocked(q, k)
		}
		res.IDs[i], res.Scores[i] = pad(hits, k)
	}
	return res, nil
}

func (x *Index) scanLocked(q []float32, k int) []Hit {
	h := &topK{k: k, hits: make([]Hit, 0, min(k, x.ntotal))}
	for id := range x.ntotal {
		h.offer(Hit{ID: int64(id), Score: innerProduct(q, x.row(int64(id)))})
	}
	return h.sorted()
}

// searchGraphLocked asks the graph for extra candidates and re-scores them
// against the stored rows so scores match the exact strategy.
func (x *Index) searchGraphLocked(q []float32, k int) []Hit {
	candidates := x.graph.Search(q, hnswCandidates(k))
	h := &topK{k: k, hits: make([]Hit, 0, k)}
	for _, n := range candidates {
		if n.Key < 0 || int(n.Key) >= x.ntotal {
			continue
		}
		h.offer(Hit{ID: n.Key, Score: innerProduct(q, x.row(n.Key))})
	}
	return h.sorted()
}

func hnswCandidates(k int) int {
	return max(k*HNSWSearchMultiplier, HNSWMinCandidates)
}

func pad(hits []Hit, k int) ([]int64, []float32) {
	ids := make([]int64, k)
	scores := make([]float32, k)
	for j := range k {
		if j < len(hits) {
			ids[j] = hits[j].ID
			scores[j] = hits[j].Score
			continue
		}
		ids[j] = NoMatch
		scores[j] = MinScore
	}
	return ids, scores
}
