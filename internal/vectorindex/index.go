package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"github.com/google/uuid"

	"github.com/kozaktomas/race-photos/internal/logging"
)

// Strategy selects how Search scans the stored vectors.
type Strategy string

const (
	StrategyExact Strategy = "exact"
	StrategyHNSW  Strategy = "hnsw"
)

// Mirror keeps a remote copy of the snapshot file.
type Mirror interface {
	// Fetch downloads the remote snapshot to localPath. It returns
	// os.ErrNotExist (wrapped) when there is no remote copy.
	Fetch(ctx context.Context, localPath string) error
	// Push uploads the snapshot at localPath.
	Push(ctx context.Context, localPath string) error
}

// Options configures Open.
type Options struct {
	Dim      int
	Path     string // snapshot file; empty keeps the index in memory only
	Strategy Strategy
	Mirror   Mirror
	Logger   *slog.Logger
}

// Index is an append-only store of unit vectors addressed by insertion
// position. The id of a vector is the number of vectors stored before it.
type Index struct {
	mu      sync.RWMutex
	dim     int
	vectors []float32 // row-major, ntotal*dim
	ntotal  int
	graph   *hnsw.Graph[int64]

	id        uuid.UUID
	createdAt time.Time
	strategy  Strategy

	saveMu    sync.Mutex
	path      string
	mirror    Mirror
	lastSaved time.Time
	lastErr   error

	logger *slog.Logger
}

// New creates an empty in-memory index of dimension dim.
func New(dim int, strategy Strategy) *Index {
	if strategy == "" {
		strategy = StrategyExact
	}
	return &Index{
		dim:       dim,
		id:        uuid.New(),
		createdAt: time.Now().UTC(),
		strategy:  strategy,
		logger:    logging.OrDiscard(nil),
	}
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors)
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	g.Rng = rand.New(rand.NewSource(HNSWSeed))
	return g
}

// Dim returns the fixed vector dimension.
func (x *Index) Dim() int {
	return x.dim
}

// Len returns ntotal.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.ntotal
}

// ID identifies this index lineage. It survives save/load and changes only
// when a fresh index is created.
func (x *Index) ID() uuid.UUID {
	return x.id
}

func (x *Index) Strategy() Strategy {
	return x.strategy
}

// Path returns the snapshot path, empty for memory-only indexes.
func (x *Index) Path() string {
	return x.path
}

// checkVector validates a vector without touching index state.
func (x *Index) checkVector(v []float32) error {
	if len(v) != x.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), x.dim)
	}
	for _, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return ErrInvalidVector
		}
	}
	return nil
}

// AddBatch appends vectors in order and returns their ids, which are
// contiguous starting at the previous ntotal. Every vector is validated
// before anything is stored, so on error the index is unchanged. Vectors
// are stored as given; callers normalize.
func (x *Index) AddBatch(vectors [][]float32) ([]int64, error) {
	if len(vectors) == 0 {
		return nil, nil
	}
	for i, v := range vectors {
		if err := x.checkVector(v); err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	first := int64(x.ntotal)
	ids := make([]int64, len(vectors))
	for i, v := range vectors {
		x.vectors = append(x.vectors, v...)
		ids[i] = first + int64(i)
	}
	x.ntotal += len(vectors)

	if x.strategy == StrategyHNSW {
		x.addToGraphLocked(ids, vectors)
	}
	return ids, nil
}

func (x *Index) addToGraphLocked(ids []int64, vectors [][]float32) {
	if x.graph == nil {
		x.graph = newGraph()
	}
	for i, v := range vectors {
		// the graph keeps its own copy so later appends cannot alias it
		vec := make([]float32, len(v))
		copy(vec, v)
		x.graph.Add(hnsw.MakeNode(ids[i], vec))
	}
}

// row returns the stored vector for id. Caller holds mu.
func (x *Index) row(id int64) []float32 {
	off := int(id) * x.dim
	return x.vectors[off : off+x.dim]
}

// Snapshot returns the stored vectors in id order. The returned slices share
// memory with the index and must not be modified.
func (x *Index) Snapshot() [][]float32 {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([][]float32, x.ntotal)
	for i := range out {
		out[i] = x.row(int64(i))
	}
	return out
}

// Stats describes the index for operators.
type Stats struct {
	IndexID      string    `json:"index_id"`
	NTotal       int       `json:"ntotal"`
	Dim          int       `json:"dim"`
	Strategy     Strategy  `json:"strategy"`
	Path         string    `json:"path,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastSaved    time.Time `json:"last_saved,omitzero"`
	LastSaveErr  string    `json:"last_save_error,omitempty"`
	MirrorActive bool      `json:"mirror_active"`
}

func (x *Index) Stats() Stats {
	x.mu.RLock()
	n := x.ntotal
	x.mu.RUnlock()

	x.saveMu.Lock()
	defer x.saveMu.Unlock()
	s := Stats{
		IndexID:      x.id.String(),
		NTotal:       n,
		Dim:          x.dim,
		Strategy:     x.strategy,
		Path:         x.path,
		CreatedAt:    x.createdAt,
		LastSaved:    x.lastSaved,
		MirrorActive: x.mirror != nil,
	}
	if x.lastErr != nil {
		s.LastSaveErr = x.lastErr.Error()
	}
	return s
}
