// Package mock provides in-memory implementations of database interfaces for
// tests and for running the server without PostgreSQL.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/race-photos/internal/database"
)

var (
	_ database.EmbeddingWriter = (*MockEmbeddingStore)(nil)
	_ database.PhotoReader     = (*MockPhotoStore)(nil)
)

// MockEmbeddingStore is an in-memory database.EmbeddingWriter
type MockEmbeddingStore struct {
	mu      sync.RWMutex
	records map[int64]*database.EmbeddingRecord

	// Error injection
	InsertError    error
	FindByIDsError error
	CountError     error
	ListError      error

	// InsertCalls counts InsertBatch invocations, including failed ones
	InsertCalls int
}

// NewMockEmbeddingStore creates an empty store
func NewMockEmbeddingStore() *MockEmbeddingStore {
	return &MockEmbeddingStore{
		records: make(map[int64]*database.EmbeddingRecord),
	}
}

// InsertBatch stores all records or none
func (m *MockEmbeddingStore) InsertBatch(ctx context.Context, records []database.EmbeddingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertCalls++

	if m.InsertError != nil {
		return m.InsertError
	}
	seen := make(map[int64]bool, len(records))
	for _, r := range records {
		if _, ok := m.records[r.ID]; ok || seen[r.ID] {
			return fmt.Errorf("id %d: %w", r.ID, database.ErrDuplicateID)
		}
		seen[r.ID] = true
	}
	now := time.Now().UTC()
	for _, r := range records {
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		r.Embedding = slices.Clone(r.Embedding)
		m.records[r.ID] = &r
	}
	return nil
}

// FindByIDs returns records in the order of ids, nil for unknown ids
func (m *MockEmbeddingStore) FindByIDs(ctx context.Context, ids []int64) ([]*database.EmbeddingRecord, error) {
	if m.FindByIDsError != nil {
		return nil, m.FindByIDsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*database.EmbeddingRecord, len(ids))
	for i, id := range ids {
		if r, ok := m.records[id]; ok {
			cp := *r
			out[i] = &cp
		}
	}
	return out, nil
}

// Count returns the number of stored rows
func (m *MockEmbeddingStore) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

// MaxID returns the largest id or -1
func (m *MockEmbeddingStore) MaxID(ctx context.Context) (int64, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	maxID := int64(-1)
	for id := range m.records {
		maxID = max(maxID, id)
	}
	return maxID, nil
}

func (m *MockEmbeddingStore) list(keep func(*database.EmbeddingRecord) bool) []database.EmbeddingRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.EmbeddingRecord
	for _, r := range m.records {
		if keep(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func paginate(records []database.EmbeddingRecord, page database.Page) []database.EmbeddingRecord {
	page = page.Normalized()
	if page.Offset >= len(records) {
		return nil
	}
	end := min(page.Offset+page.Limit, len(records))
	return records[page.Offset:end]
}

// ListByEvent returns rows for an event ordered by id
func (m *MockEmbeddingStore) ListByEvent(ctx context.Context, eventID int64, page database.Page) ([]database.EmbeddingRecord, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	rows := m.list(func(r *database.EmbeddingRecord) bool {
		return r.EventID != nil && *r.EventID == eventID
	})
	return paginate(rows, page), nil
}

// ListByPhotographer returns rows for a photographer ordered by id
func (m *MockEmbeddingStore) ListByPhotographer(ctx context.Context, photographerID int64, page database.Page) ([]database.EmbeddingRecord, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	rows := m.list(func(r *database.EmbeddingRecord) bool {
		return r.PhotographerID != nil && *r.PhotographerID == photographerID
	})
	return paginate(rows, page), nil
}

// ListFromID returns rows with id >= fromID ordered by id
func (m *MockEmbeddingStore) ListFromID(ctx context.Context, fromID int64, limit int) ([]database.EmbeddingRecord, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	rows := m.list(func(r *database.EmbeddingRecord) bool { return r.ID >= fromID })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// MockPhotoStore is an in-memory database.PhotoReader
type MockPhotoStore struct {
	mu     sync.RWMutex
	photos map[int64]*database.PhotoSummary

	GetPhotosError error
	SearchError    error
}

// NewMockPhotoStore creates an empty photo store
func NewMockPhotoStore() *MockPhotoStore {
	return &MockPhotoStore{photos: make(map[int64]*database.PhotoSummary)}
}

// AddPhoto adds or replaces a photo
func (m *MockPhotoStore) AddPhoto(p database.PhotoSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photos[p.ID] = &p
}

// GetPhotos returns the known photos among ids
func (m *MockPhotoStore) GetPhotos(ctx context.Context, ids []int64) (map[int64]*database.PhotoSummary, error) {
	if m.GetPhotosError != nil {
		return nil, m.GetPhotosError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[int64]*database.PhotoSummary, len(ids))
	for _, id := range ids {
		if p, ok := m.photos[id]; ok {
			cp := *p
			out[id] = &cp
		}
	}
	return out, nil
}

// SearchByBib matches bib against whole entries of each photo's bib list
func (m *MockPhotoStore) SearchByBib(ctx context.Context, bib string, eventID *int64, page database.Page) ([]database.PhotoSummary, error) {
	if m.SearchError != nil {
		return nil, m.SearchError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.PhotoSummary
	for _, p := range m.photos {
		if eventID != nil && (p.EventID == nil || *p.EventID != *eventID) {
			continue
		}
		if slices.ContainsFunc(p.BibNumbers, func(b string) bool { return strings.EqualFold(b, bib) }) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})

	page = page.Normalized()
	if page.Offset >= len(out) {
		return nil, nil
	}
	return out[page.Offset:min(page.Offset+page.Limit, len(out))], nil
}
