package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/race-photos/internal/database"
	"github.com/kozaktomas/race-photos/internal/database/mock"
	"github.com/kozaktomas/race-photos/internal/photo"
	"github.com/kozaktomas/race-photos/internal/search"
)

type fakeSearcher struct {
	resp    *search.Response
	photos  []database.PhotoSummary
	err     error
	gotK    int
	gotF    search.Filter
	gotBib  string
	gotPage database.Page
}

func (f *fakeSearcher) SearchByImage(_ context.Context, _ []byte, k int, filter search.Filter) (*search.Response, error) {
	f.gotK = k
	f.gotF = filter
	return f.resp, f.err
}

func (f *fakeSearcher) SearchBib(_ context.Context, raw string, eventID *int64, page database.Page) ([]database.PhotoSummary, error) {
	f.gotBib = raw
	f.gotF = search.Filter{EventID: eventID}
	f.gotPage = page
	return f.photos, f.err
}

func TestSearchHandler_ByImage(t *testing.T) {
	s := &fakeSearcher{resp: &search.Response{
		Results: []search.Hit{{EmbeddingID: 3, PhotoID: 30, Score: 0.91}},
	}}
	handler := NewSearchHandler(s, nil, 20, nil)

	recorder := httptest.NewRecorder()
	handler.ByImage(recorder, multipartRequest(t, "/api/v1/search/image", []byte("jpeg"), map[string]string{
		"k":        "5",
		"event_id": "2",
	}))

	assertStatusCode(t, recorder, http.StatusOK)
	var resp search.Response
	parseJSONResponse(t, recorder, &resp)
	if len(resp.Results) != 1 || resp.Results[0].PhotoID != 30 {
		t.Errorf("unexpected results %+v", resp.Results)
	}
	if s.gotK != 5 {
		t.Errorf("expected k=5, got %d", s.gotK)
	}
	if s.gotF.EventID == nil || *s.gotF.EventID != 2 {
		t.Errorf("expected event filter 2, got %v", s.gotF.EventID)
	}
}

func TestSearchHandler_ByImage_DefaultK(t *testing.T) {
	s := &fakeSearcher{resp: &search.Response{Results: []search.Hit{}}}
	handler := NewSearchHandler(s, nil, 20, nil)

	recorder := httptest.NewRecorder()
	handler.ByImage(recorder, multipartRequest(t, "/api/v1/search/image", []byte("jpeg"), nil))

	assertStatusCode(t, recorder, http.StatusOK)
	if s.gotK != 20 {
		t.Errorf("expected default k=20, got %d", s.gotK)
	}
	if s.gotF.EventID != nil {
		t.Error("expected no event filter")
	}
}

func TestSearchHandler_ByImage_Errors(t *testing.T) {
	tests := []struct {
		name       string
		file       []byte
		fields     map[string]string
		err        error
		wantStatus int
	}{
		{name: "missing file", wantStatus: http.StatusBadRequest},
		{name: "bad k", file: []byte("x"), fields: map[string]string{"k": "zero"}, wantStatus: http.StatusBadRequest},
		{name: "negative k", file: []byte("x"), fields: map[string]string{"k": "-1"}, wantStatus: http.StatusBadRequest},
		{name: "undecodable image", file: []byte("x"), err: fmt.Errorf("%w: unknown format", photo.ErrDecode), wantStatus: http.StatusBadRequest},
		{name: "embedder down", file: []byte("x"), err: errors.New("embed query: connection refused"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewSearchHandler(&fakeSearcher{err: tt.err}, nil, 20, nil)
			recorder := httptest.NewRecorder()
			handler.ByImage(recorder, multipartRequest(t, "/api/v1/search/image", tt.file, tt.fields))
			assertStatusCode(t, recorder, tt.wantStatus)
		})
	}
}

func TestSearchHandler_ByBib(t *testing.T) {
	s := &fakeSearcher{photos: []database.PhotoSummary{{ID: 1, BibNumbers: []string{"123"}}}}
	handler := NewSearchHandler(s, nil, 20, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search/bib?bib=123&event_id=4&limit=10&offset=20", nil)
	recorder := httptest.NewRecorder()
	handler.ByBib(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var resp BibResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Count != 1 || resp.Photos[0].ID != 1 {
		t.Errorf("unexpected response %+v", resp)
	}
	if s.gotBib != "123" {
		t.Errorf("expected bib 123, got %q", s.gotBib)
	}
	if s.gotPage != (database.Page{Limit: 10, Offset: 20}) {
		t.Errorf("unexpected page %+v", s.gotPage)
	}
	if s.gotF.EventID == nil || *s.gotF.EventID != 4 {
		t.Error("expected event id 4")
	}
}

func TestSearchHandler_ByBib_Errors(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		err        error
		wantStatus int
	}{
		{name: "empty bib", query: "bib=", err: search.ErrEmptyBib, wantStatus: http.StatusBadRequest},
		{name: "bad event", query: "bib=1&event_id=x", wantStatus: http.StatusBadRequest},
		{name: "bad limit", query: "bib=1&limit=0", wantStatus: http.StatusBadRequest},
		{name: "store down", query: "bib=1", err: errors.New("bib search: timeout"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewSearchHandler(&fakeSearcher{err: tt.err}, nil, 20, nil)
			recorder := httptest.NewRecorder()
			handler.ByBib(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/search/bib?"+tt.query, nil))
			assertStatusCode(t, recorder, tt.wantStatus)
		})
	}
}

func TestSearchHandler_ListEmbeddings(t *testing.T) {
	store := mock.NewMockEmbeddingStore()
	err := store.InsertBatch(context.Background(), []database.EmbeddingRecord{
		{ID: 0, PhotoID: 10, EventID: database.Int64Ptr(1), PhotographerID: database.Int64Ptr(7), Embedding: []float32{1, 0}},
		{ID: 1, PhotoID: 11, EventID: database.Int64Ptr(2), PhotographerID: database.Int64Ptr(7)},
		{ID: 2, PhotoID: 12, EventID: database.Int64Ptr(1)},
	})
	if err != nil {
		t.Fatal(err)
	}
	handler := NewSearchHandler(&fakeSearcher{}, store, 20, nil)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantIDs    []int64
	}{
		{name: "by event", query: "event_id=1", wantStatus: http.StatusOK, wantIDs: []int64{0, 2}},
		{name: "by photographer", query: "photographer_id=7", wantStatus: http.StatusOK, wantIDs: []int64{0, 1}},
		{name: "paged", query: "event_id=1&limit=1&offset=1", wantStatus: http.StatusOK, wantIDs: []int64{2}},
		{name: "unknown event", query: "event_id=99", wantStatus: http.StatusOK, wantIDs: []int64{}},
		{name: "no filter", query: "", wantStatus: http.StatusBadRequest},
		{name: "both filters", query: "event_id=1&photographer_id=7", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.ListEmbeddings(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/embeddings?"+tt.query, nil))

			assertStatusCode(t, recorder, tt.wantStatus)
			if tt.wantStatus != http.StatusOK {
				return
			}
			var records []map[string]any
			parseJSONResponse(t, recorder, &records)
			if len(records) != len(tt.wantIDs) {
				t.Fatalf("expected %d records, got %d", len(tt.wantIDs), len(records))
			}
			for i, rec := range records {
				if int64(rec["id"].(float64)) != tt.wantIDs[i] {
					t.Errorf("record %d: expected id %d, got %v", i, tt.wantIDs[i], rec["id"])
				}
				if _, ok := rec["Embedding"]; ok {
					t.Error("vectors must not be serialized")
				}
			}
		})
	}
}
