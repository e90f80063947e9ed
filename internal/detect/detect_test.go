package detect

import (
	"context"
	"errors"
	"image"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/race-photos/internal/inference"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name      string
		boxes     []Box
		minConf   float64
		wantConfs []float64
	}{
		{
			name:      "empty",
			boxes:     nil,
			minConf:   0.25,
			wantConfs: []float64{},
		},
		{
			name: "drops low confidence and other classes",
			boxes: []Box{
				{CX: 0.5, CY: 0.5, W: 0.2, H: 0.4, Confidence: 0.9},
				{CX: 0.5, CY: 0.5, W: 0.2, H: 0.4, Confidence: 0.1},
				{CX: 0.5, CY: 0.5, W: 0.2, H: 0.4, Confidence: 0.95, Class: 2},
			},
			minConf:   0.25,
			wantConfs: []float64{0.9},
		},
		{
			name: "threshold is inclusive",
			boxes: []Box{
				{CX: 0.5, CY: 0.5, W: 0.2, H: 0.4, Confidence: 0.25},
			},
			minConf:   0.25,
			wantConfs: []float64{0.25},
		},
		{
			name: "sorted by descending confidence",
			boxes: []Box{
				{CX: 0.2, CY: 0.5, W: 0.1, H: 0.4, Confidence: 0.4},
				{CX: 0.5, CY: 0.5, W: 0.1, H: 0.4, Confidence: 0.8},
				{CX: 0.8, CY: 0.5, W: 0.1, H: 0.4, Confidence: 0.6},
			},
			minConf:   0,
			wantConfs: []float64{0.8, 0.6, 0.4},
		},
		{
			name: "skips nan and degenerate boxes",
			boxes: []Box{
				{CX: math.NaN(), CY: 0.5, W: 0.1, H: 0.4, Confidence: 0.9},
				{CX: 0.5, CY: 0.5, W: 0, H: 0.4, Confidence: 0.9},
				{CX: 2, CY: 0.5, W: 0.2, H: 0.4, Confidence: 0.9},
				{CX: 0.5, CY: 0.5, W: 0.1, H: 0.4, Confidence: 0.7},
			},
			minConf:   0.25,
			wantConfs: []float64{0.7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Filter(tt.boxes, tt.minConf)
			if len(got) != len(tt.wantConfs) {
				t.Fatalf("expected %d boxes, got %d: %+v", len(tt.wantConfs), len(got), got)
			}
			for i, want := range tt.wantConfs {
				if got[i].Confidence != want {
					t.Errorf("box %d: expected confidence %f, got %f", i, want, got[i].Confidence)
				}
			}
		})
	}
}

func TestFilter_ClampsToImage(t *testing.T) {
	got := Filter([]Box{{CX: 0.95, CY: 0.05, W: 0.2, H: 0.2, Confidence: 0.9}}, 0.25)
	if len(got) != 1 {
		t.Fatalf("expected 1 box, got %d", len(got))
	}
	b := got[0]
	if !approx(b.CX, 0.925) || !approx(b.W, 0.15) {
		t.Errorf("expected x clamped to [0.85, 1], got cx=%f w=%f", b.CX, b.W)
	}
	if !approx(b.CY, 0.075) || !approx(b.H, 0.15) {
		t.Errorf("expected y clamped to [0, 0.15], got cy=%f h=%f", b.CY, b.H)
	}
}

func TestBest(t *testing.T) {
	if _, err := Best(nil); !errors.Is(err, ErrNoPerson) {
		t.Errorf("expected ErrNoPerson, got %v", err)
	}

	boxes := []Box{
		{CX: 0.1, Confidence: 0.5},
		{CX: 0.2, Confidence: 0.9},
		{CX: 0.3, Confidence: 0.9},
	}
	best, err := Best(boxes)
	if err != nil {
		t.Fatal(err)
	}
	if best.CX != 0.2 {
		t.Errorf("expected first of the tied boxes, got cx=%f", best.CX)
	}
}

func TestHTTPDetector_Detect(t *testing.T) {
	var gotConf string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect/person" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("expected multipart body: %v", err)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("expected file field: %v", err)
		}
		gotConf = r.FormValue("conf")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"yolov8n.pt","boxes":[
			{"cx":0.3,"cy":0.5,"w":0.1,"h":0.5,"confidence":0.4,"class":0},
			{"cx":0.6,"cy":0.5,"w":0.2,"h":0.6,"confidence":0.87,"class":0},
			{"cx":0.6,"cy":0.5,"w":0.2,"h":0.6,"confidence":0.99,"class":2},
			{"cx":0.8,"cy":0.5,"w":0.1,"h":0.2,"confidence":0.1,"class":0}
		]}`))
	}))
	defer server.Close()

	d := NewHTTPDetector(inference.NewClient(server.URL, nil), "yolov8n.pt", 0.25)
	boxes, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 64, 48)))
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if gotConf != "0.25" {
		t.Errorf("expected conf field 0.25, got %q", gotConf)
	}
	if len(boxes) != 2 {
		t.Fatalf("expected 2 person boxes, got %d", len(boxes))
	}
	if boxes[0].Confidence != 0.87 || boxes[1].Confidence != 0.4 {
		t.Errorf("unexpected order: %+v", boxes)
	}
	if d.Model() != "yolov8n.pt" {
		t.Errorf("unexpected model %q", d.Model())
	}
}

func TestHTTPDetector_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	d := NewHTTPDetector(inference.NewClient(server.URL, nil), "yolov8n.pt", 0.25)
	_, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8)))

	var apiErr *inference.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected APIError 503, got %v", err)
	}
}
