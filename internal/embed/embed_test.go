package embed

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

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      []float32
		want    []float32
		wantErr bool
	}{
		{name: "already unit", in: []float32{0, 1, 0}, want: []float32{0, 1, 0}},
		{name: "scaled", in: []float32{3, 4}, want: []float32{0.6, 0.8}},
		{name: "negative", in: []float32{-2, 0}, want: []float32{-1, 0}},
		{name: "zero", in: []float32{0, 0, 0}, wantErr: true},
		{name: "empty", in: nil, wantErr: true},
		{name: "nan", in: []float32{float32(math.NaN()), 1}, wantErr: true},
		{name: "inf", in: []float32{float32(math.Inf(1)), 1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrZeroVector) {
					t.Fatalf("expected ErrZeroVector, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for i := range tt.want {
				if math.Abs(float64(got[i]-tt.want[i])) > 1e-6 {
					t.Errorf("component %d: got %f, want %f", i, got[i], tt.want[i])
				}
			}
			if math.Abs(norm(got)-1) > 1e-6 {
				t.Errorf("expected unit norm, got %f", norm(got))
			}
		})
	}
}

func embedServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/image" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestHTTPEmbedder_Embed(t *testing.T) {
	server := embedServer(t, `{"dim":4,"embedding":[2,0,0,0],"model":"ViT-B-32","pretrained":"openai"}`)
	e := NewHTTPEmbedder(inference.NewClient(server.URL, nil), "ViT-B/32", 4, 448)

	vec, err := e.Embed(context.Background(), image.NewRGBA(image.Rect(0, 0, 900, 300)))
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if len(vec) != 4 || vec[0] != 1 {
		t.Errorf("expected normalized [1 0 0 0], got %v", vec)
	}
	if e.Dim() != 4 || e.Model() != "ViT-B/32" {
		t.Errorf("unexpected model metadata %s/%d", e.Model(), e.Dim())
	}
}

func TestHTTPEmbedder_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{name: "wrong dimension", body: `{"dim":3,"embedding":[1,0,0]}`, wantErr: ErrDimension},
		{name: "zero vector", body: `{"dim":4,"embedding":[0,0,0,0]}`, wantErr: ErrZeroVector},
		{name: "empty embedding", body: `{"dim":4,"embedding":[]}`},
		{name: "malformed json", body: `{"dim":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := embedServer(t, tt.body)
			e := NewHTTPEmbedder(inference.NewClient(server.URL, nil), "ViT-B/32", 4, 0)

			vec, err := e.Embed(context.Background(), image.NewRGBA(image.Rect(0, 0, 16, 16)))
			if err == nil {
				t.Fatalf("expected error, got %v", vec)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
