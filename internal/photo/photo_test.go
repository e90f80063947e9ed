package photo

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func solidImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	return img
}

func TestCropRect(t *testing.T) {
	bounds := image.Rect(0, 0, 1000, 800)

	tests := []struct {
		name           string
		cx, cy, w, h   float64
		want           image.Rectangle
		wantDegenerate bool
	}{
		{
			name: "centered box",
			cx:   0.5, cy: 0.5, w: 0.2, h: 0.4,
			want: image.Rect(400, 240, 600, 560),
		},
		{
			name: "clamped at top left",
			cx:   0.05, cy: 0.05, w: 0.2, h: 0.2,
			want: image.Rect(0, 0, 150, 120),
		},
		{
			name: "clamped at bottom right",
			cx:   0.95, cy: 0.95, w: 0.2, h: 0.2,
			want: image.Rect(850, 680, 1000, 800),
		},
		{
			name: "whole image",
			cx:   0.5, cy: 0.5, w: 1, h: 1,
			want: image.Rect(0, 0, 1000, 800),
		},
		{
			name: "zero width",
			cx:   0.5, cy: 0.5, w: 0, h: 0.5,
			wantDegenerate: true,
		},
		{
			name: "entirely outside",
			cx:   1.5, cy: 0.5, w: 0.2, h: 0.2,
			wantDegenerate: true,
		},
		{
			name: "sub pixel",
			cx:   0.5, cy: 0.5, w: 0.0001, h: 0.5,
			wantDegenerate: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CropRect(bounds, tt.cx, tt.cy, tt.w, tt.h)
			if tt.wantDegenerate {
				if !errors.Is(err, ErrDegenerateBox) {
					t.Fatalf("expected ErrDegenerateBox, got %v (%v)", err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("CropRect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCropRect_OffsetBounds(t *testing.T) {
	got, err := CropRect(image.Rect(10, 20, 110, 120), 0.5, 0.5, 0.5, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if want := image.Rect(35, 45, 85, 95); got != want {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestCropBox(t *testing.T) {
	img := solidImage(200, 100)

	crop, err := CropBox(img, 0.5, 0.5, 0.5, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if b := crop.Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Errorf("expected 100x50 crop, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestFit(t *testing.T) {
	tests := []struct {
		name         string
		w, h, max    int
		wantW, wantH int
	}{
		{"landscape", 800, 400, 200, 200, 100},
		{"portrait", 300, 900, 300, 100, 300},
		{"already small", 100, 50, 448, 100, 50},
		{"disabled", 1000, 1000, 0, 1000, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Fit(solidImage(tt.w, tt.h), tt.max)
			if b := out.Bounds(); b.Dx() != tt.wantW || b.Dy() != tt.wantH {
				t.Errorf("Fit() = %dx%d, want %dx%d", b.Dx(), b.Dy(), tt.wantW, tt.wantH)
			}
		})
	}
}

func TestDecodeAndEncode(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, solidImage(40, 30)); err != nil {
		t.Fatal(err)
	}

	img, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 40 || b.Dy() != 30 {
		t.Errorf("unexpected size %v", b)
	}

	jpg, err := EncodeJPEG(img)
	if err != nil {
		t.Fatal(err)
	}
	if len(jpg) < 3 || jpg[0] != 0xFF || jpg[1] != 0xD8 {
		t.Error("expected JPEG output")
	}
}

func TestDecode_Errors(t *testing.T) {
	if _, err := Decode(nil); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("expected ErrEmptyImage, got %v", err)
	}
	if _, err := Decode([]byte("definitely not an image")); !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}
