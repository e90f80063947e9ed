package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestListDirPhotos(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"12.jpg", "finish.JPG", "3.png", "notes.txt", "a.webp", "12.png"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "7.jpg"), 0o700); err != nil {
		t.Fatal(err)
	}

	photos, err := listDirPhotos(dir, 3)
	if err != nil {
		t.Fatal(err)
	}

	got := make(map[string]int64)
	for _, p := range photos {
		got[filepath.Base(p.path)] = p.photoID
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 images, got %v", got)
	}
	if got["12.jpg"] != 12 || got["3.png"] != 3 {
		t.Errorf("numeric names must keep their id: %v", got)
	}

	// 12.png collides with 12.jpg; the unnamed files skip 3 and 12
	seen := map[int64]bool{}
	for name, id := range got {
		if seen[id] {
			t.Errorf("duplicate photo id %d (%s)", id, name)
		}
		seen[id] = true
	}
	for _, name := range []string{"12.png", "a.webp", "finish.JPG"} {
		if id := got[name]; id < 4 {
			t.Errorf("%s: expected sequential id after 3, got %d", name, id)
		}
	}
}

func TestListDirPhotos_MissingDir(t *testing.T) {
	if _, err := listDirPhotos(filepath.Join(t.TempDir(), "missing"), 1); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestListDirPhotos_NaturalOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"10.jpg", "2.jpg", "1.jpg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	photos, err := listDirPhotos(dir, 1)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{1, 2, 10}
	for i, p := range photos {
		if p.photoID != want[i] {
			t.Errorf("position %d: expected photo %d, got %d", i, want[i], p.photoID)
		}
	}
}
