package config

import (
	"strings"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"EMBEDDING_DIM", "SEARCH_MIN_SIMILARITY", "DETECTION_MIN_CONFIDENCE",
		"VECTOR_INDEX_PATH", "VECTOR_INDEX_STRATEGY", "EMBEDDING_MODEL_VERSION",
		"DETECTION_MODEL_VERSION", "BIB_PROVIDER",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Embedding.Dim != 512 {
		t.Errorf("expected default dim 512, got %d", cfg.Embedding.Dim)
	}
	if cfg.Search.MinSimilarity != 0.3 {
		t.Errorf("expected default min similarity 0.3, got %f", cfg.Search.MinSimilarity)
	}
	if cfg.Detection.MinConfidence != 0.25 {
		t.Errorf("expected default min confidence 0.25, got %f", cfg.Detection.MinConfidence)
	}
	if cfg.Embedding.ModelVersion != "ViT-B/32" {
		t.Errorf("expected embedding model ViT-B/32, got %q", cfg.Embedding.ModelVersion)
	}
	if cfg.Detection.ModelVersion != "yolov8n.pt" {
		t.Errorf("expected detection model yolov8n.pt, got %q", cfg.Detection.ModelVersion)
	}
	if cfg.Index.Strategy != "exact" {
		t.Errorf("expected exact strategy, got %q", cfg.Index.Strategy)
	}
	if !strings.HasSuffix(cfg.Index.Path, "person_index.rpvi") {
		t.Errorf("unexpected default index path %q", cfg.Index.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("EMBEDDING_DIM", "768")
	t.Setenv("SEARCH_MIN_SIMILARITY", "0.5")
	t.Setenv("VECTOR_INDEX_STRATEGY", "hnsw")
	t.Setenv("INDEX_MIRROR_PREFIX", "/snapshots/")
	t.Setenv("WEB_ALLOWED_ORIGINS", "https://photos.example.com, ,https://admin.example.com")
	t.Setenv("SEARCH_DEDUP_BY_PHOTO", "false")

	cfg := Load()

	if cfg.Embedding.Dim != 768 {
		t.Errorf("expected dim 768, got %d", cfg.Embedding.Dim)
	}
	if cfg.Search.MinSimilarity != 0.5 {
		t.Errorf("expected 0.5, got %f", cfg.Search.MinSimilarity)
	}
	if cfg.Index.Strategy != "hnsw" {
		t.Errorf("expected hnsw, got %q", cfg.Index.Strategy)
	}
	if cfg.Mirror.Prefix != "snapshots" {
		t.Errorf("expected trimmed prefix, got %q", cfg.Mirror.Prefix)
	}
	if len(cfg.Web.AllowedOrigins) != 2 || cfg.Web.AllowedOrigins[1] != "https://admin.example.com" {
		t.Errorf("unexpected allowed origins %v", cfg.Web.AllowedOrigins)
	}
	if cfg.Search.DedupByPhoto {
		t.Error("expected dedup disabled")
	}
}

func TestEnvHelpers_InvalidValuesFallBack(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"not a number", "abc"},
		{"negative", "-3"},
		{"zero", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_ENV_INT", tt.value)
			if got := envInt("TEST_ENV_INT", 7); got != 7 {
				t.Errorf("envInt(%q) = %d, want 7", tt.value, got)
			}
		})
	}

	t.Setenv("TEST_ENV_FLOAT", "1.5")
	if got := envFloat("TEST_ENV_FLOAT", 0.3); got != 0.3 {
		t.Errorf("envFloat out of range should fall back, got %f", got)
	}

	t.Setenv("TEST_ENV_BOOL", "maybe")
	if got := envBool("TEST_ENV_BOOL", true); !got {
		t.Error("envBool with garbage should fall back to true")
	}
	t.Setenv("TEST_ENV_BOOL", "false")
	if got := envBool("TEST_ENV_BOOL", true); got {
		t.Error("envBool(false) should be false")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown strategy", func(c *Config) { c.Index.Strategy = "ivf" }, "VECTOR_INDEX_STRATEGY"},
		{"gemini without key", func(c *Config) { c.Bib.Provider = "gemini"; c.Bib.GeminiAPIKey = "" }, "GEMINI_API_KEY"},
		{"openai without token", func(c *Config) { c.Bib.Provider = "openai"; c.Bib.OpenAIToken = "" }, "OPENAI_TOKEN"},
		{"unknown provider", func(c *Config) { c.Bib.Provider = "tesseract" }, "unknown BIB_PROVIDER"},
		{"k bounds", func(c *Config) { c.Search.DefaultK = 500 }, "SEARCH_DEFAULT_K"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Embedding: EmbeddingConfig{Dim: 512},
				Index:     IndexConfig{Strategy: "exact"},
				Search:    SearchConfig{DefaultK: 20, MaxK: 200},
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error to mention %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestMirrorEnabled(t *testing.T) {
	m := MirrorConfig{}
	if m.Enabled() {
		t.Error("empty bucket should disable the mirror")
	}
	m.Bucket = "race-photos"
	if !m.Enabled() {
		t.Error("bucket set should enable the mirror")
	}
}
