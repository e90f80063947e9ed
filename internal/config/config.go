package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var modelsYAML []byte

type Config struct {
	Models    ModelsConfig
	Detection DetectionConfig
	Embedding EmbeddingConfig
	Index     IndexConfig
	Search    SearchConfig
	Database  DatabaseConfig
	Mirror    MirrorConfig
	Bib       BibConfig
	Log       LogConfig
	Web       WebConfig
}

// ModelsConfig mirrors the embedded models.yaml.
type ModelsConfig struct {
	Detection struct {
		Version       string  `yaml:"version"`
		MinConfidence float64 `yaml:"min_confidence"`
		InputSize     int     `yaml:"input_size"`
	} `yaml:"detection"`
	Embedding struct {
		Version   string `yaml:"version"`
		Dim       int    `yaml:"dim"`
		MaxCropPx int    `yaml:"max_crop_px"`
	} `yaml:"embedding"`
	Search struct {
		MinSimilarity float64 `yaml:"min_similarity"`
		DefaultK      int     `yaml:"default_k"`
		MaxK          int     `yaml:"max_k"`
	} `yaml:"search"`
	Bib struct {
		GeminiModel string `yaml:"gemini_model"`
		OpenAIModel string `yaml:"openai_model"`
	} `yaml:"bib"`
}

type DetectionConfig struct {
	URL           string  // person detection inference server, e.g. http://localhost:8001
	ModelPath     string  // ONNX model for the native detector (gocv build only)
	ModelVersion  string  // recorded with every embedding row
	MinConfidence float64 // boxes below this are dropped
	InputSize     int     // square network input for the native detector
}

type EmbeddingConfig struct {
	URL          string // defaults to http://localhost:8000
	Dim          int    // D, defaults to 512
	ModelVersion string
	MaxCropPx    int // longest side of a crop sent to the embedder
	Workers      int // per-photo crop embedding concurrency
}

type IndexConfig struct {
	Path     string // snapshot file, empty disables persistence
	Strategy string // exact or hnsw
}

type SearchConfig struct {
	MinSimilarity float64
	DefaultK      int
	MaxK          int
	DedupByPhoto  bool // keep only the best hit per photo
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

// MirrorConfig configures the optional S3 copy of the index snapshot.
type MirrorConfig struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string // custom endpoint for MinIO and friends
}

// Enabled reports whether a mirror bucket is configured.
func (c *MirrorConfig) Enabled() bool {
	return c.Bucket != ""
}

type BibConfig struct {
	Provider     string // gemini, openai or empty
	GeminiAPIKey string
	GeminiModel  string
	OpenAIToken  string
	OpenAIModel  string
}

type LogConfig struct {
	Level  string
	Format string
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string // CORS origins besides localhost
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float in [0,1].
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 && f <= 1 {
		return f
	}
	return defaultVal
}

// envBool reads an environment variable as a boolean.
func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

// envList reads a comma-separated environment variable, skipping blanks.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func loadModels() ModelsConfig {
	var models ModelsConfig
	if err := yaml.Unmarshal(modelsYAML, &models); err != nil {
		// embedded file, cannot fail outside of a broken build
		panic("failed to unmarshal embedded models.yaml: " + err.Error())
	}
	return models
}

func Load() *Config {
	models := loadModels()

	return &Config{
		Models: models,
		Detection: DetectionConfig{
			URL:           envString("DETECTION_URL", "http://localhost:8001"),
			ModelPath:     os.Getenv("DETECTION_MODEL_PATH"),
			ModelVersion:  envString("DETECTION_MODEL_VERSION", models.Detection.Version),
			MinConfidence: envFloat("DETECTION_MIN_CONFIDENCE", models.Detection.MinConfidence),
			InputSize:     envInt("DETECTION_INPUT_SIZE", models.Detection.InputSize),
		},
		Embedding: EmbeddingConfig{
			URL:          envString("EMBEDDING_URL", "http://localhost:8000"),
			Dim:          envInt("EMBEDDING_DIM", models.Embedding.Dim),
			ModelVersion: envString("EMBEDDING_MODEL_VERSION", models.Embedding.Version),
			MaxCropPx:    envInt("EMBEDDING_MAX_CROP_PX", models.Embedding.MaxCropPx),
			Workers:      envInt("INDEX_EMBED_WORKERS", 4),
		},
		Index: IndexConfig{
			Path:     envString("VECTOR_INDEX_PATH", "data/embeddings/person_index.rpvi"),
			Strategy: envString("VECTOR_INDEX_STRATEGY", "exact"),
		},
		Search: SearchConfig{
			MinSimilarity: envFloat("SEARCH_MIN_SIMILARITY", models.Search.MinSimilarity),
			DefaultK:      envInt("SEARCH_DEFAULT_K", models.Search.DefaultK),
			MaxK:          envInt("SEARCH_MAX_K", models.Search.MaxK),
			DedupByPhoto:  envBool("SEARCH_DEDUP_BY_PHOTO", true),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Mirror: MirrorConfig{
			Bucket:   os.Getenv("INDEX_MIRROR_BUCKET"),
			Prefix:   strings.Trim(os.Getenv("INDEX_MIRROR_PREFIX"), "/"),
			Region:   envString("INDEX_MIRROR_REGION", "us-east-1"),
			Endpoint: os.Getenv("INDEX_MIRROR_ENDPOINT"),
		},
		Bib: BibConfig{
			Provider:     strings.ToLower(os.Getenv("BIB_PROVIDER")),
			GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
			GeminiModel:  envString("BIB_GEMINI_MODEL", models.Bib.GeminiModel),
			OpenAIToken:  os.Getenv("OPENAI_TOKEN"),
			OpenAIModel:  envString("BIB_OPENAI_MODEL", models.Bib.OpenAIModel),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "text"),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
	}
}

// Validate reports settings that would make the pipeline misbehave.
func (c *Config) Validate() error {
	var errs []error
	if c.Embedding.Dim <= 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_DIM must be positive, got %d", c.Embedding.Dim))
	}
	switch c.Index.Strategy {
	case "exact", "hnsw":
	default:
		errs = append(errs, fmt.Errorf("VECTOR_INDEX_STRATEGY must be exact or hnsw, got %q", c.Index.Strategy))
	}
	switch c.Bib.Provider {
	case "":
	case "gemini":
		if c.Bib.GeminiAPIKey == "" {
			errs = append(errs, errors.New("BIB_PROVIDER=gemini requires GEMINI_API_KEY"))
		}
	case "openai":
		if c.Bib.OpenAIToken == "" {
			errs = append(errs, errors.New("BIB_PROVIDER=openai requires OPENAI_TOKEN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown BIB_PROVIDER %q", c.Bib.Provider))
	}
	if c.Search.DefaultK > c.Search.MaxK {
		errs = append(errs, fmt.Errorf("SEARCH_DEFAULT_K (%d) exceeds SEARCH_MAX_K (%d)", c.Search.DefaultK, c.Search.MaxK))
	}
	return errors.Join(errs...)
}
