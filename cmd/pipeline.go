package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/race-photos/internal/config"
	"github.com/kozaktomas/race-photos/internal/database"
	"github.com/kozaktomas/race-photos/internal/database/mock"
	"github.com/kozaktomas/race-photos/internal/database/postgres"
	"github.com/kozaktomas/race-photos/internal/detect"
	"github.com/kozaktomas/race-photos/internal/embed"
	"github.com/kozaktomas/race-photos/internal/indexer"
	"github.com/kozaktomas/race-photos/internal/inference"
	"github.com/kozaktomas/race-photos/internal/logging"
	"github.com/kozaktomas/race-photos/internal/search"
	"github.com/kozaktomas/race-photos/internal/vectorindex"
	"github.com/kozaktomas/race-photos/internal/vectorindex/s3mirror"
)

// pipeline holds the wired services shared by serve and the index commands.
type pipeline struct {
	cfg    *config.Config
	logger *slog.Logger

	index  *vectorindex.Index
	report vectorindex.LoadReport

	pool       *postgres.Pool // nil in memory mode
	embeddings database.EmbeddingWriter
	photos     database.PhotoReader

	detector detect.Detector
	embedder embed.Embedder
}

type pipelineOptions struct {
	memory bool // in-memory metadata store instead of PostgreSQL
	models bool // connect the detector and embedder
}

func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level := cfg.Log.Level
	if l, err := cmd.Flags().GetString("log-level"); err == nil && l != "" {
		level = l
	}
	return logging.New(logging.Config{Level: level, Format: cfg.Log.Format})
}

// openPipeline loads the configuration, opens the metadata store and the
// vector index, and optionally connects the model servers.
func openPipeline(ctx context.Context, cmd *cobra.Command, opts pipelineOptions) (*pipeline, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	p := &pipeline{cfg: cfg, logger: newLogger(cmd, cfg)}

	if opts.memory {
		fmt.Println("Using in-memory metadata store (nothing is persisted)")
		p.embeddings = mock.NewMockEmbeddingStore()
		p.photos = mock.NewMockPhotoStore()
	} else {
		if cfg.Database.URL == "" {
			return nil, errors.New("DATABASE_URL environment variable is required")
		}
		fmt.Println("Connecting to PostgreSQL database...")
		pool, err := postgres.Initialize(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		p.pool = pool
		p.embeddings = postgres.NewEmbeddingRepository(pool)
		p.photos = postgres.NewPhotoRepository(pool)
	}

	var mirror vectorindex.Mirror
	if cfg.Mirror.Enabled() {
		m, err := s3mirror.New(ctx, s3mirror.Options{
			Bucket:   cfg.Mirror.Bucket,
			Region:   cfg.Mirror.Region,
			Prefix:   cfg.Mirror.Prefix,
			Endpoint: cfg.Mirror.Endpoint,
		})
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to configure snapshot mirror: %w", err)
		}
		mirror = m
		fmt.Printf("Mirroring index snapshots to s3://%s/%s\n", cfg.Mirror.Bucket, cfg.Mirror.Prefix)
	}

	p.index, p.report = vectorindex.Open(ctx, vectorindex.Options{
		Dim:      cfg.Embedding.Dim,
		Path:     cfg.Index.Path,
		Strategy: vectorindex.Strategy(cfg.Index.Strategy),
		Mirror:   mirror,
		Logger:   p.logger,
	})
	printLoadReport(p.report, p.index)

	if opts.models {
		p.detector = newDetector(cfg, p.logger)
		p.embedder = embed.NewHTTPEmbedder(
			inference.NewClient(cfg.Embedding.URL, nil),
			cfg.Embedding.ModelVersion,
			cfg.Embedding.Dim,
			cfg.Embedding.MaxCropPx,
		)
	}
	return p, nil
}

// newDetector prefers the native detector when a model file is configured
// and the binary was built with gocv, and the inference server otherwise.
func newDetector(cfg *config.Config, logger *slog.Logger) detect.Detector {
	if cfg.Detection.ModelPath != "" {
		d, err := detect.NewYOLODetector(cfg.Detection.ModelPath, cfg.Detection.ModelVersion,
			cfg.Detection.InputSize, cfg.Detection.MinConfidence, logger)
		if err == nil {
			fmt.Printf("Using native person detector (%s)\n", cfg.Detection.ModelPath)
			return d
		}
		logger.Warn("native detector unavailable, using inference server", "error", err)
	}
	return detect.NewHTTPDetector(
		inference.NewClient(cfg.Detection.URL, nil),
		cfg.Detection.ModelVersion,
		cfg.Detection.MinConfidence,
	)
}

func printLoadReport(report vectorindex.LoadReport, idx *vectorindex.Index) {
	switch report.Status {
	case vectorindex.LoadedSnapshot:
		fmt.Printf("Vector index loaded from %s: %d vectors (dim %d, %s)\n",
			report.Path, idx.Len(), idx.Dim(), idx.Strategy())
	case vectorindex.LoadFresh:
		fmt.Printf("No snapshot at %s, starting with an empty index (dim %d)\n", report.Path, idx.Dim())
	case vectorindex.LoadMemoryOnly:
		fmt.Println("VECTOR_INDEX_PATH is empty, index is kept in memory only")
	default:
		fmt.Printf("Warning: snapshot %s rejected (%s): %v\n", report.Path, report.Status, report.Err)
		if report.MovedAside != "" {
			fmt.Printf("  moved to %s\n", report.MovedAside)
		}
	}
}

func (p *pipeline) newIndexer() *indexer.Indexer {
	return indexer.New(p.detector, p.embedder, p.index, p.embeddings, indexer.Options{
		Workers: p.cfg.Embedding.Workers,
		Logger:  p.logger,
	})
}

func (p *pipeline) newSearch() *search.Service {
	return search.NewService(p.detector, p.embedder, p.index, p.embeddings, p.photos, search.Options{
		MinSimilarity: p.cfg.Search.MinSimilarity,
		MaxK:          p.cfg.Search.MaxK,
		DedupByPhoto:  p.cfg.Search.DedupByPhoto,
		Logger:        p.logger,
	})
}

// Close releases the detector and the database pool.
func (p *pipeline) Close() {
	if c, ok := p.detector.(interface{ Close() error }); ok {
		c.Close()
	}
	if p.pool != nil {
		p.pool.Close()
	}
}
