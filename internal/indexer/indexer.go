// Package indexer runs the photo indexing pipeline: detect people, embed each
// person crop, append the embeddings to the vector index and record which
// photo they belong to.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/kozaktomas/race-photos/internal/database"
	"github.com/kozaktomas/race-photos/internal/detect"
	"github.com/kozaktomas/race-photos/internal/embed"
	"github.com/kozaktomas/race-photos/internal/logging"
	"github.com/kozaktomas/race-photos/internal/photo"
)

var (
	// ErrIndexInsert means the vector index rejected the batch; nothing was stored.
	ErrIndexInsert = errors.New("vector index insert failed")
	// ErrMetadataPersist means vectors were appended but their rows were not
	// written. The appended ids are orphaned.
	ErrMetadataPersist = errors.New("embedding metadata persist failed")
)

// Index is the part of *vectorindex.Index the pipeline writes to.
type Index interface {
	AddBatch(vectors [][]float32) ([]int64, error)
	SaveContext(ctx context.Context) error
	Len() int
}

// PhotoRef identifies the photo being indexed.
type PhotoRef struct {
	PhotoID        int64
	EventID        *int64
	PhotographerID *int64
}

// Stage is the last pipeline stage a photo reached.
type Stage string

const (
	StageDetect          Stage = "detect"
	StageEmbed           Stage = "embed"
	StageIndexInsert     Stage = "index_insert"
	StageMetadataPersist Stage = "metadata_persist"
	StageCheckpoint      Stage = "checkpoint"
)

// Result describes what happened to one photo. Indexed is the number of
// embeddings that ended up both in the index and in the metadata store.
type Result struct {
	PhotoID       int64
	Stage         Stage
	Detected      int
	Skipped       int
	Indexed       int
	IDs           []int64
	Orphaned      []int64
	Duration      time.Duration
	DetectErr     error
	CheckpointErr error
	Err           error
}

// Options tunes the pipeline.
type Options struct {
	Workers int // concurrent embed calls per photo, default 1
	Logger  *slog.Logger
}

// Indexer owns the write path into the index and the metadata store.
type Indexer struct {
	detector detect.Detector
	embedder embed.Embedder
	index    Index
	store    database.EmbeddingWriter
	workers  int
	logger   *slog.Logger

	// writeMu keeps id assignment and row insertion of two photos from
	// interleaving.
	writeMu sync.Mutex
}

// New creates an Indexer.
func New(detector detect.Detector, embedder embed.Embedder, index Index, store database.EmbeddingWriter, opts Options) *Indexer {
	return &Indexer{
		detector: detector,
		embedder: embedder,
		index:    index,
		store:    store,
		workers:  max(opts.Workers, 1),
		logger:   logging.OrDiscard(opts.Logger),
	}
}

// embedded is one person crop that made it through Crop&Embed.
type embedded struct {
	box       detect.Box
	vector    []float32
	elapsedMs float64
}

// IndexPhoto runs the whole pipeline for one photo. Detection and embedding
// failures are reported in the Result and are not errors; the returned error
// is non-nil only when the index or the metadata store failed.
func (x *Indexer) IndexPhoto(ctx context.Context, ref PhotoRef, imageData []byte) (*Result, error) {
	start := time.Now()
	res := &Result{PhotoID: ref.PhotoID, Stage: StageDetect}
	defer func() { res.Duration = time.Since(start) }()

	logger := x.logger.With("photo_id", ref.PhotoID)

	img, err := photo.Decode(imageData)
	if err == nil {
		var boxes []detect.Box
		boxes, err = x.detector.Detect(ctx, img)
		if err == nil {
			return x.indexBoxes(ctx, ref, img, boxes, res, logger)
		}
	}
	logger.Warn("person detection failed, indexing nothing", "error", err)
	res.DetectErr = err
	return res, nil
}

func (x *Indexer) indexBoxes(ctx context.Context, ref PhotoRef, img image.Image, boxes []detect.Box, res *Result, logger *slog.Logger) (*Result, error) {
	res.Detected = len(boxes)
	if len(boxes) == 0 {
		logger.Debug("no person detected")
		return res, nil
	}

	res.Stage = StageEmbed
	crops := x.embedAll(ctx, img, boxes, logger)
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res, err
	}
	res.Skipped = len(boxes) - len(crops)
	if len(crops) == 0 {
		logger.Info("no usable person crops", "detected", len(boxes))
		return res, nil
	}

	ids, err := x.insert(ctx, ref, crops, res)
	if err != nil {
		switch {
		case errors.Is(err, ErrMetadataPersist):
			logger.Error("embedding rows not written, vector ids orphaned",
				"orphaned_ids", res.Orphaned, "error", err)
		default:
			logger.Error("vector index insert failed", "error", err)
		}
		return res, err
	}
	res.IDs = ids
	res.Indexed = len(ids)

	res.Stage = StageCheckpoint
	if err := x.index.SaveContext(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("index checkpoint failed, in-memory index stays authoritative", "error", err)
		res.CheckpointErr = err
	}

	logger.Info("photo indexed",
		"detected", res.Detected,
		"indexed", res.Indexed,
		"skipped", res.Skipped,
		"ids", ids)
	return res, nil
}

// insert appends the vectors and writes their rows under writeMu. Once the
// vectors are in the index the rest runs without cancellation.
func (x *Indexer) insert(ctx context.Context, ref PhotoRef, crops []embedded, res *Result) ([]int64, error) {
	vectors := make([][]float32, len(crops))
	for i, c := range crops {
		vectors[i] = c.vector
	}

	x.writeMu.Lock()
	defer x.writeMu.Unlock()

	res.Stage = StageIndexInsert
	ids, err := x.index.AddBatch(vectors)
	if err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrIndexInsert, err)
		return nil, res.Err
	}
	if len(ids) != len(crops) {
		res.Orphaned = ids
		res.Err = fmt.Errorf("%w: index returned %d ids for %d vectors", ErrIndexInsert, len(ids), len(crops))
		return nil, res.Err
	}

	res.Stage = StageMetadataPersist
	records := make([]database.EmbeddingRecord, len(crops))
	for i, c := range crops {
		elapsed := c.elapsedMs
		records[i] = database.EmbeddingRecord{
			ID:                    ids[i],
			PhotoID:               ref.PhotoID,
			EventID:               ref.EventID,
			PhotographerID:        ref.PhotographerID,
			BBox:                  database.BBox{X: c.box.CX, Y: c.box.CY, W: c.box.W, H: c.box.H},
			EmbeddingModelVersion: x.embedder.Model(),
			DetectionModelVersion: x.detector.Model(),
			ProcessingTimeMs:      &elapsed,
			Embedding:             c.vector,
		}
	}
	if err := x.store.InsertBatch(context.WithoutCancel(ctx), records); err != nil {
		res.Orphaned = ids
		res.Err = fmt.Errorf("%w: %w", ErrMetadataPersist, err)
		return nil, res.Err
	}
	return ids, nil
}

// embedAll crops and embeds every box with at most x.workers calls in
// flight. The result keeps box order; failed boxes are left out.
func (x *Indexer) embedAll(ctx context.Context, img image.Image, boxes []detect.Box, logger *slog.Logger) []embedded {
	results := make([]*embedded, len(boxes))
	sem := make(chan struct{}, x.workers)
	var wg sync.WaitGroup

	for i, box := range boxes {
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			e, err := x.embedBox(ctx, img, box)
			if err != nil {
				logger.Warn("skipping person crop", "box", i, "confidence", box.Confidence, "error", err)
				return
			}
			results[i] = e
		}()
	}
	wg.Wait()

	out := make([]embedded, 0, len(boxes))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func (x *Indexer) embedBox(ctx context.Context, img image.Image, box detect.Box) (*embedded, error) {
	start := time.Now()
	crop, err := photo.CropBox(img, box.CX, box.CY, box.W, box.H)
	if err != nil {
		return nil, err
	}
	vec, err := x.embedder.Embed(ctx, crop)
	if err != nil {
		return nil, fmt.Errorf("embed crop: %w", err)
	}
	return &embedded{
		box:       box,
		vector:    vec,
		elapsedMs: float64(time.Since(start).Microseconds()) / 1000,
	}, nil
}
