package vectorindex

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/race-photos/internal/logging"
)

// Snapshot layout, little endian:
//
//	magic "RPVI" | version u16 | dim u32 | ntotal u64 | index id [16]byte |
//	created unix nanos i64 | ntotal*dim float32 | crc32 (IEEE) of all preceding bytes
const (
	snapshotMagic   = "RPVI"
	snapshotVersion = 1
	headerSize      = 4 + 2 + 4 + 8 + 16 + 8

	maxSnapshotDim = 1 << 16
	// readChunk caps the up-front allocation when the file size is unknown.
	readChunk = 1 << 20
)

// SnapshotMetadata is written next to the snapshot as <path>.meta for operators.
type SnapshotMetadata struct {
	IndexID  string    `json:"index_id"`
	NTotal   int       `json:"ntotal"`
	Dim      int       `json:"dim"`
	Strategy Strategy  `json:"strategy"`
	SavedAt  time.Time `json:"saved_at"`
	Version  int       `json:"version"`
}

type snapshotHeader struct {
	dim       int
	ntotal    int
	id        uuid.UUID
	createdAt time.Time
}

func encodeHeader(h snapshotHeader) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], snapshotMagic)
	binary.LittleEndian.PutUint16(buf[4:6], snapshotVersion)
	binary.LittleEndian.PutUint32(buf[6:10], uint32(h.dim))
	binary.LittleEndian.PutUint64(buf[10:18], uint64(h.ntotal))
	copy(buf[18:34], h.id[:])
	binary.LittleEndian.PutUint64(buf[34:42], uint64(h.createdAt.UnixNano()))
	return buf
}

func decodeHeader(buf []byte) (snapshotHeader, error) {
	var h snapshotHeader
	if len(buf) < headerSize || string(buf[0:4]) != snapshotMagic {
		return h, fmt.Errorf("%w: bad magic", ErrCorruptSnapshot)
	}
	if v := binary.LittleEndian.Uint16(buf[4:6]); v != snapshotVersion {
		return h, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, v)
	}
	h.dim = int(binary.LittleEndian.Uint32(buf[6:10]))
	if h.dim == 0 || h.dim > maxSnapshotDim {
		return h, fmt.Errorf("%w: implausible dim %d", ErrCorruptSnapshot, h.dim)
	}
	n := binary.LittleEndian.Uint64(buf[10:18])
	if n > math.MaxInt32 {
		return h, fmt.Errorf("%w: implausible ntotal %d", ErrCorruptSnapshot, n)
	}
	h.ntotal = int(n)
	copy(h.id[:], buf[18:34])
	h.createdAt = time.Unix(0, int64(binary.LittleEndian.Uint64(buf[34:42]))).UTC()
	return h, nil
}

// writeSnapshot encodes header and vectors followed by the checksum.
func writeSnapshot(w io.Writer, h snapshotHeader, vectors []float32) error {
	crc := crc32.NewIEEE()
	mw := io.MultiWriter(w, crc)

	if _, err := mw.Write(encodeHeader(h)); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	var b [4]byte
	for _, f := range vectors {
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(f))
		if _, err := mw.Write(b[:]); err != nil {
			return fmt.Errorf("writing vectors: %w", err)
		}
	}
	binary.LittleEndian.PutUint32(b[:], crc.Sum32())
	if _, err := w.Write(b[:]); err != nil {
		return fmt.Errorf("writing checksum: %w", err)
	}
	return nil
}

// readSnapshot decodes a snapshot. wantDim > 0 rejects other dimensions
// before the vectors are read; size >= 0 is the file length and must match
// the header.
func readSnapshot(r io.Reader, wantDim int, size int64) (snapshotHeader, []float32, error) {
	crc := crc32.NewIEEE()
	tr := io.TeeReader(r, crc)

	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(tr, buf); err != nil {
		return snapshotHeader{}, nil, fmt.Errorf("%w: short header: %w", ErrCorruptSnapshot, err)
	}
	h, err := decodeHeader(buf)
	if err != nil {
		return h, nil, err
	}
	if wantDim > 0 && h.dim != wantDim {
		return h, nil, fmt.Errorf("%w: snapshot has %d, want %d", ErrDimensionMismatch, h.dim, wantDim)
	}
	if want := int64(headerSize) + int64(h.ntotal)*int64(h.dim)*4 + 4; size >= 0 && size != want {
		return h, nil, fmt.Errorf("%w: file is %d bytes, header implies %d", ErrCorruptSnapshot, size, want)
	}

	total := h.ntotal * h.dim
	capHint := total
	if size < 0 {
		capHint = min(total, readChunk)
	}
	vectors := make([]float32, 0, capHint)
	var b [4]byte
	for range total {
		if _, err := io.ReadFull(tr, b[:]); err != nil {
			return h, nil, fmt.Errorf("%w: truncated vectors: %w", ErrCorruptSnapshot, err)
		}
		vectors = append(vectors, math.Float32frombits(binary.LittleEndian.Uint32(b[:])))
	}

	sum := crc.Sum32()
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return h, nil, fmt.Errorf("%w: missing checksum: %w", ErrCorruptSnapshot, err)
	}
	if binary.LittleEndian.Uint32(b[:]) != sum {
		return h, nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptSnapshot)
	}
	return h, vectors, nil
}

// writeFileAtomic writes via a temp file in the same directory, fsyncs it and
// renames it over path, so readers see either the old or the new file.
func writeFileAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriterSize(tmp, 1<<20)
	if err := write(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming snapshot: %w", err)
	}

	// best effort: make the rename itself durable
	if d, derr := os.Open(dir); derr == nil { //nolint:gosec // dir comes from trusted config
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// Save writes the snapshot to the configured path. It is a no-op for
// memory-only indexes.
func (x *Index) Save() error {
	return x.SaveContext(context.Background())
}

// SaveContext is Save with a context for the optional mirror upload. A
// mirror failure is logged and does not fail the save.
func (x *Index) SaveContext(ctx context.Context) error {
	if x.path == "" {
		return nil
	}

	x.saveMu.Lock()
	defer x.saveMu.Unlock()

	// The prefix of an append-only slice never changes, so the header and
	// vectors captured here can be written without holding mu.
	x.mu.RLock()
	h := snapshotHeader{dim: x.dim, ntotal: x.ntotal, id: x.id, createdAt: x.createdAt}
	vectors := x.vectors[:x.ntotal*x.dim]
	x.mu.RUnlock()

	err := writeFileAtomic(x.path, func(w io.Writer) error {
		return writeSnapshot(w, h, vectors)
	})
	x.lastErr = err
	if err != nil {
		return fmt.Errorf("saving vector index: %w", err)
	}
	x.lastSaved = time.Now().UTC()

	meta := SnapshotMetadata{
		IndexID:  h.id.String(),
		NTotal:   h.ntotal,
		Dim:      h.dim,
		Strategy: x.strategy,
		SavedAt:  x.lastSaved,
		Version:  snapshotVersion,
	}
	if err := writeFileAtomic(x.path+".meta", func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(meta)
	}); err != nil {
		x.logger.Warn("failed to write snapshot metadata", "path", x.path+".meta", "error", err)
	}

	if x.mirror != nil {
		if err := x.mirror.Push(ctx, x.path); err != nil {
			x.logger.Warn("failed to mirror snapshot", "path", x.path, "error", err)
		}
	}
	return nil
}

// LoadStatus says how Open obtained its index.
type LoadStatus string

const (
	LoadedSnapshot  LoadStatus = "loaded"
	LoadFresh       LoadStatus = "fresh"
	LoadCorrupt     LoadStatus = "corrupt"
	LoadDimMismatch LoadStatus = "dimension_mismatch"
	LoadUnreadable  LoadStatus = "unreadable"
	LoadMemoryOnly  LoadStatus = "memory_only"
)

// LoadReport describes what Open found on disk.
type LoadReport struct {
	Status     LoadStatus
	Path       string
	NTotal     int
	MovedAside string // where a rejected snapshot was moved
	Err        error
}

// LoadMetadata reads the <path>.meta sidecar.
func LoadMetadata(path string) (SnapshotMetadata, error) {
	var meta SnapshotMetadata
	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return meta, fmt.Errorf("reading snapshot metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("decoding snapshot metadata: %w", err)
	}
	return meta, nil
}

// Open loads the snapshot at opts.Path or creates a fresh index. It never
// fails: a missing, corrupt or mismatched snapshot yields an empty index of
// dimension opts.Dim and a report saying why. Rejected snapshots are moved
// aside so the next Save does not overwrite them.
func Open(ctx context.Context, opts Options) (*Index, LoadReport) {
	logger := logging.OrDiscard(opts.Logger)
	fresh := func() *Index {
		x := New(opts.Dim, opts.Strategy)
		x.path = opts.Path
		x.mirror = opts.Mirror
		x.logger = logger
		return x
	}

	report := LoadReport{Path: opts.Path}
	if opts.Path == "" {
		report.Status = LoadMemoryOnly
		return fresh(), report
	}

	if _, err := os.Stat(opts.Path); errors.Is(err, os.ErrNotExist) && opts.Mirror != nil {
		if err := opts.Mirror.Fetch(ctx, opts.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("failed to fetch snapshot from mirror", "error", err)
		}
	}

	f, err := os.Open(opts.Path)
	if errors.Is(err, os.ErrNotExist) {
		report.Status = LoadFresh
		logger.Info("no vector index snapshot, starting empty", "path", opts.Path, "dim", opts.Dim)
		return fresh(), report
	}
	if err != nil {
		report.Status = LoadUnreadable
		report.Err = err
		logger.Error("cannot open vector index snapshot, starting empty", "path", opts.Path, "error", err)
		return fresh(), report
	}

	size := int64(-1)
	if fi, err := f.Stat(); err == nil {
		size = fi.Size()
	}
	h, vectors, err := readSnapshot(bufio.NewReaderSize(f, 1<<20), opts.Dim, size)
	_ = f.Close()
	if err != nil {
		report.Err = err
		report.Status = LoadCorrupt
		if errors.Is(err, ErrDimensionMismatch) {
			report.Status = LoadDimMismatch
		}
		report.MovedAside = moveAside(opts.Path)
		logger.Error("rejected vector index snapshot, starting empty",
			"path", opts.Path, "status", report.Status, "moved_to", report.MovedAside, "error", err)
		return fresh(), report
	}

	x := fresh()
	x.id = h.id
	x.createdAt = h.createdAt
	x.vectors = vectors
	x.ntotal = h.ntotal
	if x.strategy == StrategyHNSW && x.ntotal > 0 {
		ids := make([]int64, x.ntotal)
		rows := make([][]float32, x.ntotal)
		for i := range ids {
			ids[i] = int64(i)
			rows[i] = x.row(int64(i))
		}
		x.addToGraphLocked(ids, rows)
	}

	report.Status = LoadedSnapshot
	report.NTotal = x.ntotal
	logger.Info("loaded vector index snapshot",
		"path", opts.Path, "ntotal", x.ntotal, "dim", x.dim, "index_id", x.id, "strategy", x.strategy)
	return x, report
}

func moveAside(path string) string {
	dst := fmt.Sprintf("%s.rejected-%s", path, time.Now().UTC().Format("20060102T150405"))
	if err := os.Rename(path, dst); err != nil {
		return ""
	}
	return dst
}
