package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/facette/natsort"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/race-photos/internal/constants"
	"github.com/kozaktomas/race-photos/internal/indexer"
)

var indexDirCmd = &cobra.Command{
	Use:   "dir <path>",
	Short: "Index every image in a directory",
	Long: `Index all images in a directory (not recursive). Photo ids are taken from
numeric file names such as 1204.jpg; other files get sequential ids starting
at --start-photo-id.

Examples:
  race-photos index dir ./finish-line --event-id 7 --photographer-id 3
  race-photos index dir ./batch --start-photo-id 50000 --concurrency 4`,
	Args: cobra.ExactArgs(1),
	RunE: runIndexDir,
}

func init() {
	indexCmd.AddCommand(indexDirCmd)

	indexDirCmd.Flags().Int64("event-id", 0, "Event id for every photo")
	indexDirCmd.Flags().Int64("photographer-id", 0, "Photographer id for every photo")
	indexDirCmd.Flags().Int64("start-photo-id", 1, "First id for files without a numeric name")
	indexDirCmd.Flags().Int("concurrency", constants.DefaultDirConcurrency, "Number of photos indexed in parallel")
}

type dirPhoto struct {
	path    string
	photoID int64
}

// listDirPhotos returns the images in dir in natural name order (2.jpg
// before 10.jpg) with their photo ids.
func listDirPhotos(dir string, startID int64) ([]dirPhoto, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var photos []dirPhoto
	used := make(map[int64]bool)
	var unnamed []string
	for _, e := range entries {
		if e.IsDir() || !slices.Contains(constants.ImageExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if id, err := strconv.ParseInt(stem, 10, 64); err == nil && id >= 0 && !used[id] {
			used[id] = true
			photos = append(photos, dirPhoto{path: path, photoID: id})
			continue
		}
		unnamed = append(unnamed, path)
	}

	next := startID
	for _, path := range unnamed {
		for used[next] {
			next++
		}
		used[next] = true
		photos = append(photos, dirPhoto{path: path, photoID: next})
	}

	slices.SortFunc(photos, func(a, b dirPhoto) int {
		switch {
		case natsort.Compare(a.path, b.path):
			return -1
		case natsort.Compare(b.path, a.path):
			return 1
		}
		return 0
	})
	return photos, nil
}

func runIndexDir(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	concurrency := max(mustGetInt(cmd, "concurrency"), 1)
	eventID := optionalID(cmd, "event-id")
	photographerID := optionalID(cmd, "photographer-id")

	photos, err := listDirPhotos(args[0], mustGetInt64(cmd, "start-photo-id"))
	if err != nil {
		return err
	}
	if len(photos) == 0 {
		fmt.Println("No images found")
		return nil
	}

	p, err := openPipeline(ctx, cmd, pipelineOptions{models: true})
	if err != nil {
		return err
	}
	defer p.Close()
	ix := p.newIndexer()

	fmt.Printf("Photos to index: %d\n\n", len(photos))

	bar := progressbar.NewOptions(len(photos),
		progressbar.OptionSetDescription("Indexing photos"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	var mu sync.Mutex
	var indexed, people, noPerson int
	var failures []error
	var checkpointErr, orphanedSeen bool
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, ph := range photos {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(ph dirPhoto) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			defer bar.Add(1)

			data, err := os.ReadFile(ph.path)
			if err != nil {
				mu.Lock()
				failures = append(failures, fmt.Errorf("%s: %w", ph.path, err))
				mu.Unlock()
				return
			}

			res, err := ix.IndexPhoto(ctx, indexer.PhotoRef{
				PhotoID:        ph.photoID,
				EventID:        eventID,
				PhotographerID: photographerID,
			}, data)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				failures = append(failures, fmt.Errorf("%s: %w", ph.path, err))
				orphanedSeen = orphanedSeen || len(res.Orphaned) > 0
			case res.DetectErr != nil:
				failures = append(failures, fmt.Errorf("%s: detection: %w", ph.path, res.DetectErr))
			case res.Indexed == 0:
				noPerson++
			default:
				indexed++
				people += res.Indexed
			}
			if res != nil && res.CheckpointErr != nil {
				checkpointErr = true
			}
		}(ph)
	}
	wg.Wait()
	bar.Finish()

	fmt.Printf("\n\nIndexed photos:   %d (%d people)\n", indexed, people)
	fmt.Printf("Without a person: %d\n", noPerson)
	fmt.Printf("Index size:       %d vectors\n", p.index.Len())

	if checkpointErr {
		fmt.Println("Warning: some checkpoints failed, saving once more")
		if err := p.index.Save(); err != nil {
			fmt.Printf("Warning: final save failed: %v\n", err)
		}
	}
	if len(failures) > 0 {
		fmt.Printf("\nErrors: %d\n", len(failures))
		for _, e := range failures {
			fmt.Printf("  - %v\n", e)
		}
	}
	if orphanedSeen {
		fmt.Println("\nSome vector ids were orphaned; run \"race-photos index verify\"")
	}
	if err := ctx.Err(); err != nil {
		return errors.New("interrupted")
	}
	return nil
}
