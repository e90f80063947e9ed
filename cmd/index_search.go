package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/race-photos/internal/bib"
	"github.com/kozaktomas/race-photos/internal/config"
	"github.com/kozaktomas/race-photos/internal/database"
	"github.com/kozaktomas/race-photos/internal/search"
)

var indexSearchCmd = &cobra.Command{
	Use:   "search [image]",
	Short: "Find photos of the person in an image, or of a bib number",
	Long: `Search the index with a query image, or search the photos projection
by bib number when --bib is given.

Examples:
  race-photos index search runner.jpg --k 10
  race-photos index search runner.jpg --event-id 7 --json
  race-photos index search --bib 1204 --event-id 7`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndexSearch,
}

var indexBibsCmd = &cobra.Command{
	Use:   "bibs <image>",
	Short: "Read the bib numbers visible in an image",
	Long: `Ask the configured vision model (BIB_PROVIDER=gemini or openai) for the
bib numbers in an image and print them normalized and comma-joined, the way
they are stored in the photos table.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndexBibs,
}

func init() {
	indexCmd.AddCommand(indexSearchCmd)
	indexCmd.AddCommand(indexBibsCmd)

	indexSearchCmd.Flags().Int("k", 0, "Number of results (default SEARCH_DEFAULT_K)")
	indexSearchCmd.Flags().Int64("event-id", 0, "Only return photos of this event")
	indexSearchCmd.Flags().String("bib", "", "Search by bib number instead of image")
	indexSearchCmd.Flags().Bool("json", false, "Output as JSON")

	indexBibsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runIndexSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	bibQuery := mustGetString(cmd, "bib")
	jsonOutput := mustGetBool(cmd, "json")
	eventID := optionalID(cmd, "event-id")

	if bibQuery == "" && len(args) == 0 {
		return errors.New("either an image or --bib is required")
	}

	p, err := openPipeline(ctx, cmd, pipelineOptions{models: bibQuery == ""})
	if err != nil {
		return err
	}
	defer p.Close()
	svc := p.newSearch()

	if bibQuery != "" {
		photos, err := svc.SearchBib(ctx, bibQuery, eventID, database.Page{Limit: database.MaxPageLimit})
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(photos)
		}
		fmt.Printf("\nPhotos with bib %s: %d\n", bib.Normalize(bibQuery), len(photos))
		for _, ph := range photos {
			fmt.Printf("  %d  %s  [%s]\n", ph.ID, ph.FilePath, database.JoinBibNumbers(ph.BibNumbers))
		}
		return nil
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}
	k := mustGetInt(cmd, "k")
	if k == 0 {
		k = p.cfg.Search.DefaultK
	}

	resp, err := svc.SearchByImage(ctx, data, k, search.Filter{EventID: eventID})
	if err != nil {
		return err
	}
	if jsonOutput {
		return outputJSON(resp)
	}
	printSearchResponse(resp, p.cfg)
	return nil
}

func printSearchResponse(resp *search.Response, cfg *config.Config) {
	if resp.WholeImage {
		fmt.Println("No person detected in the query, searched with the whole image")
	} else if b := resp.QueryBox; b != nil {
		fmt.Printf("Query person at (%.2f, %.2f) size %.2fx%.2f, confidence %.2f\n", b.CX, b.CY, b.W, b.H, b.Confidence)
	}
	if resp.Degraded {
		fmt.Println("Warning: index and metadata disagree, results may be incomplete")
	}

	fmt.Printf("\nMatches (similarity >= %.2f): %d\n", cfg.Search.MinSimilarity, len(resp.Results))
	for i, h := range resp.Results {
		path := ""
		if h.Photo != nil {
			path = h.Photo.FilePath
		}
		fmt.Printf("  %2d. photo %-8d score %.3f  %s\n", i+1, h.PhotoID, h.Score, path)
	}
	if resp.Unresolved > 0 {
		fmt.Printf("\n%d hits had no metadata row and were skipped\n", resp.Unresolved)
	}
}

func runIndexBibs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	cfg := config.Load()
	detector, err := bib.New(ctx, cfg.Bib)
	if err != nil {
		return fmt.Errorf("bib detection: %w", err)
	}

	bibs, err := detector.Detect(ctx, data)
	if err != nil {
		return fmt.Errorf("bib detection with %s: %w", detector.Name(), err)
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(map[string]any{
			"model":       detector.Name(),
			"bibs":        bibs,
			"bib_numbers": database.JoinBibNumbers(bibs),
		})
	}
	if len(bibs) == 0 {
		fmt.Println("No bib numbers found")
		return nil
	}
	fmt.Println(database.JoinBibNumbers(bibs))
	return nil
}
