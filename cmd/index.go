package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/race-photos/internal/indexer"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Vector index operations",
	Long:  `Commands for indexing photos, querying the index and checking its consistency with the metadata store.`,
}

var indexPhotoCmd = &cobra.Command{
	Use:   "photo <image>",
	Short: "Index the people in a single photo",
	Long: `Detect every person in the image, embed each crop and append the
embeddings to the vector index together with their metadata rows.

Examples:
  race-photos index photo finish.jpg --photo-id 1204 --event-id 7
  race-photos index photo finish.jpg --photo-id 1204 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runIndexPhoto,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexPhotoCmd)

	indexPhotoCmd.Flags().Int64("photo-id", 0, "Photo id the embeddings belong to")
	indexPhotoCmd.Flags().Int64("event-id", 0, "Event id")
	indexPhotoCmd.Flags().Int64("photographer-id", 0, "Photographer id")
	indexPhotoCmd.Flags().Bool("json", false, "Output as JSON")
	indexPhotoCmd.MarkFlagRequired("photo-id")
}

func runIndexPhoto(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	jsonOutput := mustGetBool(cmd, "json")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	p, err := openPipeline(ctx, cmd, pipelineOptions{models: true})
	if err != nil {
		return err
	}
	defer p.Close()

	ref := indexer.PhotoRef{
		PhotoID:        mustGetInt64(cmd, "photo-id"),
		EventID:        optionalID(cmd, "event-id"),
		PhotographerID: optionalID(cmd, "photographer-id"),
	}
	res, err := p.newIndexer().IndexPhoto(ctx, ref, data)
	if res == nil {
		return err
	}

	if jsonOutput {
		if jerr := outputJSON(resultOutput(res)); jerr != nil {
			return jerr
		}
		return err
	}
	printResult(args[0], res)
	return err
}

// indexResultOutput is the JSON form of an indexer.Result.
type indexResultOutput struct {
	PhotoID         int64   `json:"photo_id"`
	Stage           string  `json:"stage"`
	Detected        int     `json:"detected"`
	Skipped         int     `json:"skipped"`
	Indexed         int     `json:"indexed"`
	IDs             []int64 `json:"ids"`
	Orphaned        []int64 `json:"orphaned,omitempty"`
	DurationMs      int64   `json:"duration_ms"`
	Error           string  `json:"error,omitempty"`
	DetectError     string  `json:"detect_error,omitempty"`
	CheckpointError string  `json:"checkpoint_error,omitempty"`
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func resultOutput(res *indexer.Result) indexResultOutput {
	out := indexResultOutput{
		PhotoID:         res.PhotoID,
		Stage:           string(res.Stage),
		Detected:        res.Detected,
		Skipped:         res.Skipped,
		Indexed:         res.Indexed,
		IDs:             res.IDs,
		Orphaned:        res.Orphaned,
		DurationMs:      res.Duration.Milliseconds(),
		Error:           errText(res.Err),
		DetectError:     errText(res.DetectErr),
		CheckpointError: errText(res.CheckpointErr),
	}
	if out.IDs == nil {
		out.IDs = []int64{}
	}
	return out
}

func printResult(name string, res *indexer.Result) {
	fmt.Printf("\n%s (photo %d)\n", name, res.PhotoID)
	fmt.Printf("  Detected: %d people\n", res.Detected)
	if res.Skipped > 0 {
		fmt.Printf("  Skipped:  %d crops\n", res.Skipped)
	}
	fmt.Printf("  Indexed:  %d", res.Indexed)
	if len(res.IDs) > 0 {
		fmt.Printf(" (ids %d..%d)", res.IDs[0], res.IDs[len(res.IDs)-1])
	}
	fmt.Printf("\n  Took:     %s\n", res.Duration.Round(time.Millisecond))

	if res.DetectErr != nil {
		fmt.Printf("  Detection failed: %v\n", res.DetectErr)
	}
	if res.Err != nil {
		fmt.Printf("  Failed at %s: %v\n", res.Stage, res.Err)
	}
	if len(res.Orphaned) > 0 {
		fmt.Printf("  Orphaned ids: %v\n", res.Orphaned)
	}
	if res.CheckpointErr != nil {
		fmt.Printf("  Warning: checkpoint failed: %v\n", res.CheckpointErr)
	}
}

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}
