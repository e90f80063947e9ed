package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/race-photos/internal/indexer"
)

var indexVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare the vector index with the metadata store",
	Long: `Print the number of vectors in the index, the number of metadata rows and
max(id)+1, and a verdict:

  consistent    every vector has exactly one row
  index_behind  rows exist past the last vector (reconcile can fix this)
  index_ahead   vectors exist past the last row (orphaned ids)
  gap           row ids are not contiguous

Exits with an error unless the verdict is consistent.`,
	RunE: runIndexVerify,
}

var indexReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Replay metadata rows missing from the vector index",
	Long: `Append the stored vectors of rows with id >= ntotal to the index, in id
order, and save a checkpoint. Runs only when verify reports index_behind;
every other verdict needs manual attention and is refused.`,
	RunE: runIndexReconcile,
}

func init() {
	indexCmd.AddCommand(indexVerifyCmd)
	indexCmd.AddCommand(indexReconcileCmd)

	indexVerifyCmd.Flags().Bool("json", false, "Output as JSON")
}

func runIndexVerify(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	p, err := openPipeline(ctx, cmd, pipelineOptions{})
	if err != nil {
		return err
	}
	defer p.Close()

	c, err := indexer.CheckConsistency(ctx, p.index, p.embeddings, p.logger)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		if err := outputJSON(c); err != nil {
			return err
		}
	} else {
		fmt.Printf("\nVectors (ntotal): %d\n", c.NTotal)
		fmt.Printf("Metadata rows:    %d\n", c.Rows)
		fmt.Printf("max(id)+1:        %d\n", c.NextID)
		fmt.Printf("Verdict:          %s\n", c.Verdict)
		if c.Verdict == indexer.VerdictIndexBehind {
			fmt.Printf("\n%d rows can be replayed with \"race-photos index reconcile\"\n", c.Rows-c.NTotal)
		}
	}

	if !c.OK() {
		return fmt.Errorf("index is not consistent: %s", c.Verdict)
	}
	return nil
}

func runIndexReconcile(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	p, err := openPipeline(ctx, cmd, pipelineOptions{})
	if err != nil {
		return err
	}
	defer p.Close()

	before := p.index.Len()
	replayed, err := indexer.Reconcile(ctx, p.index, p.embeddings, p.logger)
	if errors.Is(err, indexer.ErrNotReconcilable) {
		fmt.Println("Nothing was replayed. Only an index that is strictly behind contiguous rows can be reconciled.")
		return err
	}
	if err != nil {
		if replayed > 0 {
			fmt.Printf("Replayed %d rows before failing; run verify to see the current state\n", replayed)
		}
		return fmt.Errorf("reconcile failed: %w", err)
	}

	fmt.Printf("Replayed %d rows: ntotal %d -> %d\n", replayed, before, p.index.Len())
	return nil
}
