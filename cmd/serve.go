package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/race-photos/internal/bib"
	"github.com/kozaktomas/race-photos/internal/constants"
	"github.com/kozaktomas/race-photos/internal/indexer"
	"github.com/kozaktomas/race-photos/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the Race Photos API server.

The server indexes uploaded photos, answers similarity searches by image and
bib number, and reports index health. On startup the vector index is compared
with the metadata store; a mismatch marks search results as degraded but is
never repaired automatically (see "race-photos index reconcile").`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().Bool("memory", false, "Keep metadata in memory instead of PostgreSQL")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := openPipeline(ctx, cmd, pipelineOptions{memory: mustGetBool(cmd, "memory"), models: true})
	if err != nil {
		return err
	}
	defer p.Close()

	if port := mustGetInt(cmd, "port"); port > 0 {
		p.cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		p.cfg.Web.Host = host
	}

	searchService := p.newSearch()
	c, err := indexer.CheckConsistency(ctx, p.index, p.embeddings, p.logger)
	switch {
	case err != nil:
		fmt.Printf("Warning: consistency check failed: %v\n", err)
	case !c.OK():
		fmt.Printf("Warning: index and metadata disagree (%s): ntotal=%d rows=%d next_id=%d\n",
			c.Verdict, c.NTotal, c.Rows, c.NextID)
		fmt.Println("Search results will be marked degraded until the index is reconciled")
		searchService.SetDegraded(true)
	default:
		fmt.Printf("Index consistent: %d vectors\n", c.NTotal)
	}

	bibs, err := bib.New(ctx, p.cfg.Bib)
	switch {
	case err == nil:
		fmt.Printf("Bib detection enabled (%s)\n", bibs.Name())
	case p.cfg.Bib.Provider != "":
		return fmt.Errorf("failed to configure bib detection: %w", err)
	}

	server := web.NewServer(p.cfg, web.Deps{
		Indexer:    p.newIndexer(),
		Searcher:   searchService,
		Index:      p.index,
		Embeddings: p.embeddings,
		Bibs:       bibs,
		Degraded:   searchService.Degraded,
		Logger:     p.logger,
	})

	go func() {
		<-ctx.Done()
		fmt.Println("\nShutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Race Photos API on http://%s:%d\n", p.cfg.Web.Host, p.cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	// in-flight requests are done; persist whatever they appended
	if err := p.index.SaveContext(context.Background()); err != nil {
		fmt.Printf("Warning: failed to save vector index: %v\n", err)
	} else if p.cfg.Index.Path != "" {
		fmt.Printf("Vector index saved to %s (%d vectors)\n", p.cfg.Index.Path, p.index.Len())
	}
	return nil
}
