package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/pubcurate/pubcurate/internal/api"
	"github.com/pubcurate/pubcurate/internal/embedding"
	"github.com/pubcurate/pubcurate/internal/ingest"
	"github.com/pubcurate/pubcurate/internal/ollama"
	"github.com/pubcurate/pubcurate/internal/predictions"
	"github.com/pubcurate/pubcurate/internal/retrieval"
	"github.com/pubcurate/pubcurate/internal/storage"
)

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve curation tools over MCP (stdio transport)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:     store,
			CrossRef:  newCrossRef(),
			Retriever: retrieval.NewRetriever(store, nil, cfg.Ollama.EmbedModel),
			Version:   version,
		})
		slog.Info("MCP server started (stdio transport)")
		if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		return nil
	},
}

// --- worker ---

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Harvest and embed registered DOIs into the local store",
	Long: `Queue a harvest job for every DOI registered in the local store and
process the queue. Harvested records that pass preprocessing are queued for
embedding. Without --drain the worker keeps polling until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		drain, _ := cmd.Flags().GetBool("drain")
		noEmbed, _ := cmd.Flags().GetBool("no-embed")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		dois, err := store.DOIs(ctx)
		if err != nil {
			return err
		}
		values := make([]string, len(dois))
		for i, d := range dois {
			values[i] = d.DOI
		}
		if err := ingest.Enqueue(ctx, store, storage.JobHarvestDOI, values); err != nil {
			return err
		}

		var emb ingest.ContentEmbedder
		if !noEmbed {
			oc := ollama.New(cfg.Ollama.BaseURL)
			if err := ollama.EnsureModel(ctx, oc, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
				return err
			}
			emb = embedding.NewEmbedder(oc, cfg.Ollama.EmbedModel)
		}

		w := ingest.NewWorker(store, newCrossRef(), emb, 500*time.Millisecond)
		if !drain {
			printStep("Worker running, %d DOIs queued (Ctrl-C to stop)", len(values))
			w.Run(ctx)
			return nil
		}
		n, err := w.Drain(ctx)
		if err != nil {
			return err
		}
		printSuccess("Processed %d jobs", n)
		return nil
	},
}

func init() {
	workerCmd.Flags().Bool("drain", false, "exit once no job is due")
	workerCmd.Flags().Bool("no-embed", false, "harvest only; leave embed jobs queued")
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pubcurate system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(commandContext(cmd))
	},
}

func showStatus(ctx context.Context) error {
	fmt.Fprintln(os.Stderr, colorize(colorBold, "pubcurate "+version))

	oc := ollama.New(cfg.Ollama.BaseURL)
	if oc.IsRunning(ctx) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		if oc.HasModel(ctx, cfg.Ollama.EmbedModel) {
			printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
		} else {
			printStatus("Embed model", "%s (not pulled)", cfg.Ollama.EmbedModel)
		}
	} else {
		printStatus("Ollama", "not running")
	}

	printStatus("Registry", "%s", cfg.Registry.BaseURL)
	if cfg.S3.Bucket != "" {
		printStatus("Bucket", "%s (%s)", cfg.S3.Bucket, cfg.S3.Region)
	} else {
		printStatus("Bucket", "not configured")
	}

	store, err := openStore()
	if err != nil {
		printError("%v", err)
		return nil
	}
	defer store.Close()

	if dois, err := store.DOIs(ctx); err == nil {
		printStatus("Local DOIs", "%d", len(dois))
	}
	if pubs, err := store.Publications(ctx, false); err == nil {
		valid := 0
		for _, p := range pubs {
			if p.Valid {
				valid++
			}
		}
		printStatus("Publications", "%d (%d valid)", len(pubs), valid)
	}
	if embs, err := store.Embeddings(ctx, cfg.Ollama.EmbedModel); err == nil {
		printStatus("Embeddings", "%d", len(embs))
	}
	if counts, err := store.CountJobs(ctx); err == nil {
		printStatus("Jobs", "%d pending, %d running, %d failed, %d completed",
			counts["pending"], counts["running"], counts["failed"], counts["completed"])
	}
	if last, err := predictions.LatestRunDate(predictionDir()); err == nil && last != predictions.EpochDate {
		printStatus("Last predictions", "%s", last)
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
