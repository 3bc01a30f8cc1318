package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pubcurate/pubcurate/internal/classify"
	"github.com/pubcurate/pubcurate/internal/embedding"
	"github.com/pubcurate/pubcurate/internal/export"
	"github.com/pubcurate/pubcurate/internal/ident"
	"github.com/pubcurate/pubcurate/internal/ollama"
	"github.com/pubcurate/pubcurate/internal/predictions"
	"github.com/pubcurate/pubcurate/internal/preprocess"
	"github.com/pubcurate/pubcurate/internal/records"
	"github.com/pubcurate/pubcurate/internal/retrieval"
	"github.com/pubcurate/pubcurate/internal/storage"
)

// --- embed ---

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Embed every publication that lacks an embedding for the configured model",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		start := time.Now()

		oc := ollama.New(cfg.Ollama.BaseURL)
		if err := ollama.EnsureModel(ctx, oc, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
			return err
		}
		reg, closeReg, err := openRegistry()
		if err != nil {
			return err
		}
		defer closeReg()

		emb := embedding.NewEmbedder(oc, cfg.Ollama.EmbedModel)
		res, err := embedding.EmbedPending(ctx, reg, emb, preprocess.DefaultOptions)
		if err != nil {
			return err
		}
		printSuccess("%d embeddings (%d reused, %d registered, %d rejected) in %s",
			len(res.Embeddings), res.Reused, len(res.Registered.Inserted), len(res.Registered.Rejected), since(start))
		return nil
	},
}

// --- train ---

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a relevance classifier on the labelled embeddings of a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		start := time.Now()
		project, err := projectFlag(cmd)
		if err != nil {
			return err
		}
		family, _ := cmd.Flags().GetString("family")
		model, _ := cmd.Flags().GetString("embedding-model")
		if model == "" {
			model = cfg.Ollama.EmbedModel
		}
		negative, err := regexp.Compile(cfg.Classify.NegativePattern)
		if err != nil {
			return fmt.Errorf("invalid classify.negative_pattern: %w", err)
		}

		reg, closeReg, err := openRegistry()
		if err != nil {
			return err
		}
		defer closeReg()

		rows, err := reg.ModelData(ctx, model, project)
		if err != nil {
			return fmt.Errorf("loading model data: %w", err)
		}
		data, err := classify.FromModelRows(rows, negative)
		if err != nil {
			return err
		}
		printStep("Training %s on %d rows (%d relevant)", family, data.Len(), data.Positives())

		rep, err := classify.Train(data, classify.TrainOptions{
			Family:       family,
			TestFraction: cfg.Classify.TestFraction,
			Seed:         uint64(cfg.Classify.Seed),
			Threshold:    cfg.Classify.Threshold,
		})
		if err != nil {
			return err
		}
		rep.Model.Project = project
		rep.Model.Embedding = model
		path, err := rep.Model.Save(modelDir())
		if err != nil {
			return err
		}
		printSuccess("Saved %s (test F1 %.3f) in %s", path, rep.Holdout.F1, since(start))
		return printJSON(cmd.OutOrStdout(), rep)
	},
}

func init() {
	trainCmd.Flags().String("project", "", "project name (defaults to project.name)")
	trainCmd.Flags().String("family", classify.FamilyLogistic, "model family: logistic or knn")
	trainCmd.Flags().String("embedding-model", "", "embedding model (defaults to ollama.embed_model)")
}

// --- predict ---

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Score embeddings with a trained model",
	Long: `Score every embedding held for the model's embedding model: the
registry's model data, or with --local the embeddings in the local store.
Predictions are saved locally and written either to a new Parquet file under
the data directory or, with --s3, appended to the prediction table in object
storage.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		path, _ := cmd.Flags().GetString("model")
		toS3, _ := cmd.Flags().GetBool("s3")
		if path == "" {
			latest, err := latestModel(modelDir())
			if err != nil {
				return err
			}
			path = latest
		}
		saved, err := classify.Load(path)
		if err != nil {
			return err
		}
		if saved.Embedding == "" {
			saved.Embedding = cfg.Ollama.EmbedModel
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		embs, err := embeddingsToScore(ctx, store, saved.Embedding)
		if err != nil {
			return err
		}
		preds, invalid, err := classify.Predict(saved, embs)
		if err != nil {
			return err
		}
		if err := store.SavePredictions(ctx, preds); err != nil {
			return err
		}

		var sink predictions.Sink = predictions.DirSink{Dir: predictionDir()}
		if toS3 {
			obj, err := openObjectStore()
			if err != nil {
				return err
			}
			sink = predictions.S3Sink{Store: obj, Location: location(cfg.S3.PredictionKey)}
		}
		sum, err := predictions.Write(ctx, sink, preds, invalid)
		if err != nil {
			return err
		}
		printSuccess("%d relevant of %d scored, written to %s", sum.Relevant, sum.Valid, sum.Output)
		return nil
	},
}

// embeddingsToScore loads the embeddings for model from the local store
// with --local and from the registry's model data otherwise.
func embeddingsToScore(ctx context.Context, store *storage.Store, model string) ([]records.Embedding, error) {
	if useLocal {
		return store.Embeddings(ctx, model)
	}
	reg, closeReg, err := openRegistry()
	if err != nil {
		return nil, err
	}
	defer closeReg()
	rows, err := reg.ModelData(ctx, model, "")
	if err != nil {
		return nil, fmt.Errorf("loading model data: %w", err)
	}
	return classify.EmbeddingsFromRows(rows, model), nil
}

// latestModel returns the newest saved model in dir. Model file names
// embed a sortable timestamp.
func latestModel(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no trained model in %s: run `pubcurate train` or pass --model", dir)
	}
	sort.Slice(names, func(i, j int) bool {
		return modelStamp(names[i]) < modelStamp(names[j])
	})
	return filepath.Join(dir, names[len(names)-1]), nil
}

func modelStamp(name string) string {
	name = strings.TrimSuffix(name, ".json")
	if i := strings.LastIndex(name, "_"); i >= 0 {
		return name[i+1:]
	}
	return name
}

func init() {
	predictCmd.Flags().String("model", "", "saved model file (defaults to the newest in the data directory)")
	predictCmd.Flags().Bool("s3", false, "append predictions to the prediction table in object storage")
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored publications",
}

var exportBibtexCmd = &cobra.Command{
	Use:   "bibtex",
	Short: "Write relevant publications as BibTeX",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		all, _ := cmd.Flags().GetBool("all")
		out, _ := cmd.Flags().GetString("output")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		pubs, err := store.RelevantPublications(ctx)
		if all {
			pubs, err = store.Publications(ctx, true)
		}
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if out != "" {
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		n, err := export.WriteBibTeX(w, pubs)
		if err != nil {
			return err
		}
		printSuccess("Exported %d entries", n)
		return nil
	},
}

func init() {
	exportBibtexCmd.Flags().Bool("all", false, "export every valid publication, not only relevant ones")
	exportBibtexCmd.Flags().StringP("output", "o", "", "output file (defaults to stdout)")
	exportCmd.AddCommand(exportBibtexCmd)
}

// --- similar / search ---

var similarCmd = &cobra.Command{
	Use:   "similar <doi>",
	Short: "List stored publications closest to a DOI by embedding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doi, ok := ident.NormalizeDOI(args[0])
		if !ok {
			return fmt.Errorf("%q is not a valid DOI", args[0])
		}
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		matches, err := retrieval.NewRetriever(store, nil, cfg.Ollama.EmbedModel).Similar(commandContext(cmd), doi, limit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), matches)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Embed free text and list the closest stored publications",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		limit, _ := cmd.Flags().GetInt("limit")

		oc := ollama.New(cfg.Ollama.BaseURL)
		if err := ollama.EnsureModel(ctx, oc, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		emb := embedding.NewEmbedder(oc, cfg.Ollama.EmbedModel)
		matches, err := retrieval.NewRetriever(store, emb, "").Search(ctx, strings.ToLower(args[0]), limit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), matches)
	},
}

func init() {
	similarCmd.Flags().Int("limit", 10, "maximum number of results")
	searchCmd.Flags().Int("limit", 10, "maximum number of results")
	rootCmd.AddCommand(similarCmd, searchCmd)
}
