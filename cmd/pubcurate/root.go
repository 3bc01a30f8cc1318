package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/pubcurate/pubcurate/internal/config"
	"github.com/pubcurate/pubcurate/internal/crossref"
	"github.com/pubcurate/pubcurate/internal/objstore"
	"github.com/pubcurate/pubcurate/internal/registry"
	"github.com/pubcurate/pubcurate/internal/storage"
)

var (
	useLocal bool
	cfg      config.Config
)

var rootCmd = &cobra.Command{
	Use:           "pubcurate",
	Short:         "Curate publications for a paleoecology database",
	Long:          "pubcurate cleans DOIs, harvests CrossRef metadata, manages labels and embeddings, and trains relevance classifiers.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		setupLogging(cfg.Log.Level, os.Stderr)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&useLocal, "local", false, "use the local SQLite store instead of the registry API")

	rootCmd.AddCommand(doisCmd, crossrefCmd, xddCmd, projectsCmd, labelsCmd,
		embedCmd, trainCmd, predictCmd, exportCmd, updateSourceCmd,
		configCmd, mcpCmd, workerCmd, statusCmd)
}

// setupLogging installs a charmbracelet/log handler as the slog default.
func setupLogging(level string, w io.Writer) {
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = log.InfoLevel
	}
	handler := log.NewWithOptions(w, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
	})
	slog.SetDefault(slog.New(handler))
}

func openStore() (*storage.Store, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

// openRegistry returns the registry selected by --local and a function
// releasing it.
func openRegistry() (registry.Registry, func(), error) {
	if useLocal {
		store, err := openStore()
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}
	return registry.NewClient(cfg.Registry.BaseURL, cfg.Registry.Token, cfg.RegistryTimeout()), func() {}, nil
}

func openObjectStore() (*objstore.Store, error) {
	if err := cfg.RequireBucket(); err != nil {
		return nil, err
	}
	api, err := objstore.NewS3(cfg.S3.Region, cfg.S3.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("connecting to S3: %w", err)
	}
	return objstore.New(api), nil
}

func location(key string) objstore.Location {
	return objstore.Location{Bucket: cfg.S3.Bucket, Key: key}
}

func newCrossRef() *crossref.Client {
	return crossref.NewClient(cfg.CrossRef.BaseURL, cfg.CrossRef.UserAgent, cfg.CrossRef.Mailto, cfg.CrossRef.RateLimit)
}

func projectFlag(cmd *cobra.Command) (string, error) {
	project, _ := cmd.Flags().GetString("project")
	if project == "" {
		project = cfg.Project.Name
	}
	if project == "" {
		return "", fmt.Errorf("no project given: pass --project or run `pubcurate config set project.name <name>`")
	}
	return project, nil
}

// readValues collects values from args and, when file is set, one value per
// line of file ("-" reads stdin).
func readValues(args []string, file string) ([]string, error) {
	values := append([]string(nil), args...)
	if file == "" {
		return values, nil
	}
	var r io.Reader = os.Stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			values = append(values, line)
		}
	}
	return values, sc.Err()
}

func modelDir() string {
	return filepath.Join(cfg.Storage.DataDir, "models")
}

func predictionDir() string {
	return filepath.Join(cfg.Storage.DataDir, "predictions")
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
