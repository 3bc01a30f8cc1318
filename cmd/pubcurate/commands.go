package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pubcurate/pubcurate/internal/config"
	"github.com/pubcurate/pubcurate/internal/crossref"
	"github.com/pubcurate/pubcurate/internal/curation"
	"github.com/pubcurate/pubcurate/internal/ident"
	"github.com/pubcurate/pubcurate/internal/preprocess"
	"github.com/pubcurate/pubcurate/internal/records"
	"github.com/pubcurate/pubcurate/internal/registry"
	"github.com/pubcurate/pubcurate/internal/xdd"
)

// --- dois ---

var doisCmd = &cobra.Command{
	Use:   "dois",
	Short: "Clean, register and store DOIs",
}

var doisCleanCmd = &cobra.Command{
	Use:   "clean [values...]",
	Short: "Validate and normalize DOIs",
	Long: `Validate and normalize DOIs given as arguments or read from --file.

Examples:
  pubcurate dois clean https://doi.org/10.1016/j.quascirev.2020.106371 doi:10.1111/jbi.14001
  pubcurate dois clean --file dois.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		values, err := readValues(args, file)
		if err != nil {
			return err
		}
		res := ident.CleanDOIs(values)
		if len(res.Removed) > 0 {
			printWarning("%d value(s) removed", len(res.Removed))
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var doisRegisterCmd = &cobra.Command{
	Use:   "register [values...]",
	Short: "Register cleaned DOIs with the registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		values, err := readValues(args, file)
		if err != nil {
			return err
		}
		reg, closeReg, err := openRegistry()
		if err != nil {
			return err
		}
		defer closeReg()

		out := registry.RegisterDOIs(commandContext(cmd), reg, values)
		printSuccess("%d inserted, %d already present, %d rejected", len(out.Inserted), len(out.Present), len(out.Rejected))
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var doisUpdateCmd = &cobra.Command{
	Use:   "update [values...]",
	Short: "Add cleaned DOIs to the DOI table in object storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		create, _ := cmd.Flags().GetBool("create")
		values, err := readValues(args, file)
		if err != nil {
			return err
		}
		store, err := openObjectStore()
		if err != nil {
			return err
		}
		table, err := curation.New(store, newCrossRef()).UpdateDOIs(commandContext(cmd), location(cfg.S3.DOIKey), values, create)
		if err != nil {
			return err
		}
		printSuccess("DOI table holds %d rows", len(table))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{doisCleanCmd, doisRegisterCmd, doisUpdateCmd} {
		c.Flags().String("file", "", "read one value per line from file (- for stdin)")
	}
	doisUpdateCmd.Flags().Bool("create", false, "create the DOI table if it does not exist")
	doisCmd.AddCommand(doisCleanCmd, doisRegisterCmd, doisUpdateCmd)
}

// --- crossref ---

var crossrefCmd = &cobra.Command{
	Use:   "crossref",
	Short: "Harvest and inspect CrossRef metadata",
}

var crossrefHarvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Store raw CrossRef responses for every DOI in the DOI table",
	Long: `Store raw CrossRef responses for every DOI in the DOI table that has
no stored response yet. Use "pubcurate worker" to harvest into the local store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		store, err := openObjectStore()
		if err != nil {
			return err
		}
		printStep("Harvesting DOIs from %s", location(cfg.S3.DOIKey))
		fetched, err := curation.New(store, newCrossRef()).HarvestTable(ctx, location(cfg.S3.DOIKey))
		if err != nil {
			return err
		}
		printSuccess("Fetched %d new responses", len(fetched))
		return nil
	},
}

var crossrefMetadataCmd = &cobra.Command{
	Use:   "metadata",
	Short: "Build the metadata table from stored CrossRef responses",
	RunE: func(cmd *cobra.Command, args []string) error {
		create, _ := cmd.Flags().GetBool("create")
		store, err := openObjectStore()
		if err != nil {
			return err
		}
		meta, err := curation.New(store, newCrossRef()).BuildMetadata(commandContext(cmd),
			location(cfg.S3.DOIKey), location(cfg.S3.MetadataKey), create)
		if err != nil {
			return err
		}
		printSuccess("Metadata table holds %d publications", len(meta))
		return nil
	},
}

var crossrefLookupCmd = &cobra.Command{
	Use:   "lookup <doi>",
	Short: "Fetch and print the cleaned CrossRef record for a DOI",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doi, ok := ident.NormalizeDOI(args[0])
		if !ok {
			return fmt.Errorf("%q is not a valid DOI", args[0])
		}
		pub, err := crossref.Parse(newCrossRef().Fetch(commandContext(cmd), doi))
		if err != nil {
			return fmt.Errorf("looking up %s: %w", doi, err)
		}
		doc, _ := preprocess.Prepare(pub, preprocess.DefaultOptions)
		if !doc.Valid {
			printWarning("%s does not pass preprocessing (language %q, %d subjects)", doi, doc.Language, len(doc.Subjects))
		}
		return printJSON(cmd.OutOrStdout(), doc.Publication)
	},
}

var crossrefSearchCmd = &cobra.Command{
	Use:   "search <reference>",
	Short: "Search CrossRef for a bibliographic reference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, _ := cmd.Flags().GetInt("rows")
		cands, err := newCrossRef().Search(commandContext(cmd), args[0], rows)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), cands)
	},
}

func init() {
	crossrefMetadataCmd.Flags().Bool("create", false, "create the metadata table if it does not exist")
	crossrefSearchCmd.Flags().Int("rows", 5, "number of candidates to return")
	crossrefCmd.AddCommand(crossrefHarvestCmd, crossrefMetadataCmd, crossrefLookupCmd, crossrefSearchCmd)
}

// --- xdd ---

var xddCmd = &cobra.Command{
	Use:   "xdd",
	Short: "Query the xDD full-text archive",
}

var xddQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Find new articles in xDD and record them locally",
	Long: `Find new articles in xDD and record them locally.

Examples:
  pubcurate xdd query --recent 500
  pubcurate xdd query --min-date 2024-01-01 --max-date 2024-02-01 --term pollen`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var q xdd.Query
		q.Recent, _ = cmd.Flags().GetInt("recent")
		q.MinDate, _ = cmd.Flags().GetString("min-date")
		q.MaxDate, _ = cmd.Flags().GetString("max-date")
		q.Term, _ = cmd.Flags().GetString("term")
		if err := q.Validate(); err != nil {
			return err
		}

		ctx := commandContext(cmd)
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		known, err := store.KnownArticles(ctx)
		if err != nil {
			return err
		}
		res, err := xdd.NewClient(cfg.XDD.BaseURL).Search(ctx, q, known)
		if err != nil {
			return err
		}
		n, err := store.SaveArticles(ctx, res.Articles)
		if err != nil {
			return err
		}
		printSuccess("%d new articles from %d pages", n, res.Pages)
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	xddQueryCmd.Flags().Int("recent", 0, "number of most recently acquired articles")
	xddQueryCmd.Flags().String("min-date", "", "earliest acquisition date (YYYY-MM-DD)")
	xddQueryCmd.Flags().String("max-date", "", "latest acquisition date (YYYY-MM-DD)")
	xddQueryCmd.Flags().String("term", "", "full-text search term")
	xddCmd.AddCommand(xddQueryCmd)
}

// --- projects ---

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage labelling projects",
}

var projectsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		notes, _ := cmd.Flags().GetString("notes")
		reg, closeReg, err := openRegistry()
		if err != nil {
			return err
		}
		defer closeReg()

		created, err := registry.EnsureProject(commandContext(cmd), reg, args[0], notes)
		if err != nil {
			return err
		}
		if created {
			printSuccess("Created project %s", args[0])
		} else {
			printWarning("Project %s already exists", args[0])
		}
		return nil
	},
}

func init() {
	projectsAddCmd.Flags().String("notes", "", "free-text project notes")
	projectsCmd.AddCommand(projectsAddCmd)
}

// --- labels ---

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "Assign labels to papers",
}

var labelsAddCmd = &cobra.Command{
	Use:   "add <doi> <label>",
	Short: "Label one paper",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		person, _ := cmd.Flags().GetString("person")
		if person == "" {
			return fmt.Errorf("--person is required")
		}
		return addLabels(cmd, []records.PaperLabel{{DOI: args[0], Label: args[1], Person: person}})
	},
}

var labelsImportCmd = &cobra.Command{
	Use:   "import <csv>",
	Short: "Label papers from a CSV file",
	Long: `Label papers from a CSV file with doi, label and person (or orcid)
columns. With --annotations the file is a legacy annotation export and
each annotation becomes a label, attributed to its annotator or --person.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		annotations, _ := cmd.Flags().GetBool("annotations")
		person, _ := cmd.Flags().GetString("person")

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		var labels []records.PaperLabel
		if annotations {
			project, err := projectFlag(cmd)
			if err != nil {
				return err
			}
			anns, err := curation.ReadAnnotationsCSV(f)
			if err != nil {
				return err
			}
			labels = curation.LabelsFromAnnotations(anns, project, person)
		} else {
			labels, err = registry.ReadLabelsCSV(f)
			if err != nil {
				return err
			}
		}
		return addLabels(cmd, labels)
	},
}

func addLabels(cmd *cobra.Command, labels []records.PaperLabel) error {
	project, err := projectFlag(cmd)
	if err != nil {
		return err
	}
	create, _ := cmd.Flags().GetBool("create")
	reg, closeReg, err := openRegistry()
	if err != nil {
		return err
	}
	defer closeReg()

	out, err := registry.AddPaperLabels(commandContext(cmd), reg, labels, project, create)
	if err != nil {
		return err
	}
	printSuccess("%d inserted, %d already present, %d rejected", len(out.Inserted), len(out.Present), len(out.Rejected))
	if len(out.Rejected) > 0 {
		return printJSON(cmd.OutOrStdout(), out.Rejected)
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{labelsAddCmd, labelsImportCmd} {
		c.Flags().String("project", "", "project name (defaults to project.name)")
		c.Flags().Bool("create", false, "create missing labels and people")
		c.Flags().String("person", "", "ORCID of the person labelling")
	}
	labelsImportCmd.Flags().Bool("annotations", false, "read a legacy annotation CSV")
	labelsCmd.AddCommand(labelsAddCmd, labelsImportCmd)
}

// --- update-source ---

var updateSourceCmd = &cobra.Command{
	Use:   "update-source <csv>",
	Short: "Fold an annotation CSV into the annotation and metadata tables",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		store, err := openObjectStore()
		if err != nil {
			return err
		}
		up, err := curation.New(store, newCrossRef()).UpdateSource(commandContext(cmd), f,
			location(cfg.S3.AnnotationKey), location(cfg.S3.MetadataKey))
		if err != nil {
			return err
		}
		printSuccess("%d annotations, %d publications (%d fetched)", up.Annotations, up.Publications, len(up.Fetched))
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func since(start time.Time) string {
	return time.Since(start).Round(time.Millisecond).String()
}
