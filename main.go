package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	verbose bool
	logger  = zap.NewNop()
)

type reportOptions struct {
	inputs   []string
	sheet    string
	profile  string
	jsonOut  string
	export   string
	filters  []string
	planFrom string
	planTo   string
	top      int
	db       bool
	dbSchema string
	dbTag    string
	watch    bool
}

type migrateOptions struct {
	up       bool
	down     bool
	dbSchema string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		exitWithError(err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "progress-audit",
		Short: "Classify tracker spreadsheets by scope and milestone progress",
		Long: `progress-audit reads a tracker export (xlsx or CSV), resolves its headers
against the profile's alias table, and reports scope categories and milestone
progress for every site.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config := zap.NewProductionConfig()
			if verbose {
				config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			built, err := config.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			logger = built
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(newReportCmd(), newColumnsCmd(), newMigrateCmd())
	return root
}

func newReportCmd() *cobra.Command {
	opts := &reportOptions{}
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Build the scope and milestone report for one or more trackers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(opts.inputs) == 0 {
				return errors.New("--input is required")
			}
			run := func(ctx context.Context) error {
				return runReport(ctx, opts, cmd.OutOrStdout())
			}
			if opts.watch {
				return watchInputs(cmd.Context(), opts.inputs, logger, run)
			}
			return run(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.StringArrayVarP(&opts.inputs, "input", "i", nil, "Tracker file (xlsx, csv) or azblob://container/key; repeatable")
	f.StringVar(&opts.sheet, "sheet", "", "Workbook sheet to read (must exist); default is the profile sheet, else the first sheet")
	f.StringVar(&opts.profile, "profile", "", "Profile YAML with aliases and milestones; default is the built-in IPRAN profile")
	f.StringVar(&opts.jsonOut, "json", "", "Optional JSON output path")
	f.StringVar(&opts.export, "export", "", "Optional CSV export of the filtered rows with derived columns")
	f.StringArrayVar(&opts.filters, "filter", nil, "Row filter field=value; repeatable")
	f.StringVar(&opts.planFrom, "plan-from", "", "Keep rows planned on or after this date")
	f.StringVar(&opts.planTo, "plan-to", "", "Keep rows planned on or before this date")
	f.IntVar(&opts.top, "top", 0, "Top N values per breakdown; default from profile")
	f.BoolVar(&opts.db, "db", false, "Store the run in Postgres (requires "+envDBURL+" or DATABASE_URL)")
	f.StringVar(&opts.dbSchema, "db-schema", defaultDBSchema, "Postgres schema for run tables")
	f.StringVar(&opts.dbTag, "db-tag", "", "Optional label for this run")
	f.BoolVar(&opts.watch, "watch", false, "Re-run whenever a local input file changes")
	return cmd
}

func newColumnsCmd() *cobra.Command {
	var input, sheet, profilePath string
	cmd := &cobra.Command{
		Use:   "columns",
		Short: "Show detected headers and how profile fields map onto them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" {
				return errors.New("--input is required")
			}
			profile, err := LoadProfile(profilePath)
			if err != nil {
				return err
			}
			loader := newLoader(profile, sheet)
			ds, err := loader.Load(cmd.Context(), input)
			if err != nil {
				return err
			}
			printColumns(cmd.OutOrStdout(), ds, ResolveColumns(ds.Headers, profile.Fields), profile.Fields)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Tracker file (xlsx, csv) or azblob://container/key")
	cmd.Flags().StringVar(&sheet, "sheet", "", "Workbook sheet to read")
	cmd.Flags().StringVar(&profilePath, "profile", "", "Profile YAML")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	opts := &migrateOptions{}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or revert the run-store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.up && opts.down {
				return errors.New("--up and --down are mutually exclusive")
			}
			cfg, err := dbConfig(opts.dbSchema, "")
			if err != nil {
				return err
			}
			action := migrateVersion
			switch {
			case opts.up:
				action = migrateUp
			case opts.down:
				action = migrateDown
			}
			version, dirty, err := runMigrations(cmd.Context(), cfg, action)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version: %d, dirty: %v\n", version, dirty)
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.up, "up", false, "Run all up migrations")
	cmd.Flags().BoolVar(&opts.down, "down", false, "Run all down migrations")
	cmd.Flags().StringVar(&opts.dbSchema, "db-schema", defaultDBSchema, "Postgres schema for run tables")
	return cmd
}

func newLoader(profile *Profile, sheet string) *Loader {
	return &Loader{
		Options:        LoadOptions{Sheet: sheet, PreferredSheet: profile.Sheet},
		BlobConnection: strings.TrimSpace(os.Getenv(envBlobConnection)),
		Logger:         logger,
	}
}

func dbConfig(schema, tag string) (DBConfig, error) {
	dbURL := dbURLFromEnv()
	if dbURL == "" {
		return DBConfig{}, fmt.Errorf("database URL missing; set %s or DATABASE_URL", envDBURL)
	}
	return DBConfig{URL: dbURL, Schema: schema, Tag: tag}, nil
}

func buildFilter(opts *reportOptions) (Filter, error) {
	values, err := ParseFilters(opts.filters)
	if err != nil {
		return Filter{}, err
	}
	filter := Filter{Values: values}
	if opts.planFrom != "" {
		if filter.PlanFrom, err = parseDate(opts.planFrom); err != nil {
			return Filter{}, fmt.Errorf("invalid --plan-from date: %w", err)
		}
	}
	if opts.planTo != "" {
		if filter.PlanTo, err = parseDate(opts.planTo); err != nil {
			return Filter{}, fmt.Errorf("invalid --plan-to date: %w", err)
		}
	}
	if !filter.PlanFrom.IsZero() && !filter.PlanTo.IsZero() && filter.PlanTo.Before(filter.PlanFrom) {
		return Filter{}, errors.New("--plan-to is before --plan-from")
	}
	return filter, nil
}

// runReport loads every input before classifying any of them, so a bad file
// or missing sheet aborts the run without partial output.
func runReport(ctx context.Context, opts *reportOptions, out io.Writer) error {
	profile, err := LoadProfile(opts.profile)
	if err != nil {
		return err
	}
	if opts.top > 0 {
		profile.Top = opts.top
	}
	filter, err := buildFilter(opts)
	if err != nil {
		return err
	}

	datasets, err := newLoader(profile, opts.sheet).LoadAll(ctx, opts.inputs)
	if err != nil {
		return err
	}

	runAt := time.Now()
	multi := len(datasets) > 1
	reports := make([]*Report, 0, len(datasets))
	for i, ds := range datasets {
		report := buildDatasetReport(ds, profile, filter, runAt)
		reports = append(reports, report)

		if i > 0 {
			fmt.Fprintln(out)
		}
		printReport(out, report)

		if opts.jsonOut != "" {
			path := outputPath(opts.jsonOut, ds.Source, multi)
			if err := writeJSON(report, path); err != nil {
				return err
			}
			fmt.Fprintf(out, "\nJSON report saved to %s\n", path)
		}
		if opts.export != "" {
			path := outputPath(opts.export, ds.Source, multi)
			if err := writeExportCSV(report, path); err != nil {
				return err
			}
			fmt.Fprintf(out, "Filtered CSV saved to %s\n", path)
		}
	}

	if opts.db {
		cfg, err := dbConfig(opts.dbSchema, opts.dbTag)
		if err != nil {
			return err
		}
		ids, err := storeReports(ctx, cfg, reports)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintf(out, "\nStored run in Postgres (run_id=%s)\n", id)
		}
	}
	return nil
}

func buildDatasetReport(ds *Dataset, profile *Profile, filter Filter, runAt time.Time) *Report {
	c := Classify(ds, profile)
	for _, field := range c.Columns.Missing(profile.Fields) {
		logger.Warn("column not found", zap.String("source", ds.Source), zap.String("field", field))
	}
	report := BuildReport(c, filter, runAt)
	logger.Info("report built",
		zap.String("source", ds.Source),
		zap.Int("records", report.Records),
		zap.Int("viewed", report.Viewed),
		zap.Int("scope_known", report.Scope.Known),
	)
	return report
}

// outputPath keeps path as-is for a single input; with several inputs the
// input's base name is appended so outputs do not overwrite each other.
func outputPath(path, source string, multi bool) string {
	if !multi {
		return path
	}
	ext := filepath.Ext(path)
	base := filepath.Base(source)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.TrimSuffix(path, ext) + "-" + base + ext
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
