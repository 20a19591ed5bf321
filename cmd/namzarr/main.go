// Command namzarr drives the NAM forecast toolchain by hand: a one-shot
// locate/download/convert run plus the maintenance passes the daemon runs on
// a schedule.
//
// Usage:
//
//	namzarr list-datasets
//	namzarr info [-dataset-id ID]
//	namzarr operational-update [-dataset-id ID] [-output-dir DIR] [-append] [-verbose]
//	namzarr cleanup [-data-dir DIR] [-max-age-hours N] [-keep-latest-only] [-verbose]
//	namzarr check [-data-dir DIR] [-verbose]
//	namzarr summary [-data-dir DIR] [-summary-dir DIR] [-verbose]
//
// Configuration defaults come from the environment (and an optional .env
// file); flags override them for the single run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/overcastlabs/nam-zarr-etl/internal/checker"
	"github.com/overcastlabs/nam-zarr-etl/internal/config"
	"github.com/overcastlabs/nam-zarr-etl/internal/domain"
	"github.com/overcastlabs/nam-zarr-etl/internal/nomads"
	"github.com/overcastlabs/nam-zarr-etl/internal/observability"
	"github.com/overcastlabs/nam-zarr-etl/internal/pipeline"
	"github.com/overcastlabs/nam-zarr-etl/internal/retention"
	"github.com/overcastlabs/nam-zarr-etl/internal/summary"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]

	var code int
	switch cmd {
	case "list-datasets":
		code = runListDatasets(args)
	case "info":
		code = runInfo(args)
	case "operational-update":
		code = runUpdate(args)
	case "cleanup":
		code = runCleanup(args)
	case "check":
		code = runCheck(args)
	case "summary":
		code = runSummary(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "namzarr: unknown command %q\n\n", cmd)
		printUsage()
		code = 2
	}
	os.Exit(code)
}

func printUsage() {
	fmt.Fprint(os.Stderr, `usage: namzarr <command> [flags]

commands:
  list-datasets       list registered dataset IDs
  info                describe a dataset
  operational-update  locate the latest cycle, download it, write the store
  cleanup             apply the retention policy to all stores
  check               verify store consistency, quarantining broken stores
  summary             write the Markdown inventory of all stores

run "namzarr <command> -h" for command flags
`)
}

// cliSetup loads config and builds the logger for a one-shot run. Interactive
// runs default to the text handler; an explicit LOG_FORMAT still wins.
func cliSetup(verbose bool) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if os.Getenv("LOG_FORMAT") == "" {
		cfg.LogFormat = "text"
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, observability.NewLogger(cfg), nil
}

func fail(err error) int {
	fmt.Fprintln(os.Stderr, "namzarr:", err)
	return 1
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runListDatasets(args []string) int {
	fs := flag.NewFlagSet("list-datasets", flag.ExitOnError)
	fs.Parse(args) //nolint:errcheck // ExitOnError

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDESCRIPTION")
	for _, ds := range domain.Datasets() {
		fmt.Fprintf(tw, "%s\t%s\n", ds.ID, ds.Attributes.Description)
	}
	tw.Flush() //nolint:errcheck // stdout
	return 0
}

func runInfo(args []string) int {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	datasetID := fs.String("dataset-id", domain.DefaultDatasetID, "dataset to describe")
	fs.Parse(args) //nolint:errcheck // ExitOnError

	ds, err := domain.LookupDataset(*datasetID)
	if err != nil {
		return fail(err)
	}

	a := ds.Attributes
	fmt.Printf("%s\n\n%s\n\n", a.Title, a.Description)

	codes := make([]string, len(ds.Variables))
	for i, v := range ds.Variables {
		codes[i] = v.Code
	}
	hours := ds.ForecastHours
	levels := ds.PressureLevels

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	rows := [][2]string{
		{"ID", ds.ID},
		{"Store", ds.StoreName},
		{"Provider", a.Provider},
		{"Model", a.Model},
		{"Variant", a.Variant},
		{"Version", a.Version},
		{"Source", a.Source},
		{"References", a.References},
		{"Grid", fmt.Sprintf("%dx%d at %.2f km", ds.GridWidth, ds.GridHeight, ds.GridResolutionKm)},
		{"Forecast hours", fmt.Sprintf("%d..%d (%d)", hours[0], hours[len(hours)-1], len(hours))},
		{"Cycle hours", fmt.Sprint(ds.CycleHours)},
		{"Pressure levels", fmt.Sprintf("%.0f..%.0f hPa (%d)", levels[0], levels[len(levels)-1], len(levels))},
		{"Variables", strings.Join(codes, ", ")},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", r[0], r[1])
	}
	tw.Flush() //nolint:errcheck // stdout
	return 0
}

func runUpdate(args []string) int {
	fs := flag.NewFlagSet("operational-update", flag.ExitOnError)
	datasetID := fs.String("dataset-id", domain.DefaultDatasetID, "dataset to update")
	outputDir := fs.String("output-dir", "", "directory for Zarr stores (default $DATA_DIR or ./data)")
	appendMode := fs.Bool("append", false, "append the cycle to an existing store instead of replacing it")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	fs.Parse(args) //nolint:errcheck // ExitOnError

	cfg, logger, err := cliSetup(*verbose)
	if err != nil {
		return fail(err)
	}
	if *outputDir == "" {
		*outputDir = cfg.DataDir
	}

	ds, err := domain.LookupDataset(*datasetID)
	if err != nil {
		return fail(err)
	}

	metrics := observability.NewMetrics()
	client := nomads.NewClient(cfg.NOMADSBaseURL, cfg.ProbeTimeout, cfg.DownloadTimeout, metrics, logger)
	converter := pipeline.NewConverter(logger, metrics)
	p := pipeline.New(client, client, converter, logger, metrics)

	ctx, stop := signalContext()
	defer stop()

	report, err := p.Update(ctx, ds, *outputDir, *appendMode)
	if err != nil {
		logger.Error("update failed", "error", err)
		return 1
	}

	fmt.Printf("cycle %s: %d/%d hours downloaded, store %s\n",
		report.Cycle, report.Downloaded, len(ds.ForecastHours), report.StorePath)
	for _, h := range report.Failed() {
		fmt.Printf("  hour %03d failed: %v\n", h.Hour, h.Err)
	}
	return 0
}

func runCleanup(args []string) int {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	dataDir := fs.String("data-dir", "", "directory containing Zarr stores (default $DATA_DIR or ./data)")
	maxAge := fs.Int("max-age-hours", 0, "drop cycles initialized more than this many hours ago (default $RETENTION_MAX_AGE_HOURS or 24)")
	keepLatest := fs.Bool("keep-latest-only", false, "keep only the most recent cycle in each store")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	fs.Parse(args) //nolint:errcheck // ExitOnError

	cfg, logger, err := cliSetup(*verbose)
	if err != nil {
		return fail(err)
	}
	if *dataDir == "" {
		*dataDir = cfg.DataDir
	}
	if *maxAge == 0 {
		*maxAge = cfg.RetentionMaxAgeHours
	}
	policy := retention.Policy{
		MaxAgeHours:    *maxAge,
		KeepLatestOnly: cfg.RetentionKeepLatestOnly,
	}
	// The flag only overrides the configured default when given explicitly,
	// so -keep-latest-only=false can turn the config setting off.
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "keep-latest-only" {
			policy.KeepLatestOnly = *keepLatest
		}
	})

	ctx, stop := signalContext()
	defer stop()

	report, err := retention.NewManager(logger, observability.NewMetrics()).Apply(ctx, *dataDir, policy)
	if err != nil {
		return fail(err)
	}

	for _, r := range report.Results {
		switch {
		case r.Err != nil:
			fmt.Printf("%s: failed: %v\n", r.Store, r.Err)
		case r.Rewritten:
			fmt.Printf("%s: dropped %d of %d cycles\n", r.Store, r.Dropped, r.Kept+r.Dropped)
		case r.Skipped:
			fmt.Printf("%s: skipped\n", r.Store)
		default:
			fmt.Printf("%s: nothing to drop\n", r.Store)
		}
	}
	if len(report.Failed()) > 0 {
		return 1
	}
	return 0
}

func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	dataDir := fs.String("data-dir", "", "directory containing Zarr stores (default $DATA_DIR or ./data)")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	fs.Parse(args) //nolint:errcheck // ExitOnError

	cfg, logger, err := cliSetup(*verbose)
	if err != nil {
		return fail(err)
	}
	if *dataDir == "" {
		*dataDir = cfg.DataDir
	}

	ctx, stop := signalContext()
	defer stop()

	report, err := checker.NewChecker(logger, observability.NewMetrics()).CheckAll(ctx, *dataDir)
	if err != nil {
		return fail(err)
	}

	for _, r := range report.Results {
		switch r.Outcome {
		case checker.OutcomeOK:
			fmt.Printf("%s: ok (%d cycles)\n", r.Store, r.Actual)
		case checker.OutcomeMismatch:
			fmt.Printf("%s: declared %d cycles but found %d, moved to backup\n", r.Store, r.Declared, r.Actual)
		case checker.OutcomeUnreadable:
			fmt.Printf("%s: unreadable, deleted: %v\n", r.Store, r.Err)
		case checker.OutcomeNoAxis:
			fmt.Printf("%s: no init_time axis, left alone\n", r.Store)
		}
	}
	return 0
}

func runSummary(args []string) int {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	dataDir := fs.String("data-dir", "", "directory containing Zarr stores (default $DATA_DIR or ./data)")
	summaryDir := fs.String("summary-dir", "", "directory for summary.md (default $SUMMARY_DIR or ./data_summary)")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	fs.Parse(args) //nolint:errcheck // ExitOnError

	cfg, logger, err := cliSetup(*verbose)
	if err != nil {
		return fail(err)
	}
	if *dataDir == "" {
		*dataDir = cfg.DataDir
	}
	if *summaryDir == "" {
		*summaryDir = cfg.SummaryDir
	}

	ctx, stop := signalContext()
	defer stop()

	path, err := summary.NewGenerator(logger).Write(ctx, *dataDir, *summaryDir)
	if err != nil {
		return fail(err)
	}
	fmt.Println("summary written to", path)
	return 0
}
