// Financial data ETL CLI
// This application runs one extract-transform-load pass over an OHLCV dataset: it reads
// a file or generates a synthetic series, removes malformed rows, optionally resamples and
// derives technical indicators, writes the result and prints the quality report as JSON.
//
// Usage:
//
//	etl -source-kind synthetic -symbol BTCUSD -output out/btc.csv -resample W
//	etl -source-path data/prices.csv -output out/prices.parquet
//	etl -config etl.yaml
//
// Flags override ETL_* environment variables, which override the config file.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/galafis/financial-data-etl/internal/config"
	etlerrors "github.com/galafis/financial-data-etl/internal/errors"
	"github.com/galafis/financial-data-etl/internal/gaps"
	"github.com/galafis/financial-data-etl/internal/indicators"
	"github.com/galafis/financial-data-etl/internal/logger"
	"github.com/galafis/financial-data-etl/internal/metrics"
	"github.com/galafis/financial-data-etl/internal/models"
	"github.com/galafis/financial-data-etl/internal/pipeline"
	"github.com/galafis/financial-data-etl/internal/resample"
	"github.com/galafis/financial-data-etl/internal/source"
	"github.com/galafis/financial-data-etl/internal/storage"
	"github.com/galafis/financial-data-etl/internal/validator"
)

// CLI version information
const (
	Version = "1.0.0"
	AppName = "etl"
)

// Exit codes following standard conventions
const (
	ExitSuccess     = 0
	ExitUsageError  = 1
	ExitConfigError = 2
	ExitSourceError = 3
	ExitDataError   = 4
	ExitWriteError  = 5
	ExitInterrupt   = 130
)

// Flags holds the command line options. Only flags given explicitly override the
// loaded configuration.
type Flags struct {
	ConfigPath         string
	EnvFile            string
	SourceKind         string
	SourcePath         string
	Symbol             string
	Rows               int
	Seed               uint64
	OutputPath         string
	OutputFormat       string
	AddIndicators      bool
	ResampleFrequency  string
	ExpectedInterval   string
	EmptyOnSourceError bool
	MetricsTextfile    string
	Version            bool

	set map[string]bool
}

// RunSummary is printed to stdout after a successful run.
type RunSummary struct {
	Source        string                      `json:"source"`
	Output        string                      `json:"output"`
	Rows          int                         `json:"rows"`
	Columns       []string                    `json:"columns"`
	Elapsed       string                      `json:"elapsed"`
	QualityReport []models.QualityReportEntry `json:"quality_report"`
}

// CLI represents the main CLI application
type CLI struct {
	config   *config.AppConfig
	logs     *logger.LoggerManager
	logger   *slog.Logger
	recorder *metrics.PrometheusRecorder
	pipeline *pipeline.Pipeline
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return ExitSuccess
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitUsageError
	}
	if flags.Version {
		fmt.Fprintf(stdout, "%s version %s\n", AppName, Version)
		return ExitSuccess
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := &CLI{}
	if err := cli.initialize(ctx, flags); err != nil {
		fmt.Fprintf(stderr, "Error: Failed to initialize: %v\n", err)
		return ExitConfigError
	}
	defer cli.logs.Close()

	summary, err := cli.execute(ctx)
	cli.exportMetrics(ctx)
	if err != nil {
		logger.LogError(ctx, cli.logger, err, "pipeline failed")
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(ctx, err)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		cli.logger.ErrorContext(ctx, "failed to print quality report", "error", err)
		return ExitWriteError
	}
	return ExitSuccess
}

// initialize loads configuration and wires the pipeline collaborators
func (cli *CLI) initialize(ctx context.Context, flags *Flags) error {
	bootstrap := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg, err := config.NewConfigManager(flags.ConfigPath, flags.EnvFile, bootstrap).LoadConfig(ctx)
	if err != nil {
		return err
	}
	flags.apply(cfg)
	cli.config = cfg

	logs, err := logger.NewLoggerManager(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	cli.logs = logs
	cli.logger = logs.GetComponentLogger("cli").Logger

	var recorder metrics.Recorder = metrics.NopRecorder{}
	if cfg.Metrics.Enabled {
		cli.recorder = metrics.NewPrometheusRecorder(cfg.Metrics.Namespace)
		recorder = cli.recorder
	}

	policy, err := cfg.Retry.Policy()
	if err != nil {
		return err
	}

	var fsys afero.Fs = afero.NewOsFs()
	if cfg.Storage.BaseDir != "" {
		fsys = afero.NewBasePathFs(fsys, cfg.Storage.BaseDir)
	}
	store := storage.NewFileStore(fsys,
		storage.WithLogger(logs.GetLogger()),
		storage.WithRetryPolicy(policy),
		storage.WithFileMode(fs.FileMode(cfg.Storage.FileMode)),
		storage.WithCodec(models.FormatColumnar, storage.ColumnarCodec{TempDir: cfg.Storage.TempDir}),
	)
	extractor := source.NewExtractor(store, source.WithLogger(logs.GetLogger()))

	engine, err := indicators.NewEngine(cfg.Pipeline.Indicators, logs.GetLogger())
	if err != nil {
		return err
	}

	var interval time.Duration
	if cfg.Pipeline.ExpectedInterval != "" {
		if interval, err = gaps.ParseInterval(cfg.Pipeline.ExpectedInterval); err != nil {
			return err
		}
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(logs.GetLogger()),
		pipeline.WithMetrics(recorder),
		pipeline.WithIndicatorEngine(engine),
		pipeline.WithGapDetector(gaps.NewDetector(interval, logs.GetLogger())),
		pipeline.WithValidator(validator.New(
			validator.WithLogger(logs.GetLogger()),
			validator.WithMetrics(recorder),
		)),
	}
	if cfg.Pipeline.EmptyOnSourceError {
		opts = append(opts, pipeline.WithEmptyOnSourceError())
	}
	p, err := pipeline.New(extractor, store, opts...)
	if err != nil {
		return err
	}
	cli.pipeline = p
	return nil
}

// execute runs the configured pipeline pass
func (cli *CLI) execute(ctx context.Context) (*RunSummary, error) {
	pc := cli.config.Pipeline
	src := pc.SourceDescriptor()
	out := pc.OutputDescriptor()

	start := time.Now()
	table, err := cli.pipeline.Run(ctx, src, out, pipeline.RunOptions{
		AddIndicators:     pc.AddIndicators,
		ResampleFrequency: pc.ResampleFrequency,
	})
	if err != nil {
		return nil, err
	}

	columns := table.Columns
	if columns == nil {
		columns = []string{}
	}
	return &RunSummary{
		Source:        src.String(),
		Output:        out.Path,
		Rows:          table.Len(),
		Columns:       columns,
		Elapsed:       time.Since(start).String(),
		QualityReport: cli.pipeline.QualityReport(),
	}, nil
}

// exportMetrics writes the run metrics for node_exporter's textfile collector
func (cli *CLI) exportMetrics(ctx context.Context) {
	path := cli.config.Metrics.TextfilePath
	if cli.recorder == nil || path == "" {
		return
	}
	if err := cli.recorder.WriteTextfile(path); err != nil {
		cli.logger.WarnContext(ctx, "failed to write metrics textfile", "path", path, "error", err)
		return
	}
	cli.logger.DebugContext(ctx, "metrics textfile written", "path", path)
}

func exitCode(ctx context.Context, err error) int {
	if ctx.Err() != nil {
		return ExitInterrupt
	}
	if errors.Is(err, resample.ErrInvalidFrequency) {
		return ExitUsageError
	}
	switch etlerrors.KindOf(err) {
	case etlerrors.KindSourceUnavailable:
		return ExitSourceError
	case etlerrors.KindFormat, etlerrors.KindSchema:
		return ExitDataError
	case etlerrors.KindWrite:
		return ExitWriteError
	default:
		return ExitUsageError
	}
}

// parseFlags parses command line arguments
func parseFlags(args []string, output io.Writer) (*Flags, error) {
	f := &Flags{set: make(map[string]bool)}

	fset := flag.NewFlagSet(AppName, flag.ContinueOnError)
	fset.SetOutput(output)
	fset.Usage = func() { printUsage(output, fset) }

	fset.StringVar(&f.ConfigPath, "config", "", "configuration file (YAML or JSON)")
	fset.StringVar(&f.EnvFile, "env-file", ".env", "dotenv file with ETL_* variables")
	fset.StringVar(&f.SourceKind, "source-kind", "", "csv, json, columnar, xlsx or synthetic (default: inferred from -source-path)")
	fset.StringVar(&f.SourcePath, "source-path", "", "input file")
	fset.StringVar(&f.Symbol, "symbol", "", "instrument symbol (synthetic sources)")
	fset.IntVar(&f.Rows, "rows", 0, "synthetic series length in days (default 365)")
	fset.Uint64Var(&f.Seed, "seed", 0, "synthetic series seed (default: derived from the symbol)")
	fset.StringVar(&f.OutputPath, "output", "", "output file")
	fset.StringVar(&f.OutputFormat, "format", "", "output format (default: inferred from -output)")
	fset.BoolVar(&f.AddIndicators, "indicators", true, "add technical indicator columns")
	fset.StringVar(&f.ResampleFrequency, "resample", "", "resample frequency: hourly, daily, weekly, monthly or H, D, W, M")
	fset.StringVar(&f.ExpectedInterval, "interval", "", "expected row spacing for gap detection, e.g. 1h or 1d (default: inferred)")
	fset.BoolVar(&f.EmptyOnSourceError, "empty-on-source-error", false, "treat a failed synthetic extraction as an empty table")
	fset.StringVar(&f.MetricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file")
	fset.BoolVar(&f.Version, "version", false, "print version and exit")

	if err := fset.Parse(args); err != nil {
		return nil, err
	}
	if fset.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fset.Args())
	}
	fset.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return f, nil
}

// apply overrides cfg with the flags given on the command line
func (f *Flags) apply(cfg *config.AppConfig) {
	pc := &cfg.Pipeline
	if f.set["source-kind"] {
		pc.SourceKind = f.SourceKind
	}
	if f.set["source-path"] {
		pc.SourcePath = f.SourcePath
		if !f.set["source-kind"] {
			// Let the extension decide instead of the configured default kind.
			pc.SourceKind = ""
		}
	}
	if f.set["symbol"] {
		pc.Symbol = f.Symbol
	}
	if f.set["rows"] {
		pc.Rows = f.Rows
	}
	if f.set["seed"] {
		pc.Seed = f.Seed
	}
	if f.set["output"] {
		pc.OutputPath = f.OutputPath
	}
	if f.set["format"] {
		pc.OutputFormat = f.OutputFormat
	}
	if f.set["indicators"] {
		pc.AddIndicators = f.AddIndicators
	}
	if f.set["resample"] {
		pc.ResampleFrequency = f.ResampleFrequency
	}
	if f.set["interval"] {
		pc.ExpectedInterval = f.ExpectedInterval
	}
	if f.set["empty-on-source-error"] {
		pc.EmptyOnSourceError = f.EmptyOnSourceError
	}
	if f.set["metrics-textfile"] {
		cfg.Metrics.TextfilePath = f.MetricsTextfile
	}
}

func printUsage(w io.Writer, fset *flag.FlagSet) {
	fmt.Fprintf(w, `%s - Financial data ETL v%s

USAGE:
    %s [options]

OPTIONS:
`, AppName, Version, AppName)
	fset.PrintDefaults()
	fmt.Fprintf(w, `
EXAMPLES:
    # One year of synthetic BTCUSD data, weekly bars with indicators
    %s -symbol BTCUSD -output out/btc_weekly.csv -resample W

    # Clean a CSV file and store it as Parquet without indicators
    %s -source-path data/prices.csv -output out/prices.parquet -indicators=false

CONFIGURATION:
    Configuration can be provided via:
    - Config file: -config etl.yaml (YAML or JSON)
    - Environment variables: ETL_* (e.g., ETL_PIPELINE_OUTPUT_PATH, ETL_LOG_LEVEL)
    - A dotenv file: -env-file .env
`, AppName, AppName)
}
