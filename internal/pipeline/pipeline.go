// Package pipeline orchestrates one ETL run: extract, validate, optionally resample,
// optionally derive indicators, then load. The Pipeline owns the quality report: one
// entry is appended for every validation pass it performs, carrying the validator's
// removal counts and the continuity census of the cleaned table.
//
// A Pipeline is not safe for concurrent use. Create one instance per logical run stream.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	etlerrors "github.com/galafis/financial-data-etl/internal/errors"
	"github.com/galafis/financial-data-etl/internal/gaps"
	"github.com/galafis/financial-data-etl/internal/indicators"
	"github.com/galafis/financial-data-etl/internal/logger"
	"github.com/galafis/financial-data-etl/internal/metrics"
	"github.com/galafis/financial-data-etl/internal/models"
	"github.com/galafis/financial-data-etl/internal/resample"
	"github.com/galafis/financial-data-etl/internal/validator"
)

// Stage names used in log events and metrics.
const (
	StageExtract    = "extract"
	StageValidate   = "validate"
	StageResample   = "resample"
	StageIndicators = "indicators"
	StageLoad       = "load"
)

// Extractor reads the raw table described by a source descriptor.
type Extractor interface {
	Extract(ctx context.Context, src models.SourceDescriptor) (*models.Table, error)
}

// Loader writes a table to the destination described by an output descriptor.
type Loader interface {
	Load(ctx context.Context, table *models.Table, out models.OutputDescriptor) error
}

// RunOptions selects the optional stages of a run.
type RunOptions struct {
	AddIndicators bool
	// ResampleFrequency is a frequency name or alias accepted by resample.ParseFrequency.
	// Empty disables resampling.
	ResampleFrequency string
}

// Pipeline runs extract-transform-load passes and accumulates their quality report.
type Pipeline struct {
	extractor Extractor
	loader    Loader
	validator *validator.Validator
	engine    *indicators.Engine
	gaps      *gaps.Detector
	logger    *slog.Logger
	metrics   metrics.Recorder
	clock     func() time.Time
	newRunID  func() string

	emptyOnSourceError bool

	report []models.QualityReportEntry
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the logger for stage events. Run-scoped context values are
// attached to every record.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = slog.New(logger.NewContextHandler(l.Handler()))
		}
	}
}

// WithMetrics sets the recorder that receives stage and run observations.
func WithMetrics(recorder metrics.Recorder) Option {
	return func(p *Pipeline) {
		if recorder != nil {
			p.metrics = recorder
		}
	}
}

// WithValidator replaces the default validator.
func WithValidator(v *validator.Validator) Option {
	return func(p *Pipeline) {
		p.validator = v
	}
}

// WithIndicatorEngine replaces the default indicator engine.
func WithIndicatorEngine(e *indicators.Engine) Option {
	return func(p *Pipeline) {
		p.engine = e
	}
}

// WithGapDetector replaces the default detector, which infers the row interval.
func WithGapDetector(d *gaps.Detector) Option {
	return func(p *Pipeline) {
		p.gaps = d
	}
}

// WithClock sets the time source used for report timestamps.
func WithClock(clock func() time.Time) Option {
	return func(p *Pipeline) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithRunIDGenerator replaces the random run id generator.
func WithRunIDGenerator(gen func() string) Option {
	return func(p *Pipeline) {
		if gen != nil {
			p.newRunID = gen
		}
	}
}

// WithEmptyOnSourceError makes a failed synthetic extraction produce an empty result
// instead of an error. The run then skips validation and load and adds no report entry.
// File sources always surface their extraction errors.
func WithEmptyOnSourceError() Option {
	return func(p *Pipeline) {
		p.emptyOnSourceError = true
	}
}

// New creates a pipeline reading through extractor and writing through loader.
func New(extractor Extractor, loader Loader, opts ...Option) (*Pipeline, error) {
	if extractor == nil {
		return nil, fmt.Errorf("pipeline: extractor is required")
	}
	if loader == nil {
		return nil, fmt.Errorf("pipeline: loader is required")
	}

	p := &Pipeline{
		extractor: extractor,
		loader:    loader,
		logger:    slog.New(logger.NewContextHandler(slog.NewTextHandler(io.Discard, nil))),
		metrics:   metrics.NopRecorder{},
		clock:     time.Now,
		newRunID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(p)
	}
	base := p.logger
	p.logger = base.With("component", "pipeline")

	if p.validator == nil {
		p.validator = validator.New(
			validator.WithLogger(base),
			validator.WithMetrics(p.metrics),
			validator.WithClock(p.clock),
		)
	}
	if p.gaps == nil {
		p.gaps = gaps.NewDetector(0, base)
	}
	if p.engine == nil {
		engine, err := indicators.NewEngine(indicators.DefaultConfig(), base)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		p.engine = engine
	}
	return p, nil
}

// Run executes one pass: extract, validate, resample when a frequency is given,
// add indicators when requested, then load. It returns the table that was loaded.
//
// Extraction failures are returned as classified errors (source unavailable, format or
// schema). An invalid resample frequency is rejected before anything is read.
func (p *Pipeline) Run(ctx context.Context, src models.SourceDescriptor, out models.OutputDescriptor, opts RunOptions) (*models.Table, error) {
	var freq resample.Frequency
	if opts.ResampleFrequency != "" {
		f, err := resample.ParseFrequency(opts.ResampleFrequency)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		freq = f
	}

	runID := p.newRunID()
	ctx = logger.WithSource(logger.WithRunID(ctx, runID), src.String())
	start := time.Now()

	p.logger.InfoContext(ctx, "pipeline run started",
		"output", out.Path,
		"add_indicators", opts.AddIndicators,
		"resample", opts.ResampleFrequency,
	)

	table, err := p.stage(ctx, StageExtract, nil, func(ctx context.Context) (*models.Table, error) {
		return p.extractor.Extract(ctx, src)
	})
	if err != nil {
		if p.emptyOnSourceError && isSynthetic(src) {
			p.logger.WarnContext(ctx, "extraction failed, continuing with an empty table",
				"error", err,
				"kind", etlerrors.KindOf(err),
			)
			p.metrics.ObserveRun(metrics.StatusDegraded, time.Since(start))
			return models.NewTable(nil), nil
		}
		return nil, p.fail(ctx, start, err)
	}

	table, err = p.stage(ctx, StageValidate, table, func(ctx context.Context) (*models.Table, error) {
		return p.Validate(ctx, table)
	})
	if err != nil {
		return nil, p.fail(ctx, start, err)
	}

	if freq != "" {
		table, err = p.stage(ctx, StageResample, table, func(ctx context.Context) (*models.Table, error) {
			return resample.Resample(ctx, table, freq)
		})
		if err != nil {
			return nil, p.fail(ctx, start, err)
		}
	}

	if opts.AddIndicators {
		table, err = p.stage(ctx, StageIndicators, table, func(ctx context.Context) (*models.Table, error) {
			return p.engine.Add(ctx, table)
		})
		if err != nil {
			return nil, p.fail(ctx, start, err)
		}
	}

	_, err = p.stage(ctx, StageLoad, table, func(ctx context.Context) (*models.Table, error) {
		return table, p.loader.Load(ctx, table, out)
	})
	if err != nil {
		return nil, p.fail(ctx, start, err)
	}

	elapsed := time.Since(start)
	p.metrics.ObserveRun(metrics.StatusSuccess, elapsed)
	p.logger.InfoContext(ctx, "pipeline run completed",
		"rows", table.Len(),
		"columns", len(table.Columns),
		"elapsed", elapsed,
	)
	return table, nil
}

// Validate runs the validator over table and appends the resulting entry, with the
// continuity census of the cleaned table, to the quality report. The entry takes its
// run id from ctx. It returns the cleaned table.
func (p *Pipeline) Validate(ctx context.Context, table *models.Table) (*models.Table, error) {
	clean, entry, err := p.validator.Validate(ctx, table)
	if err != nil {
		return nil, err
	}
	entry.RunID = logger.GetRunID(ctx)
	entry.Continuity = p.gaps.Detect(clean)
	p.report = append(p.report, entry)
	return clean, nil
}

// QualityReport returns a copy of the report entries accumulated so far, oldest first.
func (p *Pipeline) QualityReport() []models.QualityReportEntry {
	out := make([]models.QualityReportEntry, len(p.report))
	for i, e := range p.report {
		out[i] = e.Clone()
	}
	return out
}

// stage runs fn as the named stage and emits its log event and metric observation.
func (p *Pipeline) stage(ctx context.Context, name string, in *models.Table, fn func(context.Context) (*models.Table, error)) (*models.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx = logger.WithStage(ctx, name)

	rowsIn := 0
	if in != nil {
		rowsIn = in.Len()
	}

	start := time.Now()
	out, err := fn(ctx)
	elapsed := time.Since(start)
	if err != nil {
		p.logger.ErrorContext(ctx, "stage failed",
			"rows_in", rowsIn,
			"elapsed", elapsed,
			"error", err,
		)
		return nil, err
	}

	p.metrics.ObserveStage(name, rowsIn, out.Len(), elapsed)
	p.logger.InfoContext(ctx, "stage completed",
		"rows_in", rowsIn,
		"rows_out", out.Len(),
		"elapsed", elapsed,
	)
	return out, nil
}

func (p *Pipeline) fail(ctx context.Context, start time.Time, err error) error {
	p.metrics.ObserveRun(metrics.StatusFailed, time.Since(start))
	logger.LogError(ctx, p.logger, err, "pipeline run failed", "kind", etlerrors.KindOf(err))
	return err
}

func isSynthetic(src models.SourceDescriptor) bool {
	kind, err := src.ResolveKind()
	return err == nil && kind == models.SourceSynthetic
}
