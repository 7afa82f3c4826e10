// Package validator enforces the data-quality rules of OHLCV tables.
//
// Validation applies an ordered rule set to a time-sorted copy of the input table:
//   - duplicate_rows: only the first row for each timestamp is kept
//   - ohlc_violations: high must bound open, close and low from above, low from below
//   - invalid_prices: every price must be defined, finite and strictly positive
//   - invalid_volume: volume must be defined, finite and non-negative
//
// Each rule is counted against the table as it enters the rule, so a row that breaks
// several rules is attributed to the first one only. Data problems never produce an
// error; they are reported in the returned QualityReportEntry. The error return is
// reserved for tables whose shape is broken.
package validator

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/time/rate"

	etlerrors "github.com/galafis/financial-data-etl/internal/errors"
	"github.com/galafis/financial-data-etl/internal/metrics"
	"github.com/galafis/financial-data-etl/internal/models"
)

// rule is a single row filter. check inspects r against the rows already kept and
// reports whether r must be dropped, with a short reason for the debug log.
type rule struct {
	name  string
	check func(kept []models.Record, r *models.Record) (string, bool)
}

var rules = []rule{
	{name: models.RuleDuplicateRows, check: checkDuplicate},
	{name: models.RuleOHLCViolations, check: checkOHLC},
	{name: models.RuleInvalidPrices, check: checkPrices},
	{name: models.RuleInvalidVolume, check: checkVolume},
}

// Validator applies the OHLCV integrity rules to tables.
type Validator struct {
	logger    *slog.Logger
	metrics   metrics.Recorder
	clock     func() time.Time
	sometimes *rate.Sometimes
}

// Option configures a Validator
type Option func(*Validator)

// WithLogger sets the logger used for removal and summary events.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger.With("component", "validator")
		}
	}
}

// WithMetrics sets the recorder that receives per-rule removal counts.
func WithMetrics(recorder metrics.Recorder) Option {
	return func(v *Validator) {
		if recorder != nil {
			v.metrics = recorder
		}
	}
}

// WithClock sets the time source used for ValidatedAt.
func WithClock(clock func() time.Time) Option {
	return func(v *Validator) {
		if clock != nil {
			v.clock = clock
		}
	}
}

// WithRemovalLogLimit sets how many removed rows are logged individually before the
// per-row debug events are throttled to one per interval.
func WithRemovalLogLimit(first int, interval time.Duration) Option {
	return func(v *Validator) {
		v.sometimes = &rate.Sometimes{First: first, Interval: interval}
	}
}

// New creates a validator. Without options it logs nowhere and records no metrics.
func New(opts ...Option) *Validator {
	v := &Validator{
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:   metrics.NopRecorder{},
		clock:     func() time.Time { return time.Now().UTC() },
		sometimes: &rate.Sometimes{First: 20, Interval: time.Second},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Rules returns the rule names in the order they are applied.
func (v *Validator) Rules() []string {
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.name
	}
	return names
}

// Validate returns a cleaned copy of table and the audit entry describing what was removed.
// The input table is never modified. Rows of the result are sorted by timestamp, unique
// by timestamp, OHLC consistent and carry positive prices and non-negative volume.
func (v *Validator) Validate(ctx context.Context, table *models.Table) (*models.Table, models.QualityReportEntry, error) {
	if table == nil {
		table = &models.Table{}
	}
	if err := table.CheckShape(); err != nil {
		return nil, models.QualityReportEntry{}, etlerrors.Schema("validate", "", err)
	}

	out := table.Clone()
	initial := out.Len()
	missing := missingValues(out.Rows)

	sort.SliceStable(out.Rows, func(i, j int) bool {
		return out.Rows[i].Timestamp.Before(out.Rows[j].Timestamp)
	})

	removed := make([]models.RuleCount, 0, len(rules))
	for _, r := range rules {
		before := len(out.Rows)
		out.Rows = v.apply(ctx, r, out.Rows)
		count := before - len(out.Rows)
		removed = append(removed, models.RuleCount{Rule: r.name, Count: count})
		v.metrics.ObserveRemoved(r.name, count)
	}

	entry := models.NewQualityReportEntry(initial, out.Len(), removed)
	entry.ValidatedAt = v.clock()
	entry.MissingValues = missing

	v.logger.InfoContext(ctx, "validation completed",
		"initial_rows", entry.InitialRowCount,
		"final_rows", entry.FinalRowCount,
		"removed_rows", entry.RemovedRowCount,
		"issues", entry.Issues,
	)

	return out, entry, nil
}

// apply filters rows through a single rule, keeping order.
func (v *Validator) apply(ctx context.Context, r rule, rows []models.Record) []models.Record {
	kept := make([]models.Record, 0, len(rows))
	for i := range rows {
		reason, drop := r.check(kept, &rows[i])
		if !drop {
			kept = append(kept, rows[i])
			continue
		}
		row := rows[i]
		v.sometimes.Do(func() {
			v.logger.DebugContext(ctx, "row removed",
				"rule", r.name,
				"reason", reason,
				"timestamp", row.Timestamp,
			)
		})
	}
	return kept
}

func checkDuplicate(kept []models.Record, r *models.Record) (string, bool) {
	if len(kept) == 0 {
		return "", false
	}
	if kept[len(kept)-1].Timestamp.Equal(r.Timestamp) {
		return "timestamp already seen", true
	}
	return "", false
}

func checkOHLC(_ []models.Record, r *models.Record) (string, bool) {
	switch {
	case less(r.High, r.Low):
		return "high below low", true
	case less(r.High, r.Open):
		return "high below open", true
	case less(r.High, r.Close):
		return "high below close", true
	case less(r.Open, r.Low):
		return "low above open", true
	case less(r.Close, r.Low):
		return "low above close", true
	}
	return "", false
}

func checkPrices(_ []models.Record, r *models.Record) (string, bool) {
	for _, column := range models.PriceColumns {
		price, _ := r.Price(column)
		if !price.Defined() {
			return column + " missing", true
		}
		if price.V <= 0 {
			return column + " not positive", true
		}
	}
	return "", false
}

func checkVolume(_ []models.Record, r *models.Record) (string, bool) {
	if !r.Volume.Defined() {
		return "volume missing", true
	}
	if r.Volume.V < 0 {
		return "volume negative", true
	}
	return "", false
}

// less compares two values only when both are defined.
func less(a, b models.Value) bool {
	return a.Defined() && b.Defined() && a.V < b.V
}

func missingValues(rows []models.Record) map[string]int {
	counts := make(map[string]int)
	columns := append(append([]string{}, models.PriceColumns...), models.ColumnVolume)
	for i := range rows {
		for _, column := range columns {
			if value, _ := rows[i].Price(column); !value.Defined() {
				counts[column]++
			}
		}
	}
	if len(counts) == 0 {
		return nil
	}
	return counts
}
