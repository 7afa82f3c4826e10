// Package indicators derives technical indicator columns from validated OHLCV tables.
//
// The engine appends, in order: simple moving averages of close, simple and log returns,
// annualized rolling volatility of returns, RSI, close-price momentum over several lags and
// the high-low range ratio. Every indicator is a pure function of the trailing rows; rows
// without enough history, and numeric edge cases such as division by zero, produce an
// undefined value instead of NaN or an infinity.
package indicators

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"

	etlerrors "github.com/galafis/financial-data-etl/internal/errors"
	"github.com/galafis/financial-data-etl/internal/models"
)

// Fixed column names
const (
	ColumnReturns    = "returns"
	ColumnLogReturns = "log_returns"
	ColumnRSI        = "rsi"
	ColumnHLRatio    = "hl_ratio"
)

// Config holds indicator window sizes.
type Config struct {
	SMAPeriods          []int   `json:"sma_periods" yaml:"sma_periods" default:"[20,50]" env:"SMA_PERIODS" validate:"dive,gte=1"`
	VolatilityWindow    int     `json:"volatility_window" yaml:"volatility_window" default:"20" env:"VOLATILITY_WINDOW" validate:"gte=2"`
	AnnualizationFactor float64 `json:"annualization_factor" yaml:"annualization_factor" default:"252" env:"ANNUALIZATION_FACTOR" validate:"gt=0"`
	RSIPeriod           int     `json:"rsi_period" yaml:"rsi_period" default:"14" env:"RSI_PERIOD" validate:"gte=1"`
	MomentumLags        []int   `json:"momentum_lags" yaml:"momentum_lags" default:"[5,10,20]" env:"MOMENTUM_LAGS" validate:"dive,gte=1"`
}

// DefaultConfig returns the standard indicator set: sma_20, sma_50, volatility_20,
// a 14 row RSI and momentum over 5, 10 and 20 rows.
func DefaultConfig() Config {
	return Config{
		SMAPeriods:          []int{20, 50},
		VolatilityWindow:    20,
		AnnualizationFactor: 252,
		RSIPeriod:           14,
		MomentumLags:        []int{5, 10, 20},
	}
}

// Validate checks the configuration for unusable window sizes.
func (c Config) Validate() error {
	for _, p := range c.SMAPeriods {
		if p < 1 {
			return fmt.Errorf("sma period must be at least 1, got %d", p)
		}
	}
	if c.VolatilityWindow < 2 {
		return fmt.Errorf("volatility window must be at least 2, got %d", c.VolatilityWindow)
	}
	if c.AnnualizationFactor <= 0 {
		return fmt.Errorf("annualization factor must be positive, got %g", c.AnnualizationFactor)
	}
	if c.RSIPeriod < 1 {
		return fmt.Errorf("rsi period must be at least 1, got %d", c.RSIPeriod)
	}
	for _, lag := range c.MomentumLags {
		if lag < 1 {
			return fmt.Errorf("momentum lag must be at least 1, got %d", lag)
		}
	}
	return nil
}

// Columns returns the derived column names in the order the engine appends them.
func (c Config) Columns() []string {
	var cols []string
	for _, p := range c.SMAPeriods {
		cols = append(cols, fmt.Sprintf("sma_%d", p))
	}
	cols = append(cols, ColumnReturns, ColumnLogReturns)
	cols = append(cols, fmt.Sprintf("volatility_%d", c.VolatilityWindow))
	cols = append(cols, ColumnRSI)
	for _, lag := range c.MomentumLags {
		cols = append(cols, fmt.Sprintf("momentum_%d", lag))
	}
	cols = append(cols, ColumnHLRatio)
	return cols
}

// Engine computes indicator columns.
type Engine struct {
	config Config
	logger *slog.Logger
}

// NewEngine creates an engine for the given configuration.
func NewEngine(config Config, logger *slog.Logger) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid indicator config: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		config: config,
		logger: logger.With("component", "indicators"),
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Add returns a copy of table with every indicator column appended. Rows are never removed.
// The table must be sorted by timestamp; an unsorted table or a column name collision is a
// schema error.
func (e *Engine) Add(ctx context.Context, table *models.Table) (*models.Table, error) {
	if table == nil {
		table = &models.Table{}
	}
	if err := table.CheckShape(); err != nil {
		return nil, etlerrors.Schema("indicators", "", err)
	}
	if !table.IsSorted() {
		return nil, etlerrors.Schema("indicators", "", fmt.Errorf("rows are not sorted by timestamp"))
	}

	out := table.Clone()
	closes := out.Closes()

	type column struct {
		name   string
		values []models.Value
	}
	var columns []column

	for _, p := range e.config.SMAPeriods {
		columns = append(columns, column{fmt.Sprintf("sma_%d", p), SMA(closes, p)})
	}
	returns := Returns(closes)
	columns = append(columns,
		column{ColumnReturns, returns},
		column{ColumnLogReturns, LogReturns(closes)},
		column{fmt.Sprintf("volatility_%d", e.config.VolatilityWindow),
			Volatility(returns, e.config.VolatilityWindow, e.config.AnnualizationFactor)},
		column{ColumnRSI, RSI(closes, e.config.RSIPeriod)},
	)
	for _, lag := range e.config.MomentumLags {
		columns = append(columns, column{fmt.Sprintf("momentum_%d", lag), Momentum(closes, lag)})
	}
	columns = append(columns, column{ColumnHLRatio, HLRatio(out.Rows)})

	for _, c := range columns {
		if err := out.AddColumn(c.name, c.values); err != nil {
			return nil, etlerrors.Schema("indicators", "", err)
		}
	}

	e.logger.DebugContext(ctx, "indicators added", "rows", out.Len(), "columns", len(columns))
	return out, nil
}

// SMA returns the trailing simple moving average over period rows.
// The first period-1 values are undefined, as is any window holding an undefined close.
func SMA(closes []models.Value, period int) []models.Value {
	out := make([]models.Value, len(closes))
	w := newWindow(period)
	for i, c := range closes {
		w.push(c)
		out[i] = w.mean()
	}
	return out
}

// Returns returns the simple return (c[t]-c[t-1])/c[t-1]. Undefined at the first row and
// whenever the previous close is zero or either close is undefined.
func Returns(closes []models.Value) []models.Value {
	out := make([]models.Value, len(closes))
	for i := 1; i < len(closes); i++ {
		prev, cur := closes[i-1], closes[i]
		if !prev.Valid || !cur.Valid || prev.V == 0 {
			continue
		}
		out[i] = models.Finite((cur.V - prev.V) / prev.V)
	}
	return out
}

// LogReturns returns ln(c[t]/c[t-1]). Undefined at the first row and whenever either close
// is not strictly positive.
func LogReturns(closes []models.Value) []models.Value {
	out := make([]models.Value, len(closes))
	for i := 1; i < len(closes); i++ {
		prev, cur := closes[i-1], closes[i]
		if !prev.Valid || !cur.Valid || prev.V <= 0 || cur.V <= 0 {
			continue
		}
		out[i] = models.Finite(math.Log(cur.V / prev.V))
	}
	return out
}

// Volatility returns the sample standard deviation of the trailing size returns scaled by
// sqrt(annualization). A value is defined once size defined returns fill the window.
func Volatility(returns []models.Value, size int, annualization float64) []models.Value {
	out := make([]models.Value, len(returns))
	w := newWindow(size)
	scale := math.Sqrt(annualization)
	for i, r := range returns {
		w.push(r)
		if sd := w.stddev(); sd.Valid {
			out[i] = models.Finite(sd.V * scale)
		}
	}
	return out
}

// RSI returns the relative strength index over period rows using plain means of gains and
// losses. The price change of the first row, and of any row next to an undefined close,
// counts as zero. A window without losses yields 100 when it has gains and 50 when flat.
func RSI(closes []models.Value, period int) []models.Value {
	out := make([]models.Value, len(closes))
	gains, losses := newWindow(period), newWindow(period)
	for i := range closes {
		change := 0.0
		if i > 0 && closes[i].Valid && closes[i-1].Valid {
			change = closes[i].V - closes[i-1].V
		}
		gains.push(models.Some(math.Max(change, 0)))
		losses.push(models.Some(math.Max(-change, 0)))
		if !gains.full() {
			continue
		}

		avgGain := gains.sum() / float64(period)
		avgLoss := losses.sum() / float64(period)
		switch {
		case avgLoss == 0 && avgGain == 0:
			out[i] = models.Some(50)
		case avgLoss == 0:
			out[i] = models.Some(100)
		default:
			rs := avgGain / avgLoss
			out[i] = models.Finite(100 - 100/(1+rs))
		}
	}
	return out
}

// Momentum returns c[t]-c[t-lag]; the first lag values are undefined.
func Momentum(closes []models.Value, lag int) []models.Value {
	out := make([]models.Value, len(closes))
	for i := lag; i < len(closes); i++ {
		prev, cur := closes[i-lag], closes[i]
		if !prev.Valid || !cur.Valid {
			continue
		}
		out[i] = models.Some(cur.V - prev.V)
	}
	return out
}

// HLRatio returns (high-low)/close; undefined when close is zero or any input is undefined.
func HLRatio(rows []models.Record) []models.Value {
	out := make([]models.Value, len(rows))
	for i := range rows {
		h, l, c := rows[i].High, rows[i].Low, rows[i].Close
		if !h.Valid || !l.Valid || !c.Valid || c.V == 0 {
			continue
		}
		out[i] = models.Finite((h.V - l.V) / c.V)
	}
	return out
}
