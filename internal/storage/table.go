package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/galafis/financial-data-etl/internal/models"
)

var errMissingColumn = errors.New("missing required column")

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// header returns the output column names of table: the OHLCV schema, symbol when any row
// carries one, then the derived columns.
func header(table *models.Table) []string {
	cols := []string{models.ColumnTimestamp}
	if table.HasSymbols() {
		cols = append(cols, models.ColumnSymbol)
	}
	cols = append(cols, models.ColumnOpen, models.ColumnHigh, models.ColumnLow, models.ColumnClose, models.ColumnVolume)
	return append(cols, table.Columns...)
}

// rowValues returns the cells of a record in header order. Undefined values are nil.
func rowValues(table *models.Table, r *models.Record) []any {
	cells := []any{r.Timestamp.UTC()}
	if table.HasSymbols() {
		cells = append(cells, r.Symbol)
	}
	for _, v := range []models.Value{r.Open, r.High, r.Low, r.Close, r.Volume} {
		cells = append(cells, valueOrNil(v))
	}
	for _, v := range r.Derived {
		cells = append(cells, valueOrNil(v))
	}
	return cells
}

func valueOrNil(v models.Value) any {
	if !v.Defined() {
		return nil
	}
	return v.V
}

// formatValue renders a defined value as a plain decimal string, or "" when undefined.
// NaN and infinities have no decimal form and are written as undefined.
func formatValue(v models.Value) string {
	if !v.Defined() {
		return ""
	}
	return decimal.NewFromFloat(v.V).String()
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseNumber parses a decimal string into a value. Empty strings and the usual missing
// markers are undefined.
func parseNumber(s string) (models.Value, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nan", "null", "none", "na", "n/a":
		return models.None(), nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return models.None(), fmt.Errorf("invalid number %q", s)
	}
	f, _ := d.Float64()
	return models.Finite(f), nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// cellValue converts a decoded cell into a value.
func cellValue(cell any) (models.Value, error) {
	switch v := cell.(type) {
	case nil:
		return models.None(), nil
	case float64:
		return models.Finite(v), nil
	case float32:
		return models.Finite(float64(v)), nil
	case int64:
		return models.Some(float64(v)), nil
	case int32:
		return models.Some(float64(v)), nil
	case int:
		return models.Some(float64(v)), nil
	case json.Number:
		return parseNumber(v.String())
	case string:
		return parseNumber(v)
	default:
		return models.None(), fmt.Errorf("unsupported numeric cell %T", cell)
	}
}

// cellTime converts a decoded cell into a UTC timestamp. Numbers are read as epoch
// milliseconds.
func cellTime(cell any) (time.Time, error) {
	switch v := cell.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		return parseTimestamp(v)
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid epoch timestamp %q", v)
		}
		return time.UnixMilli(d.IntPart()).UTC(), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return time.Time{}, fmt.Errorf("invalid epoch timestamp %v", v)
		}
		return time.UnixMilli(int64(v)).UTC(), nil
	case int64:
		return time.UnixMilli(v).UTC(), nil
	case nil:
		return time.Time{}, fmt.Errorf("missing timestamp")
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp cell %T", cell)
	}
}

// tableBuilder assembles a table from a header and rows of decoded cells.
type tableBuilder struct {
	timestamp int
	symbol    int
	fields    [5]int // open, high, low, close, volume
	derived   []int
	index     map[string]int
	table     *models.Table
}

// newTableBuilder maps header names onto the OHLCV schema. Schema names are matched
// case-insensitively; every other column becomes a derived column.
func newTableBuilder(names []string) (*tableBuilder, error) {
	b := &tableBuilder{
		timestamp: -1,
		symbol:    -1,
		fields:    [5]int{-1, -1, -1, -1, -1},
		index:     make(map[string]int, len(names)),
		table:     &models.Table{},
	}
	fieldIdx := map[string]int{
		models.ColumnOpen:   0,
		models.ColumnHigh:   1,
		models.ColumnLow:    2,
		models.ColumnClose:  3,
		models.ColumnVolume: 4,
	}

	seen := make(map[string]bool, len(names))
	for i, raw := range names {
		name := strings.TrimSpace(raw)
		key := strings.ToLower(name)
		if name == "" {
			return nil, fmt.Errorf("column %d has an empty name", i)
		}
		if seen[key] {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		seen[key] = true
		b.index[raw] = i

		switch {
		case key == models.ColumnTimestamp:
			b.timestamp = i
		case key == models.ColumnSymbol:
			b.symbol = i
		default:
			if f, ok := fieldIdx[key]; ok {
				b.fields[f] = i
				continue
			}
			b.derived = append(b.derived, i)
			b.table.Columns = append(b.table.Columns, name)
		}
	}

	for _, required := range models.RequiredColumns {
		if !seen[required] {
			return nil, fmt.Errorf("%w: %s", errMissingColumn, required)
		}
	}
	return b, nil
}

// add appends one row. Cells missing at the end of the row are undefined.
func (b *tableBuilder) add(cells []any) error {
	row := len(b.table.Rows) + 1
	at := func(i int) any {
		if i < 0 || i >= len(cells) {
			return nil
		}
		return cells[i]
	}

	ts, err := cellTime(at(b.timestamp))
	if err != nil {
		return fmt.Errorf("row %d: %w", row, err)
	}
	r := models.Record{Timestamp: ts}

	if s, ok := at(b.symbol).(string); ok {
		r.Symbol = strings.TrimSpace(s)
	}

	targets := []*models.Value{&r.Open, &r.High, &r.Low, &r.Close, &r.Volume}
	for f, idx := range b.fields {
		v, err := cellValue(at(idx))
		if err != nil {
			return fmt.Errorf("row %d column %s: %w", row, models.RequiredColumns[f+1], err)
		}
		*targets[f] = v
	}

	r.Derived = make([]models.Value, len(b.derived))
	for d, idx := range b.derived {
		v, err := cellValue(at(idx))
		if err != nil {
			return fmt.Errorf("row %d column %s: %w", row, b.table.Columns[d], err)
		}
		r.Derived[d] = v
	}

	b.table.Rows = append(b.table.Rows, r)
	return nil
}

// width returns the number of header columns.
func (b *tableBuilder) width() int {
	return len(b.index)
}

func (b *tableBuilder) build() *models.Table {
	if len(b.table.Columns) == 0 {
		for i := range b.table.Rows {
			b.table.Rows[i].Derived = nil
		}
	}
	return b.table
}
