// Package models provides the data structures shared by every stage of the ETL pipeline.
// This package contains the canonical OHLCV record, the table that carries derived indicator
// columns, the "no value" aware number type, source/output descriptors and the quality
// report entry produced by validation.
package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Canonical column names of the OHLCV schema.
const (
	ColumnTimestamp = "timestamp"
	ColumnSymbol    = "symbol"
	ColumnOpen      = "open"
	ColumnHigh      = "high"
	ColumnLow       = "low"
	ColumnClose     = "close"
	ColumnVolume    = "volume"
)

// RequiredColumns lists the columns every extracted table must provide, in canonical order.
var RequiredColumns = []string{ColumnTimestamp, ColumnOpen, ColumnHigh, ColumnLow, ColumnClose, ColumnVolume}

// PriceColumns lists the four price columns in canonical order.
var PriceColumns = []string{ColumnOpen, ColumnHigh, ColumnLow, ColumnClose}

// Value is a float64 that may be undefined.
// An undefined Value marks "no value" (missing input cell, not enough history, guarded
// division) and is distinct from a defined zero.
type Value struct {
	V     float64
	Valid bool
}

// Some returns a defined Value holding v.
func Some(v float64) Value {
	return Value{V: v, Valid: true}
}

// None returns the undefined Value.
func None() Value {
	return Value{}
}

// Finite returns Some(v) for finite numbers and None for NaN or infinities.
func Finite(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return None()
	}
	return Some(v)
}

// Defined reports whether v holds a finite number. A Value built with Some from NaN or
// an infinity is not defined.
func (v Value) Defined() bool {
	return v.Valid && !math.IsNaN(v.V) && !math.IsInf(v.V, 0)
}

// Float64 returns the value and whether it is defined.
func (v Value) Float64() (float64, bool) {
	return v.V, v.Valid
}

// Equal reports whether two values are both undefined or both defined and equal.
func (v Value) Equal(other Value) bool {
	if v.Valid != other.Valid {
		return false
	}
	return !v.Valid || v.V == other.V
}

// String implements fmt.Stringer.
func (v Value) String() string {
	if !v.Valid {
		return "<none>"
	}
	return fmt.Sprintf("%g", v.V)
}

// MarshalJSON encodes an undefined value as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.V)
}

// UnmarshalJSON decodes null as an undefined value.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = None()
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Finite(f)
	return nil
}

// Record is one row of an OHLCV table.
// Derived holds the values of the table's derived columns, in the order of Table.Columns.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol,omitempty"`
	Open      Value     `json:"open"`
	High      Value     `json:"high"`
	Low       Value     `json:"low"`
	Close     Value     `json:"close"`
	Volume    Value     `json:"volume"`
	Derived   []Value   `json:"-"`
}

// Price returns the named price or volume column of the record.
func (r *Record) Price(column string) (Value, bool) {
	switch column {
	case ColumnOpen:
		return r.Open, true
	case ColumnHigh:
		return r.High, true
	case ColumnLow:
		return r.Low, true
	case ColumnClose:
		return r.Close, true
	case ColumnVolume:
		return r.Volume, true
	default:
		return Value{}, false
	}
}

// String returns a human-readable representation of the record.
func (r *Record) String() string {
	return fmt.Sprintf("Record{Timestamp: %s, O: %s, H: %s, L: %s, C: %s, V: %s}",
		r.Timestamp.Format(time.RFC3339), r.Open, r.High, r.Low, r.Close, r.Volume)
}

// NewRecord builds a record with all OHLCV fields defined.
func NewRecord(ts time.Time, open, high, low, close, volume float64) Record {
	return Record{
		Timestamp: ts,
		Open:      Some(open),
		High:      Some(high),
		Low:       Some(low),
		Close:     Some(close),
		Volume:    Some(volume),
	}
}

// Table is an ordered sequence of records sharing the same derived columns.
type Table struct {
	Columns []string `json:"columns"`
	Rows    []Record `json:"rows"`
}

// NewTable creates a table holding the given rows and no derived columns.
func NewTable(rows []Record) *Table {
	return &Table{Rows: rows}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	if t == nil {
		return &Table{}
	}
	out := &Table{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([]Record, len(t.Rows)),
	}
	for i, row := range t.Rows {
		out.Rows[i] = row
		out.Rows[i].Derived = append([]Value(nil), row.Derived...)
	}
	return out
}

// CheckShape verifies that every row carries one derived value per derived column.
func (t *Table) CheckShape() error {
	seen := make(map[string]struct{}, len(t.Columns))
	for _, name := range t.Columns {
		if _, dup := seen[name]; dup {
			return &ShapeError{Column: name, Message: "duplicate derived column"}
		}
		seen[name] = struct{}{}
	}
	for i, row := range t.Rows {
		if len(row.Derived) != len(t.Columns) {
			return &ShapeError{
				Row:     i,
				Message: fmt.Sprintf("row has %d derived values, table declares %d columns", len(row.Derived), len(t.Columns)),
			}
		}
	}
	return nil
}

// HasColumn reports whether the table declares the named derived column.
func (t *Table) HasColumn(name string) bool {
	return t.columnIndex(name) >= 0
}

// Column returns a copy of the named derived column.
func (t *Table) Column(name string) ([]Value, bool) {
	idx := t.columnIndex(name)
	if idx < 0 {
		return nil, false
	}
	out := make([]Value, len(t.Rows))
	for i, row := range t.Rows {
		if idx < len(row.Derived) {
			out[i] = row.Derived[idx]
		}
	}
	return out, true
}

// AddColumn appends a derived column. values must have one entry per row.
func (t *Table) AddColumn(name string, values []Value) error {
	if name == "" {
		return &ShapeError{Message: "derived column name cannot be empty"}
	}
	if t.HasColumn(name) || isReserved(name) {
		return &ShapeError{Column: name, Message: "column already exists"}
	}
	if len(values) != len(t.Rows) {
		return &ShapeError{
			Column:  name,
			Message: fmt.Sprintf("column has %d values, table has %d rows", len(values), len(t.Rows)),
		}
	}
	t.Columns = append(t.Columns, name)
	for i := range t.Rows {
		t.Rows[i].Derived = append(t.Rows[i].Derived, values[i])
	}
	return nil
}

// DropDerived removes every derived column.
func (t *Table) DropDerived() {
	t.Columns = nil
	for i := range t.Rows {
		t.Rows[i].Derived = nil
	}
}

// Closes returns the close column.
func (t *Table) Closes() []Value {
	out := make([]Value, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row.Close
	}
	return out
}

// HasSymbols reports whether any row carries a symbol.
func (t *Table) HasSymbols() bool {
	for _, row := range t.Rows {
		if row.Symbol != "" {
			return true
		}
	}
	return false
}

// IsSorted reports whether rows are in non-decreasing timestamp order.
func (t *Table) IsSorted() bool {
	for i := 1; i < len(t.Rows); i++ {
		if t.Rows[i].Timestamp.Before(t.Rows[i-1].Timestamp) {
			return false
		}
	}
	return true
}

func (t *Table) columnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

func isReserved(name string) bool {
	switch name {
	case ColumnTimestamp, ColumnSymbol, ColumnOpen, ColumnHigh, ColumnLow, ColumnClose, ColumnVolume:
		return true
	}
	return false
}

// ShapeError reports a table whose columns do not line up with its rows.
type ShapeError struct {
	Column  string
	Row     int
	Message string
}

// Error implements the error interface for ShapeError.
func (e *ShapeError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("table shape error for column %s: %s", e.Column, e.Message)
	}
	return fmt.Sprintf("table shape error at row %d: %s", e.Row, e.Message)
}
