package models

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func testRows(n int) []Record {
	rows := make([]Record, n)
	for i := range rows {
		price := 100.0 + float64(i)
		rows[i] = NewRecord(testTime.AddDate(0, 0, i), price, price+1, price-1, price+0.5, 1000)
	}
	return rows
}

func TestValue(t *testing.T) {
	t.Run("defined zero differs from none", func(t *testing.T) {
		assert.True(t, Some(0).Valid)
		assert.False(t, None().Valid)
		assert.False(t, Some(0).Equal(None()))
		assert.True(t, None().Equal(None()))
	})

	t.Run("finite rejects nan and infinities", func(t *testing.T) {
		assert.False(t, Finite(math.NaN()).Valid)
		assert.False(t, Finite(math.Inf(1)).Valid)
		assert.False(t, Finite(math.Inf(-1)).Valid)
		assert.Equal(t, Some(1.5), Finite(1.5))
	})

	t.Run("json null round trip", func(t *testing.T) {
		data, err := json.Marshal([]Value{Some(2.5), None()})
		require.NoError(t, err)
		assert.JSONEq(t, `[2.5, null]`, string(data))

		var decoded []Value
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, []Value{Some(2.5), None()}, decoded)
	})
}

func TestTable_AddColumn(t *testing.T) {
	table := NewTable(testRows(3))

	require.NoError(t, table.AddColumn("sma_2", []Value{None(), Some(1), Some(2)}))
	assert.Equal(t, []string{"sma_2"}, table.Columns)
	assert.NoError(t, table.CheckShape())

	col, ok := table.Column("sma_2")
	require.True(t, ok)
	assert.Equal(t, []Value{None(), Some(1), Some(2)}, col)

	t.Run("length mismatch", func(t *testing.T) {
		err := table.AddColumn("short", []Value{Some(1)})
		var shapeErr *ShapeError
		require.ErrorAs(t, err, &shapeErr)
		assert.Equal(t, "short", shapeErr.Column)
	})

	t.Run("duplicate name", func(t *testing.T) {
		assert.Error(t, table.AddColumn("sma_2", make([]Value, 3)))
	})

	t.Run("reserved name", func(t *testing.T) {
		assert.Error(t, table.AddColumn(ColumnClose, make([]Value, 3)))
	})
}

func TestTable_CheckShape(t *testing.T) {
	table := NewTable(testRows(2))
	table.Columns = []string{"rsi"}
	table.Rows[0].Derived = []Value{Some(50)}

	err := table.CheckShape()
	var shapeErr *ShapeError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, 1, shapeErr.Row)
}

func TestTable_CloneIsDeep(t *testing.T) {
	table := NewTable(testRows(2))
	require.NoError(t, table.AddColumn("x", []Value{Some(1), Some(2)}))

	clone := table.Clone()
	clone.Rows[0].Close = Some(-1)
	clone.Rows[0].Derived[0] = None()
	clone.Columns[0] = "y"

	assert.Equal(t, Some(100.5), table.Rows[0].Close)
	assert.Equal(t, Some(1.0), table.Rows[0].Derived[0])
	assert.Equal(t, "x", table.Columns[0])
}

func TestTable_DropDerived(t *testing.T) {
	table := NewTable(testRows(2))
	require.NoError(t, table.AddColumn("x", []Value{Some(1), Some(2)}))

	table.DropDerived()
	assert.Empty(t, table.Columns)
	assert.NoError(t, table.CheckShape())
}

func TestTable_IsSorted(t *testing.T) {
	table := NewTable(testRows(3))
	assert.True(t, table.IsSorted())

	table.Rows[0], table.Rows[2] = table.Rows[2], table.Rows[0]
	assert.False(t, table.IsSorted())
}

func TestQualityReportEntry(t *testing.T) {
	entry := NewQualityReportEntry(10, 7, []RuleCount{
		{Rule: RuleDuplicateRows, Count: 2},
		{Rule: RuleOHLCViolations, Count: 0},
		{Rule: RuleInvalidPrices, Count: 1},
	})

	assert.Equal(t, 3, entry.RemovedRowCount)
	assert.Equal(t, []string{"2 rows removed: duplicate_rows", "1 rows removed: invalid_prices"}, entry.Issues)
	assert.Equal(t, 2, entry.RemovedBy(RuleDuplicateRows))
	assert.Equal(t, 0, entry.RemovedBy(RuleOHLCViolations))

	entry.Continuity = &GapSummary{Interval: "1d", Gaps: []Gap{{Start: testTime, End: testTime.AddDate(0, 0, 3), Missing: 2}}, MissingPeriods: 2}

	clone := entry.Clone()
	clone.Issues[0] = "changed"
	clone.Continuity.Gaps[0].Missing = 9
	assert.Equal(t, "2 rows removed: duplicate_rows", entry.Issues[0])
	assert.Equal(t, 2, entry.Continuity.Gaps[0].Missing)
	assert.Equal(t, 72*time.Hour, entry.Continuity.Gaps[0].Duration())
}

func TestDescriptors(t *testing.T) {
	tests := []struct {
		name    string
		desc    OutputDescriptor
		want    Format
		wantErr bool
	}{
		{name: "explicit", desc: OutputDescriptor{Path: "out.bin", Format: "csv"}, want: FormatCSV},
		{name: "parquet alias", desc: OutputDescriptor{Path: "out", Format: "parquet"}, want: FormatColumnar},
		{name: "from extension", desc: OutputDescriptor{Path: "data/out.json"}, want: FormatJSON},
		{name: "xlsx extension", desc: OutputDescriptor{Path: "out.xlsx"}, want: FormatXLSX},
		{name: "unknown", desc: OutputDescriptor{Path: "out.txt"}, wantErr: true},
		{name: "no extension", desc: OutputDescriptor{Path: "out"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.desc.ResolveFormat()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	kind, err := SourceDescriptor{Kind: "api", Symbol: "BTCUSD"}.ResolveKind()
	require.NoError(t, err)
	assert.Equal(t, SourceSynthetic, kind)

	kind, err = SourceDescriptor{Path: "prices.parquet"}.ResolveKind()
	require.NoError(t, err)
	assert.Equal(t, SourceColumnar, kind)
}
