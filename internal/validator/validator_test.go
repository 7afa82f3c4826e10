package validator

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	etlerrors "github.com/galafis/financial-data-etl/internal/errors"
	"github.com/galafis/financial-data-etl/internal/models"
)

var baseTime = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func day(i int) time.Time {
	return baseTime.AddDate(0, 0, i)
}

func goodRow(i int) models.Record {
	return models.NewRecord(day(i), 100, 105, 95, 102, 1000)
}

func fixedClock() time.Time {
	return time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
}

func TestValidator_Rules(t *testing.T) {
	v := New()
	assert.Equal(t, []string{
		models.RuleDuplicateRows,
		models.RuleOHLCViolations,
		models.RuleInvalidPrices,
		models.RuleInvalidVolume,
	}, v.Rules())
}

func TestValidator_CleanTable(t *testing.T) {
	v := New(WithClock(fixedClock))
	table := models.NewTable([]models.Record{goodRow(0), goodRow(1), goodRow(2)})

	clean, entry, err := v.Validate(context.Background(), table)
	require.NoError(t, err)

	assert.Equal(t, 3, clean.Len())
	assert.Equal(t, 3, entry.InitialRowCount)
	assert.Equal(t, 3, entry.FinalRowCount)
	assert.Equal(t, 0, entry.RemovedRowCount)
	assert.NotNil(t, entry.Issues)
	assert.Empty(t, entry.Issues)
	assert.Equal(t, fixedClock(), entry.ValidatedAt)
	assert.Nil(t, entry.MissingValues)
}

func TestValidator_EmptyTable(t *testing.T) {
	v := New()

	clean, entry, err := v.Validate(context.Background(), models.NewTable(nil))
	require.NoError(t, err)
	assert.Equal(t, 0, clean.Len())
	assert.Equal(t, 0, entry.InitialRowCount)
	assert.Empty(t, entry.Issues)
}

func TestValidator_Rule(t *testing.T) {
	tests := []struct {
		name     string
		rows     []models.Record
		rule     string
		wantRows int
	}{
		{
			name: "high below low",
			rows: []models.Record{
				goodRow(0),
				models.NewRecord(day(1), 11, 10, 12, 11, 100),
			},
			rule:     models.RuleOHLCViolations,
			wantRows: 1,
		},
		{
			name: "high below close",
			rows: []models.Record{
				models.NewRecord(day(0), 100, 101, 99, 102, 100),
				goodRow(1),
			},
			rule:     models.RuleOHLCViolations,
			wantRows: 1,
		},
		{
			name: "low above open",
			rows: []models.Record{
				models.NewRecord(day(0), 100, 105, 101, 102, 100),
			},
			rule:     models.RuleOHLCViolations,
			wantRows: 0,
		},
		{
			name: "zero price",
			rows: []models.Record{
				goodRow(0),
				models.NewRecord(day(1), 0, 0, 0, 0, 100),
			},
			rule:     models.RuleInvalidPrices,
			wantRows: 1,
		},
		{
			name: "nan close",
			rows: []models.Record{
				goodRow(0),
				models.NewRecord(day(1), 100, 105, 95, math.NaN(), 1000),
			},
			rule:     models.RuleInvalidPrices,
			wantRows: 1,
		},
		{
			name: "infinite high",
			rows: []models.Record{
				goodRow(0),
				models.NewRecord(day(1), 100, math.Inf(1), 95, 102, 1000),
			},
			rule:     models.RuleInvalidPrices,
			wantRows: 1,
		},
		{
			name: "nan volume",
			rows: []models.Record{
				goodRow(0),
				models.NewRecord(day(1), 100, 105, 95, 102, math.NaN()),
			},
			rule:     models.RuleInvalidVolume,
			wantRows: 1,
		},
		{
			name: "negative volume",
			rows: []models.Record{
				goodRow(0),
				models.NewRecord(day(1), 100, 105, 95, 102, -1),
			},
			rule:     models.RuleInvalidVolume,
			wantRows: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			clean, entry, err := v.Validate(context.Background(), models.NewTable(tt.rows))
			require.NoError(t, err)

			assert.Equal(t, tt.wantRows, clean.Len())
			assert.Equal(t, len(tt.rows)-tt.wantRows, entry.RemovedBy(tt.rule))
			assert.Equal(t, []string{"1 rows removed: " + tt.rule}, entry.Issues)
		})
	}
}

func TestValidator_OHLCViolationCountedOnce(t *testing.T) {
	v := New()
	bad := models.NewRecord(day(1), 11, 10, 12, 11, 100)
	table := models.NewTable([]models.Record{goodRow(0), bad, goodRow(2)})

	clean, entry, err := v.Validate(context.Background(), table)
	require.NoError(t, err)

	assert.Equal(t, 2, clean.Len())
	assert.Equal(t, 1, entry.RemovedBy(models.RuleOHLCViolations))
	assert.Equal(t, 0, entry.RemovedBy(models.RuleInvalidPrices))
	assert.Equal(t, []string{"1 rows removed: ohlc_violations"}, entry.Issues)
}

func TestValidator_DuplicatesKeepFirst(t *testing.T) {
	v := New()
	first := models.NewRecord(day(1), 100, 110, 90, 105, 1)
	second := models.NewRecord(day(1), 200, 210, 190, 205, 2)
	third := models.NewRecord(day(1), 300, 310, 290, 305, 3)
	table := models.NewTable([]models.Record{goodRow(0), first, second, third, goodRow(2)})

	clean, entry, err := v.Validate(context.Background(), table)
	require.NoError(t, err)

	require.Equal(t, 3, clean.Len())
	assert.Equal(t, first, clean.Rows[1])
	assert.Equal(t, 2, entry.RemovedBy(models.RuleDuplicateRows))
	assert.Equal(t, []string{"2 rows removed: duplicate_rows"}, entry.Issues)
}

func TestValidator_SortsBeforeDeduplicating(t *testing.T) {
	v := New()
	late := goodRow(5)
	dupA := models.NewRecord(day(2), 10, 11, 9, 10, 1)
	dupB := models.NewRecord(day(2), 20, 21, 19, 20, 2)
	table := models.NewTable([]models.Record{late, dupA, goodRow(0), dupB})

	clean, entry, err := v.Validate(context.Background(), table)
	require.NoError(t, err)

	require.Equal(t, 3, clean.Len())
	assert.True(t, clean.IsSorted())
	assert.Equal(t, day(0), clean.Rows[0].Timestamp)
	assert.Equal(t, dupA, clean.Rows[1])
	assert.Equal(t, late, clean.Rows[2])
	assert.Equal(t, 1, entry.RemovedBy(models.RuleDuplicateRows))
}

func TestValidator_CumulativeCounting(t *testing.T) {
	v := New()
	rows := []models.Record{
		goodRow(0),
		goodRow(0),                                      // duplicate
		models.NewRecord(day(1), 11, 10, 12, 11, -5),    // ohlc violation, also bad volume
		models.NewRecord(day(2), -1, 5, -2, 3, 100),     // non-positive prices
		models.NewRecord(day(3), 100, 105, 95, 102, -1), // negative volume
		goodRow(4),
	}

	clean, entry, err := v.Validate(context.Background(), models.NewTable(rows))
	require.NoError(t, err)

	assert.Equal(t, 2, clean.Len())
	assert.Equal(t, 6, entry.InitialRowCount)
	assert.Equal(t, 2, entry.FinalRowCount)
	assert.Equal(t, 4, entry.RemovedRowCount)
	assert.Equal(t, []string{
		"1 rows removed: duplicate_rows",
		"1 rows removed: ohlc_violations",
		"1 rows removed: invalid_prices",
		"1 rows removed: invalid_volume",
	}, entry.Issues)
}

func TestValidator_MissingValues(t *testing.T) {
	v := New()
	missingClose := goodRow(1)
	missingClose.Close = models.None()
	missingVolume := goodRow(2)
	missingVolume.Volume = models.None()
	table := models.NewTable([]models.Record{goodRow(0), missingClose, missingVolume})

	clean, entry, err := v.Validate(context.Background(), table)
	require.NoError(t, err)

	assert.Equal(t, 1, clean.Len())
	assert.Equal(t, map[string]int{models.ColumnClose: 1, models.ColumnVolume: 1}, entry.MissingValues)
	assert.Equal(t, 1, entry.RemovedBy(models.RuleInvalidPrices))
	assert.Equal(t, 1, entry.RemovedBy(models.RuleInvalidVolume))
}

func TestValidator_Idempotent(t *testing.T) {
	v := New()
	rows := []models.Record{
		goodRow(3), goodRow(1), goodRow(1),
		models.NewRecord(day(2), 11, 10, 12, 11, 100),
		goodRow(0),
	}

	once, _, err := v.Validate(context.Background(), models.NewTable(rows))
	require.NoError(t, err)

	twice, entry, err := v.Validate(context.Background(), once)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, 0, entry.RemovedRowCount)
	assert.Empty(t, entry.Issues)
}

func TestValidator_DoesNotMutateInput(t *testing.T) {
	v := New()
	rows := []models.Record{goodRow(2), goodRow(0), goodRow(0), models.NewRecord(day(1), 0, 1, 0, 1, 1)}
	table := models.NewTable(rows)
	before := table.Clone()

	_, _, err := v.Validate(context.Background(), table)
	require.NoError(t, err)

	assert.Equal(t, before, table)
}

func TestValidator_KeepsDerivedColumns(t *testing.T) {
	v := New()
	table := models.NewTable([]models.Record{goodRow(1), goodRow(0)})
	require.NoError(t, table.AddColumn("tag", []models.Value{models.Some(1), models.Some(0)}))

	clean, _, err := v.Validate(context.Background(), table)
	require.NoError(t, err)

	col, ok := clean.Column("tag")
	require.True(t, ok)
	assert.Equal(t, []models.Value{models.Some(0), models.Some(1)}, col)
}

func TestValidator_ShapeError(t *testing.T) {
	v := New()
	table := models.NewTable([]models.Record{goodRow(0)})
	table.Columns = []string{"orphan"}

	_, _, err := v.Validate(context.Background(), table)
	require.Error(t, err)
	assert.ErrorIs(t, err, etlerrors.ErrSchema)

	var shapeErr *models.ShapeError
	assert.ErrorAs(t, err, &shapeErr)
}

type removalRecorder struct {
	removed map[string]int
}

func (r *removalRecorder) ObserveStage(string, int, int, time.Duration) {}
func (r *removalRecorder) ObserveRun(string, time.Duration)             {}
func (r *removalRecorder) ObserveRemoved(rule string, count int) {
	r.removed[rule] += count
}

func TestValidator_ReportsRemovalsToMetrics(t *testing.T) {
	rec := &removalRecorder{removed: map[string]int{}}
	v := New(WithMetrics(rec), WithRemovalLogLimit(1, time.Minute))
	table := models.NewTable([]models.Record{goodRow(0), goodRow(0), goodRow(0)})

	_, _, err := v.Validate(context.Background(), table)
	require.NoError(t, err)

	assert.Equal(t, 2, rec.removed[models.RuleDuplicateRows])
	assert.Equal(t, 0, rec.removed[models.RuleInvalidVolume])
}
