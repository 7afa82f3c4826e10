package gaps

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galafis/financial-data-etl/internal/models"
)

var testStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// tableAt builds a table with one row at each offset from testStart.
func tableAt(offsets ...time.Duration) *models.Table {
	rows := make([]models.Record, len(offsets))
	for i, off := range offsets {
		rows[i] = models.NewRecord(testStart.Add(off), 10, 11, 9, 10.5, 100)
	}
	return models.NewTable(rows)
}

func hours(hs ...int) []time.Duration {
	out := make([]time.Duration, len(hs))
	for i, h := range hs {
		out[i] = time.Duration(h) * time.Hour
	}
	return out
}

func TestDetector_Detect(t *testing.T) {
	tests := []struct {
		name        string
		interval    time.Duration
		offsets     []time.Duration
		wantNil     bool
		wantGaps    []models.Gap
		wantMissing int
		wantLabel   string
	}{
		{
			name:      "continuous hourly series",
			offsets:   hours(0, 1, 2, 3, 4),
			wantGaps:  []models.Gap{},
			wantLabel: "1h",
		},
		{
			name:    "two missing hours inferred",
			offsets: hours(0, 1, 2, 5, 6, 7),
			wantGaps: []models.Gap{
				{Start: testStart.Add(3 * time.Hour), End: testStart.Add(5 * time.Hour), Missing: 2},
			},
			wantMissing: 2,
			wantLabel:   "1h",
		},
		{
			name:     "configured daily interval",
			interval: 24 * time.Hour,
			offsets:  hours(0, 24, 96, 120, 192),
			wantGaps: []models.Gap{
				{Start: testStart.Add(48 * time.Hour), End: testStart.Add(96 * time.Hour), Missing: 2},
				{Start: testStart.Add(144 * time.Hour), End: testStart.Add(192 * time.Hour), Missing: 2},
			},
			wantMissing: 4,
			wantLabel:   "1d",
		},
		{
			name:     "misaligned row",
			interval: time.Hour,
			offsets:  []time.Duration{0, time.Hour, 3*time.Hour + 30*time.Minute},
			wantGaps: []models.Gap{
				{Start: testStart.Add(2 * time.Hour), End: testStart.Add(3*time.Hour + 30*time.Minute), Missing: 2},
			},
			wantMissing: 2,
			wantLabel:   "1h",
		},
		{
			name:    "single row",
			offsets: hours(0),
			wantNil: true,
		},
		{
			name:    "duplicate timestamps only",
			offsets: hours(0, 0),
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewDetector(tt.interval, nil).Detect(tableAt(tt.offsets...))
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantLabel, got.Interval)
			assert.Equal(t, tt.wantGaps, got.Gaps)
			assert.Equal(t, tt.wantMissing, got.MissingPeriods)
		})
	}
}

func TestDetector_NilTable(t *testing.T) {
	assert.Nil(t, NewDetector(time.Hour, nil).Detect(nil))
}

func TestInferInterval(t *testing.T) {
	// Weekday series: one-day steps dominate the three-day weekend jumps.
	table := tableAt(hours(0, 24, 48, 72, 96, 168, 192, 216)...)
	assert.Equal(t, 24*time.Hour, InferInterval(table.Rows))

	// Ties prefer the shorter distance.
	table = tableAt(hours(0, 1, 3)...)
	assert.Equal(t, time.Hour, InferInterval(table.Rows))

	assert.Zero(t, InferInterval(nil))
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "1m", want: time.Minute},
		{in: "15m", want: 15 * time.Minute},
		{in: "4h", want: 4 * time.Hour},
		{in: "1d", want: 24 * time.Hour},
		{in: "1w", want: 7 * 24 * time.Hour},
		{in: "1h30m", want: 90 * time.Minute},
		{in: "0h", wantErr: true},
		{in: "d", wantErr: true},
		{in: "3y", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseInterval(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatInterval(t *testing.T) {
	assert.Equal(t, "7d", FormatInterval(7*24*time.Hour))
	assert.Equal(t, "4h", FormatInterval(4*time.Hour))
	assert.Equal(t, "90m", FormatInterval(90*time.Minute))
	assert.Equal(t, "1.5s", FormatInterval(1500*time.Millisecond))
}
