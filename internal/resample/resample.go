// Package resample aggregates OHLCV tables into coarser calendar periods.
// Periods are computed in UTC: hours, days, ISO weeks starting Monday 00:00 and calendar
// months. Each observed period yields one row with the first open, highest high, lowest
// low, last close and summed volume of its rows. Periods without rows are not emitted and
// derived indicator columns are dropped.
package resample

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/galafis/financial-data-etl/internal/models"
)

// ErrInvalidFrequency is returned by ParseFrequency for names that are not a known
// frequency or alias.
var ErrInvalidFrequency = errors.New("invalid resample frequency")

// Frequency is a target calendar granularity.
type Frequency string

const (
	Hourly  Frequency = "hourly"
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

var stringToFrequency = map[string]Frequency{
	"hourly":  Hourly,
	"hour":    Hourly,
	"h":       Hourly,
	"1h":      Hourly,
	"daily":   Daily,
	"day":     Daily,
	"d":       Daily,
	"1d":      Daily,
	"weekly":  Weekly,
	"week":    Weekly,
	"w":       Weekly,
	"1w":      Weekly,
	"monthly": Monthly,
	"month":   Monthly,
	"m":       Monthly,
	"ms":      Monthly,
}

// ParseFrequency parses a frequency name or one of its short aliases (H, D, W, M).
func ParseFrequency(s string) (Frequency, error) {
	f, ok := stringToFrequency[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidFrequency, s)
	}
	return f, nil
}

// String implements fmt.Stringer.
func (f Frequency) String() string {
	return string(f)
}

// PeriodStart returns the start of the period containing t, in UTC.
func (f Frequency) PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	switch f {
	case Hourly:
		return t.Truncate(time.Hour)
	case Daily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Weekly:
		offset := (int(t.Weekday()) + 6) % 7 // days since Monday
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return d.AddDate(0, 0, -offset)
	case Monthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}

// Resample aggregates table into one row per observed period of frequency f.
// The input is not modified. Rows are ordered by timestamp before aggregation, so the
// result is ascending by period start.
func Resample(ctx context.Context, table *models.Table, f Frequency) (*models.Table, error) {
	if _, ok := stringToFrequency[string(f)]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFrequency, f)
	}
	if table == nil || table.Len() == 0 {
		return models.NewTable(nil), nil
	}

	rows := make([]models.Record, len(table.Rows))
	copy(rows, table.Rows)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})

	var out []models.Record
	var bucket *aggregate
	for i := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := f.PeriodStart(rows[i].Timestamp)
		if bucket == nil || !bucket.start.Equal(start) {
			if bucket != nil {
				out = append(out, bucket.record())
			}
			bucket = newAggregate(start, &rows[i])
		}
		bucket.add(&rows[i])
	}
	out = append(out, bucket.record())

	return models.NewTable(out), nil
}

type aggregate struct {
	start  time.Time
	symbol string
	open   models.Value
	high   models.Value
	low    models.Value
	close  models.Value
	volume models.Value
}

func newAggregate(start time.Time, first *models.Record) *aggregate {
	return &aggregate{start: start, symbol: first.Symbol}
}

func (a *aggregate) add(r *models.Record) {
	if !a.open.Valid && r.Open.Valid {
		a.open = r.Open
	}
	if r.High.Valid && (!a.high.Valid || r.High.V > a.high.V) {
		a.high = r.High
	}
	if r.Low.Valid && (!a.low.Valid || r.Low.V < a.low.V) {
		a.low = r.Low
	}
	if r.Close.Valid {
		a.close = r.Close
	}
	if r.Volume.Valid {
		a.volume = models.Some(a.volume.V + r.Volume.V)
	}
}

func (a *aggregate) record() models.Record {
	return models.Record{
		Timestamp: a.start,
		Symbol:    a.symbol,
		Open:      a.open,
		High:      a.high,
		Low:       a.low,
		Close:     a.close,
		Volume:    a.volume,
	}
}
