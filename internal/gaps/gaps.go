// Package gaps detects missing periods in a validated OHLCV table.
//
// The expected spacing between rows is either configured ("1h", "1d", ...) or inferred as
// the most common distance between consecutive timestamps. Every place where the next row
// arrives later than one interval after the previous one is reported as a gap. Detection
// never adds or removes rows; the result feeds the continuity section of the quality report.
package gaps

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/galafis/financial-data-etl/internal/models"
)

// Detector finds gaps at a fixed or inferred interval.
type Detector struct {
	interval time.Duration
	logger   *slog.Logger
}

// NewDetector creates a detector. A zero interval makes every call infer the interval
// from the table it inspects.
func NewDetector(interval time.Duration, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Detector{
		interval: interval,
		logger:   logger.With("component", "gap_detector"),
	}
}

// Detect scans the rows of table, which must be sorted by timestamp, and returns the
// continuity census. Tables with fewer than two rows, or whose interval cannot be
// inferred, yield nil.
func (d *Detector) Detect(table *models.Table) *models.GapSummary {
	if table == nil || table.Len() < 2 {
		return nil
	}

	interval := d.interval
	if interval <= 0 {
		interval = InferInterval(table.Rows)
		if interval <= 0 {
			return nil
		}
	}

	summary := &models.GapSummary{
		Interval: FormatInterval(interval),
		Gaps:     []models.Gap{},
	}
	for i := 0; i < len(table.Rows)-1; i++ {
		current := table.Rows[i].Timestamp
		next := table.Rows[i+1].Timestamp

		expectedNext := current.Add(interval)
		if !next.After(expectedNext) {
			continue
		}
		span := next.Sub(current)
		missing := int(span / interval)
		if span%interval == 0 {
			missing--
		}
		summary.Gaps = append(summary.Gaps, models.Gap{
			Start:   expectedNext,
			End:     next,
			Missing: missing,
		})
		summary.MissingPeriods += missing
	}

	if len(summary.Gaps) > 0 {
		d.logger.Debug("gaps detected",
			"interval", summary.Interval,
			"gaps", len(summary.Gaps),
			"missing_periods", summary.MissingPeriods,
		)
	}
	return summary
}

// InferInterval returns the most common positive distance between consecutive rows,
// preferring the shorter distance on ties. It returns zero when no positive distance exists.
func InferInterval(rows []models.Record) time.Duration {
	counts := make(map[time.Duration]int)
	for i := 1; i < len(rows); i++ {
		if delta := rows[i].Timestamp.Sub(rows[i-1].Timestamp); delta > 0 {
			counts[delta]++
		}
	}

	var best time.Duration
	bestCount := 0
	for delta, n := range counts {
		if n > bestCount || (n == bestCount && delta < best) {
			best, bestCount = delta, n
		}
	}
	return best
}

// ParseInterval converts an interval name such as "1m", "4h", "1d" or "1w" to a duration.
// Go duration strings ("90m", "1h30m") are accepted as well.
func ParseInterval(interval string) (time.Duration, error) {
	s := strings.TrimSpace(interval)
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid interval format: %q", interval)
	}

	unit := s[len(s)-1:]
	if value, err := strconv.Atoi(s[:len(s)-1]); err == nil {
		if value <= 0 {
			return 0, fmt.Errorf("interval must be positive: %q", interval)
		}
		switch unit {
		case "m":
			return time.Duration(value) * time.Minute, nil
		case "h":
			return time.Duration(value) * time.Hour, nil
		case "d":
			return time.Duration(value) * 24 * time.Hour, nil
		case "w":
			return time.Duration(value) * 7 * 24 * time.Hour, nil
		}
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("unsupported interval %q", interval)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive: %q", interval)
	}
	return d, nil
}

// FormatInterval renders d in the largest whole unit of days, hours or minutes.
func FormatInterval(d time.Duration) string {
	const day = 24 * time.Hour
	switch {
	case d%day == 0:
		return fmt.Sprintf("%dd", d/day)
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return d.String()
	}
}
