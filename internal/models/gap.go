package models

import (
	"fmt"
	"time"
)

// Gap is a run of missing periods between two consecutive rows of a validated table.
// A gap is informational: rows are never synthesized to fill it.
type Gap struct {
	// Start is the first timestamp that was expected but absent
	Start time.Time `json:"start"`

	// End is the timestamp of the row that closes the gap
	End time.Time `json:"end"`

	// Missing is the number of absent periods
	Missing int `json:"missing"`
}

// Duration returns the length of the missing span.
func (g Gap) Duration() time.Duration {
	return g.End.Sub(g.Start)
}

// String returns a human readable description of the gap.
func (g Gap) String() string {
	return fmt.Sprintf("%d missing periods from %s to %s",
		g.Missing, g.Start.Format(time.RFC3339), g.End.Format(time.RFC3339))
}

// GapSummary is the continuity census of one validation pass.
type GapSummary struct {
	// Interval is the expected spacing between rows, as given or inferred.
	Interval string `json:"interval"`
	Gaps     []Gap  `json:"gaps"`
	// MissingPeriods is the total of Missing over all gaps.
	MissingPeriods int `json:"missing_periods"`
}
