package models

import (
	"fmt"
	"time"
)

// Validation rule names, in the order the validator applies them.
const (
	RuleDuplicateRows  = "duplicate_rows"
	RuleOHLCViolations = "ohlc_violations"
	RuleInvalidPrices  = "invalid_prices"
	RuleInvalidVolume  = "invalid_volume"
)

// RuleCount records how many rows a single validation rule removed.
type RuleCount struct {
	Rule  string `json:"rule"`
	Count int    `json:"count"`
}

// Issue formats the count as a quality report issue line.
func (rc RuleCount) Issue() string {
	return fmt.Sprintf("%d rows removed: %s", rc.Count, rc.Rule)
}

// QualityReportEntry is the audit record of one validation pass.
type QualityReportEntry struct {
	RunID           string         `json:"run_id,omitempty"`
	ValidatedAt     time.Time      `json:"validated_at"`
	InitialRowCount int            `json:"initial_row_count"`
	FinalRowCount   int            `json:"final_row_count"`
	RemovedRowCount int            `json:"removed_row_count"`
	Issues          []string       `json:"issues"`
	Removed         []RuleCount    `json:"removed,omitempty"`
	MissingValues   map[string]int `json:"missing_values,omitempty"`
	Continuity      *GapSummary    `json:"continuity,omitempty"`
}

// NewQualityReportEntry builds an entry from the row counts and the per-rule removals.
// Rules that removed nothing are left out of Issues and Removed.
func NewQualityReportEntry(initial, final int, removed []RuleCount) QualityReportEntry {
	entry := QualityReportEntry{
		InitialRowCount: initial,
		FinalRowCount:   final,
		RemovedRowCount: initial - final,
		Issues:          []string{},
	}
	for _, rc := range removed {
		if rc.Count <= 0 {
			continue
		}
		entry.Removed = append(entry.Removed, rc)
		entry.Issues = append(entry.Issues, rc.Issue())
	}
	return entry
}

// RemovedBy returns the number of rows removed by the named rule.
func (e *QualityReportEntry) RemovedBy(rule string) int {
	for _, rc := range e.Removed {
		if rc.Rule == rule {
			return rc.Count
		}
	}
	return 0
}

// Clone returns a deep copy of the entry.
func (e QualityReportEntry) Clone() QualityReportEntry {
	out := e
	out.Issues = append([]string{}, e.Issues...)
	out.Removed = append([]RuleCount(nil), e.Removed...)
	if e.MissingValues != nil {
		out.MissingValues = make(map[string]int, len(e.MissingValues))
		for k, v := range e.MissingValues {
			out.MissingValues[k] = v
		}
	}
	if e.Continuity != nil {
		c := *e.Continuity
		c.Gaps = append([]Gap(nil), e.Continuity.Gaps...)
		out.Continuity = &c
	}
	return out
}
