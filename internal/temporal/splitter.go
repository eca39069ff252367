// Package temporal computes prediction cutoffs and enforces that nothing
// timestamped after a cutoff reaches a prediction or its training data.
package temporal

import (
	"fmt"
	"strings"
	"time"

	"precursor/internal/cases"
	"precursor/internal/errors"
)

// Defaults for Splitter.
const (
	DefaultPredictionWindowDays = 30
	DefaultMinHistoryDays       = 365
)

// disclosureLayouts are tried in order when parsing disclosure dates.
var disclosureLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// SplitStatus is the outcome of creating a split.
type SplitStatus string

const (
	SplitValid   SplitStatus = "valid"
	SplitInvalid SplitStatus = "invalid"
)

// Split is the history window used to back-test one case: signals in
// [HistoryStart, Cutoff] may be observed, the disclosure may not.
type Split struct {
	CaseID       string      `json:"case_id"`
	Status       SplitStatus `json:"status"`
	Reason       string      `json:"reason,omitempty"`
	Disclosure   time.Time   `json:"disclosure,omitzero"`
	Cutoff       time.Time   `json:"cutoff,omitzero"`
	HistoryStart time.Time   `json:"history_start,omitzero"`
}

// Valid reports whether the split can be used.
func (s Split) Valid() bool { return s.Status == SplitValid }

// Splitter computes cutoffs a fixed number of days before disclosure.
type Splitter struct {
	PredictionWindowDays int
	MinHistoryDays       int
}

// NewSplitter validates the window. A window below one day would let the
// cutoff reach the disclosure itself.
func NewSplitter(predictionWindowDays, minHistoryDays int) (*Splitter, error) {
	if predictionWindowDays < 1 {
		return nil, errors.Newf(errors.ConfigInvalid,
			"prediction window must be at least 1 day, got %d", predictionWindowDays)
	}
	if minHistoryDays < 0 {
		return nil, errors.Newf(errors.ConfigInvalid,
			"minimum history must not be negative, got %d", minHistoryDays)
	}
	return &Splitter{PredictionWindowDays: predictionWindowDays, MinHistoryDays: minHistoryDays}, nil
}

// Cutoff returns disclosure minus the prediction window in calendar days.
func (s *Splitter) Cutoff(disclosure time.Time) time.Time {
	return disclosure.AddDate(0, 0, -s.PredictionWindowDays)
}

// HistoryStart returns the start of the observation window for a cutoff.
func (s *Splitter) HistoryStart(cutoff time.Time) time.Time {
	return cutoff.AddDate(0, 0, -s.MinHistoryDays)
}

// CreateValidationSplit builds the split for one case. A missing or
// unparseable disclosure date yields an invalid split with a reason rather
// than an error; the caller decides whether to skip the case.
func (s *Splitter) CreateValidationSplit(c cases.Case) Split {
	split := Split{CaseID: c.ID, Status: SplitInvalid}

	if strings.TrimSpace(c.DisclosureDate) == "" {
		split.Reason = "missing disclosure date"
		return split
	}
	disclosure, err := ParseDisclosure(c.DisclosureDate)
	if err != nil {
		split.Reason = err.Error()
		return split
	}

	split.Status = SplitValid
	split.Disclosure = disclosure
	split.Cutoff = s.Cutoff(disclosure)
	split.HistoryStart = s.HistoryStart(split.Cutoff)
	return split
}

// ParseDisclosure parses a disclosure date in any accepted layout.
// Dates without a zone are taken as UTC.
func ParseDisclosure(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range disclosureLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New(errors.InvalidDisclosureDate,
		fmt.Sprintf("unparseable disclosure date %q", raw), nil)
}
