package validation

import (
	"time"

	"precursor/internal/cases"
	"precursor/internal/errors"
	"precursor/internal/scoring"
	"precursor/internal/temporal"
)

// DefaultThreshold is the score at or above which a prediction is positive.
const DefaultThreshold = 0.6

// Validator classifies individual predictions.
type Validator struct {
	Threshold float64
}

// NewValidator returns a validator, using DefaultThreshold for a
// non-positive threshold.
func NewValidator(threshold float64) Validator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Validator{Threshold: threshold}
}

// ValidatePrediction compares score with what happened. The actual outcome
// is positive when actual is a non-control case disclosed after asOf. Lead
// time is recorded for true positives.
func (v Validator) ValidatePrediction(score *scoring.ThreatScore, actual *cases.Case, asOf time.Time) (Result, error) {
	if score == nil {
		return Result{}, errors.New(errors.InsufficientData, "no score to validate", nil)
	}
	r := Result{
		CaseID:      score.Package,
		Package:     score.Package,
		Score:       score.Score,
		Threshold:   v.Threshold,
		Predicted:   score.Score >= v.Threshold,
		AsOf:        asOf,
		ValidatedAt: time.Now().UTC(),
	}

	var disclosure time.Time
	if actual != nil {
		r.CaseID = actual.ID
		if !actual.Control {
			d, err := temporal.ParseDisclosure(actual.DisclosureDate)
			if err != nil {
				return Result{}, err
			}
			disclosure = d
			r.Actual = d.After(asOf)
			if r.Actual {
				r.ActualCaseID = actual.ID
			}
		}
	}

	switch {
	case r.Predicted && r.Actual:
		r.Outcome = TruePositive
		lead := disclosure.Sub(asOf).Hours() / 24
		r.LeadTimeDays = &lead
	case r.Predicted:
		r.Outcome = FalsePositive
	case r.Actual:
		r.Outcome = FalseNegative
	default:
		r.Outcome = TrueNegative
	}
	r.Correct = r.Predicted == r.Actual
	return r, nil
}
