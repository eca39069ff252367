// Package validation measures prediction quality against historical cases.
//
// A prediction made at a cutoff is compared with what actually happened:
// whether a vulnerability was disclosed after that cutoff. Back-tests replay
// this for a whole dataset without ever showing the predictor data from
// after the cutoff.
package validation

import (
	"slices"
	"time"
)

// Outcome is a confusion matrix cell.
type Outcome string

const (
	TruePositive  Outcome = "TP"
	FalsePositive Outcome = "FP"
	TrueNegative  Outcome = "TN"
	FalseNegative Outcome = "FN"
)

// Result is one validated prediction.
type Result struct {
	CaseID       string    `json:"case_id" yaml:"case_id"`
	Package      string    `json:"package" yaml:"package"`
	Outcome      Outcome   `json:"outcome" yaml:"outcome"`
	Score        float64   `json:"score" yaml:"score"`
	Threshold    float64   `json:"threshold" yaml:"threshold"`
	Predicted    bool      `json:"predicted" yaml:"predicted"`
	Actual       bool      `json:"actual" yaml:"actual"`
	Correct      bool      `json:"correct" yaml:"correct"`
	LeadTimeDays *float64  `json:"lead_time_days,omitempty" yaml:"lead_time_days,omitempty"`
	ActualCaseID string    `json:"actual_case_id,omitempty" yaml:"actual_case_id,omitempty"`
	AsOf         time.Time `json:"as_of" yaml:"as_of"`
	ValidatedAt  time.Time `json:"validated_at" yaml:"validated_at"`
}

// Confusion holds outcome counts.
type Confusion struct {
	TP int `json:"tp" yaml:"tp"`
	FP int `json:"fp" yaml:"fp"`
	TN int `json:"tn" yaml:"tn"`
	FN int `json:"fn" yaml:"fn"`
}

// Sum is the total number of counted results.
func (c Confusion) Sum() int { return c.TP + c.FP + c.TN + c.FN }

// LeadTime summarises days between cutoff and disclosure for true positives.
type LeadTime struct {
	Mean   float64 `json:"mean" yaml:"mean"`
	Median float64 `json:"median" yaml:"median"`
	Count  int     `json:"count" yaml:"count"`
}

// Metrics is the aggregate quality of a set of results.
type Metrics struct {
	Precision float64   `json:"precision" yaml:"precision"`
	Recall    float64   `json:"recall" yaml:"recall"`
	F1        float64   `json:"f1" yaml:"f1"`
	Accuracy  float64   `json:"accuracy" yaml:"accuracy"`
	TPR       float64   `json:"tpr" yaml:"tpr"`
	FPR       float64   `json:"fpr" yaml:"fpr"`
	Confusion Confusion `json:"confusion" yaml:"confusion"`
	Total     int       `json:"total" yaml:"total"`
	LeadTime  LeadTime  `json:"lead_time" yaml:"lead_time"`
}

// Calculate aggregates results. Every ratio with a zero denominator is 0.
func Calculate(results []Result) Metrics {
	var m Metrics
	var leads []float64

	for _, r := range results {
		switch r.Outcome {
		case TruePositive:
			m.Confusion.TP++
			if r.LeadTimeDays != nil {
				leads = append(leads, *r.LeadTimeDays)
			}
		case FalsePositive:
			m.Confusion.FP++
		case TrueNegative:
			m.Confusion.TN++
		case FalseNegative:
			m.Confusion.FN++
		}
	}

	c := m.Confusion
	m.Total = c.Sum()
	m.Precision = ratio(c.TP, c.TP+c.FP)
	m.Recall = ratio(c.TP, c.TP+c.FN)
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	m.Accuracy = ratio(c.TP+c.TN, m.Total)
	m.TPR = m.Recall
	m.FPR = ratio(c.FP, c.FP+c.TN)
	m.LeadTime = summarizeLeadTimes(leads)
	return m
}

func summarizeLeadTimes(leads []float64) LeadTime {
	if len(leads) == 0 {
		return LeadTime{}
	}
	sorted := slices.Clone(leads)
	slices.Sort(sorted)

	var sum float64
	for _, l := range sorted {
		sum += l
	}
	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return LeadTime{Mean: sum / float64(n), Median: median, Count: n}
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
