package validation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"precursor/internal/cases"
	"precursor/internal/errors"
	"precursor/internal/scoring"
	"precursor/internal/signals"
	"precursor/internal/slogutil"
	"precursor/internal/temporal"
)

// Source fetches signals for a repository over a window.
type Source interface {
	Fetch(ctx context.Context, repository string, w signals.Window) (signals.Bundle, error)
}

// Predictor scores a package from its signals.
type Predictor interface {
	Predict(ctx context.Context, pkg string, b signals.Bundle, w signals.Window) (*scoring.ThreatScore, error)
}

// Skip records a case that produced no result and why.
type Skip struct {
	CaseID string           `json:"case_id" yaml:"case_id"`
	Code   errors.ErrorCode `json:"code" yaml:"code"`
	Reason string           `json:"reason" yaml:"reason"`
}

// Report is the outcome of a back-test.
type Report struct {
	ModelVersion  string    `json:"model_version,omitempty" yaml:"model_version,omitempty"`
	Threshold     float64   `json:"threshold" yaml:"threshold"`
	Cases         int       `json:"cases" yaml:"cases"`
	Results       []Result  `json:"results" yaml:"results"`
	Skipped       []Skip    `json:"skipped" yaml:"skipped"`
	Metrics       Metrics   `json:"metrics" yaml:"metrics"`
	Coverage      float64   `json:"coverage" yaml:"coverage"`
	LeakedRecords int       `json:"leaked_records" yaml:"leaked_records"`
	StartTime     time.Time `json:"start_time" yaml:"start_time"`
	EndTime       time.Time `json:"end_time" yaml:"end_time"`
}

// Backtester replays predictions for historical cases at their cutoffs.
type Backtester struct {
	Splitter  *temporal.Splitter
	Source    Source
	Predictor Predictor
	Validator Validator
	Policy    temporal.Policy
	Logger    *slog.Logger
}

// Run back-tests every case. Per-case problems become Skips; only a
// cancelled context aborts the run.
func (b *Backtester) Run(ctx context.Context, cs []cases.Case) (*Report, error) {
	logger := slogutil.OrDiscard(b.Logger)
	report := &Report{
		Threshold: b.Validator.Threshold,
		Cases:     len(cs),
		Results:   make([]Result, 0, len(cs)),
		Skipped:   make([]Skip, 0),
		StartTime: time.Now(),
	}

	for _, c := range cs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("backtest aborted: %w", err)
		}

		result, leaked, skip := b.runCase(ctx, c)
		report.LeakedRecords += leaked
		if skip != nil {
			// A cancelled context surfaces here as a skip; stop instead.
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("backtest aborted: %w", err)
			}
			logger.Info("Skipped case", "case", skip.CaseID, "code", skip.Code, "reason", skip.Reason)
			report.Skipped = append(report.Skipped, *skip)
			continue
		}
		if result.modelVersion != "" {
			report.ModelVersion = result.modelVersion
		}
		report.Results = append(report.Results, result.Result)
	}

	report.EndTime = time.Now()
	report.Metrics = Calculate(report.Results)
	if report.Cases > 0 {
		report.Coverage = float64(len(report.Results)) / float64(report.Cases)
	}

	logger.Info("Backtest complete",
		"cases", report.Cases,
		"validated", len(report.Results),
		"skipped", len(report.Skipped),
		"precision", report.Metrics.Precision,
		"recall", report.Metrics.Recall,
		"leaked", report.LeakedRecords,
	)
	return report, nil
}

type caseResult struct {
	Result
	modelVersion string
}

func (b *Backtester) runCase(ctx context.Context, c cases.Case) (caseResult, int, *Skip) {
	split := b.Splitter.CreateValidationSplit(c)
	if !split.Valid() {
		return caseResult{}, 0, &Skip{CaseID: c.ID, Code: errors.InvalidDisclosureDate, Reason: split.Reason}
	}

	// The window is half-open; extend it by 1ns so the cutoff instant is observable.
	w, err := signals.NewWindow(split.HistoryStart, split.Cutoff.Add(time.Nanosecond))
	if err != nil {
		return caseResult{}, 0, skipFor(c.ID, err)
	}

	bundle, err := b.Source.Fetch(ctx, c.Repository, w)
	if err != nil {
		return caseResult{}, 0, skipFor(c.ID, err)
	}
	bundle.Package = c.PackageName()

	leakage := temporal.CheckBundle(bundle, split.Cutoff)
	leaked := leakage.Total()
	if err := temporal.Enforce(leakage, b.Policy, b.Logger); err != nil {
		return caseResult{}, leaked, skipFor(c.ID, err)
	}

	score, err := b.Predictor.Predict(ctx, c.PackageName(), leakage.Valid, w)
	if err != nil {
		return caseResult{}, leaked, skipFor(c.ID, err)
	}

	result, err := b.Validator.ValidatePrediction(score, &c, split.Cutoff)
	if err != nil {
		return caseResult{}, leaked, skipFor(c.ID, err)
	}
	return caseResult{Result: result, modelVersion: score.ModelVersion}, leaked, nil
}

func skipFor(caseID string, err error) *Skip {
	return &Skip{CaseID: caseID, Code: errors.CodeOf(err), Reason: err.Error()}
}

// FormatReport renders a human-readable summary.
func (r *Report) FormatReport() string {
	var sb strings.Builder
	m := r.Metrics

	sb.WriteString("=== Precursor Backtest Report ===\n\n")
	if r.ModelVersion != "" {
		fmt.Fprintf(&sb, "Model:      %s\n", r.ModelVersion)
	}
	fmt.Fprintf(&sb, "Cases:      %d (%d validated, %d skipped, %.1f%% coverage)\n",
		r.Cases, len(r.Results), len(r.Skipped), r.Coverage*100)
	fmt.Fprintf(&sb, "Threshold:  %.2f\n", r.Threshold)
	fmt.Fprintf(&sb, "Duration:   %v\n\n", r.EndTime.Sub(r.StartTime).Round(time.Millisecond))

	fmt.Fprintf(&sb, "Precision:  %.3f\n", m.Precision)
	fmt.Fprintf(&sb, "Recall:     %.3f\n", m.Recall)
	fmt.Fprintf(&sb, "F1:         %.3f\n", m.F1)
	fmt.Fprintf(&sb, "Accuracy:   %.3f\n", m.Accuracy)
	fmt.Fprintf(&sb, "FPR:        %.3f\n", m.FPR)
	fmt.Fprintf(&sb, "Confusion:  TP=%d FP=%d TN=%d FN=%d\n",
		m.Confusion.TP, m.Confusion.FP, m.Confusion.TN, m.Confusion.FN)
	if m.LeadTime.Count > 0 {
		fmt.Fprintf(&sb, "Lead time:  mean %.1fd, median %.1fd over %d hits\n",
			m.LeadTime.Mean, m.LeadTime.Median, m.LeadTime.Count)
	}
	if r.LeakedRecords > 0 {
		fmt.Fprintf(&sb, "Leaked:     %d records dropped after cutoff\n", r.LeakedRecords)
	}

	if len(r.Skipped) > 0 {
		sb.WriteString("\nSkipped Cases:\n")
		for _, s := range r.Skipped {
			fmt.Fprintf(&sb, "  - %s [%s]: %s\n", s.CaseID, s.Code, s.Reason)
		}
	}
	return sb.String()
}
