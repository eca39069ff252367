// Package feedback turns back-test results into retraining signals and
// applies them by publishing new model versions.
//
// Analysis and retraining are separate steps: an Analyzer only emits a
// RetrainingSignal, and a Stage builds a new bundle from it. The bundle the
// signal was derived from is never modified.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"precursor/internal/cluster"
	"precursor/internal/errors"
	"precursor/internal/model"
	"precursor/internal/slogutil"
	"precursor/internal/validation"
)

// Threshold bounds for suggestions.
const (
	minThreshold = 0.05
	maxThreshold = 0.95
)

// RetrainingSignal asks for a new model version.
type RetrainingSignal struct {
	ID                 string             `json:"id"`
	ModelVersion       string             `json:"model_version"`
	CreatedAt          time.Time          `json:"created_at"`
	Reasons            []string           `json:"reasons"`
	Retrain            bool               `json:"retrain"`
	CurrentThreshold   float64            `json:"current_threshold"`
	SuggestedThreshold float64            `json:"suggested_threshold"`
	MissedCaseIDs      []string           `json:"missed_case_ids,omitempty"`
	FalseAlarmIDs      []string           `json:"false_alarm_ids,omitempty"`
	Metrics            validation.Metrics `json:"metrics"`
}

// Analyzer compares report metrics with quality floors.
type Analyzer struct {
	MinPrecision  float64
	MinRecall     float64
	MinF1         float64
	ThresholdStep float64
}

// Analyze returns a signal when any floor is missed, or nil when the model
// is healthy or the report has no results.
func (a Analyzer) Analyze(r *validation.Report) *RetrainingSignal {
	m := r.Metrics
	if m.Total == 0 {
		return nil
	}

	lowPrecision := m.Precision < a.MinPrecision
	lowRecall := m.Recall < a.MinRecall
	lowF1 := m.F1 < a.MinF1
	if !lowPrecision && !lowRecall && !lowF1 {
		return nil
	}

	sig := &RetrainingSignal{
		ID:                 uuid.New().String(),
		ModelVersion:       r.ModelVersion,
		CreatedAt:          time.Now().UTC(),
		CurrentThreshold:   r.Threshold,
		SuggestedThreshold: r.Threshold,
		Metrics:            m,
	}

	if lowPrecision {
		sig.Reasons = append(sig.Reasons, fmt.Sprintf("precision %.3f below %.3f", m.Precision, a.MinPrecision))
	}
	if lowRecall {
		sig.Reasons = append(sig.Reasons, fmt.Sprintf("recall %.3f below %.3f", m.Recall, a.MinRecall))
	}
	if lowF1 {
		sig.Reasons = append(sig.Reasons, fmt.Sprintf("f1 %.3f below %.3f", m.F1, a.MinF1))
	}

	// Move the threshold only when one side is clearly at fault.
	switch {
	case lowPrecision && !lowRecall:
		sig.SuggestedThreshold = clampThreshold(r.Threshold + a.ThresholdStep)
	case lowRecall && !lowPrecision:
		sig.SuggestedThreshold = clampThreshold(r.Threshold - a.ThresholdStep)
	}

	// Missed cases mean the clusters lack analogues; they need a refit.
	sig.Retrain = lowRecall || lowF1

	for _, res := range r.Results {
		switch res.Outcome {
		case validation.FalseNegative:
			sig.MissedCaseIDs = append(sig.MissedCaseIDs, res.CaseID)
		case validation.FalsePositive:
			sig.FalseAlarmIDs = append(sig.FalseAlarmIDs, res.CaseID)
		}
	}
	return sig
}

func clampThreshold(t float64) float64 {
	return math.Round(math.Max(minThreshold, math.Min(maxThreshold, t))*1000) / 1000
}

// ModelFactory builds an unfitted clusterer.
type ModelFactory func() (cluster.Model, error)

// Stage applies retraining signals to a registry.
type Stage struct {
	registry *model.Registry
	newModel ModelFactory
	logger   *slog.Logger
}

// NewStage creates a retraining stage.
func NewStage(registry *model.Registry, newModel ModelFactory, logger *slog.Logger) *Stage {
	return &Stage{registry: registry, newModel: newModel, logger: slogutil.OrDiscard(logger)}
}

// Apply publishes a new bundle derived from the current one. additions are
// extra training samples, typically vectors for missed cases. A signal for a
// version that is no longer current fails with STALE_MODEL.
func (s *Stage) Apply(ctx context.Context, sig *RetrainingSignal, additions []cluster.Sample) (*model.Bundle, error) {
	cur, err := s.registry.Current()
	if err != nil {
		return nil, err
	}
	if sig.ModelVersion != cur.Version {
		return nil, errors.Newf(errors.StaleModel,
			"signal %s targets model %s, current model is %s", sig.ID, sig.ModelVersion, cur.Version)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	next := &model.Bundle{
		Version:       model.NewVersion(),
		ParentVersion: cur.Version,
		CreatedAt:     time.Now().UTC(),
		Scaler:        cur.Scaler,
		Model:         cur.Model,
		Corpus:        slices.Concat(cur.Corpus, additions),
		Threshold:     cur.Threshold,
	}
	if sig.SuggestedThreshold > 0 {
		next.Threshold = sig.SuggestedThreshold
	}

	if sig.Retrain || len(additions) > 0 {
		m, err := s.newModel()
		if err != nil {
			return nil, err
		}
		if err := m.Fit(next.Corpus); err != nil {
			return nil, fmt.Errorf("refit on %d samples: %w", len(next.Corpus), err)
		}
		next.Model = m
	}

	if err := s.registry.CompareAndPublish(cur.Version, next); err != nil {
		return nil, err
	}

	s.logger.Info("Published retrained model",
		"version", next.Version,
		"parent", next.ParentVersion,
		"signal", sig.ID,
		"corpus", len(next.Corpus),
		"threshold", next.Threshold,
		"refit", next.Model != cur.Model,
	)
	return next, nil
}
