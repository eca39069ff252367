package storage

import (
	"context"

	"precursor/internal/errors"
	"precursor/internal/feedback"
	"precursor/internal/model"
	"precursor/internal/scoring"
	"precursor/internal/validation"
	"precursor/internal/vectors"
)

// Null discards everything. It is used when storage is disabled.
type Null struct{}

func (Null) SaveFeatureVector(context.Context, *vectors.FeatureVector) error { return nil }

func (Null) SaveThreatScore(context.Context, *scoring.ThreatScore) error { return nil }

func (Null) SaveModel(context.Context, *model.Bundle) error { return nil }

func (Null) LoadModel(context.Context, string) (*model.Bundle, error) {
	return nil, errors.New(errors.ModelNotFit, "storage is disabled; no saved model", nil)
}

func (Null) SaveValidationReport(context.Context, *validation.Report) (string, error) {
	return "", nil
}

func (Null) SaveRetrainingSignal(context.Context, *feedback.RetrainingSignal) error { return nil }

func (Null) Close() error { return nil }
