// Package vectors builds the fixed-length feature vectors the clusterer and
// scorer operate on.
//
// Scaling is two-phase: Fit learns per-feature statistics once and returns an
// immutable FittedScaler; Transform applies them. A fitted scaler is never
// refit in place, so every vector it produces lives in the same space and
// carries the scaler's version.
package vectors

import (
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"precursor/internal/errors"
)

// FittedScaler is a z-score scaler over a fixed, sorted feature set.
// It is read-only after Fit and safe for concurrent use.
type FittedScaler struct {
	Version  string    `json:"version"`
	FittedAt time.Time `json:"fitted_at"`
	Features []string  `json:"features"`
	Mean     []float64 `json:"mean"`
	Scale    []float64 `json:"scale"`
	Samples  int       `json:"samples"`
}

// Fit learns mean and standard deviation per feature. All samples must carry
// the same key set. Features with zero variance get scale 1.
func Fit(samples []map[string]float64) (*FittedScaler, error) {
	if len(samples) == 0 {
		return nil, errors.New(errors.InsufficientData, "cannot fit scaler on zero samples", nil)
	}

	names := sortedKeys(samples[0])
	if len(names) == 0 {
		return nil, errors.New(errors.InsufficientData, "cannot fit scaler on samples without features", nil)
	}
	for i, s := range samples[1:] {
		if err := checkKeys(names, s); err != nil {
			return nil, err.WithDetails(map[string]any{
				"sample":  i + 1,
				"missing": missingKeys(names, s),
				"extra":   extraKeys(names, s),
			})
		}
	}

	n := float64(len(samples))
	mean := make([]float64, len(names))
	scale := make([]float64, len(names))
	for j, name := range names {
		for _, s := range samples {
			mean[j] += s[name]
		}
		mean[j] /= n

		var ss float64
		for _, s := range samples {
			d := s[name] - mean[j]
			ss += d * d
		}
		std := math.Sqrt(ss / n)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		scale[j] = std
	}

	return &FittedScaler{
		Version:  uuid.New().String(),
		FittedAt: time.Now().UTC(),
		Features: names,
		Mean:     mean,
		Scale:    scale,
		Samples:  len(samples),
	}, nil
}

// Transform scales sample into feature order. Missing or unexpected keys
// fail with FEATURE_MISMATCH naming them.
func (s *FittedScaler) Transform(sample map[string]float64) ([]float64, error) {
	if err := checkKeys(s.Features, sample); err != nil {
		return nil, err.WithDetails(map[string]any{
			"scaler":  s.Version,
			"missing": missingKeys(s.Features, sample),
			"extra":   extraKeys(s.Features, sample),
		})
	}
	out := make([]float64, len(s.Features))
	for j, name := range s.Features {
		out[j] = (sample[name] - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}

// Dimension is the number of structural features.
func (s *FittedScaler) Dimension() int {
	return len(s.Features)
}

func checkKeys(names []string, sample map[string]float64) *errors.PrecursorError {
	missing := missingKeys(names, sample)
	extra := extraKeys(names, sample)
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	return errors.Newf(errors.FeatureMismatch,
		"feature set mismatch: missing %v, unexpected %v", missing, extra)
}

func missingKeys(names []string, sample map[string]float64) []string {
	var out []string
	for _, n := range names {
		if _, ok := sample[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}

func extraKeys(names []string, sample map[string]float64) []string {
	var out []string
	for k := range sample {
		if _, found := slices.BinarySearch(names, k); !found {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
