package vectors

import (
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"precursor/internal/signals"
)

// FeatureVector is the combined representation of one package over one
// window. Combined is Structural followed by Semantic and is built once by
// NewFeatureVector.
type FeatureVector struct {
	ID            string    `json:"id"`
	Package       string    `json:"package"`
	WindowStart   time.Time `json:"window_start"`
	WindowEnd     time.Time `json:"window_end"`
	FeatureNames  []string  `json:"feature_names"`
	Structural    []float64 `json:"structural"`
	Semantic      []float64 `json:"semantic"`
	Combined      []float64 `json:"combined"`
	ScalerVersion string    `json:"scaler_version"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewFeatureVector copies its inputs and concatenates them.
func NewFeatureVector(pkg string, w signals.Window, names []string, structural, semantic []float64, scalerVersion string) *FeatureVector {
	combined := make([]float64, 0, len(structural)+len(semantic))
	combined = append(combined, structural...)
	combined = append(combined, semantic...)
	return &FeatureVector{
		ID:            uuid.New().String(),
		Package:       pkg,
		WindowStart:   w.Since,
		WindowEnd:     w.Until,
		FeatureNames:  slices.Clone(names),
		Structural:    slices.Clone(structural),
		Semantic:      slices.Clone(semantic),
		Combined:      combined,
		ScalerVersion: scalerVersion,
		CreatedAt:     time.Now().UTC(),
	}
}

// Dimension is the length of the combined vector.
func (v *FeatureVector) Dimension() int {
	return len(v.Combined)
}

// L2Normalize returns a unit-length copy of v. A zero vector is returned
// unchanged.
func L2Normalize(v []float64) []float64 {
	out := slices.Clone(v)
	norm := Norm(v)
	if norm == 0 {
		return out
	}
	for i := range out {
		out[i] /= norm
	}
	return out
}

// Norm is the Euclidean length of v.
func Norm(v []float64) float64 {
	var ss float64
	for _, x := range v {
		ss += x * x
	}
	return math.Sqrt(ss)
}

// Cosine returns the cosine similarity of a and b in [-1, 1]. It is 0 when
// either vector is zero or the lengths differ.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(-1, math.Min(1, sim))
}

// Euclidean returns the distance between a and b. Callers must check that
// the lengths match.
func Euclidean(a, b []float64) float64 {
	var ss float64
	for i := range a {
		d := a[i] - b[i]
		ss += d * d
	}
	return math.Sqrt(ss)
}
