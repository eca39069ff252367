package vectors

import (
	"math"
	"slices"
	"sync"
	"testing"
	"time"

	"precursor/internal/errors"
	"precursor/internal/signals"
)

var window = signals.Window{
	Since: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
	Until: time.Date(2021, 11, 9, 0, 0, 0, 0, time.UTC),
}

func samples() []map[string]float64 {
	return []map[string]float64{
		{"b": 1, "a": 10, "c": 5},
		{"b": 3, "a": 20, "c": 5},
		{"b": 5, "a": 30, "c": 5},
	}
}

func TestFit(t *testing.T) {
	s, err := Fit(samples())
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	if !slices.Equal(s.Features, []string{"a", "b", "c"}) {
		t.Errorf("Features = %v, want sorted keys", s.Features)
	}
	if s.Mean[0] != 20 || s.Mean[1] != 3 {
		t.Errorf("Mean = %v", s.Mean)
	}
	if s.Scale[2] != 1 {
		t.Errorf("zero-variance scale = %v, want 1", s.Scale[2])
	}
	if s.Version == "" || s.FittedAt.IsZero() {
		t.Error("scaler should be stamped with version and time")
	}
}

func TestFit_Errors(t *testing.T) {
	tests := []struct {
		name    string
		samples []map[string]float64
		code    errors.ErrorCode
	}{
		{"empty", nil, errors.InsufficientData},
		{"no keys", []map[string]float64{{}}, errors.InsufficientData},
		{"key mismatch", []map[string]float64{{"a": 1}, {"b": 2}}, errors.FeatureMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Fit(tt.samples)
			if !errors.IsCode(err, tt.code) {
				t.Errorf("Fit() error = %v, want %v", err, tt.code)
			}
		})
	}
}

func TestTransform_Idempotent(t *testing.T) {
	s, err := Fit(samples())
	if err != nil {
		t.Fatal(err)
	}
	in := map[string]float64{"a": 25, "b": 2, "c": 7}

	first, err := s.Transform(in)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Transform(in)
	if err != nil {
		t.Fatal(err)
	}

	if !slices.Equal(first, second) {
		t.Errorf("Transform not idempotent: %v vs %v", first, second)
	}
	if first[2] != 2 {
		t.Errorf("zero-variance feature = %v, want shift only (2)", first[2])
	}
}

func TestTransform_Mismatch(t *testing.T) {
	s, err := Fit(samples())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		sample map[string]float64
	}{
		{"missing", map[string]float64{"a": 1, "b": 1}},
		{"unexpected", map[string]float64{"a": 1, "b": 1, "c": 1, "d": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Transform(tt.sample)
			if !errors.IsCode(err, errors.FeatureMismatch) {
				t.Fatalf("Transform() error = %v, want FEATURE_MISMATCH", err)
			}
		})
	}
}

func TestBuilder_Build(t *testing.T) {
	b := NewBuilder(BuilderOptions{})
	if _, err := b.Fit(samples()); err != nil {
		t.Fatal(err)
	}

	v, err := b.Build("log4j-core", window, map[string]float64{"a": 20, "b": 3, "c": 5}, []float64{3, 4})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if v.Dimension() != len(v.Structural)+len(v.Semantic) {
		t.Errorf("Combined length = %d, want %d", v.Dimension(), len(v.Structural)+len(v.Semantic))
	}
	if !slices.Equal(v.Combined[len(v.Structural):], v.Semantic) {
		t.Error("Combined must be structural followed by semantic")
	}
	if math.Abs(Norm(v.Semantic)-1) > 1e-12 {
		t.Errorf("semantic norm = %v, want 1", Norm(v.Semantic))
	}
	if v.ScalerVersion != b.Scaler().Version {
		t.Error("vector should carry scaler version")
	}
	if !v.WindowStart.Equal(window.Since) || !v.WindowEnd.Equal(window.Until) {
		t.Error("window not recorded")
	}
}

func TestBuilder_BuildEmptyInputs(t *testing.T) {
	b := NewBuilder(BuilderOptions{AutoFit: true})

	if _, err := b.Build("p", window, nil, []float64{1}); !errors.IsCode(err, errors.InsufficientData) {
		t.Errorf("empty structural: error = %v", err)
	}
	if _, err := b.Build("p", window, map[string]float64{"a": 1}, nil); !errors.IsCode(err, errors.InsufficientData) {
		t.Errorf("empty semantic: error = %v", err)
	}
}

func TestBuilder_NotFitted(t *testing.T) {
	b := NewBuilder(BuilderOptions{})

	_, err := b.Build("p", window, map[string]float64{"a": 1}, []float64{1})
	if !errors.IsCode(err, errors.ModelNotFit) {
		t.Errorf("error = %v, want MODEL_NOT_FIT", err)
	}
}

func TestBuilder_AutoFitOnce(t *testing.T) {
	b := NewBuilder(BuilderOptions{AutoFit: true})

	v1, err := b.Build("p", window, map[string]float64{"a": 1, "b": 2}, []float64{1, 0})
	if err != nil {
		t.Fatal(err)
	}
	v2, err := b.Build("q", window, map[string]float64{"a": 5, "b": 9}, []float64{0, 1})
	if err != nil {
		t.Fatal(err)
	}

	if v1.ScalerVersion != v2.ScalerVersion {
		t.Error("auto-fit must not refit on later builds")
	}
	if v2.Structural[0] != 4 || v2.Structural[1] != 7 {
		t.Errorf("Structural = %v, want [4 7] from first-sample scaler", v2.Structural)
	}
}

func TestBuilder_FitTwice(t *testing.T) {
	b := NewBuilder(BuilderOptions{})
	if _, err := b.Fit(samples()); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Fit(samples()); err != ErrAlreadyFitted {
		t.Errorf("second Fit() error = %v, want ErrAlreadyFitted", err)
	}
}

func TestBuilder_CheckVersion(t *testing.T) {
	b := NewBuilder(BuilderOptions{})
	if err := b.CheckVersion("x"); !errors.IsCode(err, errors.ModelNotFit) {
		t.Errorf("unfitted: error = %v", err)
	}

	s, err := b.Fit(samples())
	if err != nil {
		t.Fatal(err)
	}
	if err := b.CheckVersion(s.Version); err != nil {
		t.Errorf("current version: error = %v", err)
	}
	if err := b.CheckVersion("old"); !errors.IsCode(err, errors.StaleModel) {
		t.Errorf("old version: error = %v, want STALE_MODEL", err)
	}
}

func TestBuilder_ConcurrentBuild(t *testing.T) {
	s, err := Fit(samples())
	if err != nil {
		t.Fatal(err)
	}
	b := NewBuilderWithScaler(s, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := b.Build("p", window, map[string]float64{"a": float64(i), "b": 1, "c": 5}, []float64{1, 1}); err != nil {
				t.Errorf("Build() error = %v", err)
			}
		}(i)
	}
	wg.Wait()
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2}, []float64{1, 2}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"zero", []float64{0, 0}, []float64{1, 1}, 0},
		{"length mismatch", []float64{1}, []float64{1, 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cosine(tt.a, tt.b); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Cosine() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestL2Normalize_Zero(t *testing.T) {
	in := []float64{0, 0, 0}
	out := L2Normalize(in)
	if !slices.Equal(in, out) {
		t.Errorf("L2Normalize(zero) = %v", out)
	}
}

func TestEuclidean(t *testing.T) {
	if got := Euclidean([]float64{0, 0}, []float64{3, 4}); got != 5 {
		t.Errorf("Euclidean() = %v, want 5", got)
	}
}
