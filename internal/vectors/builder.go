package vectors

import (
	"log/slog"
	"sync"

	"precursor/internal/errors"
	"precursor/internal/signals"
	"precursor/internal/slogutil"
)

// ErrAlreadyFitted is returned by a second Builder.Fit. Refitting means
// constructing a new Builder so existing vectors keep their scaler.
var ErrAlreadyFitted = errors.New(errors.InternalError, "scaler already fitted; create a new builder to refit", nil)

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	// AutoFit fits the scaler on the first Build sample when no scaler has
	// been fitted. It happens at most once and is logged.
	AutoFit bool
	Logger  *slog.Logger
}

// Builder turns structural feature maps and semantic embeddings into
// FeatureVectors. Fit must not race with Build.
type Builder struct {
	mu      sync.RWMutex
	scaler  *FittedScaler
	autoFit bool
	logger  *slog.Logger
}

// NewBuilder creates an unfitted builder.
func NewBuilder(opts BuilderOptions) *Builder {
	return &Builder{
		autoFit: opts.AutoFit,
		logger:  slogutil.OrDiscard(opts.Logger),
	}
}

// NewBuilderWithScaler creates a builder around an already fitted scaler.
func NewBuilderWithScaler(s *FittedScaler, logger *slog.Logger) *Builder {
	return &Builder{scaler: s, logger: slogutil.OrDiscard(logger)}
}

// Fit bulk-fits the scaler. It may be called once.
func (b *Builder) Fit(samples []map[string]float64) (*FittedScaler, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.scaler != nil {
		return nil, ErrAlreadyFitted
	}
	s, err := Fit(samples)
	if err != nil {
		return nil, err
	}
	b.scaler = s
	b.logger.Info("Fitted feature scaler",
		"version", s.Version,
		"features", len(s.Features),
		"samples", s.Samples,
	)
	return s, nil
}

// Scaler returns the fitted scaler, or nil.
func (b *Builder) Scaler() *FittedScaler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.scaler
}

// CheckVersion returns STALE_MODEL unless version matches the fitted scaler.
func (b *Builder) CheckVersion(version string) error {
	s := b.Scaler()
	if s == nil {
		return errors.New(errors.ModelNotFit, "feature scaler has not been fitted", nil)
	}
	if s.Version != version {
		return errors.Newf(errors.StaleModel, "vector built with scaler %s, current scaler is %s", version, s.Version)
	}
	return nil
}

// Build scales structural, L2-normalises semantic and concatenates them.
// Both inputs must be non-empty.
func (b *Builder) Build(pkg string, w signals.Window, structural map[string]float64, semantic []float64) (*FeatureVector, error) {
	if len(structural) == 0 {
		return nil, errors.New(errors.InsufficientData, "structural features are empty", nil)
	}
	if len(semantic) == 0 {
		return nil, errors.New(errors.InsufficientData, "semantic embedding is empty", nil)
	}

	s, err := b.scalerFor(structural)
	if err != nil {
		return nil, err
	}
	scaled, err := s.Transform(structural)
	if err != nil {
		return nil, err
	}
	return NewFeatureVector(pkg, w, s.Features, scaled, L2Normalize(semantic), s.Version), nil
}

func (b *Builder) scalerFor(sample map[string]float64) (*FittedScaler, error) {
	if s := b.Scaler(); s != nil {
		return s, nil
	}
	if !b.autoFit {
		return nil, errors.New(errors.ModelNotFit, "feature scaler has not been fitted", nil)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.scaler != nil {
		return b.scaler, nil
	}
	s, err := Fit([]map[string]float64{sample})
	if err != nil {
		return nil, err
	}
	b.scaler = s
	b.logger.Warn("Auto-fitted feature scaler on a single sample",
		"version", s.Version,
		"features", len(s.Features),
	)
	return s, nil
}
