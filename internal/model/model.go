// Package model holds versioned, immutable model bundles and the registry
// that publishes them.
package model

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"precursor/internal/cluster"
	"precursor/internal/errors"
	"precursor/internal/vectors"
	"precursor/internal/version"
)

// Bundle is everything needed to score: the scaler that defines the vector
// space, the fitted clustering, the historical corpus it was fitted on and
// the decision threshold. A published bundle is never modified; retraining
// publishes a new one.
type Bundle struct {
	Version       string
	ParentVersion string
	CreatedAt     time.Time
	Scaler        *vectors.FittedScaler
	Model         cluster.Model
	Corpus        []cluster.Sample
	Threshold     float64
}

// NewVersion returns a fresh bundle version id.
func NewVersion() string {
	return uuid.New().String()
}

// Validate checks that b is complete enough to score with.
func (b *Bundle) Validate() error {
	switch {
	case b == nil:
		return errors.New(errors.ModelNotFit, "no model bundle", nil)
	case b.Version == "":
		return errors.New(errors.InternalError, "model bundle has no version", nil)
	case b.Scaler == nil:
		return errors.New(errors.ModelNotFit, "model bundle has no fitted scaler", nil)
	case b.Model == nil || !b.Model.Fitted():
		return errors.New(errors.ModelNotFit, "model bundle has no fitted clusterer", nil)
	}
	return nil
}

// Snapshot is the serialisable form of a Bundle.
type Snapshot struct {
	Format        int                   `json:"format"`
	Version       string                `json:"version"`
	ParentVersion string                `json:"parent_version,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	Algorithm     string                `json:"algorithm"`
	Scaler        *vectors.FittedScaler `json:"scaler"`
	Clusters      []cluster.Metadata    `json:"clusters"`
	Corpus        []cluster.Sample      `json:"corpus"`
	Threshold     float64               `json:"threshold"`
}

// Snapshot captures b for persistence.
func (b *Bundle) Snapshot() Snapshot {
	return Snapshot{
		Format:        version.SnapshotFormat,
		Version:       b.Version,
		ParentVersion: b.ParentVersion,
		CreatedAt:     b.CreatedAt,
		Algorithm:     b.Model.Algorithm(),
		Scaler:        b.Scaler,
		Clusters:      b.Model.Clusters(),
		Corpus:        slices.Clone(b.Corpus),
		Threshold:     b.Threshold,
	}
}

// FromSnapshot restores a bundle.
func FromSnapshot(s Snapshot) (*Bundle, error) {
	if s.Format != version.SnapshotFormat {
		return nil, errors.Newf(errors.StaleModel,
			"snapshot format %d is not supported (want %d)", s.Format, version.SnapshotFormat)
	}
	m, err := cluster.Restore(s.Algorithm, s.Clusters)
	if err != nil {
		return nil, err
	}
	b := &Bundle{
		Version:       s.Version,
		ParentVersion: s.ParentVersion,
		CreatedAt:     s.CreatedAt,
		Scaler:        s.Scaler,
		Model:         m,
		Corpus:        s.Corpus,
		Threshold:     s.Threshold,
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Registry publishes bundles. Readers always see a whole bundle.
type Registry struct {
	current atomic.Pointer[Bundle]

	mu      sync.Mutex
	history []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Publish makes b the current bundle.
func (r *Registry) Publish(b *Bundle) error {
	if err := b.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current.Store(b)
	r.history = append(r.history, b.Version)
	return nil
}

// CompareAndPublish publishes b only if the current version is still
// expected. Otherwise it fails with STALE_MODEL.
func (r *Registry) CompareAndPublish(expected string, b *Bundle) error {
	if err := b.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current.Load()
	if cur == nil || cur.Version != expected {
		have := ""
		if cur != nil {
			have = cur.Version
		}
		return errors.Newf(errors.StaleModel, "model version %s is no longer current (current %s)", expected, have)
	}
	r.current.Store(b)
	r.history = append(r.history, b.Version)
	return nil
}

// Current returns the published bundle or MODEL_NOT_FIT.
func (r *Registry) Current() (*Bundle, error) {
	b := r.current.Load()
	if b == nil {
		return nil, errors.New(errors.ModelNotFit, "no model has been published", nil)
	}
	return b, nil
}

// History lists published versions, oldest first.
func (r *Registry) History() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.history)
}
