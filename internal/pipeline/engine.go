// Package pipeline wires extraction, embedding, vector building, clustering
// and scoring into training and scoring entry points.
package pipeline

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"precursor/internal/config"
	"precursor/internal/embedding"
	"precursor/internal/errors"
	"precursor/internal/features"
	"precursor/internal/model"
	"precursor/internal/scoring"
	"precursor/internal/signals"
	"precursor/internal/slogutil"
	"precursor/internal/temporal"
	"precursor/internal/validation"
	"precursor/internal/vectors"
)

// Persister stores pipeline outputs. storage.Store and storage.Null both
// satisfy it.
type Persister interface {
	SaveFeatureVector(ctx context.Context, v *vectors.FeatureVector) error
	SaveThreatScore(ctx context.Context, ts *scoring.ThreatScore) error
	SaveModel(ctx context.Context, b *model.Bundle) error
}

type nopPersister struct{}

func (nopPersister) SaveFeatureVector(context.Context, *vectors.FeatureVector) error { return nil }
func (nopPersister) SaveThreatScore(context.Context, *scoring.ThreatScore) error     { return nil }
func (nopPersister) SaveModel(context.Context, *model.Bundle) error                  { return nil }

// Options configures an Engine. Config and Embedder are required.
type Options struct {
	Config    *config.Config
	Embedder  embedding.Provider
	Registry  *model.Registry
	Persister Persister
	Metrics   *Metrics
	Logger    *slog.Logger
}

// Engine runs training and scoring. It is safe for concurrent scoring;
// Train publishes a new bundle atomically.
type Engine struct {
	cfg       *config.Config
	extractor *features.Extractor
	embedder  embedding.Provider
	registry  *model.Registry
	persister Persister
	metrics   *Metrics
	splitter  *temporal.Splitter
	policy    temporal.Policy
	timeout   time.Duration
	logger    *slog.Logger
}

// Request asks for a score of Package from Signals observed in Window.
type Request struct {
	Package string
	Signals signals.Bundle
	Window  signals.Window
}

// New creates an engine.
func New(opts Options) (*Engine, error) {
	if opts.Config == nil {
		return nil, errors.New(errors.ConfigInvalid, "pipeline needs a configuration", nil)
	}
	if opts.Embedder == nil {
		return nil, errors.New(errors.ConfigInvalid, "pipeline needs an embedding provider", nil)
	}
	if err := opts.Config.ValidateTemporal(); err != nil {
		return nil, errors.New(errors.ConfigInvalid, "invalid temporal configuration", err)
	}

	cfg := opts.Config
	splitter, err := temporal.NewSplitter(cfg.Temporal.PredictionWindowDays, cfg.Temporal.MinHistoryDays)
	if err != nil {
		return nil, err
	}

	logger := slogutil.OrDiscard(opts.Logger)
	e := &Engine{
		cfg:       cfg,
		extractor: features.NewExtractor(cfg.Features.SecurityKeywords, cfg.Features.SecurityLabels, logger),
		embedder:  opts.Embedder,
		registry:  opts.Registry,
		persister: opts.Persister,
		metrics:   opts.Metrics,
		splitter:  splitter,
		policy:    temporal.ParsePolicy(cfg.Temporal.LeakagePolicy),
		timeout:   time.Duration(cfg.Batch.ScoreTimeoutMs) * time.Millisecond,
		logger:    logger,
	}
	if e.registry == nil {
		e.registry = model.NewRegistry()
	}
	if e.persister == nil {
		e.persister = nopPersister{}
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	return e, nil
}

// Registry is the registry the engine publishes to and scores from.
func (e *Engine) Registry() *model.Registry {
	return e.registry
}

// Validator classifies predictions with the current model's decision
// threshold, falling back to validation.threshold when no model is
// published or the model carries none.
func (e *Engine) Validator() validation.Validator {
	threshold := e.cfg.Validation.Threshold
	if cur, err := e.registry.Current(); err == nil && cur.Threshold > 0 {
		threshold = cur.Threshold
	}
	return validation.NewValidator(threshold)
}

// Splitter is the engine's temporal splitter.
func (e *Engine) Splitter() *temporal.Splitter {
	return e.splitter
}

// Vectorize builds the feature vector for pkg from the records in window,
// using the current model's scaler.
func (e *Engine) Vectorize(ctx context.Context, pkg string, b signals.Bundle, w signals.Window) (*vectors.FeatureVector, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	bundle, err := e.registry.Current()
	if err != nil {
		return nil, err
	}

	observed := b.Within(w)
	observed.Package = pkg
	structural, err := e.extractor.Extract(observed)
	if err != nil {
		return nil, err
	}
	semantic, err := e.embed(ctx, observed)
	if err != nil {
		return nil, err
	}

	builder := vectors.NewBuilderWithScaler(bundle.Scaler, e.logger)
	return builder.Build(pkg, w, structural, semantic)
}

// Score scores one request against the current model under the configured
// per-call timeout. The vector and the score are persisted; persistence
// failures are logged and do not fail the score.
func (e *Engine) Score(ctx context.Context, req Request) (*scoring.ThreatScore, error) {
	start := time.Now()
	ts, err := e.score(ctx, req)
	e.metrics.scoreLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		e.metrics.failures.WithLabelValues(string(errors.CodeOf(err))).Inc()
		return nil, err
	}
	e.metrics.scored.WithLabelValues(string(ts.Level)).Inc()
	return ts, nil
}

func (e *Engine) score(ctx context.Context, req Request) (*scoring.ThreatScore, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	bundle, err := e.registry.Current()
	if err != nil {
		return nil, err
	}

	vec, err := e.Vectorize(ctx, req.Package, req.Signals, req.Window)
	if err != nil {
		return nil, deadline(ctx, err)
	}

	scorer, err := scoring.NewScorer(scoring.ConfigFrom(e.cfg.Scoring), bundle.Model, bundle.Corpus, e.logger)
	if err != nil {
		return nil, err
	}
	ts, err := scorer.Score(ctx, vec)
	if err != nil {
		return nil, deadline(ctx, err)
	}
	ts.ModelVersion = bundle.Version

	if err := e.persister.SaveFeatureVector(ctx, vec); err != nil {
		e.logger.Warn("Failed to persist feature vector", "package", req.Package, "error", err.Error())
	}
	if err := e.persister.SaveThreatScore(ctx, ts); err != nil {
		e.logger.Warn("Failed to persist threat score", "package", req.Package, "error", err.Error())
	}

	e.logger.Info("Scored package",
		"package", ts.Package,
		"score", ts.Score,
		"level", ts.Level,
		"model", ts.ModelVersion,
	)
	return ts, nil
}

// Predict scores pkg over w. It lets the engine drive a back-test.
func (e *Engine) Predict(ctx context.Context, pkg string, b signals.Bundle, w signals.Window) (*scoring.ThreatScore, error) {
	return e.Score(ctx, Request{Package: pkg, Signals: b, Window: w})
}

// ScoreAt scores pkg as of cutoff: only records in the history window
// ending at cutoff are observed, and any later record is subject to the
// leakage policy.
func (e *Engine) ScoreAt(ctx context.Context, pkg string, b signals.Bundle, cutoff time.Time) (*scoring.ThreatScore, error) {
	report := temporal.CheckBundle(b, cutoff)
	e.countLeaks(report)
	if err := temporal.Enforce(report, e.policy, e.logger); err != nil {
		return nil, err
	}
	w, err := signals.NewWindow(e.splitter.HistoryStart(cutoff), cutoff.Add(time.Nanosecond))
	if err != nil {
		return nil, err
	}
	return e.Score(ctx, Request{Package: pkg, Signals: report.Valid, Window: w})
}

func (e *Engine) embed(ctx context.Context, b signals.Bundle) ([]float64, error) {
	start := time.Now()
	defer func() {
		e.metrics.embedLatency.Observe(time.Since(start).Seconds())
	}()
	return e.embedder.Embed(ctx, embedding.Compose(b, e.cfg.Embedding.MaxChars))
}

func (e *Engine) countLeaks(r temporal.LeakageReport) {
	for kind, n := range r.Leaked {
		if n > 0 {
			e.metrics.leaked.WithLabelValues(string(kind)).Add(float64(n))
		}
	}
}

// deadline maps an expired per-call deadline to TIMEOUT.
func deadline(ctx context.Context, err error) error {
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.IsCode(err, errors.Timeout) {
		return errors.New(errors.Timeout, "scoring deadline exceeded", err)
	}
	return err
}
