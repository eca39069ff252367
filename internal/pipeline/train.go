package pipeline

import (
	"context"
	"fmt"
	"time"

	"precursor/internal/cases"
	"precursor/internal/cluster"
	"precursor/internal/errors"
	"precursor/internal/model"
	"precursor/internal/signals"
	"precursor/internal/temporal"
	"precursor/internal/validation"
	"precursor/internal/vectors"
)

// TrainingCase is a historical case with the signals collected for it.
// Signals may extend past the case's cutoff; Train drops those records.
type TrainingCase struct {
	Case    cases.Case
	Signals signals.Bundle
}

// TrainResult describes a training run.
type TrainResult struct {
	Bundle        *model.Bundle      `json:"-"`
	Version       string             `json:"version"`
	Trained       int                `json:"trained"`
	Skipped       []validation.Skip  `json:"skipped"`
	LeakedRecords int                `json:"leaked_records"`
	Clusters      []cluster.Metadata `json:"clusters"`
}

type prepared struct {
	c          cases.Case
	window     signals.Window
	structural map[string]float64
	semantic   []float64
}

// Train fits a new model version from historical vulnerability cases and
// publishes it. Each case contributes only the signals observed up to its
// own cutoff. Control cases and cases that cannot be prepared are skipped
// with a reason; a cancelled context aborts the run.
func (e *Engine) Train(ctx context.Context, tcs []TrainingCase) (*TrainResult, error) {
	res := &TrainResult{Skipped: make([]validation.Skip, 0)}

	var ready []prepared
	for _, tc := range tcs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("training aborted: %w", err)
		}
		if tc.Case.Control {
			res.Skipped = append(res.Skipped, validation.Skip{
				CaseID: tc.Case.ID, Code: errors.InsufficientData, Reason: "control case has no vulnerability to learn from",
			})
			continue
		}

		p, leaked, err := e.prepare(ctx, tc)
		res.LeakedRecords += leaked
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("training aborted: %w", ctx.Err())
			}
			e.logger.Info("Skipped training case", "case", tc.Case.ID, "code", errors.CodeOf(err), "reason", err.Error())
			res.Skipped = append(res.Skipped, validation.Skip{
				CaseID: tc.Case.ID, Code: errors.CodeOf(err), Reason: err.Error(),
			})
			continue
		}
		ready = append(ready, p)
	}

	if len(ready) == 0 {
		return nil, errors.New(errors.InsufficientData, "no training case could be prepared", nil).
			WithDetails(res.Skipped)
	}

	// The scaler is fitted on every training sample at once.
	samples := make([]map[string]float64, len(ready))
	for i, p := range ready {
		samples[i] = p.structural
	}
	builder := vectors.NewBuilder(vectors.BuilderOptions{Logger: e.logger})
	scaler, err := builder.Fit(samples)
	if err != nil {
		return nil, err
	}

	corpus := make([]cluster.Sample, 0, len(ready))
	for _, p := range ready {
		vec, err := builder.Build(p.c.PackageName(), p.window, p.structural, p.semantic)
		if err != nil {
			return nil, err
		}
		corpus = append(corpus, cluster.Sample{
			CaseID:     p.c.ID,
			Vector:     vec.Combined,
			Severity:   p.c.Severity,
			Weaknesses: p.c.Weaknesses,
		})
	}

	m, err := cluster.New(e.cfg.Clustering)
	if err != nil {
		return nil, err
	}
	if err := m.Fit(corpus); err != nil {
		return nil, err
	}

	bundle := &model.Bundle{
		Version:   model.NewVersion(),
		CreatedAt: time.Now().UTC(),
		Scaler:    scaler,
		Model:     m,
		Corpus:    corpus,
		Threshold: e.cfg.Validation.Threshold,
	}
	if cur, err := e.registry.Current(); err == nil {
		bundle.ParentVersion = cur.Version
	}
	if err := e.registry.Publish(bundle); err != nil {
		return nil, err
	}
	e.metrics.trained.Inc()
	if err := e.persister.SaveModel(ctx, bundle); err != nil {
		e.logger.Warn("Failed to persist model", "version", bundle.Version, "error", err.Error())
	}

	e.logger.Info("Model trained",
		"version", bundle.Version,
		"algorithm", m.Algorithm(),
		"cases", len(corpus),
		"clusters", len(m.Clusters()),
		"skipped", len(res.Skipped),
	)

	res.Bundle = bundle
	res.Version = bundle.Version
	res.Trained = len(corpus)
	res.Clusters = m.Clusters()
	return res, nil
}

// prepare cuts a case's signals at its cutoff and computes its features.
// Training always drops leaked records, whatever the scoring policy is.
func (e *Engine) prepare(ctx context.Context, tc TrainingCase) (prepared, int, error) {
	split := e.splitter.CreateValidationSplit(tc.Case)
	if !split.Valid() {
		return prepared{}, 0, errors.New(errors.InvalidDisclosureDate, split.Reason, nil)
	}
	w, err := signals.NewWindow(split.HistoryStart, split.Cutoff.Add(time.Nanosecond))
	if err != nil {
		return prepared{}, 0, err
	}

	report := temporal.CheckBundle(tc.Signals, split.Cutoff)
	e.countLeaks(report)
	if n := report.Total(); n > 0 {
		e.logger.Debug("Dropped post-cutoff training records", "case", tc.Case.ID, "leaked", n)
	}

	observed := report.Valid.Within(w)
	observed.Package = tc.Case.PackageName()

	structural, err := e.extractor.Extract(observed)
	if err != nil {
		return prepared{}, report.Total(), err
	}
	semantic, err := e.embed(ctx, observed)
	if err != nil {
		return prepared{}, report.Total(), err
	}
	return prepared{c: tc.Case, window: w, structural: structural, semantic: semantic}, report.Total(), nil
}

// TrainFrom fetches each case's history from src and trains on it. Fetch
// failures become skips.
func (e *Engine) TrainFrom(ctx context.Context, src validation.Source, cs []cases.Case) (*TrainResult, error) {
	tcs := make([]TrainingCase, 0, len(cs))
	var skipped []validation.Skip
	for _, c := range cs {
		if c.Control {
			tcs = append(tcs, TrainingCase{Case: c})
			continue
		}
		split := e.splitter.CreateValidationSplit(c)
		if !split.Valid() {
			tcs = append(tcs, TrainingCase{Case: c})
			continue
		}
		w, err := signals.NewWindow(split.HistoryStart, split.Cutoff.Add(time.Nanosecond))
		if err != nil {
			return nil, err
		}
		b, err := src.Fetch(ctx, c.Repository, w)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("training aborted: %w", ctx.Err())
			}
			skipped = append(skipped, validation.Skip{CaseID: c.ID, Code: errors.CodeOf(err), Reason: err.Error()})
			continue
		}
		b.Package = c.PackageName()
		tcs = append(tcs, TrainingCase{Case: c, Signals: b})
	}

	res, err := e.Train(ctx, tcs)
	if err != nil {
		return nil, err
	}
	res.Skipped = append(res.Skipped, skipped...)
	return res, nil
}

// Samples vectorizes cases at their cutoffs with the current model's scaler.
// The result can be passed to a feedback stage as retraining additions.
// Cases that cannot be vectorized are skipped with a reason.
func (e *Engine) Samples(ctx context.Context, src validation.Source, cs []cases.Case) ([]cluster.Sample, []validation.Skip, error) {
	var (
		out     []cluster.Sample
		skipped []validation.Skip
	)
	for _, c := range cs {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		split := e.splitter.CreateValidationSplit(c)
		if !split.Valid() {
			skipped = append(skipped, validation.Skip{CaseID: c.ID, Code: errors.InvalidDisclosureDate, Reason: split.Reason})
			continue
		}

		vec, err := e.vectorizeCase(ctx, src, c, split.HistoryStart, split.Cutoff)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			skipped = append(skipped, validation.Skip{CaseID: c.ID, Code: errors.CodeOf(err), Reason: err.Error()})
			continue
		}
		out = append(out, cluster.Sample{
			CaseID:     c.ID,
			Vector:     vec.Combined,
			Severity:   c.Severity,
			Weaknesses: c.Weaknesses,
		})
	}
	return out, skipped, nil
}

func (e *Engine) vectorizeCase(ctx context.Context, src validation.Source, c cases.Case, start, cutoff time.Time) (*vectors.FeatureVector, error) {
	w, err := signals.NewWindow(start, cutoff.Add(time.Nanosecond))
	if err != nil {
		return nil, err
	}
	b, err := src.Fetch(ctx, c.Repository, w)
	if err != nil {
		return nil, err
	}
	return e.Vectorize(ctx, c.PackageName(), b, w)
}
