package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"precursor/internal/cases"
	"precursor/internal/cluster"
	"precursor/internal/config"
	"precursor/internal/embedding"
	"precursor/internal/errors"
	"precursor/internal/features"
	"precursor/internal/feedback"
	"precursor/internal/model"
	"precursor/internal/scoring"
	"precursor/internal/signals"
	"precursor/internal/temporal"
	"precursor/internal/validation"
	"precursor/internal/vectors"
)

var disclosure = time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Scoring.MaxDistance = 10
	cfg.Clustering.K = 2
	cfg.Embedding.Dimension = 4
	cfg.Batch.Workers = 2
	return cfg
}

type recordingPersister struct {
	mu      sync.Mutex
	vectors int
	scores  int
	models  []string
}

func (p *recordingPersister) SaveFeatureVector(context.Context, *vectors.FeatureVector) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vectors++
	return nil
}

func (p *recordingPersister) SaveThreatScore(context.Context, *scoring.ThreatScore) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scores++
	return nil
}

func (p *recordingPersister) SaveModel(_ context.Context, b *model.Bundle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.models = append(p.models, b.Version)
	return nil
}

func newTestEngine(t *testing.T, cfg *config.Config, embedder embedding.Provider) (*Engine, *Metrics, *recordingPersister) {
	t.Helper()
	if embedder == nil {
		embedder = embedding.NewNull(cfg.Embedding.Dimension)
	}
	metrics := NewMetrics(prometheus.NewRegistry())
	persister := &recordingPersister{}
	e, err := New(Options{
		Config:    cfg,
		Embedder:  embedder,
		Persister: persister,
		Metrics:   metrics,
	})
	require.NoError(t, err)
	return e, metrics, persister
}

// history builds n commits spread over the months before end, plus one
// commit after end.
func history(end time.Time, n, authors int) signals.Bundle {
	var b signals.Bundle
	for i := 0; i < n; i++ {
		b.Commits = append(b.Commits, signals.CommitSignal{
			SHA:          fmt.Sprintf("c%03d", i),
			Author:       fmt.Sprintf("dev%d", i%authors),
			CreatedAt:    end.AddDate(0, 0, -5*(n-i)).Add(time.Duration(i) * time.Hour),
			Message:      fmt.Sprintf("change %d", i),
			FilesChanged: []string{"src/main.go", "README.md"},
			Additions:    10 * (i + 1),
			Deletions:    i,
		})
	}
	b.Commits = append(b.Commits, signals.CommitSignal{
		SHA:       "late",
		Author:    "dev0",
		CreatedAt: end.AddDate(0, 0, 10),
		Message:   "fix security issue",
	})
	return b
}

func trainingCases() []TrainingCase {
	cutoff := disclosure.AddDate(0, 0, -30)
	var out []TrainingCase
	for i := 0; i < 4; i++ {
		sev := float64(4 + 2*i)
		out = append(out, TrainingCase{
			Case: cases.Case{
				ID:             fmt.Sprintf("CVE-2023-000%d", i),
				Repository:     fmt.Sprintf("org/pkg%d", i),
				Package:        fmt.Sprintf("pkg%d", i),
				Severity:       &sev,
				DisclosureDate: disclosure.Format("2006-01-02"),
				Weaknesses:     []string{"CWE-79"},
			},
			Signals: history(cutoff, 5+3*i, 1+i),
		})
	}
	out = append(out, TrainingCase{
		Case: cases.Case{ID: "control-1", Repository: "org/quiet", DisclosureDate: disclosure.Format("2006-01-02"), Control: true},
	})
	return out
}

func trainedEngine(t *testing.T, cfg *config.Config) (*Engine, *Metrics, *recordingPersister, *TrainResult) {
	t.Helper()
	e, m, p := newTestEngine(t, cfg, nil)
	res, err := e.Train(context.Background(), trainingCases())
	require.NoError(t, err)
	return e, m, p, res
}

func TestNew_RequiresConfigAndEmbedder(t *testing.T) {
	_, err := New(Options{Embedder: embedding.NewNull(2)})
	assert.True(t, errors.IsCode(err, errors.ConfigInvalid))

	_, err = New(Options{Config: testConfig()})
	assert.True(t, errors.IsCode(err, errors.ConfigInvalid))

	cfg := testConfig()
	cfg.Temporal.PredictionWindowDays = 0
	_, err = New(Options{Config: cfg, Embedder: embedding.NewNull(2)})
	assert.True(t, errors.IsCode(err, errors.ConfigInvalid))
}

func TestTrain(t *testing.T) {
	e, m, p, res := trainedEngine(t, testConfig())

	assert.Equal(t, 4, res.Trained)
	assert.Equal(t, 4, res.LeakedRecords, "one post-cutoff commit per vulnerable case")
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "control-1", res.Skipped[0].CaseID)
	assert.Len(t, res.Clusters, 2)

	cur, err := e.Registry().Current()
	require.NoError(t, err)
	assert.Equal(t, res.Version, cur.Version)
	assert.Len(t, cur.Corpus, 4)
	assert.Equal(t, len(features.Names()), cur.Scaler.Dimension())
	assert.Equal(t, []string{res.Version}, p.models)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.trained))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.leaked.WithLabelValues(string(signals.KindCommit))))

	// A second run records its parent.
	again, err := e.Train(context.Background(), trainingCases())
	require.NoError(t, err)
	assert.Equal(t, res.Version, again.Bundle.ParentVersion)
}

func TestTrain_NothingUsable(t *testing.T) {
	e, _, _ := newTestEngine(t, testConfig(), nil)
	_, err := e.Train(context.Background(), []TrainingCase{
		{Case: cases.Case{ID: "bad-date", DisclosureDate: "soon"}},
		{Case: cases.Case{ID: "no-commits", DisclosureDate: "2023-06-01"}},
	})
	assert.True(t, errors.IsCode(err, errors.InsufficientData))
}

func TestScore(t *testing.T) {
	e, m, p, res := trainedEngine(t, testConfig())
	cutoff := disclosure.AddDate(0, 0, -30)
	w, err := signals.NewWindow(cutoff.AddDate(-1, 0, 0), cutoff)
	require.NoError(t, err)

	ts, err := e.Score(context.Background(), Request{Package: "newpkg", Signals: history(cutoff, 8, 2), Window: w})
	require.NoError(t, err)

	assert.Equal(t, "newpkg", ts.Package)
	assert.Equal(t, res.Version, ts.ModelVersion)
	assert.GreaterOrEqual(t, ts.Score, 0.0)
	assert.LessOrEqual(t, ts.Score, 1.0)
	assert.NotEmpty(t, ts.SimilarCases)
	assert.Equal(t, 1, p.scores)
	assert.Equal(t, 1, p.vectors)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scored.WithLabelValues(string(ts.Level))))
	assert.Equal(t, 1, testutil.CollectAndCount(m.scoreLatency))
}

func TestScore_BeforeTraining(t *testing.T) {
	e, m, _ := newTestEngine(t, testConfig(), nil)
	w, _ := signals.NewWindow(disclosure.AddDate(-1, 0, 0), disclosure)

	_, err := e.Score(context.Background(), Request{Package: "p", Signals: history(disclosure, 3, 1), Window: w})
	assert.True(t, errors.IsCode(err, errors.ModelNotFit))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues(string(errors.ModelNotFit))))
}

func TestScoreAt_LeakagePolicy(t *testing.T) {
	cutoff := disclosure.AddDate(0, 0, -30)

	t.Run("error", func(t *testing.T) {
		e, _, _, _ := trainedEngine(t, testConfig())
		_, err := e.ScoreAt(context.Background(), "p", history(cutoff, 6, 2), cutoff)
		assert.True(t, errors.IsCode(err, errors.TemporalLeakage))
	})

	t.Run("warn", func(t *testing.T) {
		cfg := testConfig()
		cfg.Temporal.LeakagePolicy = string(temporal.PolicyWarn)
		e, _, _, _ := trainedEngine(t, cfg)
		ts, err := e.ScoreAt(context.Background(), "p", history(cutoff, 6, 2), cutoff)
		require.NoError(t, err)
		assert.Equal(t, "p", ts.Package)
	})
}

type blockingEmbedder struct{ dim int }

func (b blockingEmbedder) Embed(ctx context.Context, _ string) ([]float64, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (b blockingEmbedder) Dimension() int { return b.dim }
func (b blockingEmbedder) Name() string   { return "blocking" }

func TestScore_Timeout(t *testing.T) {
	cfg := testConfig()
	trained, _, _, _ := trainedEngine(t, cfg)

	cfg.Batch.ScoreTimeoutMs = 20
	e, err := New(Options{
		Config:   cfg,
		Embedder: blockingEmbedder{dim: 4},
		Registry: trained.Registry(),
	})
	require.NoError(t, err)

	cutoff := disclosure.AddDate(0, 0, -30)
	w, _ := signals.NewWindow(cutoff.AddDate(-1, 0, 0), cutoff)
	_, err = e.Score(context.Background(), Request{Package: "slow", Signals: history(cutoff, 4, 1), Window: w})
	assert.True(t, errors.IsCode(err, errors.Timeout), "got %v", err)
}

func TestScoreBatch(t *testing.T) {
	e, m, _, _ := trainedEngine(t, testConfig())
	cutoff := disclosure.AddDate(0, 0, -30)
	w, _ := signals.NewWindow(cutoff.AddDate(-1, 0, 0), cutoff)

	reqs := []Request{
		{Package: "a", Signals: history(cutoff, 6, 2), Window: w},
		{Package: "empty", Signals: signals.Bundle{}, Window: w},
		{Package: "b", Signals: history(cutoff, 9, 3), Window: w},
		{Package: "c", Signals: history(cutoff, 4, 1), Window: w},
	}
	res, err := e.ScoreBatch(context.Background(), reqs)
	require.NoError(t, err)

	require.Len(t, res.Scores, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{res.Scores[0].Package, res.Scores[1].Package, res.Scores[2].Package})
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "empty", res.Failures[0].Package)
	assert.Equal(t, errors.InsufficientData, res.Failures[0].Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues(string(errors.InsufficientData))))
}

func TestScoreBatch_Cancelled(t *testing.T) {
	e, _, _, _ := trainedEngine(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w, _ := signals.NewWindow(disclosure.AddDate(-1, 0, 0), disclosure)
	res, err := e.ScoreBatch(ctx, []Request{{Package: "a", Signals: history(disclosure, 3, 1), Window: w}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, res.Failures, 1)
}

type mapSource map[string]signals.Bundle

func (m mapSource) Fetch(_ context.Context, repo string, w signals.Window) (signals.Bundle, error) {
	b, ok := m[repo]
	if !ok {
		return signals.Bundle{}, errors.Newf(errors.BackendUnavailable, "unknown repository %s", repo)
	}
	return b.Within(w), nil
}

func TestTrainFromAndBacktest(t *testing.T) {
	tcs := trainingCases()
	src := mapSource{}
	var cs []cases.Case
	for _, tc := range tcs {
		cs = append(cs, tc.Case)
		if !tc.Case.Control {
			src[tc.Case.Repository] = tc.Signals
		}
	}
	cs = append(cs, cases.Case{ID: "missing", Repository: "org/gone", DisclosureDate: "2023-06-01"})

	e, _, _ := newTestEngine(t, testConfig(), nil)
	res, err := e.TrainFrom(context.Background(), src, cs)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Trained)
	assert.Len(t, res.Skipped, 2)

	bt := validation.Backtester{
		Splitter:  e.Splitter(),
		Source:    src,
		Predictor: e,
		Validator: validation.NewValidator(0.6),
		Policy:    temporal.PolicyError,
	}
	report, err := bt.Run(context.Background(), cs)
	require.NoError(t, err)
	assert.Equal(t, res.Version, report.ModelVersion)
	assert.Equal(t, report.Metrics.Total, report.Metrics.Confusion.Sum())
	assert.Len(t, report.Results, 4)
}

func TestSamplesFeedRetraining(t *testing.T) {
	tcs := trainingCases()
	src := mapSource{}
	var cs []cases.Case
	for _, tc := range tcs {
		cs = append(cs, tc.Case)
		if !tc.Case.Control {
			src[tc.Case.Repository] = tc.Signals
		}
	}
	cs = append(cs, cases.Case{ID: "undated", Repository: "org/pkg0", DisclosureDate: "soon"})

	cfg := testConfig()
	e, _, _, res := trainedEngine(t, cfg)

	samples, skipped, err := e.Samples(context.Background(), src, cs)
	require.NoError(t, err)
	require.Len(t, samples, 4)
	require.Len(t, skipped, 2)
	assert.Equal(t, errors.BackendUnavailable, skipped[0].Code)
	assert.Equal(t, errors.InvalidDisclosureDate, skipped[1].Code)
	for _, s := range samples {
		assert.Len(t, s.Vector, len(res.Bundle.Corpus[0].Vector))
	}

	stage := feedback.NewStage(e.Registry(), func() (cluster.Model, error) {
		return cluster.New(cfg.Clustering)
	}, nil)
	next, err := stage.Apply(context.Background(), &feedback.RetrainingSignal{
		ID:           "sig-1",
		ModelVersion: res.Version,
		Retrain:      true,
	}, samples)
	require.NoError(t, err)
	assert.Equal(t, res.Version, next.ParentVersion)
	assert.Len(t, next.Corpus, 8)
	assert.Len(t, res.Bundle.Corpus, 4, "the parent bundle is untouched")
}

func TestValidatorFollowsPublishedThreshold(t *testing.T) {
	tcs := trainingCases()
	src := mapSource{}
	var cs []cases.Case
	for _, tc := range tcs {
		if tc.Case.Control {
			continue
		}
		cs = append(cs, tc.Case)
		src[tc.Case.Repository] = tc.Signals
	}

	cfg := testConfig()
	cfg.Validation.Threshold = 1
	e, _, _, res := trainedEngine(t, cfg)
	assert.Equal(t, 1.0, e.Validator().Threshold)

	backtest := func() *validation.Report {
		bt := validation.Backtester{
			Splitter:  e.Splitter(),
			Source:    src,
			Predictor: e,
			Validator: e.Validator(),
			Policy:    temporal.PolicyWarn,
		}
		report, err := bt.Run(context.Background(), cs)
		require.NoError(t, err)
		require.Len(t, report.Results, 4)
		return report
	}

	before := backtest()
	assert.Equal(t, 1.0, before.Threshold)
	assert.Positive(t, before.Metrics.Confusion.FN, "only an exact match on a severity-10 cluster reaches 1.0")

	// Threshold-only feedback: no refit, no new samples.
	stage := feedback.NewStage(e.Registry(), func() (cluster.Model, error) {
		return cluster.New(cfg.Clustering)
	}, nil)
	next, err := stage.Apply(context.Background(), &feedback.RetrainingSignal{
		ID:                 "sig-threshold",
		ModelVersion:       res.Version,
		SuggestedThreshold: 0.05,
	}, nil)
	require.NoError(t, err)
	assert.Same(t, res.Bundle.Model, next.Model, "threshold feedback alone does not refit")
	assert.Equal(t, 0.05, e.Validator().Threshold)

	after := backtest()
	assert.Equal(t, 0.05, after.Threshold)
	assert.Zero(t, after.Metrics.Confusion.FN)
	assert.Equal(t, 4, after.Metrics.Confusion.TP)
}
