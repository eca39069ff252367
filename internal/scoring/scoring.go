// Package scoring turns a feature vector into a ThreatScore by analogy to
// clustered historical vulnerability cases.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"precursor/internal/cluster"
	"precursor/internal/config"
	"precursor/internal/errors"
	"precursor/internal/slogutil"
	"precursor/internal/vectors"
)

// Level is a coarse risk bucket.
type Level string

const (
	LevelCritical Level = "CRITICAL"
	LevelHigh     Level = "HIGH"
	LevelMedium   Level = "MEDIUM"
	LevelLow      Level = "LOW"
)

// Thresholds are the lower bounds of each level. They must be monotonic.
type Thresholds struct {
	Critical float64
	High     float64
	Medium   float64
}

// DefaultThresholds are 0.8 / 0.6 / 0.4.
var DefaultThresholds = Thresholds{Critical: 0.8, High: 0.6, Medium: 0.4}

// LevelFor maps a score to a level using the default thresholds.
func LevelFor(score float64) Level {
	return DefaultThresholds.LevelFor(score)
}

// LevelFor maps a score to a level.
func (t Thresholds) LevelFor(score float64) Level {
	switch {
	case score >= t.Critical:
		return LevelCritical
	case score >= t.High:
		return LevelHigh
	case score >= t.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Config calibrates the scorer.
type Config struct {
	// MaxDistance normalises cluster distance into [0,1]. Required.
	MaxDistance    float64
	DistanceWeight float64
	SeverityWeight float64
	// DefaultSeverity in [0,1] stands in for clusters without severity
	// data; zero means 0.5.
	DefaultSeverity      float64
	ConfidenceSaturation int
	TopK                 int
	NearestClusters      int
	Thresholds           Thresholds
}

// ConfigFrom converts the scoring section of the configuration.
func ConfigFrom(c config.ScoringConfig) Config {
	return Config{
		MaxDistance:          c.MaxDistance,
		DistanceWeight:       c.DistanceWeight,
		SeverityWeight:       c.SeverityWeight,
		DefaultSeverity:      c.DefaultSeverity,
		ConfidenceSaturation: c.ConfidenceSaturation,
		TopK:                 c.TopK,
		NearestClusters:      c.NearestClusters,
		Thresholds: Thresholds{
			Critical: c.CriticalThreshold,
			High:     c.HighThreshold,
			Medium:   c.MediumThreshold,
		},
	}
}

// ClusterDistance describes one of the clusters nearest to a scored vector.
type ClusterDistance struct {
	ClusterID   int      `json:"cluster_id"`
	Distance    float64  `json:"distance"`
	Size        int      `json:"size"`
	AvgSeverity *float64 `json:"avg_severity,omitempty"`
}

// SimilarCase is a historical case close to the scored vector.
type SimilarCase struct {
	CaseID     string   `json:"case_id"`
	Similarity float64  `json:"similarity"`
	Severity   *float64 `json:"severity,omitempty"`
}

// ThreatScore is the output of Score.
type ThreatScore struct {
	ID              string            `json:"id"`
	Package         string            `json:"package"`
	Score           float64           `json:"score"`
	Confidence      float64           `json:"confidence"`
	Level           Level             `json:"level"`
	DistanceScore   float64           `json:"distance_score"`
	SeverityScore   float64           `json:"severity_score"`
	AssignedCluster int               `json:"assigned_cluster"`
	Approximate     bool              `json:"approximate"`
	NearestClusters []ClusterDistance `json:"nearest_clusters"`
	SimilarCases    []SimilarCase     `json:"similar_cases"`
	VectorID        string            `json:"vector_id"`
	ScalerVersion   string            `json:"scaler_version"`
	ModelVersion    string            `json:"model_version,omitempty"`
	PredictedAt     time.Time         `json:"predicted_at"`
	Cutoff          time.Time         `json:"cutoff"`
}

// Scorer scores vectors against a fitted clustering and its corpus.
// It holds no mutable state and is safe for concurrent use.
type Scorer struct {
	cfg    Config
	model  cluster.Model
	corpus []cluster.Sample
	logger *slog.Logger
}

// NewScorer validates cfg and returns a scorer. Zero-valued optional fields
// take the documented defaults.
func NewScorer(cfg Config, model cluster.Model, corpus []cluster.Sample, logger *slog.Logger) (*Scorer, error) {
	if cfg.MaxDistance <= 0 {
		return nil, errors.New(errors.ConfigInvalid, "scoring.maxDistance must be configured and > 0", nil)
	}
	if model == nil {
		return nil, errors.New(errors.ModelNotFit, "scorer needs a cluster model", nil)
	}
	if cfg.DistanceWeight == 0 && cfg.SeverityWeight == 0 {
		cfg.DistanceWeight, cfg.SeverityWeight = 0.6, 0.4
	}
	if cfg.DefaultSeverity <= 0 {
		cfg.DefaultSeverity = 0.5
	}
	if cfg.ConfidenceSaturation <= 0 {
		cfg.ConfidenceSaturation = 100
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.NearestClusters <= 0 {
		cfg.NearestClusters = 3
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds
	}
	return &Scorer{
		cfg:    cfg,
		model:  model,
		corpus: corpus,
		logger: slogutil.OrDiscard(logger),
	}, nil
}

// Score computes the threat score for vec. Errors from an unfit or
// mismatched model are returned unchanged.
func (s *Scorer) Score(ctx context.Context, vec *vectors.FeatureVector) (*ThreatScore, error) {
	if err := ctx.Err(); err != nil {
		return nil, ctxError(err)
	}

	// Step 1: nearest cluster
	assignment, err := s.model.Assign(vec.Combined)
	if err != nil {
		return nil, err
	}

	// Step 2: its metadata
	md, err := s.model.Metadata(assignment.ClusterID)
	if err != nil {
		return nil, err
	}

	// Step 3: distance score
	distanceScore := clamp01(1 - assignment.Distance/s.cfg.MaxDistance)

	// Step 4: severity score on a 0-10 scale
	severityScore := s.cfg.DefaultSeverity
	if md.AvgSeverity != nil {
		severityScore = *md.AvgSeverity / 10
	}
	severityScore = clamp01(severityScore)

	// Step 5: weighted threat score
	score := clamp01(s.cfg.DistanceWeight*distanceScore + s.cfg.SeverityWeight*severityScore)

	// Step 6: confidence grows with cluster support and closeness
	support := math.Min(1, float64(md.Size)/float64(s.cfg.ConfidenceSaturation))
	confidence := clamp01(support * distanceScore)

	nearest, err := s.nearestClusters(vec.Combined)
	if err != nil {
		return nil, err
	}

	// Step 8: historical analogues
	similar, err := s.similarCases(ctx, vec.Combined)
	if err != nil {
		return nil, err
	}

	ts := &ThreatScore{
		ID:              uuid.New().String(),
		Package:         vec.Package,
		Score:           score,
		Confidence:      confidence,
		Level:           s.cfg.Thresholds.LevelFor(score), // Step 7
		DistanceScore:   distanceScore,
		SeverityScore:   severityScore,
		AssignedCluster: assignment.ClusterID,
		Approximate:     assignment.Approximate,
		NearestClusters: nearest,
		SimilarCases:    similar,
		VectorID:        vec.ID,
		ScalerVersion:   vec.ScalerVersion,
		PredictedAt:     time.Now().UTC(),
		Cutoff:          vec.WindowEnd,
	}

	s.logger.Debug("Scored package",
		"package", ts.Package,
		"score", ts.Score,
		"level", ts.Level,
		"cluster", ts.AssignedCluster,
		"distance", assignment.Distance,
	)
	return ts, nil
}

func (s *Scorer) nearestClusters(vec []float64) ([]ClusterDistance, error) {
	ds, err := s.model.Distances(vec)
	if err != nil {
		return nil, err
	}
	if len(ds) > s.cfg.NearestClusters {
		ds = ds[:s.cfg.NearestClusters]
	}
	out := make([]ClusterDistance, 0, len(ds))
	for _, d := range ds {
		md, err := s.model.Metadata(d.ClusterID)
		if err != nil {
			return nil, err
		}
		out = append(out, ClusterDistance{
			ClusterID:   d.ClusterID,
			Distance:    d.Distance,
			Size:        md.Size,
			AvgSeverity: md.AvgSeverity,
		})
	}
	return out, nil
}

// similarCases ranks the corpus by cosine similarity and keeps the top K.
func (s *Scorer) similarCases(ctx context.Context, vec []float64) ([]SimilarCase, error) {
	out := make([]SimilarCase, 0, len(s.corpus))
	for i, c := range s.corpus {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, ctxError(err)
			}
		}
		if len(c.Vector) != len(vec) {
			continue
		}
		out = append(out, SimilarCase{
			CaseID:     c.CaseID,
			Similarity: vectors.Cosine(vec, c.Vector),
			Severity:   c.Severity,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	if len(out) > s.cfg.TopK {
		out = out[:s.cfg.TopK]
	}
	return out, nil
}

func ctxError(err error) error {
	if err == context.DeadlineExceeded {
		return errors.New(errors.Timeout, "scoring deadline exceeded", err)
	}
	return fmt.Errorf("scoring cancelled: %w", err)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
