package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"precursor/internal/errors"
	"precursor/internal/feedback"
	"precursor/internal/model"
	"precursor/internal/scoring"
	"precursor/internal/slogutil"
	"precursor/internal/validation"
	"precursor/internal/vectors"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = stderrors.New("not found")

// ModelVersion is the catalogue row of a persisted model bundle.
type ModelVersion struct {
	Version       string    `json:"version"`
	ParentVersion string    `json:"parent_version,omitempty"`
	Algorithm     string    `json:"algorithm"`
	Threshold     float64   `json:"threshold"`
	ClusterCount  int       `json:"cluster_count"`
	CorpusSize    int       `json:"corpus_size"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store is the SQLite-backed persistence layer.
type Store struct {
	db     *DB
	logger *slog.Logger
}

// OpenStore opens the database at path and wraps it in a Store.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	db, err := Open(path, logger)
	if err != nil {
		return nil, errors.New(errors.BackendUnavailable, "cannot open result store", err)
	}
	return NewStore(db, logger), nil
}

// NewStore wraps an open database.
func NewStore(db *DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: slogutil.OrDiscard(logger)}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveFeatureVector stores v, replacing any vector with the same id.
func (s *Store) SaveFeatureVector(ctx context.Context, v *vectors.FeatureVector) error {
	payload, err := packJSON(v)
	if err != nil {
		return err
	}
	_, err = s.db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO feature_vectors (
			id, package, window_start, window_end, scaler_version, dimension, created_at, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.Package, formatTime(v.WindowStart), formatTime(v.WindowEnd),
		v.ScalerVersion, v.Dimension(), formatTime(v.CreatedAt), payload)
	if err != nil {
		return fmt.Errorf("failed to save feature vector %s: %w", v.ID, err)
	}
	return nil
}

// GetFeatureVector loads a vector by id.
func (s *Store) GetFeatureVector(ctx context.Context, id string) (*vectors.FeatureVector, error) {
	var payload []byte
	err := s.db.conn.QueryRowContext(ctx,
		"SELECT payload FROM feature_vectors WHERE id = ?", id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("feature vector %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query feature vector: %w", err)
	}

	var v vectors.FeatureVector
	if err := unpackJSON(payload, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// SaveThreatScore stores a score.
func (s *Store) SaveThreatScore(ctx context.Context, ts *scoring.ThreatScore) error {
	payload, err := packJSON(ts)
	if err != nil {
		return err
	}
	_, err = s.db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO threat_scores (
			id, package, score, confidence, level, model_version, vector_id, predicted_at, cutoff, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ts.ID, ts.Package, ts.Score, ts.Confidence, string(ts.Level), ts.ModelVersion,
		ts.VectorID, formatTime(ts.PredictedAt), formatTime(ts.Cutoff), payload)
	if err != nil {
		return fmt.Errorf("failed to save threat score %s: %w", ts.ID, err)
	}
	return nil
}

// ListThreatScores returns the most recent scores for pkg, newest first.
// An empty pkg lists every package. limit <= 0 means no limit.
func (s *Store) ListThreatScores(ctx context.Context, pkg string, limit int) ([]*scoring.ThreatScore, error) {
	query := "SELECT payload FROM threat_scores"
	var args []any
	if pkg != "" {
		query += " WHERE package = ?"
		args = append(args, pkg)
	}
	query += " ORDER BY predicted_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query threat scores: %w", err)
	}
	defer rows.Close()

	var out []*scoring.ThreatScore
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ts scoring.ThreatScore
		if err := unpackJSON(payload, &ts); err != nil {
			return nil, err
		}
		out = append(out, &ts)
	}
	return out, rows.Err()
}

// SaveModel stores the bundle snapshot and its cluster catalogue in one
// transaction.
func (s *Store) SaveModel(ctx context.Context, b *model.Bundle) error {
	if err := b.Validate(); err != nil {
		return err
	}
	snap := b.Snapshot()
	blob, err := packJSON(snap)
	if err != nil {
		return err
	}

	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO model_versions (
				version, parent_version, algorithm, threshold, cluster_count, corpus_size, created_at, snapshot
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, snap.Version, snap.ParentVersion, snap.Algorithm, snap.Threshold,
			len(snap.Clusters), len(snap.Corpus), formatTime(snap.CreatedAt), blob)
		if err != nil {
			return fmt.Errorf("failed to insert model version: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO cluster_metadata (
				model_version, cluster_id, size, avg_severity, max_severity, severity_count,
				dominant_weaknesses, example_case_ids, approximate
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range snap.Clusters {
			weaknesses, _ := json.Marshal(c.DominantWeaknesses)
			examples, _ := json.Marshal(c.ExampleCaseIDs)
			if _, err := stmt.ExecContext(ctx, snap.Version, c.ID, c.Size, nullableFloat(c.AvgSeverity),
				c.MaxSeverity, c.SeverityCount, string(weaknesses), string(examples), c.Approximate); err != nil {
				return fmt.Errorf("failed to insert cluster %d: %w", c.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Model version saved",
		"version", snap.Version,
		"clusters", len(snap.Clusters),
		"corpus", len(snap.Corpus),
	)
	return nil
}

// LoadModel restores a bundle. An empty version loads the newest one.
func (s *Store) LoadModel(ctx context.Context, version string) (*model.Bundle, error) {
	var blob []byte
	var err error
	if version == "" {
		err = s.db.conn.QueryRowContext(ctx,
			"SELECT snapshot FROM model_versions ORDER BY created_at DESC LIMIT 1").Scan(&blob)
	} else {
		err = s.db.conn.QueryRowContext(ctx,
			"SELECT snapshot FROM model_versions WHERE version = ?", version).Scan(&blob)
	}
	if err == sql.ErrNoRows {
		msg := "no model has been saved"
		if version != "" {
			msg = fmt.Sprintf("model version %s not found", version)
		}
		return nil, errors.New(errors.ModelNotFit, msg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query model version: %w", err)
	}

	var snap model.Snapshot
	if err := unpackJSON(blob, &snap); err != nil {
		return nil, err
	}
	return model.FromSnapshot(snap)
}

// ListModelVersions returns the catalogue, newest first.
func (s *Store) ListModelVersions(ctx context.Context) ([]ModelVersion, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT version, COALESCE(parent_version, ''), algorithm, threshold, cluster_count, corpus_size, created_at
		FROM model_versions
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query model versions: %w", err)
	}
	defer rows.Close()

	var out []ModelVersion
	for rows.Next() {
		var mv ModelVersion
		var created string
		if err := rows.Scan(&mv.Version, &mv.ParentVersion, &mv.Algorithm, &mv.Threshold,
			&mv.ClusterCount, &mv.CorpusSize, &created); err != nil {
			return nil, err
		}
		mv.CreatedAt = parseTime(created)
		out = append(out, mv)
	}
	return out, rows.Err()
}

// SaveValidationReport stores every result of r under a new run id and
// returns it.
func (s *Store) SaveValidationReport(ctx context.Context, r *validation.Report) (string, error) {
	runID := uuid.New().String()
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO validation_results (
				run_id, model_version, case_id, package, outcome, score, threshold, lead_time_days, validated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, res := range r.Results {
			if _, err := stmt.ExecContext(ctx, runID, r.ModelVersion, res.CaseID, res.Package,
				string(res.Outcome), res.Score, res.Threshold, nullableFloat(res.LeadTimeDays),
				formatTime(res.ValidatedAt)); err != nil {
				return fmt.Errorf("failed to insert validation result %s: %w", res.CaseID, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return runID, nil
}

// ValidationResults loads the results of one run.
func (s *Store) ValidationResults(ctx context.Context, runID string) ([]validation.Result, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT case_id, package, outcome, score, threshold, lead_time_days, validated_at
		FROM validation_results
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query validation results: %w", err)
	}
	defer rows.Close()

	var out []validation.Result
	for rows.Next() {
		var res validation.Result
		var outcome, validated string
		var lead sql.NullFloat64
		if err := rows.Scan(&res.CaseID, &res.Package, &outcome, &res.Score, &res.Threshold,
			&lead, &validated); err != nil {
			return nil, err
		}
		res.Outcome = validation.Outcome(outcome)
		res.Predicted = res.Outcome == validation.TruePositive || res.Outcome == validation.FalsePositive
		res.Actual = res.Outcome == validation.TruePositive || res.Outcome == validation.FalseNegative
		res.Correct = res.Outcome == validation.TruePositive || res.Outcome == validation.TrueNegative
		if lead.Valid {
			days := lead.Float64
			res.LeadTimeDays = &days
		}
		res.ValidatedAt = parseTime(validated)
		out = append(out, res)
	}
	return out, rows.Err()
}

// SaveRetrainingSignal stores sig.
func (s *Store) SaveRetrainingSignal(ctx context.Context, sig *feedback.RetrainingSignal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("failed to encode retraining signal: %w", err)
	}
	_, err = s.db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO retraining_signals (
			id, model_version, retrain, suggested_threshold, created_at, payload
		) VALUES (?, ?, ?, ?, ?, ?)
	`, sig.ID, sig.ModelVersion, sig.Retrain, sig.SuggestedThreshold, formatTime(sig.CreatedAt), string(payload))
	if err != nil {
		return fmt.Errorf("failed to save retraining signal %s: %w", sig.ID, err)
	}
	return nil
}

// RetrainingSignals lists signals raised against modelVersion, oldest first.
func (s *Store) RetrainingSignals(ctx context.Context, modelVersion string) ([]*feedback.RetrainingSignal, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT payload FROM retraining_signals
		WHERE model_version = ?
		ORDER BY created_at
	`, modelVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to query retraining signals: %w", err)
	}
	defer rows.Close()

	var out []*feedback.RetrainingSignal
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var sig feedback.RetrainingSignal
		if err := json.Unmarshal([]byte(payload), &sig); err != nil {
			return nil, fmt.Errorf("failed to decode retraining signal: %w", err)
		}
		out = append(out, &sig)
	}
	return out, rows.Err()
}
