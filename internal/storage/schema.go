package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema version tracking
const currentSchemaVersion = 1

// initializeSchema creates all tables for a new database
func (db *DB) initializeSchema() error {
	return db.WithTx(context.Background(), func(tx *sql.Tx) error {
		creators := []func(*sql.Tx) error{
			createSchemaVersionTable,
			createFeatureVectorsTable,
			createModelVersionsTable,
			createClusterMetadataTable,
			createThreatScoresTable,
			createValidationResultsTable,
			createRetrainingSignalsTable,
		}
		for _, create := range creators {
			if err := create(tx); err != nil {
				return err
			}
		}

		if err := setSchemaVersion(tx, currentSchemaVersion); err != nil {
			return err
		}

		db.logger.Info("Database schema initialized", "version", currentSchemaVersion)
		return nil
	})
}

// runMigrations runs any pending schema migrations
func (db *DB) runMigrations() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return err
	}

	if version == currentSchemaVersion {
		db.logger.Debug("Database schema is up to date", "version", version)
		return nil
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	db.logger.Info("Running database migrations",
		"from_version", version,
		"to_version", currentSchemaVersion,
	)

	// Version 0 is a file that was created but never initialised.
	if version == 0 {
		return db.initializeSchema()
	}
	return nil
}

// getSchemaVersion gets the current schema version
func (db *DB) getSchemaVersion() (int, error) {
	var tableName string
	err := db.conn.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = db.conn.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

// setSchemaVersion sets the schema version
func setSchemaVersion(tx *sql.Tx, version int) error {
	if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
		return err
	}
	_, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

func createSchemaVersionTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	return err
}

// createFeatureVectorsTable stores built vectors. The vector itself is a
// compressed JSON payload; the columns are for lookup.
func createFeatureVectorsTable(tx *sql.Tx) error {
	return createTable(tx, "feature_vectors", `
		CREATE TABLE IF NOT EXISTS feature_vectors (
			id TEXT PRIMARY KEY,
			package TEXT NOT NULL,
			window_start TEXT NOT NULL,
			window_end TEXT NOT NULL,
			scaler_version TEXT NOT NULL,
			dimension INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			payload BLOB NOT NULL
		)
	`,
		"CREATE INDEX IF NOT EXISTS idx_feature_vectors_package ON feature_vectors(package, window_end)",
	)
}

func createModelVersionsTable(tx *sql.Tx) error {
	return createTable(tx, "model_versions", `
		CREATE TABLE IF NOT EXISTS model_versions (
			version TEXT PRIMARY KEY,
			parent_version TEXT,
			algorithm TEXT NOT NULL,
			threshold REAL NOT NULL,
			cluster_count INTEGER NOT NULL,
			corpus_size INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			snapshot BLOB NOT NULL
		)
	`,
		"CREATE INDEX IF NOT EXISTS idx_model_versions_created_at ON model_versions(created_at)",
	)
}

func createClusterMetadataTable(tx *sql.Tx) error {
	return createTable(tx, "cluster_metadata", `
		CREATE TABLE IF NOT EXISTS cluster_metadata (
			model_version TEXT NOT NULL,
			cluster_id INTEGER NOT NULL,
			size INTEGER NOT NULL,
			avg_severity REAL,
			max_severity REAL NOT NULL,
			severity_count INTEGER NOT NULL,
			dominant_weaknesses TEXT NOT NULL,
			example_case_ids TEXT NOT NULL,
			approximate INTEGER NOT NULL,

			PRIMARY KEY (model_version, cluster_id),
			FOREIGN KEY (model_version) REFERENCES model_versions(version) ON DELETE CASCADE
		)
	`)
}

func createThreatScoresTable(tx *sql.Tx) error {
	return createTable(tx, "threat_scores", `
		CREATE TABLE IF NOT EXISTS threat_scores (
			id TEXT PRIMARY KEY,
			package TEXT NOT NULL,
			score REAL NOT NULL CHECK(score >= 0.0 AND score <= 1.0),
			confidence REAL NOT NULL CHECK(confidence >= 0.0 AND confidence <= 1.0),
			level TEXT NOT NULL,
			model_version TEXT,
			vector_id TEXT,
			predicted_at TEXT NOT NULL,
			cutoff TEXT NOT NULL,
			payload BLOB NOT NULL
		)
	`,
		"CREATE INDEX IF NOT EXISTS idx_threat_scores_package ON threat_scores(package, predicted_at)",
		"CREATE INDEX IF NOT EXISTS idx_threat_scores_level ON threat_scores(level)",
	)
}

func createValidationResultsTable(tx *sql.Tx) error {
	return createTable(tx, "validation_results", `
		CREATE TABLE IF NOT EXISTS validation_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			model_version TEXT,
			case_id TEXT NOT NULL,
			package TEXT NOT NULL,
			outcome TEXT NOT NULL CHECK(outcome IN ('TP', 'FP', 'TN', 'FN')),
			score REAL NOT NULL,
			threshold REAL NOT NULL,
			lead_time_days REAL,
			validated_at TEXT NOT NULL
		)
	`,
		"CREATE INDEX IF NOT EXISTS idx_validation_results_run ON validation_results(run_id)",
	)
}

func createRetrainingSignalsTable(tx *sql.Tx) error {
	return createTable(tx, "retraining_signals", `
		CREATE TABLE IF NOT EXISTS retraining_signals (
			id TEXT PRIMARY KEY,
			model_version TEXT NOT NULL,
			retrain INTEGER NOT NULL,
			suggested_threshold REAL NOT NULL,
			created_at TEXT NOT NULL,
			payload TEXT NOT NULL
		)
	`)
}

func createTable(tx *sql.Tx, name, ddl string, indexes ...string) error {
	if _, err := tx.Exec(ddl); err != nil {
		return fmt.Errorf("failed to create %s table: %w", name, err)
	}
	for _, indexSQL := range indexes {
		if _, err := tx.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}
