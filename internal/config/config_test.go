package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"precursor/internal/errors"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Scoring.MaxDistance = 10
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d", cfg.Version, CurrentVersion)
	}
	if cfg.Temporal.PredictionWindowDays != 30 {
		t.Errorf("PredictionWindowDays = %d, want 30", cfg.Temporal.PredictionWindowDays)
	}
	if cfg.Validation.Threshold != 0.6 {
		t.Errorf("Validation.Threshold = %v, want 0.6", cfg.Validation.Threshold)
	}
	if cfg.Scoring.DistanceWeight != 0.6 || cfg.Scoring.SeverityWeight != 0.4 {
		t.Errorf("weights = %v/%v, want 0.6/0.4", cfg.Scoring.DistanceWeight, cfg.Scoring.SeverityWeight)
	}
	if cfg.Embedding.Provider != "none" {
		t.Errorf("Embedding.Provider = %q, want none", cfg.Embedding.Provider)
	}
	if cfg.Scoring.MaxDistance != 0 {
		t.Error("MaxDistance must not have a default")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing max distance", func(c *Config) { c.Scoring.MaxDistance = 0 }, "scoring.maxDistance"},
		{"bad version", func(c *Config) { c.Version = 99 }, "version"},
		{"zero window", func(c *Config) { c.Temporal.PredictionWindowDays = 0 }, "temporal.predictionWindowDays"},
		{"bad policy", func(c *Config) { c.Temporal.LeakagePolicy = "ignore" }, "temporal.leakagePolicy"},
		{"bad provider", func(c *Config) { c.Embedding.Provider = "bert" }, "embedding.provider"},
		{"bad fallback", func(c *Config) { c.Embedding.Fallback = "silent" }, "embedding.fallback"},
		{"bad algorithm", func(c *Config) { c.Clustering.Algorithm = "hdbscan" }, "clustering.algorithm"},
		{"kmeans zero k", func(c *Config) { c.Clustering.K = 0 }, "clustering.k"},
		{"dbscan zero eps", func(c *Config) {
			c.Clustering.Algorithm = "dbscan"
			c.Clustering.Eps = 0
		}, "clustering.eps"},
		{"non monotonic thresholds", func(c *Config) { c.Scoring.HighThreshold = 0.9 }, "scoring.criticalThreshold"},
		{"zero weights", func(c *Config) {
			c.Scoring.DistanceWeight = 0
			c.Scoring.SeverityWeight = 0
		}, "scoring.distanceWeight"},
		{"threshold out of range", func(c *Config) { c.Validation.Threshold = 1.5 }, "validation.threshold"},
		{"no workers", func(c *Config) { c.Batch.Workers = 0 }, "batch.workers"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			cerr, ok := err.(*ConfigError)
			if !ok {
				t.Fatalf("Validate() error = %v (%T), want *ConfigError", err, err)
			}
			if cerr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", cerr.Field, tt.wantField)
			}
		})
	}
}

func TestConfigError_IsConfigInvalid(t *testing.T) {
	cfg := validConfig()
	cfg.Scoring.MaxDistance = 0
	err := cfg.Validate()

	if got := errors.CodeOf(err); got != errors.ConfigInvalid {
		t.Fatalf("CodeOf() = %v, want %v", got, errors.ConfigInvalid)
	}
	if !errors.IsCode(err, errors.ConfigInvalid) {
		t.Error("IsCode(CONFIG_INVALID) = false")
	}

	var pe *errors.PrecursorError
	if !stderrors.As(err, &pe) || len(pe.SuggestedFixes) != 1 {
		t.Fatalf("no suggested fix in %v", err)
	}
	if fix := pe.SuggestedFixes[0]; fix.Type != errors.EditConfig || fix.Field != "scoring.maxDistance" {
		t.Errorf("fix = %+v, want edit-config on scoring.maxDistance", fix)
	}
}

func TestValidateTemporal_IgnoresScoring(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.ValidateTemporal(); err != nil {
		t.Errorf("ValidateTemporal() error = %v, want nil without scoring calibration", err)
	}
}

func TestConfigError_Error(t *testing.T) {
	err := &ConfigError{Field: "scoring.maxDistance", Message: "required"}
	got := err.Error()

	if !strings.Contains(got, "scoring.maxDistance") || !strings.Contains(got, "required") {
		t.Errorf("Error() = %q", got)
	}
}

func TestLoadConfig_Default(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Clustering.Algorithm != "kmeans" {
		t.Errorf("Algorithm = %q, want kmeans", cfg.Clustering.Algorithm)
	}
	if len(cfg.Features.SecurityKeywords) == 0 {
		t.Error("SecurityKeywords should come from defaults")
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, DirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	content := `{
  "version": 1,
  "scoring": {"maxDistance": 7.5},
  "clustering": {"algorithm": "dbscan", "eps": 0.8, "minPoints": 4}
}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(root)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Scoring.MaxDistance != 7.5 {
		t.Errorf("MaxDistance = %v, want 7.5", cfg.Scoring.MaxDistance)
	}
	if cfg.Clustering.Algorithm != "dbscan" || cfg.Clustering.MinPoints != 4 {
		t.Errorf("Clustering = %+v", cfg.Clustering)
	}
	// Untouched keys keep defaults
	if cfg.Scoring.DistanceWeight != 0.6 {
		t.Errorf("DistanceWeight = %v, want default 0.6", cfg.Scoring.DistanceWeight)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, DirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	content := "scoring:\n  maxDistance: 3\ntemporal:\n  predictionWindowDays: 60\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(root)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Temporal.PredictionWindowDays != 60 {
		t.Errorf("PredictionWindowDays = %d, want 60", cfg.Temporal.PredictionWindowDays)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("PRECURSOR_SCORING_MAXDISTANCE", "12.5")
	t.Setenv("PRECURSOR_BATCH_WORKERS", "9")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Scoring.MaxDistance != 12.5 {
		t.Errorf("MaxDistance = %v, want 12.5", cfg.Scoring.MaxDistance)
	}
	if cfg.Batch.Workers != 9 {
		t.Errorf("Workers = %d, want 9", cfg.Batch.Workers)
	}
}

func TestLoadConfigFromPath_NotFound(t *testing.T) {
	if _, err := LoadConfigFromPath(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestConfig_Save(t *testing.T) {
	root := t.TempDir()
	cfg := validConfig()
	cfg.Batch.Workers = 2

	if err := cfg.Save(root); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadConfig(root)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if loaded.Batch.Workers != 2 {
		t.Errorf("Workers = %d, want 2", loaded.Batch.Workers)
	}
	if loaded.Scoring.MaxDistance != 10 {
		t.Errorf("MaxDistance = %v, want 10", loaded.Scoring.MaxDistance)
	}
}
