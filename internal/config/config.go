package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"precursor/internal/errors"
	"precursor/internal/slogutil"
)

// CurrentVersion is the config schema version this build understands.
const CurrentVersion = 1

// DirName is the per-project state directory holding config and the database.
const DirName = ".precursor"

// Config represents the complete precursor configuration
type Config struct {
	Version int `json:"version" mapstructure:"version"`

	Features   FeaturesConfig   `json:"features" mapstructure:"features"`
	Embedding  EmbeddingConfig  `json:"embedding" mapstructure:"embedding"`
	Scaler     ScalerConfig     `json:"scaler" mapstructure:"scaler"`
	Clustering ClusteringConfig `json:"clustering" mapstructure:"clustering"`
	Scoring    ScoringConfig    `json:"scoring" mapstructure:"scoring"`
	Temporal   TemporalConfig   `json:"temporal" mapstructure:"temporal"`
	Validation ValidationConfig `json:"validation" mapstructure:"validation"`
	Feedback   FeedbackConfig   `json:"feedback" mapstructure:"feedback"`
	Batch      BatchConfig      `json:"batch" mapstructure:"batch"`
	Storage    StorageConfig    `json:"storage" mapstructure:"storage"`
	Logging    LoggingConfig    `json:"logging" mapstructure:"logging"`
}

// FeaturesConfig tunes keyword and label detection in the extractor.
type FeaturesConfig struct {
	SecurityKeywords []string `json:"securityKeywords" mapstructure:"securityKeywords"`
	SecurityLabels   []string `json:"securityLabels" mapstructure:"securityLabels"`
}

// EmbeddingConfig selects and tunes the embedding provider
type EmbeddingConfig struct {
	Provider          string  `json:"provider" mapstructure:"provider"` // "openai" | "none"
	Model             string  `json:"model" mapstructure:"model"`
	BaseURL           string  `json:"baseUrl" mapstructure:"baseUrl"`
	APIKeyEnv         string  `json:"apiKeyEnv" mapstructure:"apiKeyEnv"`
	Dimension         int     `json:"dimension" mapstructure:"dimension"`
	MaxChars          int     `json:"maxChars" mapstructure:"maxChars"`
	RequestsPerSecond float64 `json:"requestsPerSecond" mapstructure:"requestsPerSecond"`
	Burst             int     `json:"burst" mapstructure:"burst"`
	MaxRetries        int     `json:"maxRetries" mapstructure:"maxRetries"`
	InitialBackoffMs  int     `json:"initialBackoffMs" mapstructure:"initialBackoffMs"`
	TimeoutMs         int     `json:"timeoutMs" mapstructure:"timeoutMs"`
	Fallback          string  `json:"fallback" mapstructure:"fallback"` // "error" | "zero-vector"
}

// ScalerConfig controls structural feature normalisation
type ScalerConfig struct {
	AutoFit bool `json:"autoFit" mapstructure:"autoFit"`
}

// ClusteringConfig selects the clustering algorithm
type ClusteringConfig struct {
	Algorithm     string  `json:"algorithm" mapstructure:"algorithm"` // "kmeans" | "dbscan"
	K             int     `json:"k" mapstructure:"k"`
	MaxIterations int     `json:"maxIterations" mapstructure:"maxIterations"`
	Tolerance     float64 `json:"tolerance" mapstructure:"tolerance"`
	Seed          uint64  `json:"seed" mapstructure:"seed"`
	Eps           float64 `json:"eps" mapstructure:"eps"`
	MinPoints     int     `json:"minPoints" mapstructure:"minPoints"`
}

// ScoringConfig holds risk scorer calibration.
// MaxDistance has no default: it depends on the fitted feature space.
type ScoringConfig struct {
	MaxDistance          float64 `json:"maxDistance" mapstructure:"maxDistance"`
	DistanceWeight       float64 `json:"distanceWeight" mapstructure:"distanceWeight"`
	SeverityWeight       float64 `json:"severityWeight" mapstructure:"severityWeight"`
	DefaultSeverity      float64 `json:"defaultSeverity" mapstructure:"defaultSeverity"`
	ConfidenceSaturation int     `json:"confidenceSaturation" mapstructure:"confidenceSaturation"`
	TopK                 int     `json:"topK" mapstructure:"topK"`
	NearestClusters      int     `json:"nearestClusters" mapstructure:"nearestClusters"`
	CriticalThreshold    float64 `json:"criticalThreshold" mapstructure:"criticalThreshold"`
	HighThreshold        float64 `json:"highThreshold" mapstructure:"highThreshold"`
	MediumThreshold      float64 `json:"mediumThreshold" mapstructure:"mediumThreshold"`
}

// TemporalConfig controls cutoff computation and leakage handling
type TemporalConfig struct {
	PredictionWindowDays int    `json:"predictionWindowDays" mapstructure:"predictionWindowDays"`
	MinHistoryDays       int    `json:"minHistoryDays" mapstructure:"minHistoryDays"`
	LeakagePolicy        string `json:"leakagePolicy" mapstructure:"leakagePolicy"` // "error" | "warn"
}

// ValidationConfig controls back-test classification
type ValidationConfig struct {
	Threshold float64 `json:"threshold" mapstructure:"threshold"`
}

// FeedbackConfig sets the quality floors that trigger retraining signals
type FeedbackConfig struct {
	MinPrecision  float64 `json:"minPrecision" mapstructure:"minPrecision"`
	MinRecall     float64 `json:"minRecall" mapstructure:"minRecall"`
	MinF1         float64 `json:"minF1" mapstructure:"minF1"`
	ThresholdStep float64 `json:"thresholdStep" mapstructure:"thresholdStep"`
}

// BatchConfig bounds parallel scoring
type BatchConfig struct {
	Workers        int `json:"workers" mapstructure:"workers"`
	ScoreTimeoutMs int `json:"scoreTimeoutMs" mapstructure:"scoreTimeoutMs"`
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Features: FeaturesConfig{
			SecurityKeywords: []string{
				"security", "vulnerab", "cve-", "exploit", "overflow", "xss", "csrf",
				"injection", "sanitiz", "auth bypass", "remote code", "denial of service",
			},
			SecurityLabels: []string{"security", "vulnerability", "cve", "bug: security"},
		},
		Embedding: EmbeddingConfig{
			Provider:          "none",
			Model:             "text-embedding-3-small",
			APIKeyEnv:         "OPENAI_API_KEY",
			Dimension:         1536,
			MaxChars:          8000,
			RequestsPerSecond: 3,
			Burst:             1,
			MaxRetries:        3,
			InitialBackoffMs:  500,
			TimeoutMs:         30000,
			Fallback:          "error",
		},
		Scaler: ScalerConfig{
			AutoFit: false,
		},
		Clustering: ClusteringConfig{
			Algorithm:     "kmeans",
			K:             8,
			MaxIterations: 300,
			Tolerance:     1e-4,
			Seed:          42,
			Eps:           0.5,
			MinPoints:     3,
		},
		Scoring: ScoringConfig{
			DistanceWeight:       0.6,
			SeverityWeight:       0.4,
			DefaultSeverity:      0.5,
			ConfidenceSaturation: 100,
			TopK:                 5,
			NearestClusters:      3,
			CriticalThreshold:    0.8,
			HighThreshold:        0.6,
			MediumThreshold:      0.4,
		},
		Temporal: TemporalConfig{
			PredictionWindowDays: 30,
			MinHistoryDays:       365,
			LeakagePolicy:        "error",
		},
		Validation: ValidationConfig{
			Threshold: 0.6,
		},
		Feedback: FeedbackConfig{
			MinPrecision:  0.5,
			MinRecall:     0.5,
			MinF1:         0.5,
			ThresholdStep: 0.05,
		},
		Batch: BatchConfig{
			Workers:        4,
			ScoreTimeoutMs: 60000,
		},
		Storage: StorageConfig{
			Enabled: true,
			Path:    filepath.Join(DirName, "precursor.db"),
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// LoadConfig loads configuration from <root>/.precursor/config.{json,yaml,toml}.
// PRECURSOR_* environment variables override file values, e.g.
// PRECURSOR_SCORING_MAXDISTANCE=12.5.
func LoadConfig(root string) (*Config, error) {
	v := viper.New()

	if err := setDefaults(v, DefaultConfig()); err != nil {
		return nil, err
	}

	v.SetConfigName("config")
	v.AddConfigPath(filepath.Join(root, DirName))
	v.SetEnvPrefix("PRECURSOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing file means defaults plus environment
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadConfigFromPath loads configuration from an explicit file.
func LoadConfigFromPath(path string) (*Config, error) {
	v := viper.New()

	if err := setDefaults(v, DefaultConfig()); err != nil {
		return nil, err
	}

	v.SetConfigFile(path)
	v.SetEnvPrefix("PRECURSOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers every field of def so viper knows each key and
// AutomaticEnv can override it.
func setDefaults(v *viper.Viper, def *Config) error {
	data, err := json.Marshal(def)
	if err != nil {
		return err
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return err
	}
	flatten("", tree, func(key string, value interface{}) {
		v.SetDefault(key, value)
	})
	return nil
}

func flatten(prefix string, tree map[string]interface{}, set func(string, interface{})) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]interface{}); ok {
			flatten(key, sub, set)
			continue
		}
		set(key, val)
	}
}

// Save writes the configuration to <root>/.precursor/config.json
func (c *Config) Save(root string) error {
	dir := filepath.Join(root, DirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// Validate checks the whole configuration, including the scoring calibration.
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return &ConfigError{Field: "version", Message: fmt.Sprintf("unsupported config version %d", c.Version)}
	}
	if err := c.ValidateTemporal(); err != nil {
		return err
	}

	switch c.Embedding.Provider {
	case "openai", "none":
	default:
		return &ConfigError{Field: "embedding.provider", Message: "must be \"openai\" or \"none\""}
	}
	switch c.Embedding.Fallback {
	case "error", "zero-vector":
	default:
		return &ConfigError{Field: "embedding.fallback", Message: "must be \"error\" or \"zero-vector\""}
	}
	if c.Embedding.Dimension <= 0 {
		return &ConfigError{Field: "embedding.dimension", Message: "must be positive"}
	}

	switch c.Clustering.Algorithm {
	case "kmeans":
		if c.Clustering.K <= 0 {
			return &ConfigError{Field: "clustering.k", Message: "must be positive"}
		}
	case "dbscan":
		if c.Clustering.Eps <= 0 {
			return &ConfigError{Field: "clustering.eps", Message: "must be positive"}
		}
		if c.Clustering.MinPoints <= 0 {
			return &ConfigError{Field: "clustering.minPoints", Message: "must be positive"}
		}
	default:
		return &ConfigError{Field: "clustering.algorithm", Message: "must be \"kmeans\" or \"dbscan\""}
	}

	s := c.Scoring
	if s.MaxDistance <= 0 {
		return &ConfigError{Field: "scoring.maxDistance", Message: "required: set a positive distance ceiling for the fitted space"}
	}
	if s.DistanceWeight < 0 || s.SeverityWeight < 0 || s.DistanceWeight+s.SeverityWeight == 0 {
		return &ConfigError{Field: "scoring.distanceWeight", Message: "weights must be non-negative and not both zero"}
	}
	if !(s.CriticalThreshold > s.HighThreshold && s.HighThreshold > s.MediumThreshold && s.MediumThreshold > 0 && s.CriticalThreshold <= 1) {
		return &ConfigError{Field: "scoring.criticalThreshold", Message: "thresholds must satisfy 0 < medium < high < critical <= 1"}
	}

	if c.Validation.Threshold <= 0 || c.Validation.Threshold > 1 {
		return &ConfigError{Field: "validation.threshold", Message: "must be in (0, 1]"}
	}
	if c.Batch.Workers <= 0 {
		return &ConfigError{Field: "batch.workers", Message: "must be positive"}
	}
	if _, err := slogutil.ParseLevel(c.Logging.Level); err != nil {
		return &ConfigError{Field: "logging.level", Message: err.Error()}
	}
	return nil
}

// ValidateTemporal checks only the temporal section. Commands that compute
// cutoffs without scoring use it instead of Validate.
func (c *Config) ValidateTemporal() error {
	if c.Temporal.PredictionWindowDays < 1 {
		return &ConfigError{Field: "temporal.predictionWindowDays", Message: "must be at least 1"}
	}
	if c.Temporal.MinHistoryDays < 0 {
		return &ConfigError{Field: "temporal.minHistoryDays", Message: "must not be negative"}
	}
	switch c.Temporal.LeakagePolicy {
	case "error", "warn":
	default:
		return &ConfigError{Field: "temporal.leakagePolicy", Message: "must be \"error\" or \"warn\""}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}

// Unwrap exposes the failure as CONFIG_INVALID with a fix naming the field.
func (e *ConfigError) Unwrap() error {
	pe := errors.New(errors.ConfigInvalid, e.Message, nil)
	pe.SuggestedFixes = []errors.FixAction{{
		Type:        errors.EditConfig,
		Field:       e.Field,
		Description: "Set " + e.Field + " (" + e.Message + ")",
	}}
	return pe
}
