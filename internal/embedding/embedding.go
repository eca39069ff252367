// Package embedding produces semantic vectors for signal text.
//
// The provider is chosen once at construction: an OpenAI-compatible API, or
// an explicit no-op provider when embeddings are disabled in configuration.
// Remote providers are wrapped with rate limiting, retries and an optional
// zero-vector fallback.
package embedding

import (
	"context"
	"log/slog"
	"os"
	"time"

	"precursor/internal/config"
	"precursor/internal/errors"
	"precursor/internal/slogutil"
)

// Provider embeds text into a fixed-dimension vector.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimension() int
	Name() string
}

// FallbackPolicy decides what happens when the provider fails.
type FallbackPolicy string

const (
	// FallbackError surfaces EMBEDDING_FAILED.
	FallbackError FallbackPolicy = "error"
	// FallbackZeroVector substitutes a zero vector and logs a warning.
	FallbackZeroVector FallbackPolicy = "zero-vector"
)

// New builds the provider described by cfg.
func New(cfg config.EmbeddingConfig, logger *slog.Logger) (Provider, error) {
	logger = slogutil.OrDiscard(logger)

	switch cfg.Provider {
	case "none":
		logger.Info("Embeddings disabled; using zero vectors", "dimension", cfg.Dimension)
		return NewNull(cfg.Dimension), nil

	case "openai":
		apiKey := os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			return nil, errors.Newf(errors.ConfigInvalid,
				"embedding provider openai needs an API key in $%s", cfg.APIKeyEnv)
		}
		base := NewOpenAI(OpenAIOptions{
			APIKey:    apiKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			MaxChars:  cfg.MaxChars,
			Timeout:   time.Duration(cfg.TimeoutMs) * time.Millisecond,
		})
		retrying := NewRetrying(base, RetryOptions{
			MaxRetries:        cfg.MaxRetries,
			InitialBackoff:    time.Duration(cfg.InitialBackoffMs) * time.Millisecond,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
			Logger:            logger,
		})
		logger.Info("Initializing embedding provider",
			"provider", base.Name(),
			"model", cfg.Model,
			"dimension", cfg.Dimension,
			"fallback", cfg.Fallback,
		)
		return NewFallback(retrying, FallbackPolicy(cfg.Fallback), logger), nil

	default:
		return nil, errors.Newf(errors.ConfigInvalid, "unknown embedding provider %q", cfg.Provider)
	}
}

// Null returns zero vectors. It is only constructed when embeddings are
// explicitly disabled.
type Null struct {
	dim int
}

// NewNull returns a no-op provider of the given dimension.
func NewNull(dim int) *Null {
	if dim <= 0 {
		dim = 1
	}
	return &Null{dim: dim}
}

func (n *Null) Embed(ctx context.Context, _ string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return make([]float64, n.dim), nil
}

func (n *Null) Dimension() int { return n.dim }

func (n *Null) Name() string { return "none" }
