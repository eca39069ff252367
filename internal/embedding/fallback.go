package embedding

import (
	"context"
	"log/slog"

	"precursor/internal/errors"
	"precursor/internal/slogutil"
)

// Fallback converts provider failures into zero vectors under
// FallbackZeroVector. Under any other policy failures surface as
// EMBEDDING_FAILED. Cancellation is never masked.
type Fallback struct {
	inner  Provider
	policy FallbackPolicy
	logger *slog.Logger
}

// NewFallback wraps inner with policy.
func NewFallback(inner Provider, policy FallbackPolicy, logger *slog.Logger) *Fallback {
	if policy != FallbackZeroVector {
		policy = FallbackError
	}
	return &Fallback{inner: inner, policy: policy, logger: slogutil.OrDiscard(logger)}
}

func (f *Fallback) Dimension() int { return f.inner.Dimension() }

func (f *Fallback) Name() string { return f.inner.Name() }

// Policy is the active fallback policy.
func (f *Fallback) Policy() FallbackPolicy { return f.policy }

func (f *Fallback) Embed(ctx context.Context, text string) ([]float64, error) {
	vec, err := f.inner.Embed(ctx, text)
	if err == nil {
		return vec, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	if f.policy == FallbackZeroVector {
		f.logger.Warn("Embedding failed; substituting zero vector",
			"provider", f.inner.Name(),
			"code", errors.CodeOf(err),
			"error", err.Error(),
		)
		return make([]float64, f.inner.Dimension()), nil
	}

	if errors.IsCode(err, errors.EmbeddingFailed) {
		return nil, err
	}
	return nil, errors.New(errors.EmbeddingFailed, "embedding failed", err)
}
