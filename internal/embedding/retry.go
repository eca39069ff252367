package embedding

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"precursor/internal/errors"
	"precursor/internal/slogutil"
)

// RetryOptions configures Retrying.
type RetryOptions struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	RequestsPerSecond float64 // <= 0 disables rate limiting
	Burst             int
	Logger            *slog.Logger
}

// Retrying rate-limits calls to inner and retries 429 and 5xx failures with
// exponential backoff. It honours ctx while waiting.
type Retrying struct {
	inner   Provider
	limiter *rate.Limiter
	opts    RetryOptions
	logger  *slog.Logger
}

// NewRetrying wraps inner.
func NewRetrying(inner Provider, opts RetryOptions) *Retrying {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Retrying{
		inner:   inner,
		limiter: rate.NewLimiter(limit, opts.Burst),
		opts:    opts,
		logger:  slogutil.OrDiscard(opts.Logger),
	}
}

func (r *Retrying) Dimension() int { return r.inner.Dimension() }

func (r *Retrying) Name() string { return r.inner.Name() }

// Embed calls inner up to MaxRetries+1 times.
func (r *Retrying) Embed(ctx context.Context, text string) ([]float64, error) {
	backoff := r.opts.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, waitError(ctx, err)
		}

		vec, err := r.inner.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, waitError(ctx, err)
		}
		if !retryable(err) || attempt == r.opts.MaxRetries {
			break
		}

		r.logger.Warn("Embedding request failed, retrying",
			"attempt", attempt+1,
			"backoff", backoff,
			"reason", describe(err),
		)
		select {
		case <-ctx.Done():
			return nil, waitError(ctx, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	if errors.IsCode(lastErr, errors.EmbeddingFailed) {
		return nil, lastErr
	}
	return nil, errors.New(errors.EmbeddingFailed, "embedding failed", lastErr)
}

func waitError(ctx context.Context, err error) error {
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.New(errors.Timeout, "embedding deadline exceeded", err)
	}
	return err
}

// asError is errors.As for the provider files, which shadow the stdlib name.
func asError(err error, target any) bool {
	return stderrors.As(err, target)
}
