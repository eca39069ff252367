package embedding

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"precursor/internal/errors"
	"precursor/internal/version"
)

// OpenAIOptions configures the OpenAI-compatible provider.
type OpenAIOptions struct {
	APIKey    string
	BaseURL   string // empty uses the public API
	Model     string
	Dimension int
	MaxChars  int
	Timeout   time.Duration
}

// OpenAI calls the /embeddings endpoint of an OpenAI-compatible API.
type OpenAI struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	dimension int
	maxChars  int
}

// NewOpenAI creates the provider.
func NewOpenAI(opts OpenAIOptions) *OpenAI {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	cfg.HTTPClient = &http.Client{
		Timeout:   opts.Timeout,
		Transport: userAgentTransport{base: http.DefaultTransport},
	}
	model := opts.Model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAI{
		client:    openai.NewClientWithConfig(cfg),
		model:     openai.EmbeddingModel(model),
		dimension: opts.Dimension,
		maxChars:  opts.MaxChars,
	}
}

func (o *OpenAI) Dimension() int { return o.dimension }

func (o *OpenAI) Name() string { return "openai" }

// Embed truncates text to the configured length and requests one embedding.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float64, error) {
	text = Truncate(text, o.maxChars)
	if text == "" {
		return nil, errors.New(errors.EmbeddingFailed, "cannot embed empty text", nil)
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      o.model,
		Dimensions: o.dimension,
	})
	if err != nil {
		return nil, errors.New(errors.EmbeddingFailed, "embedding request failed", classify(err))
	}
	if len(resp.Data) == 0 {
		return nil, errors.New(errors.EmbeddingFailed, "embedding response had no data", nil)
	}

	raw := resp.Data[0].Embedding
	if o.dimension > 0 && len(raw) != o.dimension {
		return nil, errors.Newf(errors.EmbeddingFailed,
			"embedding has dimension %d, want %d", len(raw), o.dimension)
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = float64(v)
	}
	return out, nil
}

// classify tags rate limiting so callers can tell it apart.
func classify(err error) error {
	if statusCode(err) == http.StatusTooManyRequests {
		return errors.New(errors.RateLimited, "embedding API rate limit", err)
	}
	return err
}

// statusCode extracts the HTTP status from go-openai errors, or 0.
func statusCode(err error) int {
	var apiErr *openai.APIError
	if asError(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if asError(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// retryable reports whether err is a 429 or 5xx response.
func retryable(err error) bool {
	code := statusCode(err)
	return code == http.StatusTooManyRequests || code >= 500
}

func describe(err error) string {
	if code := statusCode(err); code != 0 {
		return fmt.Sprintf("HTTP %d", code)
	}
	return "transport error"
}

// userAgentTransport tags every request with the precursor user agent.
type userAgentTransport struct {
	base http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", version.UserAgent())
	return t.base.RoundTrip(req)
}
