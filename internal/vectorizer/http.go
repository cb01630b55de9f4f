package vectorizer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// HTTPEmbedder calls a sentence-embedding model server. Any transport or
// model failure is reported as ErrVectorUnavailable so callers degrade to
// "skip similarity steps" instead of failing ingestion.
type HTTPEmbedder struct {
	url       string
	model     string
	dimension int
	client    *http.Client
	limiter   *rate.Limiter
}

var _ Embedder = (*HTTPEmbedder)(nil)

// HTTPConfig configures the embedding client.
type HTTPConfig struct {
	URL       string        // embedding endpoint, e.g. http://localhost:8100/embed
	Model     string        // model name sent with each request
	Dimension int           // expected vector dimensionality
	Timeout   time.Duration // per-request timeout (default 10s)
	RPS       float64       // request rate limit (default 20/s)
}

// NewHTTPEmbedder creates an embedding client.
func NewHTTPEmbedder(cfg HTTPConfig) *HTTPEmbedder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 20
	}
	return &HTTPEmbedder{
		url:       cfg.URL,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RPS), 1),
	}
}

type embedRequest struct {
	Model string   `json:"model,omitempty"`
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed requests one embedding from the model server.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(embedRequest{Model: e.model, Texts: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("url", e.url).Msg("Embedding server unreachable")
		return nil, ErrVectorUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Str("url", e.url).Msg("Embedding server error")
		return nil, ErrVectorUnavailable
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ErrVectorUnavailable
	}

	var out embedResponse
	if err := json.Unmarshal(data, &out); err != nil || len(out.Embeddings) == 0 {
		log.Warn().Err(err).Msg("Malformed embedding response")
		return nil, ErrVectorUnavailable
	}

	vec := out.Embeddings[0]
	if len(vec) != e.dimension {
		log.Warn().Int("got", len(vec)).Int("want", e.dimension).Msg("Unexpected embedding dimensionality")
		return nil, ErrVectorUnavailable
	}
	return vec, nil
}

// Dimension returns the expected vector dimensionality.
func (e *HTTPEmbedder) Dimension() int { return e.dimension }

// Model returns the configured model name.
func (e *HTTPEmbedder) Model() string {
	if e.model == "" {
		return "default"
	}
	return e.model
}
