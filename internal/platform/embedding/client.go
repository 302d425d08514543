package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yungbote/docrag-backend/internal/platform/ctxutil"
	"github.com/yungbote/docrag-backend/internal/platform/envutil"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

// ErrCountMismatch means the service answered with a different number of
// vectors than texts sent, so vectors cannot be paired with their inputs.
var ErrCountMismatch = errors.New("embedding count mismatch")

// Embedder turns texts into vectors. Implementations return vectors in input
// order; callers must not assume the count matches without checking.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Config struct {
	Endpoint   string
	Timeout    time.Duration
	BatchLimit int
}

func ResolveConfigFromEnv() (Config, error) {
	cfg := Config{
		Endpoint:   envutil.String("EMBEDDING_API_ENDPOINT", ""),
		Timeout:    envutil.Seconds("EMBEDDING_TIMEOUT_SECONDS", 60),
		BatchLimit: envutil.Int("EMBED_BATCH_LIMIT", 64),
	}
	if cfg.Endpoint == "" {
		return cfg, fmt.Errorf("missing env var EMBEDDING_API_ENDPOINT")
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return cfg, fmt.Errorf("invalid EMBEDDING_API_ENDPOINT=%q; expected absolute URL like http://embedder:8000/embed", cfg.Endpoint)
	}
	if cfg.BatchLimit <= 0 {
		return cfg, fmt.Errorf("EMBED_BATCH_LIMIT must be positive")
	}
	return cfg, nil
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// HTTPError is a non-2xx answer from the embedding service.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("embedding service status=%d body=%q", e.StatusCode, e.Body)
}

type client struct {
	log        *logger.Logger
	endpoint   string
	batchLimit int
	http       *http.Client
}

func NewClient(log *logger.Logger, cfg Config) (Embedder, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("embedding endpoint required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 64
	}
	c := &client{
		log:        log.With("service", "EmbeddingClient"),
		endpoint:   cfg.Endpoint,
		batchLimit: cfg.BatchLimit,
		http:       &http.Client{Timeout: cfg.Timeout},
	}
	c.log.Info("Embedding client initialized", "endpoint_url", cfg.Endpoint, "batch_limit", cfg.BatchLimit)
	return c, nil
}

// Embed posts texts in slices of at most batchLimit and concatenates the
// results. A slice answered with the wrong number of vectors fails the whole
// call with ErrCountMismatch.
func (c *client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchLimit {
		end := min(start+c.batchLimit, len(texts))
		vecs, err := c.post(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("%w: texts [%d,%d) got %d vectors", ErrCountMismatch, start, end, len(vecs))
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *client) post(ctx context.Context, texts []string) ([][]float32, error) {
	clean := make([]string, len(texts))
	for i, s := range texts {
		s = strings.TrimSpace(s)
		if s == "" {
			s = " "
		}
		clean[i] = s
	}

	raw, err := json.Marshal(embedRequest{Texts: clean})
	if err != nil {
		return nil, fmt.Errorf("encode embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodPost, c.endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 512 {
			snippet = snippet[:512] + "..."
		}
		c.log.Warn("Embedding service error", "status", resp.StatusCode, "texts", len(texts))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: snippet}
	}

	var decoded embedResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	c.log.Debug("Embedded texts", "requested", len(texts), "returned", len(decoded.Embeddings), "model", decoded.Model)
	return decoded.Embeddings, nil
}
