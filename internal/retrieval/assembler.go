// Package retrieval builds cited prompts from the chunks nearest a query.
package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/docrag-backend/internal/ingestion"
	"github.com/yungbote/docrag-backend/internal/observability"
	"github.com/yungbote/docrag-backend/internal/pkg/dbctx"
	"github.com/yungbote/docrag-backend/internal/platform/embedding"
	"github.com/yungbote/docrag-backend/internal/platform/gcp"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
	"github.com/yungbote/docrag-backend/internal/platform/qdrant"
)

const (
	DefaultTopK         = 5
	DefaultSignedURLTTL = 10 * time.Minute
)

var ErrEmptyQuery = errors.New("query is empty after sanitizing")

// ErrIndexUnavailable means the vector index could not be reached at all, as
// opposed to rejecting the search.
var ErrIndexUnavailable = errors.New("vector index unavailable")

type SourceLookup interface {
	LookupSources(dbc dbctx.Context, ids []string) (map[string]string, error)
}

// URLSigner produces time-limited links for objects in one bucket.
type URLSigner interface {
	Bucket() string
	SignedURL(ctx context.Context, name string, ttl time.Duration) (string, error)
}

type Config struct {
	TopK         int
	SignedURLTTL time.Duration
}

type Assembler struct {
	embedder embedding.Embedder
	index    qdrant.VectorIndex
	sources  SourceLookup
	signer   URLSigner
	metrics  *observability.Metrics
	log      *logger.Logger
	tracer   trace.Tracer
	cfg      Config
}

func NewAssembler(embedder embedding.Embedder, index qdrant.VectorIndex, sources SourceLookup, signer URLSigner, metrics *observability.Metrics, log *logger.Logger, cfg Config) *Assembler {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = DefaultSignedURLTTL
	}
	return &Assembler{
		embedder: embedder,
		index:    index,
		sources:  sources,
		signer:   signer,
		metrics:  metrics,
		log:      log.With("service", "RetrievalAssembler"),
		tracer:   observability.Tracer("retrieval"),
		cfg:      cfg,
	}
}

// BuildPrompt embeds query, fetches the topK nearest chunks and returns the
// prompt with one reference per chunk, in the index's rank order. topK <= 0
// uses the configured default.
func (a *Assembler) BuildPrompt(ctx context.Context, query string, topK int) (string, []Reference, error) {
	start := time.Now()
	defer func() { a.metrics.ObserveRetrieval(time.Since(start)) }()

	if topK <= 0 {
		topK = a.cfg.TopK
	}
	ctx, span := a.tracer.Start(ctx, "retrieval.build_prompt", trace.WithAttributes(attribute.Int("top_k", topK)))
	defer span.End()

	prompt, refs, err := a.buildPrompt(ctx, query, topK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", nil, err
	}
	span.SetAttributes(attribute.Int("references", len(refs)))
	return prompt, refs, nil
}

func (a *Assembler) buildPrompt(ctx context.Context, query string, topK int) (string, []Reference, error) {
	query = strings.TrimSpace(Sanitize(query))
	if query == "" {
		return "", nil, ErrEmptyQuery
	}

	vecs, err := a.embedder.Embed(ctx, []string{query})
	a.metrics.ObserveCollaborator(ingestion.CollaboratorEmbedding, err)
	if err != nil {
		return "", nil, ingestion.Collaborator(ingestion.CollaboratorEmbedding, "embed query", err)
	}
	if len(vecs) != 1 {
		return "", nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(vecs))
	}

	matches, err := a.index.Search(ctx, vecs[0], topK)
	a.metrics.ObserveCollaborator(ingestion.CollaboratorVectorIndex, err)
	if err != nil {
		err = ingestion.Collaborator(ingestion.CollaboratorVectorIndex, "search", err)
		var opErr *qdrant.OperationError
		if errors.As(err, &opErr) && opErr.Unavailable() {
			a.log.Error("Vector index unreachable", "code", opErr.Code, "status", opErr.StatusCode, "error", err)
			return "", nil, fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
		}
		return "", nil, err
	}

	sources := a.lookupSources(ctx, matches)
	refs := make([]Reference, 0, len(matches))
	blocks := make([]contextBlock, 0, len(matches))
	for i, m := range matches {
		src := sources[m.ID]
		ref := Reference{
			Label:    label(i),
			Source:   src,
			FileName: fileName(src),
			Page:     payloadPage(m.Payload),
		}
		ref.URL = a.signedURL(ctx, ref)
		refs = append(refs, ref)
		text, _ := m.Payload["text"].(string)
		blocks = append(blocks, contextBlock{Label: ref.Label, Text: text})
	}
	return renderPrompt(query, blocks), refs, nil
}

// lookupSources resolves all match ids in one round trip. On failure every
// source is unknown.
func (a *Assembler) lookupSources(ctx context.Context, matches []qdrant.Match) map[string]string {
	out := make(map[string]string, len(matches))
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
		out[m.ID] = unknownSource
	}
	if len(ids) == 0 {
		return out
	}
	found, err := a.sources.LookupSources(dbctx.Context{Ctx: ctx}, ids)
	a.metrics.ObserveCollaborator(ingestion.CollaboratorRelational, err)
	if err != nil {
		a.log.Warn("Source lookup failed, labeling sources unknown", "chunks", len(ids), "error", err)
		return out
	}
	for id, src := range found {
		if strings.TrimSpace(src) != "" {
			out[id] = src
		}
	}
	return out
}

// signedURL returns "" when no link can be produced; the reference then
// names the file only.
func (a *Assembler) signedURL(ctx context.Context, ref Reference) string {
	if a.signer == nil || ref.Source == unknownSource {
		return ""
	}
	bucket, name, err := gcp.ParseGCSURI(ref.Source)
	if err == nil && bucket != a.signer.Bucket() {
		err = fmt.Errorf("source bucket %s is not %s", bucket, a.signer.Bucket())
	}
	var url string
	if err == nil {
		url, err = a.signer.SignedURL(ctx, name, a.cfg.SignedURLTTL)
	}
	if err != nil {
		a.log.Warn("Reference link unavailable, using file name", "label", ref.Label, "source", ref.Source, "error", err)
		a.metrics.IncReferenceFailure()
		return ""
	}
	return url
}

// payloadPage reads the page from a point payload, which arrives as a JSON
// number from the index and as an int from in-process callers.
func payloadPage(payload map[string]any) *int {
	var n int
	switch v := payload["page"].(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case float64:
		if v != math.Trunc(v) {
			return nil
		}
		n = int(v)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return nil
		}
		n = int(i)
	default:
		return nil
	}
	if n <= 0 {
		return nil
	}
	return &n
}
