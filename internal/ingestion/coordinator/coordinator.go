// Package coordinator drives parsed chunks through embedding and the two
// chunk stores, then marks the document processed.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/yungbote/docrag-backend/internal/data/repos"
	types "github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/ingestion"
	"github.com/yungbote/docrag-backend/internal/ingestion/blobstate"
	"github.com/yungbote/docrag-backend/internal/ingestion/ocrparse"
	"github.com/yungbote/docrag-backend/internal/observability"
	"github.com/yungbote/docrag-backend/internal/pkg/dbctx"
	"github.com/yungbote/docrag-backend/internal/platform/embedding"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
	"github.com/yungbote/docrag-backend/internal/platform/qdrant"
)

const DefaultBatchSize = 64

// OutputStore is the read side of the blob store holding OCR output.
type OutputStore interface {
	List(ctx context.Context, prefix, suffix string) ([]string, error)
	Read(ctx context.Context, name string) ([]byte, error)
}

// DocumentStates resolves and advances document state records.
type DocumentStates interface {
	Lookup(ctx context.Context, uri string) (*types.PipelineDocument, error)
	Advance(ctx context.Context, uri string, to types.DocumentState, details map[string]any) (*types.PipelineDocument, error)
}

type Deps struct {
	Outputs  OutputStore
	Parser   ocrparse.Parser
	Embedder embedding.Embedder
	Index    qdrant.VectorIndex
	Chunks   repos.ChunkRepo
	Markers  repos.BatchMarkerRepo
	States   DocumentStates
	Metrics  *observability.Metrics
	Log      *logger.Logger
}

type Coordinator struct {
	outputs   OutputStore
	parser    ocrparse.Parser
	embedder  embedding.Embedder
	index     qdrant.VectorIndex
	chunks    repos.ChunkRepo
	markers   repos.BatchMarkerRepo
	states    DocumentStates
	metrics   *observability.Metrics
	log       *logger.Logger
	tracer    trace.Tracer
	batchSize int
}

func New(deps Deps, batchSize int) (*Coordinator, error) {
	switch {
	case deps.Outputs == nil:
		return nil, errors.New("coordinator: output store required")
	case deps.Embedder == nil:
		return nil, errors.New("coordinator: embedder required")
	case deps.Index == nil:
		return nil, errors.New("coordinator: vector index required")
	case deps.Chunks == nil || deps.Markers == nil:
		return nil, errors.New("coordinator: chunk and marker repos required")
	case deps.States == nil:
		return nil, errors.New("coordinator: document states required")
	case deps.Log == nil:
		return nil, errors.New("coordinator: logger required")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	parser := deps.Parser
	if parser.NewID == nil {
		parser = ocrparse.New(parser.MinParagraphLen, nil)
	}
	return &Coordinator{
		outputs:   deps.Outputs,
		parser:    parser,
		embedder:  deps.Embedder,
		index:     deps.Index,
		chunks:    deps.Chunks,
		markers:   deps.Markers,
		states:    deps.States,
		metrics:   deps.Metrics,
		log:       deps.Log.With("service", "IngestionCoordinator"),
		tracer:    observability.Tracer("ingestion/coordinator"),
		batchSize: batchSize,
	}, nil
}

// Run indexes every chunk found under outputPrefix for the document at
// sourceURI, then advances the document to processed. Any batch failure is
// returned and leaves the document where it was.
func (c *Coordinator) Run(ctx context.Context, outputPrefix, sourceURI string) (int, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.run", trace.WithAttributes(
		attribute.String("output_prefix", outputPrefix),
		attribute.String("source_uri", sourceURI),
	))
	defer span.End()

	n, err := c.run(ctx, outputPrefix, sourceURI)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return n, err
	}
	span.SetAttributes(attribute.Int("chunk_count", n))
	return n, nil
}

func (c *Coordinator) run(ctx context.Context, outputPrefix, sourceURI string) (int, error) {
	doc, err := c.states.Lookup(ctx, sourceURI)
	if err != nil {
		return 0, err
	}
	// Ids are keyed by the discovery URI so they survive blob moves.
	idSource := sourceURI
	if doc != nil {
		idSource = doc.SourceURI
	}
	processedURI, err := blobstate.TargetURI(sourceURI, types.StateProcessed.Folder())
	if err != nil {
		return 0, err
	}

	log := c.log.With("source_uri", sourceURI, "output_prefix", outputPrefix)
	total := 0
	batchIndex := 0
	batch := make([]*types.Chunk, 0, c.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.writeBatch(ctx, processedURI, batchIndex, batch); err != nil {
			return fmt.Errorf("batch %d: %w", batchIndex, err)
		}
		total += len(batch)
		batchIndex++
		batch = make([]*types.Chunk, 0, c.batchSize)
		return nil
	}

	for chunk, err := range c.Chunks(ctx, outputPrefix, idSource) {
		if err != nil {
			return total, err
		}
		batch = append(batch, chunk)
		if len(batch) == c.batchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}

	_, err = c.states.Advance(ctx, sourceURI, types.StateProcessed, map[string]any{"chunk_count": total})
	switch {
	case err == nil:
		c.metrics.IncTransition(string(types.StateProcessed))
	case blobstate.IsDuplicateRisk(err):
		// The state is committed and the canonical copy is in place.
		c.metrics.IncTransition(string(types.StateProcessed))
		c.metrics.IncDuplicateRisk()
	default:
		return total, err
	}
	log.Info("Document indexed", "chunk_count", total, "batches", batchIndex)
	return total, nil
}

// Chunks lazily parses every OCR output file under outputPrefix in listing
// order. A file that fails to parse is logged and skipped; listing or read
// failures end the sequence with an error. Each call starts from the first
// file.
func (c *Coordinator) Chunks(ctx context.Context, outputPrefix, source string) iter.Seq2[*types.Chunk, error] {
	return func(yield func(*types.Chunk, error) bool) {
		names, err := c.outputs.List(ctx, outputPrefix, ".json")
		if err != nil {
			yield(nil, ingestion.Collaborator(ingestion.CollaboratorBlobStore, "list ocr output", err))
			return
		}
		for _, name := range names {
			raw, err := c.outputs.Read(ctx, name)
			if err != nil {
				yield(nil, ingestion.Collaborator(ingestion.CollaboratorBlobStore, "read ocr output", err))
				return
			}
			chunks, err := c.parser.ParseFile(source, name, raw)
			if err != nil {
				c.log.Warn("Skipping unparseable OCR output", "blob", name, "error", err)
				c.metrics.IncParseFailure()
				continue
			}
			for _, chunk := range chunks {
				if !yield(chunk, nil) {
					return
				}
			}
		}
	}
}

// writeBatch embeds one batch and writes it to the vector index, then the
// relational store. A pending marker covers the window between the two.
func (c *Coordinator) writeBatch(ctx context.Context, source string, index int, batch []*types.Chunk) (err error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.batch", trace.WithAttributes(
		attribute.Int("batch_index", index),
		attribute.Int("batch_size", len(batch)),
	))
	start := time.Now()
	defer func() {
		kinds := make([]string, 0, len(batch))
		for _, ch := range batch {
			kinds = append(kinds, string(ch.Type))
		}
		c.metrics.ObserveBatch(kinds, time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	texts := make([]string, len(batch))
	for i, ch := range batch {
		texts[i] = ch.Text
	}
	vectors, err := c.embedder.Embed(ctx, texts)
	c.metrics.ObserveCollaborator(ingestion.CollaboratorEmbedding, err)
	if errors.Is(err, ErrEmbeddingCountMismatch) {
		return err
	}
	if err != nil {
		return ingestion.Collaborator(ingestion.CollaboratorEmbedding, "embed", err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("%w: sent %d texts, got %d vectors", ErrEmbeddingCountMismatch, len(batch), len(vectors))
	}

	points := make([]qdrant.Point, len(batch))
	ids := make([]string, len(batch))
	for i, ch := range batch {
		ids[i] = ch.ID
		payload := map[string]any{
			"type":   string(ch.Type),
			"text":   ch.Text,
			"source": source,
		}
		if ch.Page != nil {
			payload["page"] = *ch.Page
		}
		points[i] = qdrant.Point{ID: ch.ID, Vector: vectors[i], Payload: payload}
	}
	err = c.index.Upsert(ctx, points)
	c.metrics.ObserveCollaborator(ingestion.CollaboratorVectorIndex, err)
	if err != nil {
		return ingestion.Collaborator(ingestion.CollaboratorVectorIndex, "upsert", err)
	}

	dbc := dbctx.Context{Ctx: ctx}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode batch marker chunk ids: %w", err)
	}
	marker := &types.BatchMarker{
		ID:         uuid.NewString(),
		Source:     source,
		BatchIndex: index,
		ChunkIDs:   datatypes.JSON(idsJSON),
	}
	if err := c.markers.Begin(dbc, marker); err != nil {
		c.log.Error("Batch indexed without marker", "source", source, "batch_index", index, "chunk_ids", ids, "error", err)
		c.metrics.IncConsistencyGap(GapStageMarker)
		return &ConsistencyGapError{
			Stage: GapStageMarker,
			Err:   ingestion.Collaborator(ingestion.CollaboratorRelational, "begin batch marker", err),
		}
	}
	if err := c.chunks.InsertChunks(dbc, source, batch); err != nil {
		c.log.Error("Batch indexed but not stored", "source", source, "batch_index", index, "marker_id", marker.ID, "error", err)
		c.metrics.IncConsistencyGap(GapStageRelational)
		return &ConsistencyGapError{
			MarkerID: marker.ID,
			Stage:    GapStageRelational,
			Err:      ingestion.Collaborator(ingestion.CollaboratorRelational, "insert chunks", err),
		}
	}
	if err := c.markers.Clear(dbc, marker.ID); err != nil {
		// Both stores hold the batch; only the marker is stale.
		c.log.Warn("Failed to clear batch marker", "marker_id", marker.ID, "error", err)
	}
	return nil
}
