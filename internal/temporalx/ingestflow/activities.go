package ingestflow

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"

	types "github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/ingestion"
	"github.com/yungbote/docrag-backend/internal/ingestion/blobstate"
	"github.com/yungbote/docrag-backend/internal/ingestion/scanner"
	"github.com/yungbote/docrag-backend/internal/observability"
	"github.com/yungbote/docrag-backend/internal/platform/gcp"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

type DocumentStates interface {
	Lookup(ctx context.Context, uri string) (*types.PipelineDocument, error)
	Advance(ctx context.Context, uri string, to types.DocumentState, details map[string]any) (*types.PipelineDocument, error)
	RecordOutputPrefix(ctx context.Context, uri, prefix string) error
}

type Scanner interface {
	Scan(ctx context.Context) (scanner.Result, error)
}

type ChunkRunner interface {
	Run(ctx context.Context, outputPrefix, sourceURI string) (int, error)
}

type Activities struct {
	Log     *logger.Logger
	States  DocumentStates
	Scanner Scanner
	OCR     gcp.OCR
	Chunks  ChunkRunner
	Metrics *observability.Metrics
}

func (a *Activities) Scan(ctx context.Context) (ScanResult, error) {
	res, err := a.Scanner.Scan(ctx)
	out := ScanResult{Listed: res.Listed, Dispatched: res.Dispatched, Skipped: res.Skipped, Failed: res.Failed}
	if err != nil && res.Dispatched > 0 {
		// Partial success: failed documents stay discovered and the next
		// scan picks them up.
		a.Log.Warn("Scan finished with dispatch failures", "failed", res.Failed, "error", err)
		return out, nil
	}
	return out, err
}

// MarkOCRPending claims the document for OCR. Documents already past OCR
// report their state so the workflow can resume.
func (a *Activities) MarkOCRPending(ctx context.Context, uri string) (OCRProgress, error) {
	doc, err := a.States.Lookup(ctx, uri)
	if err != nil {
		return OCRProgress{}, err
	}
	if doc != nil && (doc.State == types.StateOCRDone || doc.State == types.StateProcessed) {
		return progressOf(doc), nil
	}
	doc, err = a.advance(ctx, uri, types.StateOCRPending, nil)
	if err != nil {
		return OCRProgress{}, err
	}
	return progressOf(doc), nil
}

// SubmitOCR runs the provider batch job on the document's current blob and
// returns the output prefix. The provider call is bounded by its own timeout.
func (a *Activities) SubmitOCR(ctx context.Context, uri string) (string, error) {
	doc, err := a.States.Lookup(ctx, uri)
	if err != nil {
		return "", err
	}
	current := uri
	if doc != nil {
		current = doc.CurrentURI
	}
	res, err := a.OCR.Submit(ctx, current)
	a.Metrics.ObserveCollaborator(ingestion.CollaboratorOCR, err)
	if err != nil {
		return "", ingestion.Collaborator(ingestion.CollaboratorOCR, "submit", err)
	}
	if err := a.States.RecordOutputPrefix(ctx, uri, res.OutputPrefix); err != nil {
		return "", err
	}
	return res.OutputPrefix, nil
}

func (a *Activities) MarkOCRDone(ctx context.Context, uri, outputPrefix string) (OCRProgress, error) {
	doc, err := a.advance(ctx, uri, types.StateOCRDone, map[string]any{"output_prefix": outputPrefix})
	if err != nil {
		return OCRProgress{}, err
	}
	p := progressOf(doc)
	p.OutputPrefix = outputPrefix
	return p, nil
}

func (a *Activities) ChunkEmbed(ctx context.Context, in ChunkEmbedInput) (ChunkEmbedResult, error) {
	n, err := a.Chunks.Run(ctx, in.OutputPrefix, in.SourceURI)
	return ChunkEmbedResult{ChunkCount: n}, err
}

// advance treats a duplicate blob as a committed transition and invalid
// transitions as non-retryable.
func (a *Activities) advance(ctx context.Context, uri string, to types.DocumentState, details map[string]any) (*types.PipelineDocument, error) {
	doc, err := a.States.Advance(ctx, uri, to, details)
	switch {
	case err == nil:
		a.Metrics.IncTransition(string(to))
		return doc, nil
	case blobstate.IsDuplicateRisk(err) && doc != nil:
		a.Metrics.IncTransition(string(to))
		a.Metrics.IncDuplicateRisk()
		return doc, nil
	case errors.Is(err, blobstate.ErrInvalidTransition):
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidTransition, err)
	default:
		return nil, fmt.Errorf("advance %s to %s: %w", uri, to, err)
	}
}

func progressOf(doc *types.PipelineDocument) OCRProgress {
	return OCRProgress{State: doc.State, CurrentURI: doc.CurrentURI, OutputPrefix: doc.OutputPrefix}
}
