// Package ingestflow runs the ingestion pipeline as Temporal workflows: a
// cron scan, one OCR workflow per document and one chunk/embed workflow per
// document, started fire-and-forget by the OCR workflow.
package ingestflow

import (
	"errors"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	types "github.com/yungbote/docrag-backend/internal/domain"
)

type Workflows struct {
	Timeouts Timeouts
}

func (w *Workflows) activityCtx(ctx workflow.Context, timeout time.Duration) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        10 * time.Second,
			BackoffCoefficient:     2,
			MaximumInterval:        5 * time.Minute,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []string{ErrTypeInvalidTransition},
		},
	})
}

// Scan runs one discovery pass. It is started with a cron schedule.
func (w *Workflows) Scan(ctx workflow.Context) (ScanResult, error) {
	t := w.Timeouts.withDefaults()
	var out ScanResult
	err := workflow.ExecuteActivity(w.activityCtx(ctx, t.Scan), ActivityScan).Get(ctx, &out)
	return out, err
}

// OCR moves one document through OCR and hands it to chunk/embed without
// waiting for it. A redelivered document resumes from its committed state.
func (w *Workflows) OCR(ctx workflow.Context, in OCRInput) (OCRResult, error) {
	t := w.Timeouts.withDefaults()
	log := workflow.GetLogger(ctx)
	res := OCRResult{SourceURI: in.SourceURI}
	if in.SourceURI == "" {
		return res, temporal.NewNonRetryableApplicationError("source uri required", ErrTypeInvalidTransition, nil)
	}

	stateCtx := w.activityCtx(ctx, t.StateStep)
	var progress OCRProgress
	if err := workflow.ExecuteActivity(stateCtx, ActivityMarkOCRPending, in.SourceURI).Get(ctx, &progress); err != nil {
		return res, err
	}
	res.CurrentURI = progress.CurrentURI
	res.OutputPrefix = progress.OutputPrefix

	switch progress.State {
	case types.StateProcessed:
		log.Info("Document already processed", "source_uri", in.SourceURI)
		return res, nil
	case types.StateOCRPending:
		if err := workflow.ExecuteActivity(w.activityCtx(ctx, t.OCRSubmit), ActivitySubmitOCR, in.SourceURI).Get(ctx, &res.OutputPrefix); err != nil {
			return res, err
		}
		if err := workflow.ExecuteActivity(stateCtx, ActivityMarkOCRDone, in.SourceURI, res.OutputPrefix).Get(ctx, &progress); err != nil {
			return res, err
		}
		res.CurrentURI = progress.CurrentURI
	case types.StateOCRDone:
		// OCR finished on an earlier attempt; only the handoff is left.
	default:
		return res, temporal.NewNonRetryableApplicationError("unexpected document state "+string(progress.State), ErrTypeInvalidTransition, nil)
	}

	childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
		WorkflowID:        ChunkEmbedWorkflowID(in.SourceURI),
		ParentClosePolicy: enumspb.PARENT_CLOSE_POLICY_ABANDON,
	})
	child := workflow.ExecuteChildWorkflow(childCtx, ChunkEmbedWorkflowName, ChunkEmbedInput{
		OutputPrefix: res.OutputPrefix,
		SourceURI:    res.CurrentURI,
	})
	var exec workflow.Execution
	if err := child.GetChildWorkflowExecution().Get(ctx, &exec); err != nil {
		if temporal.IsWorkflowExecutionAlreadyStartedError(err) {
			log.Info("Chunk/embed already dispatched", "source_uri", in.SourceURI)
			return res, nil
		}
		return res, err
	}
	res.ChunkEmbedStarted = true
	log.Info("Chunk/embed dispatched", "source_uri", in.SourceURI, "workflow_id", exec.ID)
	return res, nil
}

// ChunkEmbed indexes one document's OCR output.
func (w *Workflows) ChunkEmbed(ctx workflow.Context, in ChunkEmbedInput) (ChunkEmbedResult, error) {
	t := w.Timeouts.withDefaults()
	var out ChunkEmbedResult
	if in.OutputPrefix == "" || in.SourceURI == "" {
		return out, temporal.NewNonRetryableApplicationError("output prefix and source uri required", ErrTypeInvalidTransition, errors.New("missing input"))
	}
	err := workflow.ExecuteActivity(w.activityCtx(ctx, t.ChunkEmbed), ActivityChunkEmbed, in).Get(ctx, &out)
	return out, err
}
