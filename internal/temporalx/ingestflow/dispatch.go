package ingestflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"

	types "github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

// Starter is the slice of the Temporal client used to start workflows.
type Starter interface {
	ExecuteWorkflow(ctx context.Context, options temporalsdkclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (temporalsdkclient.WorkflowRun, error)
}

// Dispatcher publishes OCR and chunk/embed units. Starting a document whose
// unit is already running, or already succeeded, is a no-op; a failed unit
// may be started again.
type Dispatcher struct {
	Client    Starter
	TaskQueue string
	Log       *logger.Logger
}

func (d *Dispatcher) DispatchOCR(ctx context.Context, uri string) error {
	return d.start(ctx, OCRWorkflowID(uri), OCRWorkflowName, OCRInput{SourceURI: uri})
}

// DispatchChunkEmbed restarts indexing for a document whose OCR output is
// already committed.
func (d *Dispatcher) DispatchChunkEmbed(ctx context.Context, doc *types.PipelineDocument) error {
	if doc == nil || doc.OutputPrefix == "" {
		return fmt.Errorf("dispatch chunk/embed: document with output prefix required")
	}
	return d.start(ctx, ChunkEmbedWorkflowID(doc.SourceURI), ChunkEmbedWorkflowName, ChunkEmbedInput{
		OutputPrefix: doc.OutputPrefix,
		SourceURI:    doc.CurrentURI,
	})
}

func (d *Dispatcher) start(ctx context.Context, id, name string, input interface{}) error {
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                                       id,
		TaskQueue:                                d.TaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	run, err := d.Client.ExecuteWorkflow(ctx, opts, name, input)
	if err != nil {
		if isAlreadyStarted(err) {
			d.Log.Info("Workflow already exists", "workflow", name, "workflow_id", id)
			return nil
		}
		return fmt.Errorf("start %s workflow %s: %w", name, id, err)
	}
	d.Log.Info("Workflow started", "workflow", name, "workflow_id", run.GetID(), "run_id", run.GetRunID())
	return nil
}

// ValidateCron parses a five-field cron expression and returns its next fire
// time after now.
func ValidateCron(spec string, now time.Time) (time.Time, error) {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid scan cron %q: %w", spec, err)
	}
	next := expr.Next(now)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("scan cron %q never fires", spec)
	}
	return next, nil
}

// EnsureScanSchedule starts the cron-scheduled scan workflow unless one is
// already running.
func EnsureScanSchedule(ctx context.Context, c Starter, taskQueue, cron string, log *logger.Logger) error {
	next, err := ValidateCron(cron, time.Now())
	if err != nil {
		return err
	}
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                                       ScanScheduleWorkflowID,
		TaskQueue:                                taskQueue,
		CronSchedule:                             cron,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	if _, err := c.ExecuteWorkflow(ctx, opts, ScanWorkflowName); err != nil {
		if isAlreadyStarted(err) {
			log.Info("Scan schedule already registered", "cron", cron, "next_run", next)
			return nil
		}
		return fmt.Errorf("register scan schedule: %w", err)
	}
	log.Info("Scan schedule registered", "cron", cron, "next_run", next)
	return nil
}

func isAlreadyStarted(err error) bool {
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	return errors.As(err, &started)
}
