package ingestflow

import (
	"context"
	"errors"
	"testing"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/docrag-backend/internal/data/repos/testutil"
	types "github.com/yungbote/docrag-backend/internal/domain"
)

type fakeStarter struct {
	opts []temporalsdkclient.StartWorkflowOptions
	args [][]interface{}
	err  error
}

func (f *fakeStarter) ExecuteWorkflow(ctx context.Context, options temporalsdkclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (temporalsdkclient.WorkflowRun, error) {
	f.opts = append(f.opts, options)
	f.args = append(f.args, args)
	if f.err != nil {
		return nil, f.err
	}
	return fakeRun{id: options.ID}, nil
}

type fakeRun struct {
	temporalsdkclient.WorkflowRun
	id string
}

func (r fakeRun) GetID() string    { return r.id }
func (r fakeRun) GetRunID() string { return "run-1" }

func TestDispatchOCRUsesDocumentKeyedWorkflowID(t *testing.T) {
	starter := &fakeStarter{}
	d := &Dispatcher{Client: starter, TaskQueue: "q", Log: testutil.Logger(t)}
	if err := d.DispatchOCR(context.Background(), testURI); err != nil {
		t.Fatalf("DispatchOCR: %v", err)
	}
	if len(starter.opts) != 1 || starter.opts[0].ID != "ocr:"+testURI || starter.opts[0].TaskQueue != "q" {
		t.Fatalf("options: %+v", starter.opts)
	}
}

func TestDispatchOCRTreatsAlreadyStartedAsDone(t *testing.T) {
	starter := &fakeStarter{err: serviceerror.NewWorkflowExecutionAlreadyStarted("exists", "", "")}
	d := &Dispatcher{Client: starter, TaskQueue: "q", Log: testutil.Logger(t)}
	if err := d.DispatchOCR(context.Background(), testURI); err != nil {
		t.Fatalf("duplicate dispatch should be a no-op: %v", err)
	}

	starter.err = errors.New("frontend unavailable")
	if err := d.DispatchOCR(context.Background(), testURI); err == nil {
		t.Fatalf("expected start failure")
	}
}

func TestDispatchChunkEmbedResumesFromCommittedOutput(t *testing.T) {
	starter := &fakeStarter{}
	d := &Dispatcher{Client: starter, TaskQueue: "q", Log: testutil.Logger(t)}
	doc := &types.PipelineDocument{
		SourceURI:    testURI,
		State:        types.StateOCRDone,
		CurrentURI:   "gs://bucket/ocr_done/report.pdf",
		OutputPrefix: "output/report/",
	}
	if err := d.DispatchChunkEmbed(context.Background(), doc); err != nil {
		t.Fatalf("DispatchChunkEmbed: %v", err)
	}
	opts := starter.opts[0]
	if opts.ID != "chunk-embed:"+testURI || opts.WorkflowIDReusePolicy != enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY {
		t.Fatalf("options: %+v", opts)
	}
	in, ok := starter.args[0][0].(ChunkEmbedInput)
	if !ok || in.OutputPrefix != "output/report/" || in.SourceURI != doc.CurrentURI {
		t.Fatalf("input: %+v", starter.args[0])
	}

	doc.OutputPrefix = ""
	if err := d.DispatchChunkEmbed(context.Background(), doc); err == nil {
		t.Fatalf("expected error without output prefix")
	}
	if len(starter.opts) != 1 {
		t.Fatalf("nothing should start without an output prefix")
	}
}

func TestValidateCron(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 7, 0, 0, time.UTC)
	next, err := ValidateCron("*/30 * * * *", now)
	if err != nil {
		t.Fatalf("ValidateCron: %v", err)
	}
	if want := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("next: want=%v got=%v", want, next)
	}
	if _, err := ValidateCron("every half hour", now); err == nil {
		t.Fatalf("expected invalid cron error")
	}
}

func TestEnsureScanScheduleRegistersCron(t *testing.T) {
	starter := &fakeStarter{}
	if err := EnsureScanSchedule(context.Background(), starter, "q", "*/30 * * * *", testutil.Logger(t)); err != nil {
		t.Fatalf("EnsureScanSchedule: %v", err)
	}
	if len(starter.opts) != 1 || starter.opts[0].CronSchedule != "*/30 * * * *" || starter.opts[0].ID != ScanScheduleWorkflowID {
		t.Fatalf("options: %+v", starter.opts)
	}
}
