package ingestflow

import (
	"testing"

	"github.com/stretchr/testify/mock"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	types "github.com/yungbote/docrag-backend/internal/domain"
)

const testURI = "gs://bucket/report.pdf"

func newTestEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()

	wfs := &Workflows{}
	env.RegisterWorkflowWithOptions(wfs.Scan, workflow.RegisterOptions{Name: ScanWorkflowName})
	env.RegisterWorkflowWithOptions(wfs.OCR, workflow.RegisterOptions{Name: OCRWorkflowName})
	env.RegisterWorkflowWithOptions(wfs.ChunkEmbed, workflow.RegisterOptions{Name: ChunkEmbedWorkflowName})

	acts := &Activities{}
	env.RegisterActivityWithOptions(acts.Scan, activity.RegisterOptions{Name: ActivityScan})
	env.RegisterActivityWithOptions(acts.MarkOCRPending, activity.RegisterOptions{Name: ActivityMarkOCRPending})
	env.RegisterActivityWithOptions(acts.SubmitOCR, activity.RegisterOptions{Name: ActivitySubmitOCR})
	env.RegisterActivityWithOptions(acts.MarkOCRDone, activity.RegisterOptions{Name: ActivityMarkOCRDone})
	env.RegisterActivityWithOptions(acts.ChunkEmbed, activity.RegisterOptions{Name: ActivityChunkEmbed})
	return env
}

func TestOCRWorkflowRunsOCRAndHandsOff(t *testing.T) {
	env := newTestEnv(t)
	env.OnActivity(ActivityMarkOCRPending, mock.Anything, testURI).
		Return(OCRProgress{State: types.StateOCRPending, CurrentURI: testURI}, nil).Once()
	env.OnActivity(ActivitySubmitOCR, mock.Anything, testURI).
		Return("output/report.pdf/", nil).Once()
	env.OnActivity(ActivityMarkOCRDone, mock.Anything, testURI, "output/report.pdf/").
		Return(OCRProgress{State: types.StateOCRDone, CurrentURI: "gs://bucket/ocr_done/report.pdf"}, nil).Once()
	env.OnWorkflow(ChunkEmbedWorkflowName, mock.Anything, ChunkEmbedInput{
		OutputPrefix: "output/report.pdf/",
		SourceURI:    "gs://bucket/ocr_done/report.pdf",
	}).Return(ChunkEmbedResult{ChunkCount: 2}, nil).Once()

	env.ExecuteWorkflow(OCRWorkflowName, OCRInput{SourceURI: testURI})
	if !env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	var res OCRResult
	if err := env.GetWorkflowResult(&res); err != nil {
		t.Fatalf("result: %v", err)
	}
	if !res.ChunkEmbedStarted || res.OutputPrefix != "output/report.pdf/" || res.CurrentURI != "gs://bucket/ocr_done/report.pdf" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestOCRWorkflowSkipsProcessedDocument(t *testing.T) {
	env := newTestEnv(t)
	env.OnActivity(ActivityMarkOCRPending, mock.Anything, testURI).
		Return(OCRProgress{State: types.StateProcessed, CurrentURI: "gs://bucket/processed/report.pdf"}, nil).Once()

	env.ExecuteWorkflow(OCRWorkflowName, OCRInput{SourceURI: testURI})
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	var res OCRResult
	if err := env.GetWorkflowResult(&res); err != nil {
		t.Fatalf("result: %v", err)
	}
	if res.ChunkEmbedStarted {
		t.Fatalf("processed document should not be re-indexed")
	}
}

func TestOCRWorkflowResumesAfterOCRDone(t *testing.T) {
	env := newTestEnv(t)
	env.OnActivity(ActivityMarkOCRPending, mock.Anything, testURI).
		Return(OCRProgress{
			State:        types.StateOCRDone,
			CurrentURI:   "gs://bucket/ocr_done/report.pdf",
			OutputPrefix: "output/report.pdf/",
		}, nil).Once()
	env.OnWorkflow(ChunkEmbedWorkflowName, mock.Anything, mock.Anything).
		Return(ChunkEmbedResult{ChunkCount: 2}, nil).Once()

	env.ExecuteWorkflow(OCRWorkflowName, OCRInput{SourceURI: testURI})
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	var res OCRResult
	if err := env.GetWorkflowResult(&res); err != nil {
		t.Fatalf("result: %v", err)
	}
	if !res.ChunkEmbedStarted || res.OutputPrefix != "output/report.pdf/" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestChunkEmbedWorkflowReportsCount(t *testing.T) {
	env := newTestEnv(t)
	in := ChunkEmbedInput{OutputPrefix: "output/report.pdf/", SourceURI: "gs://bucket/ocr_done/report.pdf"}
	env.OnActivity(ActivityChunkEmbed, mock.Anything, in).Return(ChunkEmbedResult{ChunkCount: 7}, nil).Once()

	env.ExecuteWorkflow(ChunkEmbedWorkflowName, in)
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	var out ChunkEmbedResult
	if err := env.GetWorkflowResult(&out); err != nil || out.ChunkCount != 7 {
		t.Fatalf("result: out=%+v err=%v", out, err)
	}
}

func TestChunkEmbedWorkflowRejectsEmptyInput(t *testing.T) {
	env := newTestEnv(t)
	env.ExecuteWorkflow(ChunkEmbedWorkflowName, ChunkEmbedInput{})
	if env.GetWorkflowError() == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestScanWorkflowRunsScanActivity(t *testing.T) {
	env := newTestEnv(t)
	env.OnActivity(ActivityScan, mock.Anything).Return(ScanResult{Listed: 3, Dispatched: 2, Skipped: 1}, nil).Once()

	env.ExecuteWorkflow(ScanWorkflowName)
	var out ScanResult
	if err := env.GetWorkflowResult(&out); err != nil || out.Dispatched != 2 {
		t.Fatalf("result: out=%+v err=%v", out, err)
	}
}
