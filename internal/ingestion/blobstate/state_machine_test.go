package blobstate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/yungbote/docrag-backend/internal/data/repos"
	"github.com/yungbote/docrag-backend/internal/data/repos/testutil"
	types "github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/ingestion/ingesttest"
)

func newTestStateMachine(t *testing.T, store *ingesttest.BlobStore) *StateMachine {
	t.Helper()
	log := testutil.Logger(t)
	db := testutil.DB(t)
	return NewStateMachine(NewTracker(store, log), repos.NewDocumentRepo(db, log), log)
}

func TestStateMachineLifecycle(t *testing.T) {
	ctx := context.Background()
	store := ingesttest.NewBlobStore("docs")
	store.Put("report.pdf", []byte("%PDF"))
	sm := newTestStateMachine(t, store)

	doc, created, err := sm.Register(ctx, "gs://docs/report.pdf")
	if err != nil || !created {
		t.Fatalf("Register: created=%v err=%v", created, err)
	}
	if doc.State != types.StateDiscovered {
		t.Fatalf("Register state: %s", doc.State)
	}
	if _, created, err = sm.Register(ctx, "gs://docs/report.pdf"); err != nil || created {
		t.Fatalf("second Register: created=%v err=%v", created, err)
	}

	doc, err = sm.Advance(ctx, "gs://docs/report.pdf", types.StateOCRPending, nil)
	if err != nil {
		t.Fatalf("Advance(ocr_pending): %v", err)
	}
	if doc.CurrentURI != "gs://docs/report.pdf" || !store.Has("report.pdf") {
		t.Fatalf("ocr_pending should not move the blob: %+v", doc)
	}

	doc, err = sm.Advance(ctx, "gs://docs/report.pdf", types.StateOCRDone, map[string]any{"output_prefix": "output/report.pdf/"})
	if err != nil {
		t.Fatalf("Advance(ocr_done): %v", err)
	}
	if doc.CurrentURI != "gs://docs/ocr_done/report.pdf" || doc.MovePending {
		t.Fatalf("unexpected record after ocr_done: %+v", doc)
	}
	if store.Has("report.pdf") || !store.Has("ocr_done/report.pdf") {
		t.Fatalf("blob not moved to ocr_done")
	}

	// Lookup by the current location resolves the same record.
	doc, err = sm.Advance(ctx, "gs://docs/ocr_done/report.pdf", types.StateProcessed, map[string]any{"chunk_count": 2})
	if err != nil {
		t.Fatalf("Advance(processed): %v", err)
	}
	if doc.SourceURI != "gs://docs/report.pdf" || doc.CurrentURI != "gs://docs/processed/report.pdf" {
		t.Fatalf("unexpected record after processed: %+v", doc)
	}
	if !store.Has("processed/report.pdf") || store.Has("ocr_done/report.pdf") {
		t.Fatalf("blob not moved to processed")
	}

	stored, err := sm.Lookup(ctx, "gs://docs/processed/report.pdf")
	if err != nil || stored == nil {
		t.Fatalf("Lookup: doc=%v err=%v", stored, err)
	}
	var details map[string]any
	if err := json.Unmarshal(stored.Details, &details); err != nil {
		t.Fatalf("details: %v", err)
	}
	if details["output_prefix"] != "output/report.pdf/" || details["chunk_count"] != float64(2) {
		t.Fatalf("details not merged: %v", details)
	}
}

func TestStateMachineRejectsSkippedState(t *testing.T) {
	store := ingesttest.NewBlobStore("docs")
	store.Put("report.pdf", []byte("%PDF"))
	sm := newTestStateMachine(t, store)

	_, err := sm.Advance(context.Background(), "gs://docs/report.pdf", types.StateProcessed, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if !store.Has("report.pdf") {
		t.Fatalf("rejected transition must not move the blob")
	}
}

func TestStateMachineDuplicateRiskThenRetry(t *testing.T) {
	ctx := context.Background()
	store := ingesttest.NewBlobStore("docs")
	store.Put("report.pdf", []byte("%PDF"))
	sm := newTestStateMachine(t, store)

	if _, err := sm.Advance(ctx, "gs://docs/report.pdf", types.StateOCRPending, nil); err != nil {
		t.Fatalf("Advance(ocr_pending): %v", err)
	}

	store.FailDelete = func(string) error { return errors.New("transient") }
	doc, err := sm.Advance(ctx, "gs://docs/report.pdf", types.StateOCRDone, nil)
	if !IsDuplicateRisk(err) {
		t.Fatalf("expected duplicate risk, got %v", err)
	}
	if doc == nil || doc.State != types.StateOCRDone || doc.CurrentURI != "gs://docs/ocr_done/report.pdf" || !doc.MovePending {
		t.Fatalf("state should be committed with move pending: %+v", doc)
	}

	store.FailDelete = nil
	doc, err = sm.Advance(ctx, "gs://docs/report.pdf", types.StateOCRDone, nil)
	if err != nil {
		t.Fatalf("retry Advance: %v", err)
	}
	if doc.MovePending {
		t.Fatalf("retry should clear the pending move")
	}
	if store.Has("report.pdf") || !store.Has("ocr_done/report.pdf") {
		t.Fatalf("stale source should be gone after retry")
	}
}

func TestStateMachineRetryAfterSourceAlreadyGone(t *testing.T) {
	ctx := context.Background()
	store := ingesttest.NewBlobStore("docs")
	store.Put("report.pdf", []byte("%PDF"))
	sm := newTestStateMachine(t, store)

	if _, err := sm.Advance(ctx, "gs://docs/report.pdf", types.StateOCRPending, nil); err != nil {
		t.Fatalf("Advance(ocr_pending): %v", err)
	}
	store.FailDelete = func(string) error { return errors.New("transient") }
	if _, err := sm.Advance(ctx, "gs://docs/report.pdf", types.StateOCRDone, nil); !IsDuplicateRisk(err) {
		t.Fatalf("expected duplicate risk, got %v", err)
	}

	// Someone cleaned up the stale copy out of band.
	store.FailDelete = nil
	if err := store.Delete(ctx, "report.pdf"); err != nil {
		t.Fatalf("manual delete: %v", err)
	}
	doc, err := sm.Advance(ctx, "gs://docs/ocr_done/report.pdf", types.StateOCRDone, nil)
	if err != nil {
		t.Fatalf("retry Advance: %v", err)
	}
	if doc.MovePending {
		t.Fatalf("pending move should be resolved when the target exists")
	}
}
