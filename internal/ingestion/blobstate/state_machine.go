package blobstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"

	"github.com/yungbote/docrag-backend/internal/data/repos"
	types "github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/ingestion"
	"github.com/yungbote/docrag-backend/internal/pkg/dbctx"
	"github.com/yungbote/docrag-backend/internal/platform/gcp"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

var ErrInvalidTransition = errors.New("invalid document state transition")

// StateMachine commits document state first and moves blobs second. The
// committed row names the canonical URI, so a crash between copy and delete
// never leaves doubt about which copy is current.
type StateMachine struct {
	tracker *Tracker
	docs    repos.DocumentRepo
	log     *logger.Logger
}

func NewStateMachine(tracker *Tracker, docs repos.DocumentRepo, log *logger.Logger) *StateMachine {
	return &StateMachine{tracker: tracker, docs: docs, log: log.With("service", "DocumentStateMachine")}
}

// Register records a newly discovered document. It reports false when a
// record already existed, leaving that record untouched.
func (m *StateMachine) Register(ctx context.Context, uri string) (*types.PipelineDocument, bool, error) {
	dbc := dbctx.Context{Ctx: ctx}
	doc := &types.PipelineDocument{
		SourceURI:  uri,
		State:      StateFromURI(uri),
		CurrentURI: uri,
		Details:    datatypes.JSON([]byte("{}")),
	}
	created, err := m.docs.CreateIfMissing(dbc, doc)
	if err != nil {
		return nil, false, ingestion.Collaborator(ingestion.CollaboratorRelational, "register document", err)
	}
	if created {
		return doc, true, nil
	}
	existing, err := m.docs.Get(dbc, uri)
	if err != nil {
		return nil, false, ingestion.Collaborator(ingestion.CollaboratorRelational, "get document", err)
	}
	return existing, false, nil
}

// Lookup finds the record for uri, which may be either the discovery URI or
// the current blob URI.
func (m *StateMachine) Lookup(ctx context.Context, uri string) (*types.PipelineDocument, error) {
	doc, err := m.docs.FindByURI(dbctx.Context{Ctx: ctx}, uri)
	if err != nil {
		return nil, ingestion.Collaborator(ingestion.CollaboratorRelational, "find document", err)
	}
	return doc, nil
}

// Advance moves the document at uri to state to. Details are merged into the
// record's details. Re-advancing to the current state finishes any pending
// move and is otherwise a no-op.
//
// A *DuplicateRiskError is returned together with the committed record; the
// transition itself succeeded.
func (m *StateMachine) Advance(ctx context.Context, uri string, to types.DocumentState, details map[string]any) (*types.PipelineDocument, error) {
	dbc := dbctx.Context{Ctx: ctx}
	doc, err := m.Lookup(ctx, uri)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc, _, err = m.Register(ctx, uri)
		if err != nil {
			return nil, err
		}
	}
	if !doc.State.CanAdvanceTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, doc.State, to, doc.SourceURI)
	}

	if doc.State == to {
		if len(details) > 0 {
			merged, err := mergeDetails(doc.Details, details)
			if err != nil {
				return nil, err
			}
			if err := m.docs.UpdateFields(dbc, doc.SourceURI, map[string]interface{}{"details": merged}); err != nil {
				return nil, ingestion.Collaborator(ingestion.CollaboratorRelational, "update details", err)
			}
			doc.Details = merged
		}
		if !doc.MovePending {
			return doc, nil
		}
		// A previous attempt committed this state but did not finish the move.
		return doc, m.finishMove(ctx, doc, m.previousURI(doc))
	}

	from := doc.CurrentURI
	target := from
	if folder := to.Folder(); folder != "" {
		if target, err = TargetURI(from, folder); err != nil {
			return nil, err
		}
	}

	updates := map[string]interface{}{
		"current_uri":  target,
		"move_pending": target != from,
	}
	if len(details) > 0 {
		merged, err := mergeDetails(doc.Details, details)
		if err != nil {
			return nil, err
		}
		updates["details"] = merged
		doc.Details = merged
	}
	ok, err := m.docs.Transition(dbc, doc.SourceURI, []types.DocumentState{doc.State}, to, updates)
	if err != nil {
		return nil, ingestion.Collaborator(ingestion.CollaboratorRelational, "commit transition", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s changed state concurrently", ErrInvalidTransition, doc.SourceURI)
	}
	m.log.Info("Document advanced", "source_uri", doc.SourceURI, "from_state", doc.State, "to_state", to, "current_uri", target)

	doc.State = to
	doc.CurrentURI = target
	doc.MovePending = target != from
	if !doc.MovePending {
		return doc, nil
	}
	return doc, m.finishMove(ctx, doc, from)
}

func (m *StateMachine) finishMove(ctx context.Context, doc *types.PipelineDocument, from string) error {
	dbc := dbctx.Context{Ctx: ctx}
	if from == "" || from == doc.CurrentURI {
		return m.clearPending(dbc, doc)
	}

	_, err := m.tracker.Move(ctx, from, doc.State.Folder())
	switch {
	case err == nil:
		return m.clearPending(dbc, doc)
	case IsDuplicateRisk(err):
		// The canonical copy is in place; the flag stays set so a retry can
		// remove the stale source.
		return err
	case errors.Is(err, gcp.ErrObjectNotFound):
		exists, existsErr := m.tracker.Exists(ctx, doc.CurrentURI)
		if existsErr != nil {
			return existsErr
		}
		if exists {
			return m.clearPending(dbc, doc)
		}
		return err
	default:
		return err
	}
}

func (m *StateMachine) clearPending(dbc dbctx.Context, doc *types.PipelineDocument) error {
	if err := m.docs.UpdateFields(dbc, doc.SourceURI, map[string]interface{}{"move_pending": false}); err != nil {
		return ingestion.Collaborator(ingestion.CollaboratorRelational, "clear move flag", err)
	}
	doc.MovePending = false
	return nil
}

// previousURI guesses where the blob was before the committed state's move.
func (m *StateMachine) previousURI(doc *types.PipelineDocument) string {
	var prev types.DocumentState
	switch doc.State {
	case types.StateProcessed:
		prev = types.StateOCRDone
	case types.StateOCRDone:
		prev = types.StateDiscovered
	default:
		return ""
	}
	if prev == types.StateDiscovered {
		return doc.SourceURI
	}
	uri, err := TargetURI(doc.CurrentURI, prev.Folder())
	if err != nil {
		return ""
	}
	return uri
}

func mergeDetails(current datatypes.JSON, add map[string]any) (datatypes.JSON, error) {
	merged := map[string]any{}
	if len(current) > 0 {
		if err := json.Unmarshal(current, &merged); err != nil {
			merged = map[string]any{}
		}
	}
	for k, v := range add {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode document details: %w", err)
	}
	return datatypes.JSON(raw), nil
}

// RecordOutputPrefix stores where the OCR provider wrote results for uri.
func (m *StateMachine) RecordOutputPrefix(ctx context.Context, uri, prefix string) error {
	doc, err := m.Lookup(ctx, uri)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("no document record for %s", uri)
	}
	if err := m.docs.UpdateFields(dbctx.Context{Ctx: ctx}, doc.SourceURI, map[string]interface{}{"output_prefix": prefix}); err != nil {
		return ingestion.Collaborator(ingestion.CollaboratorRelational, "record output prefix", err)
	}
	return nil
}
