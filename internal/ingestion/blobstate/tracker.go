// Package blobstate tracks where a document's blob lives and moves it between
// state folders.
package blobstate

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	types "github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/ingestion"
	"github.com/yungbote/docrag-backend/internal/platform/gcp"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

// Store is the slice of the blob store the tracker needs.
type Store interface {
	Bucket() string
	List(ctx context.Context, prefix, suffix string) ([]string, error)
	Copy(ctx context.Context, src, dst string) error
	Delete(ctx context.Context, name string) error
}

// DuplicateRiskError means the copy to Target succeeded but deleting Source
// failed, so the blob now exists twice. Target is canonical.
type DuplicateRiskError struct {
	Source string
	Target string
	Err    error
}

func (e *DuplicateRiskError) Error() string {
	return fmt.Sprintf("duplicate risk: copied %s to %s but delete failed: %v", e.Source, e.Target, e.Err)
}

func (e *DuplicateRiskError) Unwrap() error { return e.Err }

func IsDuplicateRisk(err error) bool {
	var dr *DuplicateRiskError
	return errors.As(err, &dr)
}

type Tracker struct {
	store Store
	log   *logger.Logger
}

func NewTracker(store Store, log *logger.Logger) *Tracker {
	return &Tracker{store: store, log: log.With("service", "BlobStateTracker")}
}

func (t *Tracker) Bucket() string { return t.store.Bucket() }

// TargetURI is where uri lands when moved into folder. An empty folder is the
// bucket root.
func TargetURI(uri, folder string) (string, error) {
	bucket, name, err := gcp.ParseGCSURI(uri)
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", fmt.Errorf("invalid document uri %q: object name required", uri)
	}
	base := path.Base(name)
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return gcp.ObjectURI(bucket, base), nil
	}
	return gcp.ObjectURI(bucket, folder+"/"+base), nil
}

// Move copies the blob at uri to folder/<basename>, deletes the original and
// returns the new URI. A failed delete after a good copy is reported as
// *DuplicateRiskError along with the new URI.
func (t *Tracker) Move(ctx context.Context, uri, folder string) (string, error) {
	bucket, src, err := gcp.ParseGCSURI(uri)
	if err != nil {
		return "", err
	}
	if bucket != t.store.Bucket() {
		return "", fmt.Errorf("document %s is outside bucket %s", uri, t.store.Bucket())
	}
	target, err := TargetURI(uri, folder)
	if err != nil {
		return "", err
	}
	if target == uri {
		return uri, nil
	}
	_, dst, _ := gcp.ParseGCSURI(target)

	if err := t.store.Copy(ctx, src, dst); err != nil {
		return "", ingestion.Collaborator(ingestion.CollaboratorBlobStore, "copy", err)
	}
	if err := t.store.Delete(ctx, src); err != nil {
		t.log.Error(
			"Blob move left two copies",
			"source_uri", uri,
			"target_uri", target,
			"canonical_uri", target,
			"error", err,
		)
		return target, &DuplicateRiskError{Source: uri, Target: target, Err: err}
	}
	t.log.Info("Moved blob", "source_uri", uri, "target_uri", target)
	return target, nil
}

// List returns blob names under prefix, optionally filtered by suffix.
func (t *Tracker) List(ctx context.Context, prefix, suffix string) ([]string, error) {
	names, err := t.store.List(ctx, prefix, suffix)
	if err != nil {
		return nil, ingestion.Collaborator(ingestion.CollaboratorBlobStore, "list", err)
	}
	return names, nil
}

// Exists reports whether uri names a blob in the tracked bucket.
func (t *Tracker) Exists(ctx context.Context, uri string) (bool, error) {
	_, name, err := gcp.ParseGCSURI(uri)
	if err != nil {
		return false, err
	}
	names, err := t.List(ctx, name, "")
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

// StateFromURI re-derives a document's state from its blob location.
func StateFromURI(uri string) types.DocumentState {
	_, name, err := gcp.ParseGCSURI(uri)
	if err != nil {
		return types.StateDiscovered
	}
	switch {
	case strings.HasPrefix(name, types.StateProcessed.Folder()+"/"):
		return types.StateProcessed
	case strings.HasPrefix(name, types.StateOCRDone.Folder()+"/"):
		return types.StateOCRDone
	default:
		return types.StateDiscovered
	}
}
