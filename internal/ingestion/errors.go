package ingestion

import (
	"errors"
	"fmt"
)

// CollaboratorError is a failed round trip to an external collaborator
// (object store, OCR provider, embedding service, vector index, relational
// store). It is returned to the scheduler, which owns retries.
type CollaboratorError struct {
	Collaborator string
	Op           string
	Err          error
}

func (e *CollaboratorError) Error() string {
	if e == nil {
		return "collaborator call failed"
	}
	return fmt.Sprintf("%s %s: %v", e.Collaborator, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

const (
	CollaboratorBlobStore   = "blob_store"
	CollaboratorOCR         = "ocr"
	CollaboratorEmbedding   = "embedding"
	CollaboratorVectorIndex = "vector_index"
	CollaboratorRelational  = "relational_store"
)

// Collaborator wraps err, or returns nil when err is nil.
func Collaborator(collaborator, op string, err error) error {
	if err == nil {
		return nil
	}
	return &CollaboratorError{Collaborator: collaborator, Op: op, Err: err}
}

// IsCollaboratorFailure reports whether err came from collaborator.
func IsCollaboratorFailure(err error, collaborator string) bool {
	var ce *CollaboratorError
	return errors.As(err, &ce) && ce.Collaborator == collaborator
}
