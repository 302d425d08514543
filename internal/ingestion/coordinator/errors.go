package coordinator

import (
	"errors"
	"fmt"

	"github.com/yungbote/docrag-backend/internal/platform/embedding"
)

// ErrEmbeddingCountMismatch means the embedding service returned a different
// number of vectors than texts sent. The batch fails rather than pairing
// chunks with the wrong vectors.
var ErrEmbeddingCountMismatch = embedding.ErrCountMismatch

const (
	GapStageMarker     = "marker"
	GapStageRelational = "relational"
)

// ConsistencyGapError is a batch that reached the vector index but not the
// relational store. MarkerID names the pending batch marker left behind, and
// is empty when the marker itself could not be written.
type ConsistencyGapError struct {
	MarkerID string
	Stage    string
	Err      error
}

func (e *ConsistencyGapError) Error() string {
	if e.MarkerID == "" {
		return fmt.Sprintf("consistency gap at %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("consistency gap at %s (marker %s): %v", e.Stage, e.MarkerID, e.Err)
}

func (e *ConsistencyGapError) Unwrap() error { return e.Err }

func IsConsistencyGap(err error) bool {
	var gap *ConsistencyGapError
	return errors.As(err, &gap)
}
