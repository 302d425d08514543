package coordinator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yungbote/docrag-backend/internal/data/repos"
	types "github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/ingestion"
	"github.com/yungbote/docrag-backend/internal/pkg/dbctx"
	"github.com/yungbote/docrag-backend/internal/platform/qdrant"
)

// MarkerStatus reports which chunks of a pending batch reached each store.
type MarkerStatus struct {
	Marker       *types.BatchMarker `json:"marker"`
	ChunkIDs     []string           `json:"chunk_ids"`
	InIndex      []string           `json:"in_index"`
	InRelational []string           `json:"in_relational"`
}

// Settled reports whether both stores hold every chunk of the batch, so only
// the marker itself is stale.
func (s MarkerStatus) Settled() bool {
	return len(s.InIndex) == len(s.ChunkIDs) && len(s.InRelational) == len(s.ChunkIDs)
}

// InspectMarker looks up a pending batch's chunks in the vector index and the
// relational store. It only reads.
func InspectMarker(ctx context.Context, index qdrant.VectorIndex, chunks repos.ChunkRepo, marker *types.BatchMarker) (MarkerStatus, error) {
	status := MarkerStatus{Marker: marker, InIndex: []string{}, InRelational: []string{}}
	if marker == nil {
		return status, fmt.Errorf("inspect marker: marker required")
	}
	if len(marker.ChunkIDs) > 0 {
		if err := json.Unmarshal(marker.ChunkIDs, &status.ChunkIDs); err != nil {
			return status, fmt.Errorf("decode chunk ids of marker %s: %w", marker.ID, err)
		}
	}
	if len(status.ChunkIDs) == 0 {
		return status, nil
	}

	points, err := index.Retrieve(ctx, status.ChunkIDs)
	if err != nil {
		return status, ingestion.Collaborator(ingestion.CollaboratorVectorIndex, "retrieve", err)
	}
	for _, p := range points {
		status.InIndex = append(status.InIndex, p.ID)
	}

	rows, err := chunks.GetByIDs(dbctx.Context{Ctx: ctx}, status.ChunkIDs)
	if err != nil {
		return status, ingestion.Collaborator(ingestion.CollaboratorRelational, "get chunks", err)
	}
	for _, row := range rows {
		status.InRelational = append(status.InRelational, row.ID)
	}
	return status, nil
}
