package testutil

import (
	"context"
	"testing"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/docrag-backend/internal/domain"
)

func SeedDocument(tb testing.TB, ctx context.Context, tx *gorm.DB, sourceURI string, state types.DocumentState, currentURI string) *types.PipelineDocument {
	tb.Helper()
	if currentURI == "" {
		currentURI = sourceURI
	}
	d := &types.PipelineDocument{
		SourceURI:  sourceURI,
		State:      state,
		CurrentURI: currentURI,
		Details:    datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(d).Error; err != nil {
		tb.Fatalf("seed document: %v", err)
	}
	return d
}

func SeedChunk(tb testing.TB, ctx context.Context, tx *gorm.DB, id, source string, page int) *types.Chunk {
	tb.Helper()
	c := &types.Chunk{
		ID:     id,
		Source: source,
		Type:   types.ChunkTypeParagraph,
		Text:   "chunk " + id,
		Page:   PtrInt(page),
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed chunk: %v", err)
	}
	return c
}

func PtrInt(v int) *int { return &v }
