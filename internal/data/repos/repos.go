package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/docrag-backend/internal/data/repos/documents"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

type ChunkRepo = documents.ChunkRepo
type DocumentRepo = documents.DocumentRepo
type BatchMarkerRepo = documents.BatchMarkerRepo

var (
	NewChunkRepo       = documents.NewChunkRepo
	NewDocumentRepo    = documents.NewDocumentRepo
	NewBatchMarkerRepo = documents.NewBatchMarkerRepo
)

type Repos struct {
	Chunks       ChunkRepo
	Documents    DocumentRepo
	BatchMarkers BatchMarkerRepo
}

func New(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		Chunks:       NewChunkRepo(db, log),
		Documents:    NewDocumentRepo(db, log),
		BatchMarkers: NewBatchMarkerRepo(db, log),
	}
}
