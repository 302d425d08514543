package db

import (
	"gorm.io/gorm"

	types "github.com/yungbote/docrag-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Chunk{},
		&types.PipelineDocument{},
		&types.BatchMarker{},
	)
}
