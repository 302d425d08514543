package documents

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/pkg/dbctx"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

type ChunkRepo interface {
	// InsertChunks writes chunk rows for source. Rows are upserted by id so a
	// re-run with deterministic ids overwrites instead of duplicating.
	InsertChunks(dbc dbctx.Context, source string, chunks []*types.Chunk) error
	// LookupSources resolves chunk ids to their source document in one query.
	LookupSources(dbc dbctx.Context, ids []string) (map[string]string, error)
	GetByIDs(dbc dbctx.Context, ids []string) ([]*types.Chunk, error)
	CountBySource(dbc dbctx.Context, source string) (int64, error)
}

type chunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChunkRepo(db *gorm.DB, baseLog *logger.Logger) ChunkRepo {
	return &chunkRepo{db: db, log: baseLog.With("repo", "ChunkRepo")}
}

func (r *chunkRepo) InsertChunks(dbc dbctx.Context, source string, chunks []*types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for _, c := range chunks {
		c.Source = source
	}

	// Keep batches small because Text is large
	const batchSize = 100

	return dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"source", "type", "text", "page", "rows"}),
		}).
		CreateInBatches(chunks, batchSize).Error
}

func (r *chunkRepo) LookupSources(dbc dbctx.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []struct {
		ID     string
		Source string
	}
	if err := dbc.DB(r.db).
		Model(&types.Chunk{}).
		Select("id", "source").
		Where("id IN ?", ids).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row.Source
	}
	return out, nil
}

func (r *chunkRepo) GetByIDs(dbc dbctx.Context, ids []string) ([]*types.Chunk, error) {
	var results []*types.Chunk
	if len(ids) == 0 {
		return results, nil
	}
	if err := dbc.DB(r.db).Where("id IN ?", ids).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *chunkRepo) CountBySource(dbc dbctx.Context, source string) (int64, error) {
	var n int64
	err := dbc.DB(r.db).Model(&types.Chunk{}).Where("source = ?", source).Count(&n).Error
	return n, err
}
