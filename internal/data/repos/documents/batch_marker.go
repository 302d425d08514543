package documents

import (
	"gorm.io/gorm"

	types "github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/pkg/dbctx"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

type BatchMarkerRepo interface {
	Begin(dbc dbctx.Context, marker *types.BatchMarker) error
	Clear(dbc dbctx.Context, id string) error
	// ListPending returns uncleared markers, oldest first. An empty source lists all.
	ListPending(dbc dbctx.Context, source string) ([]*types.BatchMarker, error)
}

type batchMarkerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBatchMarkerRepo(db *gorm.DB, baseLog *logger.Logger) BatchMarkerRepo {
	return &batchMarkerRepo{db: db, log: baseLog.With("repo", "BatchMarkerRepo")}
}

func (r *batchMarkerRepo) Begin(dbc dbctx.Context, marker *types.BatchMarker) error {
	return dbc.DB(r.db).Create(marker).Error
}

func (r *batchMarkerRepo) Clear(dbc dbctx.Context, id string) error {
	return dbc.DB(r.db).Where("id = ?", id).Delete(&types.BatchMarker{}).Error
}

func (r *batchMarkerRepo) ListPending(dbc dbctx.Context, source string) ([]*types.BatchMarker, error) {
	q := dbc.DB(r.db).Order("created_at ASC")
	if source != "" {
		q = q.Where("source = ?", source)
	}
	var out []*types.BatchMarker
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
