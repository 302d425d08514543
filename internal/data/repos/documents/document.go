package documents

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/pkg/dbctx"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

type DocumentRepo interface {
	// Get returns nil, nil when no record exists.
	Get(dbc dbctx.Context, sourceURI string) (*types.PipelineDocument, error)
	// FindByURI matches either the discovery URI or the current blob URI.
	FindByURI(dbc dbctx.Context, uri string) (*types.PipelineDocument, error)
	GetBySourceURIs(dbc dbctx.Context, sourceURIs []string) ([]*types.PipelineDocument, error)
	// CreateIfMissing inserts doc unless a record for its source already exists.
	CreateIfMissing(dbc dbctx.Context, doc *types.PipelineDocument) (bool, error)
	// Transition moves the record from one of the from states to to, applying
	// updates in the same statement. It reports false when the record was not
	// in an allowed from state.
	Transition(dbc dbctx.Context, sourceURI string, from []types.DocumentState, to types.DocumentState, updates map[string]interface{}) (bool, error)
	UpdateFields(dbc dbctx.Context, sourceURI string, updates map[string]interface{}) error
	ListMovePending(dbc dbctx.Context, limit int) ([]*types.PipelineDocument, error)
}

type documentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	return &documentRepo{db: db, log: baseLog.With("repo", "DocumentRepo")}
}

func (r *documentRepo) Get(dbc dbctx.Context, sourceURI string) (*types.PipelineDocument, error) {
	var doc types.PipelineDocument
	err := dbc.DB(r.db).Where("source_uri = ?", sourceURI).Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepo) FindByURI(dbc dbctx.Context, uri string) (*types.PipelineDocument, error) {
	var doc types.PipelineDocument
	err := dbc.DB(r.db).
		Where("source_uri = ? OR current_uri = ?", uri, uri).
		Order("updated_at DESC").
		Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepo) GetBySourceURIs(dbc dbctx.Context, sourceURIs []string) ([]*types.PipelineDocument, error) {
	var out []*types.PipelineDocument
	if len(sourceURIs) == 0 {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("source_uri IN ?", sourceURIs).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *documentRepo) CreateIfMissing(dbc dbctx.Context, doc *types.PipelineDocument) (bool, error) {
	if doc == nil {
		return false, nil
	}
	res := dbc.DB(r.db).Clauses(clause.OnConflict{DoNothing: true}).Create(doc)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *documentRepo) Transition(
	dbc dbctx.Context,
	sourceURI string,
	from []types.DocumentState,
	to types.DocumentState,
	updates map[string]interface{},
) (bool, error) {
	set := make(map[string]interface{}, len(updates)+1)
	for k, v := range updates {
		set[k] = v
	}
	set["state"] = to

	res := dbc.DB(r.db).
		Model(&types.PipelineDocument{}).
		Where("source_uri = ? AND state IN ?", sourceURI, from).
		Updates(set)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *documentRepo) UpdateFields(dbc dbctx.Context, sourceURI string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return dbc.DB(r.db).
		Model(&types.PipelineDocument{}).
		Where("source_uri = ?", sourceURI).
		Updates(updates).Error
}

func (r *documentRepo) ListMovePending(dbc dbctx.Context, limit int) ([]*types.PipelineDocument, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*types.PipelineDocument
	if err := dbc.DB(r.db).
		Where("move_pending = ?", true).
		Order("updated_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
