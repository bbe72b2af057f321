package changesets

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/lexicon-backend/internal/domain"
	"github.com/yungbote/lexicon-backend/internal/platform/dbctx"
	"github.com/yungbote/lexicon-backend/internal/platform/logger"
)

type FieldChangeRepo interface {
	CreateBatch(dbc dbctx.Context, changes []*types.FieldChange) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.FieldChange, error)
	ListByChangeset(dbc dbctx.Context, changesetID uuid.UUID) ([]*types.FieldChange, error)
	CountByChangeset(dbc dbctx.Context, changesetID uuid.UUID) (int64, error)
	Delete(dbc dbctx.Context, id uuid.UUID) (bool, error)
}

type fieldChangeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFieldChangeRepo(db *gorm.DB, baseLog *logger.Logger) FieldChangeRepo {
	return &fieldChangeRepo{db: db, log: baseLog.With("repo", "FieldChangeRepo")}
}

func (r *fieldChangeRepo) tx(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Context())
}

func (r *fieldChangeRepo) CreateBatch(dbc dbctx.Context, changes []*types.FieldChange) error {
	if len(changes) == 0 {
		return nil
	}
	for _, c := range changes {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
	}
	return r.tx(dbc).CreateInBatches(changes, 200).Error
}

func (r *fieldChangeRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.FieldChange, error) {
	var out []*types.FieldChange
	if err := r.tx(dbc).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

// ListByChangeset returns changes in staging order.
func (r *fieldChangeRepo) ListByChangeset(dbc dbctx.Context, changesetID uuid.UUID) ([]*types.FieldChange, error) {
	var out []*types.FieldChange
	if err := r.tx(dbc).
		Where("changeset_id = ?", changesetID).
		Order("entity_id ASC").Order("created_at ASC").Order("field ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *fieldChangeRepo) CountByChangeset(dbc dbctx.Context, changesetID uuid.UUID) (int64, error) {
	var n int64
	if err := r.tx(dbc).Model(&types.FieldChange{}).Where("changeset_id = ?", changesetID).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// Delete reports false when the change was already gone.
func (r *fieldChangeRepo) Delete(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	res := r.tx(dbc).Where("id = ?", id).Delete(&types.FieldChange{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
