package changesets

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/lexicon-backend/internal/domain"
	"github.com/yungbote/lexicon-backend/internal/platform/dbctx"
	"github.com/yungbote/lexicon-backend/internal/platform/logger"
)

type ChangesetRepo interface {
	Create(dbc dbctx.Context, cs *types.Changeset) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Changeset, error)
	GetByIDForUpdate(dbc dbctx.Context, id uuid.UUID) (*types.Changeset, error)
	TransitionStatus(dbc dbctx.Context, id uuid.UUID, from []string, to string) (bool, error)
}

type changesetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChangesetRepo(db *gorm.DB, baseLog *logger.Logger) ChangesetRepo {
	return &changesetRepo{db: db, log: baseLog.With("repo", "ChangesetRepo")}
}

func (r *changesetRepo) Create(dbc dbctx.Context, cs *types.Changeset) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if cs.ID == uuid.Nil {
		cs.ID = uuid.New()
	}
	if cs.Status == "" {
		cs.Status = types.ChangesetStaged
	}
	return transaction.WithContext(dbc.Context()).Create(cs).Error
}

func (r *changesetRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Changeset, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Changeset
	if err := transaction.WithContext(dbc.Context()).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

// GetByIDForUpdate reads a changeset and, on Postgres, row-locks it until the surrounding
// transaction ends. SQLite serializes writers already and has no FOR UPDATE.
func (r *changesetRepo) GetByIDForUpdate(dbc dbctx.Context, id uuid.UUID) (*types.Changeset, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(dbc.Context())
	if q.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var out []*types.Changeset
	if err := q.Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

// TransitionStatus moves a changeset to `to` if it is currently in one of `from`, stamping
// applied_at or discarded_at. It reports whether this call made the move.
func (r *changesetRepo) TransitionStatus(dbc dbctx.Context, id uuid.UUID, from []string, to string) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()
	updates := map[string]interface{}{"status": to, "updated_at": now}
	switch to {
	case types.ChangesetApplied:
		updates["applied_at"] = now
	case types.ChangesetDiscarded:
		updates["discarded_at"] = now
	}
	res := transaction.WithContext(dbc.Context()).
		Model(&types.Changeset{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
