package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/lexicon-backend/internal/domain"
	"github.com/yungbote/lexicon-backend/internal/platform/dbctx"
	"github.com/yungbote/lexicon-backend/internal/platform/logger"
)

type ListJobsFilter struct {
	OwnerUserID      *uuid.UUID
	EntityType       string
	IncludeCompleted bool
	Limit            int
}

type LLMJobRepo interface {
	Create(dbc dbctx.Context, job *types.LLMJob) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.LLMJob, error)
	List(dbc dbctx.Context, f ListJobsFilter) ([]*types.LLMJob, error)
	ListInFlight(dbc dbctx.Context, ids []uuid.UUID, limit int) ([]*types.LLMJob, error)
	MarkPolled(dbc dbctx.Context, ids []uuid.UUID, at time.Time) error
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsIfStatus(dbc dbctx.Context, id uuid.UUID, allowedStatuses []string, updates map[string]interface{}) (bool, error)
	CountUnseen(dbc dbctx.Context, ownerUserID *uuid.UUID, entityType string) (int64, error)
}

type llmJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLLMJobRepo(db *gorm.DB, baseLog *logger.Logger) LLMJobRepo {
	return &llmJobRepo{
		db:  db,
		log: baseLog.With("repo", "LLMJobRepo"),
	}
}

func (r *llmJobRepo) Create(dbc dbctx.Context, job *types.LLMJob) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	return transaction.WithContext(dbc.Context()).Create(job).Error
}

func (r *llmJobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.LLMJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var out []*types.LLMJob
	if err := transaction.WithContext(dbc.Context()).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *llmJobRepo) List(dbc dbctx.Context, f ListJobsFilter) ([]*types.LLMJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(dbc.Context()).Model(&types.LLMJob{})
	if f.OwnerUserID != nil {
		q = q.Where("owner_user_id = ?", *f.OwnerUserID)
	}
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	if !f.IncludeCompleted {
		q = q.Where("status IN ?", []string{types.JobStatusPending, types.JobStatusRunning})
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []*types.LLMJob
	if err := q.Order("created_at DESC").Order("id DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListInFlight returns pending and running jobs, least recently polled first, so a limited
// window rotates through every in-flight job. A non-empty ids restricts the set.
func (r *llmJobRepo) ListInFlight(dbc dbctx.Context, ids []uuid.UUID, limit int) ([]*types.LLMJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(dbc.Context()).
		Where("status IN ?", []string{types.JobStatusPending, types.JobStatusRunning})
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.LLMJob
	err := q.Order("CASE WHEN last_polled_at IS NULL THEN 0 ELSE 1 END").
		Order("last_polled_at ASC").
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkPolled stamps last_polled_at without touching updated_at.
func (r *llmJobRepo) MarkPolled(dbc dbctx.Context, ids []uuid.UUID, at time.Time) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return nil
	}
	return transaction.WithContext(dbc.Context()).
		Model(&types.LLMJob{}).
		Where("id IN ?", ids).
		UpdateColumn("last_polled_at", at).Error
}

func (r *llmJobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return transaction.WithContext(dbc.Context()).
		Model(&types.LLMJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateFieldsIfStatus applies updates only while the job is in one of allowedStatuses.
// It reports whether this call won the transition.
func (r *llmJobRepo) UpdateFieldsIfStatus(dbc dbctx.Context, id uuid.UUID, allowedStatuses []string, updates map[string]interface{}) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(allowedStatuses) == 0 {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := transaction.WithContext(dbc.Context()).
		Model(&types.LLMJob{}).
		Where("id = ? AND status IN ?", id, allowedStatuses).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CountUnseen counts completed jobs nobody has acknowledged yet.
func (r *llmJobRepo) CountUnseen(dbc dbctx.Context, ownerUserID *uuid.UUID, entityType string) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(dbc.Context()).
		Model(&types.LLMJob{}).
		Where("status = ? AND seen_at IS NULL", types.JobStatusCompleted)
	if ownerUserID != nil {
		q = q.Where("owner_user_id = ?", *ownerUserID)
	}
	if entityType != "" {
		q = q.Where("entity_type = ?", entityType)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
