package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/lexicon-backend/internal/domain"
	"github.com/yungbote/lexicon-backend/internal/platform/dbctx"
	"github.com/yungbote/lexicon-backend/internal/platform/logger"
)

// StatusCounts is a GROUP BY status over a job's items.
type StatusCounts struct {
	Total     int
	Pending   int
	Submitted int
	Completed int
	Failed    int
}

type LLMJobItemRepo interface {
	CreateBatch(dbc dbctx.Context, items []*types.LLMJobItem) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.LLMJobItem, error)
	ListByJob(dbc dbctx.Context, jobID uuid.UUID, status string, limit int) ([]*types.LLMJobItem, error)
	ListStates(dbc dbctx.Context, jobID uuid.UUID) ([]*types.LLMJobItem, error)
	ClaimCandidates(dbc dbctx.Context, jobID uuid.UUID, staleBefore time.Time, limit int) ([]*types.LLMJobItem, error)
	Claim(dbc dbctx.Context, id uuid.UUID, token string, staleBefore time.Time) (bool, error)
	ReleaseClaim(dbc dbctx.Context, id uuid.UUID, token string) error
	UpdateClaimed(dbc dbctx.Context, id uuid.UUID, token string, updates map[string]interface{}) (bool, error)
	UpdateIfStatus(dbc dbctx.Context, id uuid.UUID, fromStatus string, updates map[string]interface{}) (bool, error)
	CountByStatus(dbc dbctx.Context, jobID uuid.UUID) (StatusCounts, error)
	SumTokens(dbc dbctx.Context, jobID uuid.UUID) (int64, int64, error)
	CountPending(dbc dbctx.Context, jobID uuid.UUID) (int64, error)
}

type llmJobItemRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLLMJobItemRepo(db *gorm.DB, baseLog *logger.Logger) LLMJobItemRepo {
	return &llmJobItemRepo{
		db:  db,
		log: baseLog.With("repo", "LLMJobItemRepo"),
	}
}

func (r *llmJobItemRepo) tx(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Context())
}

func (r *llmJobItemRepo) CreateBatch(dbc dbctx.Context, items []*types.LLMJobItem) error {
	if len(items) == 0 {
		return nil
	}
	for _, it := range items {
		if it.ID == uuid.Nil {
			it.ID = uuid.New()
		}
	}
	return r.tx(dbc).CreateInBatches(items, 200).Error
}

func (r *llmJobItemRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.LLMJobItem, error) {
	var out []*types.LLMJobItem
	if err := r.tx(dbc).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *llmJobItemRepo) ListByJob(dbc dbctx.Context, jobID uuid.UUID, status string, limit int) ([]*types.LLMJobItem, error) {
	q := r.tx(dbc).Where("job_id = ?", jobID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.LLMJobItem
	if err := q.Order("seq ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListStates loads a job's items without their request and result payloads.
func (r *llmJobItemRepo) ListStates(dbc dbctx.Context, jobID uuid.UUID) ([]*types.LLMJobItem, error) {
	var out []*types.LLMJobItem
	err := r.tx(dbc).
		Select("id", "job_id", "seq", "entity_type", "entity_id", "status", "provider_handle", "attempts").
		Where("job_id = ?", jobID).
		Order("seq ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimCandidates lists pending items nobody holds (or whose hold went stale), oldest first.
func (r *llmJobItemRepo) ClaimCandidates(dbc dbctx.Context, jobID uuid.UUID, staleBefore time.Time, limit int) ([]*types.LLMJobItem, error) {
	q := r.tx(dbc).
		Where("job_id = ? AND status = ?", jobID, types.ItemStatusPending).
		Where("(claim_token IS NULL OR claimed_at < ?)", staleBefore).
		Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.LLMJobItem
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *llmJobItemRepo) Claim(dbc dbctx.Context, id uuid.UUID, token string, staleBefore time.Time) (bool, error) {
	now := time.Now().UTC()
	res := r.tx(dbc).
		Model(&types.LLMJobItem{}).
		Where("id = ? AND status = ?", id, types.ItemStatusPending).
		Where("(claim_token IS NULL OR claimed_at < ?)", staleBefore).
		Updates(map[string]interface{}{
			"claim_token": token,
			"claimed_at":  now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *llmJobItemRepo) ReleaseClaim(dbc dbctx.Context, id uuid.UUID, token string) error {
	return r.tx(dbc).
		Model(&types.LLMJobItem{}).
		Where("id = ? AND claim_token = ?", id, token).
		Updates(map[string]interface{}{
			"claim_token": nil,
			"claimed_at":  nil,
			"updated_at":  time.Now().UTC(),
		}).Error
}

// UpdateClaimed updates a pending item only while token still holds it.
func (r *llmJobItemRepo) UpdateClaimed(dbc dbctx.Context, id uuid.UUID, token string, updates map[string]interface{}) (bool, error) {
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := r.tx(dbc).
		Model(&types.LLMJobItem{}).
		Where("id = ? AND status = ? AND claim_token = ?", id, types.ItemStatusPending, token).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateIfStatus is the compare-and-set every item transition goes through.
func (r *llmJobItemRepo) UpdateIfStatus(dbc dbctx.Context, id uuid.UUID, fromStatus string, updates map[string]interface{}) (bool, error) {
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := r.tx(dbc).
		Model(&types.LLMJobItem{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *llmJobItemRepo) CountByStatus(dbc dbctx.Context, jobID uuid.UUID) (StatusCounts, error) {
	var rows []struct {
		Status string
		N      int
	}
	if err := r.tx(dbc).
		Model(&types.LLMJobItem{}).
		Select("status, COUNT(*) AS n").
		Where("job_id = ?", jobID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return StatusCounts{}, err
	}
	var c StatusCounts
	for _, row := range rows {
		c.Total += row.N
		switch row.Status {
		case types.ItemStatusPending:
			c.Pending = row.N
		case types.ItemStatusSubmitted:
			c.Submitted = row.N
		case types.ItemStatusCompleted:
			c.Completed = row.N
		case types.ItemStatusFailed:
			c.Failed = row.N
		}
	}
	return c, nil
}

func (r *llmJobItemRepo) SumTokens(dbc dbctx.Context, jobID uuid.UUID) (int64, int64, error) {
	var row struct {
		InputTotal  int64
		OutputTotal int64
	}
	if err := r.tx(dbc).
		Model(&types.LLMJobItem{}).
		Select("COALESCE(SUM(input_tokens), 0) AS input_total, COALESCE(SUM(output_tokens), 0) AS output_total").
		Where("job_id = ?", jobID).
		Scan(&row).Error; err != nil {
		return 0, 0, err
	}
	return row.InputTotal, row.OutputTotal, nil
}

func (r *llmJobItemRepo) CountPending(dbc dbctx.Context, jobID uuid.UUID) (int64, error) {
	var n int64
	if err := r.tx(dbc).
		Model(&types.LLMJobItem{}).
		Where("job_id = ? AND status = ?", jobID, types.ItemStatusPending).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
