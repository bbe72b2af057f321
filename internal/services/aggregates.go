package services

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/lexicon-backend/internal/data/repos"
	"github.com/yungbote/lexicon-backend/internal/platform/apierr"
	"github.com/yungbote/lexicon-backend/internal/platform/dbctx"
	"github.com/yungbote/lexicon-backend/internal/platform/logger"
	"github.com/yungbote/lexicon-backend/internal/pricing"
)

// JobAggregator owns the job counters. Nothing else writes them.
type JobAggregator struct {
	db      *gorm.DB
	log     *logger.Logger
	jobs    repos.LLMJobRepo
	items   repos.LLMJobItemRepo
	pricing *pricing.Estimator
}

func NewJobAggregator(db *gorm.DB, baseLog *logger.Logger, jobs repos.LLMJobRepo, items repos.LLMJobItemRepo, est *pricing.Estimator) *JobAggregator {
	if est == nil {
		est = pricing.Default()
	}
	return &JobAggregator{
		db:      db,
		log:     baseLog.With("service", "JobAggregator"),
		jobs:    jobs,
		items:   items,
		pricing: est,
	}
}

// Recompute derives the job's counters, token totals and cost estimate from its items.
func (a *JobAggregator) Recompute(dbc dbctx.Context, jobID uuid.UUID) (repos.StatusCounts, error) {
	job, err := a.jobs.GetByID(dbc, jobID)
	if err != nil {
		return repos.StatusCounts{}, apierr.FromStorage(err)
	}
	if job == nil {
		return repos.StatusCounts{}, apierr.NotFound("job %s not found", jobID)
	}
	counts, err := a.items.CountByStatus(dbc, jobID)
	if err != nil {
		return repos.StatusCounts{}, apierr.FromStorage(err)
	}
	in, out, err := a.items.SumTokens(dbc, jobID)
	if err != nil {
		return repos.StatusCounts{}, apierr.FromStorage(err)
	}
	updates := map[string]interface{}{
		"total_items":     counts.Total,
		"pending_items":   counts.Pending,
		"submitted_items": counts.Submitted,
		"completed_items": counts.Completed,
		"failed_items":    counts.Failed,
		"input_tokens":    in,
		"output_tokens":   out,
		"updated_at":      time.Now().UTC(),
	}
	if cost := a.pricing.Estimate(job.Model, in, out, job.ServiceTier); cost != nil {
		updates["estimated_cost_usd"] = *cost
	}
	if err := a.jobs.UpdateFields(dbc, jobID, updates); err != nil {
		return repos.StatusCounts{}, apierr.FromStorage(err)
	}
	return counts, nil
}
