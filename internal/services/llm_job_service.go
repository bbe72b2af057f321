package services

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/lexicon-backend/internal/data/repos"
	types "github.com/yungbote/lexicon-backend/internal/domain"
	lex "github.com/yungbote/lexicon-backend/internal/domain/lexicon"
	"github.com/yungbote/lexicon-backend/internal/jobs/reconcile"
	"github.com/yungbote/lexicon-backend/internal/lexicon/scope"
	"github.com/yungbote/lexicon-backend/internal/platform/apierr"
	"github.com/yungbote/lexicon-backend/internal/platform/dbctx"
	"github.com/yungbote/lexicon-backend/internal/platform/envutil"
	"github.com/yungbote/lexicon-backend/internal/platform/logger"
)

const snapshotChunk = 500

type CreateJobParams struct {
	Label            string          `json:"label" validate:"max=200"`
	Model            string          `json:"model" validate:"required"`
	PromptTemplate   string          `json:"promptTemplate" validate:"required"`
	Scope            json.RawMessage `json:"scope" validate:"required"`
	JobType          string          `json:"jobType" validate:"required,oneof=extract reallocate moderate edit"`
	TargetFields     []string        `json:"targetFields"`
	ServiceTier      string          `json:"serviceTier" validate:"omitempty,oneof=default auto flex batch priority"`
	ReasoningEffort  string          `json:"reasoningEffort" validate:"omitempty,oneof=minimal low medium high"`
	Metadata         map[string]any  `json:"metadata"`
	InitialBatchSize int             `json:"initialBatchSize" validate:"omitempty,min=1,max=100"`
}

type ListJobsParams struct {
	OwnerUserID      *uuid.UUID
	EntityType       string
	IncludeCompleted bool
	Refresh          bool
	Limit            int
}

type JobServiceConfig struct {
	RefreshTimeout time.Duration
	UnseenTimeout  time.Duration
}

func JobServiceConfigFromEnv() JobServiceConfig {
	return JobServiceConfig{
		RefreshTimeout: envutil.Seconds("LIST_REFRESH_TIMEOUT_SECONDS", 8),
		UnseenTimeout:  envutil.Millis("UNSEEN_COUNT_TIMEOUT_MS", 3000),
	}
}

type LLMJobService interface {
	Create(dbc dbctx.Context, owner uuid.UUID, p CreateJobParams) (*types.LLMJob, error)
	List(dbc dbctx.Context, p ListJobsParams) ([]*types.LLMJob, error)
	Get(dbc dbctx.Context, id uuid.UUID) (*types.LLMJob, error)
	ListItems(dbc dbctx.Context, jobID uuid.UUID, status string, limit int) ([]*types.LLMJobItem, error)
	Cancel(dbc dbctx.Context, id uuid.UUID) (*types.LLMJob, error)
	MarkSeen(dbc dbctx.Context, id uuid.UUID) (*types.LLMJob, error)
	UnseenCount(dbc dbctx.Context, owner *uuid.UUID, pos string) (int64, error)
	RecomputeAggregates(dbc dbctx.Context, jobID uuid.UUID) (repos.StatusCounts, error)
}

type llmJobService struct {
	db        *gorm.DB
	log       *logger.Logger
	jobs      repos.LLMJobRepo
	items     repos.LLMJobItemRepo
	stores    *repos.EntityRegistry
	resolver  *scope.Resolver
	agg       *JobAggregator
	submitter BatchSubmitter
	poller    JobPoller
	cfg       JobServiceConfig
}

// NewLLMJobService wires the job manager. submitter and poller may be nil, which disables
// the initial batch and list refresh.
func NewLLMJobService(
	db *gorm.DB,
	baseLog *logger.Logger,
	jobs repos.LLMJobRepo,
	items repos.LLMJobItemRepo,
	stores *repos.EntityRegistry,
	resolver *scope.Resolver,
	agg *JobAggregator,
	submitter BatchSubmitter,
	poller JobPoller,
	cfg JobServiceConfig,
) LLMJobService {
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 8 * time.Second
	}
	if cfg.UnseenTimeout <= 0 {
		cfg.UnseenTimeout = 3 * time.Second
	}
	return &llmJobService{
		db:        db,
		log:       baseLog.With("service", "LLMJobService"),
		jobs:      jobs,
		items:     items,
		stores:    stores,
		resolver:  resolver,
		agg:       agg,
		submitter: submitter,
		poller:    poller,
		cfg:       cfg,
	}
}

func defaultTargetFields(jobType string) []string {
	switch jobType {
	case types.JobTypeModerate:
		return []string{"flagged", "flagged_reason"}
	case types.JobTypeReallocate:
		return []string{"frame_id"}
	}
	return nil
}

// Create resolves the scope, renders one request per target and stores the job with its items.
// Nothing is sent to the provider unless InitialBatchSize is set.
func (s *llmJobService) Create(dbc dbctx.Context, owner uuid.UUID, p CreateJobParams) (*types.LLMJob, error) {
	if err := validateParams(p); err != nil {
		return nil, err
	}
	prompt, err := parseJobPrompt(p.PromptTemplate)
	if err != nil {
		return nil, err
	}
	spec, err := scope.Parse(p.Scope)
	if err != nil {
		return nil, err
	}
	kind := spec.TargetKind()

	names := p.TargetFields
	if len(names) == 0 {
		names = defaultTargetFields(p.JobType)
	}
	if len(names) == 0 {
		return nil, apierr.Validation("targetFields is required for %s jobs", p.JobType)
	}
	fields, err := reconcile.TargetFields(kind, names)
	if err != nil {
		return nil, apierr.Validation("%v", err)
	}
	names = names[:0:0]
	for _, f := range fields {
		names = append(names, f.Name)
	}

	res, err := s.resolver.Resolve(dbc, spec)
	if err != nil {
		return nil, err
	}
	if len(res.Targets) == 0 {
		return nil, apierr.ScopeResolution("scope matched no %s entries", kind)
	}
	store, err := s.stores.Store(kind)
	if err != nil {
		return nil, apierr.Validation("%v", err)
	}

	ids := make([]int64, len(res.Targets))
	for i, t := range res.Targets {
		ids[i] = t.ID
	}
	snaps := make(map[int64]repos.Snapshot, len(ids))
	for _, chunk := range chunkIDs(ids, snapshotChunk) {
		part, err := store.FindByIDs(dbc, chunk)
		if err != nil {
			return nil, err
		}
		for id, snap := range part {
			snaps[id] = snap
		}
	}
	var missing []int64
	for _, id := range ids {
		if _, ok := snaps[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
		return nil, apierr.ScopeResolution("no %s with ids %v", kind, missing)
	}

	job := &types.LLMJob{
		ID:              uuid.New(),
		Label:           strings.TrimSpace(p.Label),
		OwnerUserID:     owner,
		Model:           strings.TrimSpace(p.Model),
		PromptTemplate:  p.PromptTemplate,
		ServiceTier:     p.ServiceTier,
		ReasoningEffort: p.ReasoningEffort,
		JobType:         p.JobType,
		EntityType:      string(kind),
		Status:          types.JobStatusPending,
		TotalItems:      len(ids),
		PendingItems:    len(ids),
	}
	if job.Scope, err = json.Marshal(spec); err != nil {
		return nil, err
	}
	if job.TargetFields, err = json.Marshal(names); err != nil {
		return nil, err
	}
	if len(p.Metadata) > 0 {
		if job.Metadata, err = json.Marshal(p.Metadata); err != nil {
			return nil, apierr.Validation("metadata: %v", err)
		}
	}

	items := make([]*types.LLMJobItem, 0, len(ids))
	for i, id := range ids {
		text, err := prompt.render(kind, id, snaps[id])
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(types.RequestPayload{Prompt: text, Snapshot: snaps[id]})
		if err != nil {
			return nil, err
		}
		items = append(items, &types.LLMJobItem{
			ID:             uuid.New(),
			JobID:          job.ID,
			Seq:            i,
			EntityType:     string(kind),
			EntityID:       id,
			Status:         types.ItemStatusPending,
			RequestPayload: datatypes.JSON(payload),
		})
	}

	err = inTx(s.db, dbc, func(inner dbctx.Context) error {
		if err := s.jobs.Create(inner, job); err != nil {
			return err
		}
		return s.items.CreateBatch(inner, items)
	})
	if err != nil {
		return nil, apierr.FromStorage(err)
	}
	s.log.Info("llm job created",
		"job_id", job.ID,
		"owner_user_id", owner,
		"job_type", job.JobType,
		"entity_type", job.EntityType,
		"items", len(items),
	)

	if p.InitialBatchSize > 0 && s.submitter != nil && dbc.Tx == nil {
		if _, err := s.submitter.SubmitBatch(dbc.Context(), job.ID, p.InitialBatchSize); err != nil {
			s.log.Warn("initial batch failed", "job_id", job.ID, "error", err)
		}
		if fresh, err := s.jobs.GetByID(dbc, job.ID); err == nil && fresh != nil {
			job = fresh
		}
	}
	return job, nil
}

func (s *llmJobService) List(dbc dbctx.Context, p ListJobsParams) ([]*types.LLMJob, error) {
	filter := repos.ListJobsFilter{
		OwnerUserID:      p.OwnerUserID,
		EntityType:       p.EntityType,
		IncludeCompleted: p.IncludeCompleted,
		Limit:            p.Limit,
	}
	if p.Refresh && s.poller != nil {
		s.refresh(dbc, filter)
	}
	out, err := s.jobs.List(dbc, filter)
	if err != nil {
		return nil, apierr.FromStorage(err)
	}
	return out, nil
}

// refresh advances the listed in-flight jobs before they are read. Failures only cost freshness.
func (s *llmJobService) refresh(dbc dbctx.Context, filter repos.ListJobsFilter) {
	filter.IncludeCompleted = false
	inflight, err := s.jobs.List(dbc, filter)
	if err != nil {
		s.log.Warn("list refresh skipped", "error", err)
		return
	}
	if len(inflight) == 0 {
		return
	}
	ids := make([]uuid.UUID, len(inflight))
	for i, j := range inflight {
		ids[i] = j.ID
	}
	ctx, cancel := context.WithTimeout(dbc.Context(), s.cfg.RefreshTimeout)
	defer cancel()
	if _, err := s.poller.RefreshJobs(ctx, ids); err != nil {
		s.log.Warn("list refresh failed", "jobs", len(ids), "error", err)
	}
}

func (s *llmJobService) Get(dbc dbctx.Context, id uuid.UUID) (*types.LLMJob, error) {
	job, err := s.jobs.GetByID(dbc, id)
	if err != nil {
		return nil, apierr.FromStorage(err)
	}
	if job == nil {
		return nil, apierr.NotFound("job %s not found", id)
	}
	return job, nil
}

func (s *llmJobService) ListItems(dbc dbctx.Context, jobID uuid.UUID, status string, limit int) ([]*types.LLMJobItem, error) {
	if _, err := s.Get(dbc, jobID); err != nil {
		return nil, err
	}
	switch status {
	case "", types.ItemStatusPending, types.ItemStatusSubmitted, types.ItemStatusCompleted, types.ItemStatusFailed:
	default:
		return nil, apierr.Validation("unknown item status %q", status)
	}
	out, err := s.items.ListByJob(dbc, jobID, status, limit)
	if err != nil {
		return nil, apierr.FromStorage(err)
	}
	return out, nil
}

// Cancel stops further submission. Items already with the provider are left to finish but
// their results are never written back.
func (s *llmJobService) Cancel(dbc dbctx.Context, id uuid.UUID) (*types.LLMJob, error) {
	now := time.Now().UTC()
	moved, err := s.jobs.UpdateFieldsIfStatus(dbc, id, []string{types.JobStatusPending, types.JobStatusRunning}, map[string]interface{}{
		"status":       types.JobStatusCancelled,
		"completed_at": now,
		"updated_at":   now,
	})
	if err != nil {
		return nil, apierr.FromStorage(err)
	}
	job, err := s.Get(dbc, id)
	if err != nil {
		return nil, err
	}
	if !moved && job.Status != types.JobStatusCancelled {
		return nil, apierr.Conflict("job %s is already %s", id, job.Status)
	}
	if moved {
		s.log.Info("llm job cancelled", "job_id", id)
	}
	return job, nil
}

func (s *llmJobService) MarkSeen(dbc dbctx.Context, id uuid.UUID) (*types.LLMJob, error) {
	job, err := s.Get(dbc, id)
	if err != nil {
		return nil, err
	}
	if job.SeenAt != nil {
		return job, nil
	}
	now := time.Now().UTC()
	if err := s.jobs.UpdateFields(dbc, id, map[string]interface{}{"seen_at": now}); err != nil {
		return nil, apierr.FromStorage(err)
	}
	job.SeenAt = &now
	return job, nil
}

// UnseenCount counts completed jobs nobody has acknowledged. A slow count surfaces as a
// storage timeout instead of blocking the caller.
func (s *llmJobService) UnseenCount(dbc dbctx.Context, owner *uuid.UUID, pos string) (int64, error) {
	entityType := ""
	if strings.TrimSpace(pos) != "" {
		kind, err := lex.ParseEntityKind(pos)
		if err != nil {
			return 0, apierr.Validation("%v", err)
		}
		entityType = string(kind)
	}
	ctx, cancel := context.WithTimeout(dbc.Context(), s.cfg.UnseenTimeout)
	defer cancel()
	n, err := s.jobs.CountUnseen(dbctx.Context{Ctx: ctx, Tx: dbc.Tx}, owner, entityType)
	if err != nil {
		return 0, apierr.FromStorage(err)
	}
	return n, nil
}

func (s *llmJobService) RecomputeAggregates(dbc dbctx.Context, jobID uuid.UUID) (repos.StatusCounts, error) {
	return s.agg.Recompute(dbc, jobID)
}
