package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/lexicon-backend/internal/data/repos"
	types "github.com/yungbote/lexicon-backend/internal/domain"
	lex "github.com/yungbote/lexicon-backend/internal/domain/lexicon"
	"github.com/yungbote/lexicon-backend/internal/jobs/reconcile"
	"github.com/yungbote/lexicon-backend/internal/platform/apierr"
	"github.com/yungbote/lexicon-backend/internal/platform/dbctx"
	"github.com/yungbote/lexicon-backend/internal/platform/envutil"
	"github.com/yungbote/lexicon-backend/internal/platform/httpx"
	"github.com/yungbote/lexicon-backend/internal/platform/llm"
	"github.com/yungbote/lexicon-backend/internal/platform/logger"
)

const (
	MinBatchSize = 1
	MaxBatchSize = 100
)

type SubmitterConfig struct {
	MaxAttempts int
	Backoff     time.Duration
	BackoffMax  time.Duration
	Concurrency int
	// RequestsPerSecond caps provider submits across one call. Zero disables the cap.
	RequestsPerSecond float64
	Budget            time.Duration
	ClaimTTL          time.Duration
}

func SubmitterConfigFromEnv() SubmitterConfig {
	return SubmitterConfig{
		MaxAttempts:       envutil.Int("LLM_SUBMIT_MAX_ATTEMPTS", 3),
		Backoff:           envutil.Millis("LLM_SUBMIT_BACKOFF_MS", 1000),
		BackoffMax:        envutil.Millis("LLM_SUBMIT_BACKOFF_MAX_MS", 10000),
		Concurrency:       envutil.Int("LLM_SUBMIT_CONCURRENCY", 4),
		RequestsPerSecond: envutil.Float("LLM_SUBMIT_RPS", 5),
		Budget:            envutil.Seconds("LLM_BATCH_TIMEOUT_SECONDS", 55),
		ClaimTTL:          envutil.Seconds("LLM_CLAIM_STALE_SECONDS", 300),
	}
}

func (c SubmitterConfig) withDefaults() SubmitterConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 10 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.Budget <= 0 {
		c.Budget = 55 * time.Second
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 5 * time.Minute
	}
	return c
}

type BatchResult struct {
	Submitted int `json:"submitted"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

type BatchSubmitter interface {
	SubmitBatch(ctx context.Context, jobID uuid.UUID, batchSize int) (BatchResult, error)
}

type batchSubmitter struct {
	db       *gorm.DB
	log      *logger.Logger
	jobs     repos.LLMJobRepo
	items    repos.LLMJobItemRepo
	stores   *repos.EntityRegistry
	agg      *JobAggregator
	provider llm.Provider
	cfg      SubmitterConfig
}

func NewBatchSubmitter(
	db *gorm.DB,
	baseLog *logger.Logger,
	jobs repos.LLMJobRepo,
	items repos.LLMJobItemRepo,
	stores *repos.EntityRegistry,
	agg *JobAggregator,
	provider llm.Provider,
	cfg SubmitterConfig,
) BatchSubmitter {
	return &batchSubmitter{
		db:       db,
		log:      baseLog.With("service", "BatchSubmitter"),
		jobs:     jobs,
		items:    items,
		stores:   stores,
		agg:      agg,
		provider: provider,
		cfg:      cfg.withDefaults(),
	}
}

type itemOutcome int

const (
	outcomeSubmitted itemOutcome = iota
	outcomeFailed
	outcomeReleased
	outcomeLost
)

// submitContext is everything about the job that stays fixed for one SubmitBatch call.
type submitContext struct {
	job    *types.LLMJob
	kind   lex.EntityKind
	store  repos.EntityStore
	prompt *jobPrompt
	fields []lex.FieldSpec
	schema map[string]any
	token  string
}

// SubmitBatch claims up to batchSize pending items of a job and hands them to the provider.
// Each item is submitted at most once per claim; transient failures are retried with linear
// backoff until the attempt ceiling, after which the item fails with the last error.
// Items still claimed when the time budget runs out are released for a later call.
func (s *batchSubmitter) SubmitBatch(ctx context.Context, jobID uuid.UUID, batchSize int) (BatchResult, error) {
	if batchSize < MinBatchSize {
		batchSize = MinBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	ctx, span := tracer.Start(ctx, "SubmitBatch", trace.WithAttributes(
		attribute.String("job_id", jobID.String()),
		attribute.Int("batch_size", batchSize),
	))
	defer span.End()
	dbc := dbctx.Context{Ctx: ctx}
	job, err := s.jobs.GetByID(dbc, jobID)
	if err != nil {
		return BatchResult{}, apierr.FromStorage(err)
	}
	if job == nil {
		return BatchResult{}, apierr.NotFound("job %s not found", jobID)
	}
	if types.IsTerminalJob(job.Status) {
		return BatchResult{}, apierr.Conflict("job %s is %s", jobID, job.Status)
	}

	sc, err := s.prepare(job)
	if err != nil {
		return BatchResult{}, err
	}

	budgetCtx, cancel := context.WithTimeout(ctx, s.cfg.Budget)
	defer cancel()
	bdbc := dbctx.Context{Ctx: budgetCtx}

	staleBefore := time.Now().UTC().Add(-s.cfg.ClaimTTL)
	candidates, err := s.items.ClaimCandidates(bdbc, jobID, staleBefore, batchSize)
	if err != nil {
		return BatchResult{}, apierr.FromStorage(err)
	}
	claimed := make([]*types.LLMJobItem, 0, len(candidates))
	for _, it := range candidates {
		won, err := s.items.Claim(bdbc, it.ID, sc.token, staleBefore)
		if err != nil {
			s.releaseAll(ctx, claimed, sc.token)
			return BatchResult{}, apierr.FromStorage(err)
		}
		if won {
			claimed = append(claimed, it)
		}
	}

	var limiter *rate.Limiter
	if s.cfg.RequestsPerSecond > 0 {
		burst := int(s.cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), burst)
	}

	var (
		mu  sync.Mutex
		out BatchResult
	)
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	bookkeeping := context.WithoutCancel(ctx)
	for _, it := range claimed {
		g.Go(func() error {
			switch s.submitItem(budgetCtx, bookkeeping, sc, it, limiter) {
			case outcomeSubmitted:
				mu.Lock()
				out.Submitted++
				mu.Unlock()
			case outcomeFailed:
				mu.Lock()
				out.Failed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(claimed) > 0 {
		if _, err := s.agg.Recompute(dbc, jobID); err != nil {
			return out, err
		}
	}
	if out.Submitted > 0 {
		if _, err := s.jobs.UpdateFieldsIfStatus(dbc, jobID, []string{types.JobStatusPending}, map[string]interface{}{
			"status":     types.JobStatusRunning,
			"updated_at": time.Now().UTC(),
		}); err != nil {
			return out, apierr.FromStorage(err)
		}
	}
	remaining, err := s.items.CountPending(dbc, jobID)
	if err != nil {
		return out, apierr.FromStorage(err)
	}
	out.Remaining = int(remaining)
	s.log.Info("batch submitted",
		"job_id", jobID,
		"claimed", len(claimed),
		"submitted", out.Submitted,
		"failed", out.Failed,
		"remaining", out.Remaining,
	)
	return out, nil
}

func (s *batchSubmitter) prepare(job *types.LLMJob) (*submitContext, error) {
	kind, err := lex.ParseEntityKind(job.EntityType)
	if err != nil {
		return nil, apierr.Validation("%v", err)
	}
	store, err := s.stores.Store(kind)
	if err != nil {
		return nil, apierr.Validation("%v", err)
	}
	var names []string
	if len(job.TargetFields) > 0 {
		if err := json.Unmarshal(job.TargetFields, &names); err != nil {
			return nil, apierr.Validation("job target fields: %v", err)
		}
	}
	fields, err := reconcile.TargetFields(kind, names)
	if err != nil {
		return nil, apierr.Validation("%v", err)
	}
	prompt, err := parseJobPrompt(job.PromptTemplate)
	if err != nil {
		return nil, err
	}
	return &submitContext{
		job:    job,
		kind:   kind,
		store:  store,
		prompt: prompt,
		fields: fields,
		schema: reconcile.ResultSchema(fields),
		token:  uuid.NewString(),
	}, nil
}

// submitItem drives one claimed item to submitted or failed, or gives the claim back.
// ctx carries the time budget; parent outlives it for bookkeeping writes.
func (s *batchSubmitter) submitItem(ctx, parent context.Context, sc *submitContext, it *types.LLMJobItem, limiter *rate.Limiter) itemOutcome {
	dbc := dbctx.Context{Ctx: ctx}
	log := s.log.With("job_id", sc.job.ID, "item_id", it.ID, "entity_id", it.EntityID)

	current, err := s.jobs.GetByID(dbc, sc.job.ID)
	if err != nil || current == nil || current.Status == types.JobStatusCancelled {
		s.release(parent, it.ID, sc.token)
		return outcomeReleased
	}

	snaps, err := sc.store.FindByIDs(dbc, []int64{it.EntityID})
	if err != nil {
		s.release(parent, it.ID, sc.token)
		return outcomeReleased
	}
	snap, ok := snaps[it.EntityID]
	if !ok {
		return s.fail(parent, it, sc.token, "entity not found")
	}
	prompt, err := sc.prompt.render(sc.kind, it.EntityID, snap)
	if err != nil {
		return s.fail(parent, it, sc.token, err.Error())
	}
	payload, err := json.Marshal(types.RequestPayload{Prompt: prompt, Snapshot: snap})
	if err != nil {
		return s.fail(parent, it, sc.token, err.Error())
	}

	req := llm.Request{
		CustomID:        it.ID.String(),
		Model:           sc.job.Model,
		Instructions:    resultInstructions(sc.kind, sc.fields),
		Prompt:          prompt,
		ServiceTier:     sc.job.ServiceTier,
		ReasoningEffort: sc.job.ReasoningEffort,
		SchemaName:      "lexicon_" + string(sc.kind) + "_result",
		Schema:          sc.schema,
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				s.release(parent, it.ID, sc.token)
				return outcomeReleased
			}
		}
		won, err := s.items.UpdateClaimed(dbc, it.ID, sc.token, map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": time.Now().UTC(),
		})
		if err != nil {
			s.release(parent, it.ID, sc.token)
			return outcomeReleased
		}
		if !won {
			log.Warn("claim lost before submit")
			return outcomeLost
		}

		handle, err := s.provider.Submit(ctx, req)
		if err == nil {
			now := time.Now().UTC()
			won, uerr := s.items.UpdateClaimed(dbctx.Context{Ctx: parent}, it.ID, sc.token, map[string]interface{}{
				"status":          types.ItemStatusSubmitted,
				"provider_handle": handle,
				"request_payload": datatypes.JSON(payload),
				"submitted_at":    now,
				"error":           "",
				"claim_token":     nil,
				"claimed_at":      nil,
				"updated_at":      now,
			})
			if uerr != nil || !won {
				log.Error("submitted item could not be recorded", "handle", handle, "error", uerr)
				return outcomeLost
			}
			return outcomeSubmitted
		}

		lastErr = llm.Classify(err)
		if ctx.Err() != nil {
			s.release(parent, it.ID, sc.token)
			return outcomeReleased
		}
		if !llm.IsTransient(lastErr) {
			log.Warn("submit failed permanently", "attempt", attempt, "error", lastErr)
			return s.fail(parent, it, sc.token, lastErr.Error())
		}
		if attempt == s.cfg.MaxAttempts {
			break
		}
		log.Debug("submit failed, retrying", "attempt", attempt, "error", lastErr)
		if err := httpx.Sleep(ctx, httpx.LinearBackoff(s.cfg.Backoff, attempt, s.cfg.BackoffMax)); err != nil {
			s.release(parent, it.ID, sc.token)
			return outcomeReleased
		}
	}
	msg := "submit attempts exhausted"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	log.Warn("submit attempts exhausted", "attempts", s.cfg.MaxAttempts, "error", msg)
	return s.fail(parent, it, sc.token, msg)
}

func (s *batchSubmitter) fail(ctx context.Context, it *types.LLMJobItem, token, msg string) itemOutcome {
	now := time.Now().UTC()
	won, err := s.items.UpdateClaimed(dbctx.Context{Ctx: ctx}, it.ID, token, map[string]interface{}{
		"status":       types.ItemStatusFailed,
		"error":        msg,
		"completed_at": now,
		"claim_token":  nil,
		"claimed_at":   nil,
		"updated_at":   now,
	})
	if err != nil || !won {
		s.log.Warn("could not mark item failed", "item_id", it.ID, "error", err)
		return outcomeLost
	}
	return outcomeFailed
}

func (s *batchSubmitter) release(ctx context.Context, id uuid.UUID, token string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.items.ReleaseClaim(dbctx.Context{Ctx: rctx}, id, token); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("release claim failed", "item_id", id, "error", err)
	}
}

func (s *batchSubmitter) releaseAll(ctx context.Context, items []*types.LLMJobItem, token string) {
	for _, it := range items {
		s.release(ctx, it.ID, token)
	}
}
