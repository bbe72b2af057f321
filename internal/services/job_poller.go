package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/lexicon-backend/internal/data/repos"
	types "github.com/yungbote/lexicon-backend/internal/domain"
	lex "github.com/yungbote/lexicon-backend/internal/domain/lexicon"
	"github.com/yungbote/lexicon-backend/internal/jobs/reconcile"
	"github.com/yungbote/lexicon-backend/internal/platform/apierr"
	"github.com/yungbote/lexicon-backend/internal/platform/dbctx"
	"github.com/yungbote/lexicon-backend/internal/platform/envutil"
	"github.com/yungbote/lexicon-backend/internal/platform/llm"
	"github.com/yungbote/lexicon-backend/internal/platform/logger"
)

const pollLeaseKey = "llm-job-poller"

// Lease guards a poll tick across replicas. The redis client implements it.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

type PollerConfig struct {
	Concurrency int
	Timeout     time.Duration
	JobLimit    int
	LeaseTTL    time.Duration
}

func PollerConfigFromEnv() PollerConfig {
	return PollerConfig{
		Concurrency: envutil.Int("POLL_CONCURRENCY", 8),
		Timeout:     envutil.Seconds("POLL_TIMEOUT_SECONDS", 50),
		JobLimit:    envutil.Int("POLL_JOB_LIMIT", 50),
		LeaseTTL:    envutil.Seconds("POLL_LEASE_TTL_SECONDS", 55),
	}
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.Timeout <= 0 {
		c.Timeout = 50 * time.Second
	}
	if c.JobLimit <= 0 {
		c.JobLimit = 50
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = c.Timeout + 5*time.Second
	}
	return c
}

type TickReport struct {
	Skipped   bool `json:"skipped,omitempty"`
	Jobs      int  `json:"jobs"`
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
	Finalized int  `json:"finalized"`
}

func (r *TickReport) add(o TickReport) {
	r.Jobs += o.Jobs
	r.Completed += o.Completed
	r.Failed += o.Failed
	r.Finalized += o.Finalized
}

type JobPoller interface {
	// Tick reconciles every in-flight job once.
	Tick(ctx context.Context) (TickReport, error)
	// RefreshJobs reconciles only the given in-flight jobs and skips the lease.
	RefreshJobs(ctx context.Context, ids []uuid.UUID) (TickReport, error)
}

type jobPoller struct {
	db        *gorm.DB
	log       *logger.Logger
	jobs      repos.LLMJobRepo
	items     repos.LLMJobItemRepo
	agg       *JobAggregator
	writeback *Writeback
	provider  llm.Provider
	lease     Lease
	cfg       PollerConfig
}

func NewJobPoller(
	db *gorm.DB,
	baseLog *logger.Logger,
	jobs repos.LLMJobRepo,
	items repos.LLMJobItemRepo,
	agg *JobAggregator,
	writeback *Writeback,
	provider llm.Provider,
	lease Lease,
	cfg PollerConfig,
) JobPoller {
	return &jobPoller{
		db:        db,
		log:       baseLog.With("service", "JobPoller"),
		jobs:      jobs,
		items:     items,
		agg:       agg,
		writeback: writeback,
		provider:  provider,
		lease:     lease,
		cfg:       cfg.withDefaults(),
	}
}

func (p *jobPoller) Tick(ctx context.Context) (TickReport, error) {
	if p.lease != nil {
		release, ok, err := p.lease.Acquire(ctx, pollLeaseKey, p.cfg.LeaseTTL)
		if err != nil {
			p.log.Warn("poll lease unavailable, polling anyway", "error", err)
		} else if !ok {
			p.log.Debug("poll tick skipped, lease held elsewhere")
			return TickReport{Skipped: true}, nil
		} else {
			defer release()
		}
	}
	return p.run(ctx, nil)
}

func (p *jobPoller) RefreshJobs(ctx context.Context, ids []uuid.UUID) (TickReport, error) {
	if len(ids) == 0 {
		return TickReport{}, nil
	}
	return p.run(ctx, ids)
}

func (p *jobPoller) run(ctx context.Context, ids []uuid.UUID) (TickReport, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "JobPoller.Tick", trace.WithAttributes(attribute.Int("requested_jobs", len(ids))))
	defer span.End()

	jobs, err := p.jobs.ListInFlight(dbctx.Context{Ctx: ctx}, ids, p.cfg.JobLimit)
	if err != nil {
		return TickReport{}, apierr.FromStorage(err)
	}
	if len(jobs) > 0 {
		picked := make([]uuid.UUID, 0, len(jobs))
		for _, job := range jobs {
			picked = append(picked, job.ID)
		}
		if err := p.jobs.MarkPolled(dbctx.Context{Ctx: ctx}, picked, time.Now().UTC()); err != nil {
			return TickReport{}, apierr.FromStorage(err)
		}
	}
	var (
		report TickReport
		errs   []error
	)
	for _, job := range jobs {
		r, err := p.reconcileJob(ctx, job)
		report.add(r)
		if err != nil {
			p.log.Error("reconcile job failed", "job_id", job.ID, "error", err)
			errs = append(errs, fmt.Errorf("job %s: %w", job.ID, err))
		}
		if ctx.Err() != nil {
			break
		}
	}
	report.Jobs = len(jobs)
	span.SetAttributes(attribute.Int("jobs", report.Jobs), attribute.Int("finalized", report.Finalized))
	if report.Jobs > 0 {
		p.log.Info("poll tick done",
			"jobs", report.Jobs,
			"completed", report.Completed,
			"failed", report.Failed,
			"finalized", report.Finalized,
		)
	}
	return report, errors.Join(errs...)
}

func (p *jobPoller) reconcileJob(ctx context.Context, job *types.LLMJob) (TickReport, error) {
	var report TickReport
	dbc := dbctx.Context{Ctx: ctx}
	items, err := p.items.ListStates(dbc, job.ID)
	if err != nil {
		return report, apierr.FromStorage(err)
	}

	snap := reconcile.Snapshot{Job: job, Items: items}
	if fields, schema, err := resultShape(job); err != nil {
		p.log.Error("job cannot be reconciled", "job_id", job.ID, "error", err)
		snap.PreconditionErr = err.Error()
	} else {
		snap.Fields = fields
		snap.Schema = schema
		snap.Observations = p.observe(ctx, items)
	}

	decision := reconcile.Plan(snap)
	now := time.Now().UTC()
	for _, act := range decision.Actions {
		won, err := p.items.UpdateIfStatus(dbc, act.ItemID, types.ItemStatusSubmitted, act.Updates(now))
		if err != nil {
			return report, apierr.FromStorage(err)
		}
		if !won {
			continue
		}
		if act.Kind == reconcile.ActionComplete {
			report.Completed++
		} else {
			report.Failed++
		}
	}
	if len(decision.Actions) > 0 {
		if _, err := p.agg.Recompute(dbc, job.ID); err != nil {
			return report, err
		}
	}
	if decision.Finalize == nil {
		return report, nil
	}
	done, err := p.finalize(ctx, job, *decision.Finalize)
	if err != nil {
		return report, err
	}
	if done {
		report.Finalized++
	}
	return report, nil
}

// resultShape returns the fields a job writes and the schema its results must satisfy.
func resultShape(job *types.LLMJob) ([]lex.FieldSpec, *jsonschema.Schema, error) {
	kind, err := lex.ParseEntityKind(job.EntityType)
	if err != nil {
		return nil, nil, err
	}
	var names []string
	if len(job.TargetFields) > 0 {
		if err := json.Unmarshal(job.TargetFields, &names); err != nil {
			return nil, nil, fmt.Errorf("invalid target fields: %w", err)
		}
	}
	fields, err := reconcile.TargetFields(kind, names)
	if err != nil {
		return nil, nil, err
	}
	schema, err := reconcile.CompileSchema(reconcile.ResultSchema(fields))
	if err != nil {
		return nil, nil, err
	}
	return fields, schema, nil
}

// observe polls every submitted item. A poll error is recorded per item rather than aborting the tick.
func (p *jobPoller) observe(ctx context.Context, items []*types.LLMJobItem) map[uuid.UUID]reconcile.Observation {
	out := make(map[uuid.UUID]reconcile.Observation)
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for _, it := range items {
		if it.Status != types.ItemStatusSubmitted {
			continue
		}
		if it.ProviderHandle == nil || *it.ProviderHandle == "" {
			mu.Lock()
			out[it.ID] = reconcile.Observation{Err: apierr.PermanentProvider(errors.New("submitted item has no provider handle"))}
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			st, err := p.provider.Poll(ctx, *it.ProviderHandle)
			obs := reconcile.Observation{Status: st}
			if err != nil {
				obs = reconcile.Observation{Err: llm.Classify(err)}
			}
			mu.Lock()
			out[it.ID] = obs
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// finalize moves the job to its terminal status and, on success, writes results back.
// Both happen in one transaction so a failed write-back leaves the job in flight.
func (p *jobPoller) finalize(ctx context.Context, job *types.LLMJob, fin reconcile.Finalize) (bool, error) {
	var done bool
	err := inTx(p.db, dbctx.Context{Ctx: ctx}, func(inner dbctx.Context) error {
		now := time.Now().UTC()
		won, err := p.jobs.UpdateFieldsIfStatus(inner, job.ID, []string{types.JobStatusPending, types.JobStatusRunning}, map[string]interface{}{
			"status":       fin.Status,
			"error":        fin.Error,
			"completed_at": now,
			"updated_at":   now,
		})
		if err != nil || !won {
			return err
		}
		if fin.Status == types.JobStatusCompleted {
			completed, err := p.items.ListByJob(inner, job.ID, types.ItemStatusCompleted, 0)
			if err != nil {
				return err
			}
			csID, err := p.writeback.Apply(inner, job, completed)
			if err != nil {
				return fmt.Errorf("writeback: %w", err)
			}
			if csID != nil {
				if err := p.jobs.UpdateFields(inner, job.ID, map[string]interface{}{"changeset_id": *csID}); err != nil {
					return err
				}
			}
		}
		if _, err := p.agg.Recompute(inner, job.ID); err != nil {
			return err
		}
		done = true
		return nil
	})
	if err != nil {
		return false, apierr.FromStorage(err)
	}
	if done {
		p.log.Info("job finalized", "job_id", job.ID, "status", fin.Status)
	}
	return done, nil
}
