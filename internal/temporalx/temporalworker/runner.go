package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/lexicon-backend/internal/platform/envutil"
	"github.com/yungbote/lexicon-backend/internal/platform/logger"
	"github.com/yungbote/lexicon-backend/internal/services"
	"github.com/yungbote/lexicon-backend/internal/temporalx"
	"github.com/yungbote/lexicon-backend/internal/temporalx/pollrun"
)

// Runner hosts the poll workflow and activity and keeps the cron workflow registered.
type Runner struct {
	log    *logger.Logger
	cfg    temporalx.Config
	tc     temporalsdkclient.Client
	poller services.JobPoller
}

func NewRunner(log *logger.Logger, cfg temporalx.Config, tc temporalsdkclient.Client, poller services.JobPoller) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if poller == nil {
		return nil, fmt.Errorf("temporal worker needs a poller")
	}
	return &Runner{log: log.With("component", "TemporalWorker"), cfg: cfg, tc: tc, poller: poller}, nil
}

// Start starts the worker, retrying until TEMPORAL_WORKER_START_MAX_WAIT_SECONDS elapses, then
// makes sure the cron workflow exists. The worker stops when ctx is done.
func (r *Runner) Start(ctx context.Context) error {
	r.log.Info("starting temporal worker", "address", r.cfg.Address, "namespace", r.cfg.Namespace, "task_queue", r.cfg.TaskQueue)

	maxWait := envutil.Seconds("TEMPORAL_WORKER_START_MAX_WAIT_SECONDS", 60)
	deadline := time.Now().Add(maxWait)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		w := r.newWorker()
		startErr := w.Start()
		if startErr == nil {
			go func() {
				<-ctx.Done()
				w.Stop()
			}()
			r.log.Info("temporal worker started", "attempts", attempt)
			return pollrun.EnsureCron(ctx, r.log, r.tc, r.cfg.TaskQueue, r.cfg.PollCron)
		}
		w.Stop()

		var nfe *serviceerror.NamespaceNotFound
		missingNS := errors.As(startErr, &nfe)
		if missingNS && r.cfg.AutoRegisterNamespace {
			if err := temporalx.EnsureNamespace(ctx, r.log, r.cfg); err != nil {
				r.log.Warn("namespace registration failed", "namespace", r.cfg.Namespace, "error", err)
			}
		}
		if maxWait <= 0 || time.Now().After(deadline) {
			if missingNS {
				return fmt.Errorf("temporal namespace %s not found: %w", r.cfg.Namespace, startErr)
			}
			return startErr
		}
		r.log.Warn("temporal worker failed to start; retrying", "attempt", attempt, "error", startErr)
		time.Sleep(r.cfg.Backoff(attempt))
	}
}

func (r *Runner) newWorker() worker.Worker {
	w := worker.New(r.tc, r.cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     envutil.Int("TEMPORAL_WORKER_CONCURRENCY", 2),
		MaxConcurrentWorkflowTaskExecutionSize: envutil.Int("TEMPORAL_WORKER_CONCURRENCY", 2),
	})
	acts := &pollrun.Activities{Poller: r.poller}
	w.RegisterWorkflowWithOptions(pollrun.Workflow, workflow.RegisterOptions{Name: pollrun.WorkflowName})
	w.RegisterActivityWithOptions(acts.Tick, activity.RegisterOptions{Name: pollrun.ActivityTick})
	return w
}
