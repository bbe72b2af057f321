package pollrun

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/lexicon-backend/internal/platform/logger"
)

// EnsureCron starts the cron poll workflow unless one is already running under CronWorkflowID.
func EnsureCron(ctx context.Context, log *logger.Logger, tc temporalsdkclient.Client, taskQueue, cron string) error {
	if cron == "" {
		log.Info("TEMPORAL_POLL_CRON empty; cron poll workflow not started")
		return nil
	}
	run, err := tc.ExecuteWorkflow(ctx, temporalsdkclient.StartWorkflowOptions{
		ID:           CronWorkflowID,
		TaskQueue:    taskQueue,
		CronSchedule: cron,
	}, WorkflowName)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			log.Debug("cron poll workflow already running", "workflow_id", CronWorkflowID)
			return nil
		}
		return fmt.Errorf("start cron poll workflow: %w", err)
	}
	log.Info("cron poll workflow started", "workflow_id", run.GetID(), "run_id", run.GetRunID(), "cron", cron)
	return nil
}
