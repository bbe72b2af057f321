package pollrun

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Workflow runs one poll tick. It is started under a cron schedule, so a failed run is
// simply superseded by the next one instead of retried.
func Workflow(ctx workflow.Context) (TickResult, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: 5 * time.Second,
			MaximumAttempts: 2,
		},
	})
	var out TickResult
	if err := workflow.ExecuteActivity(ctx, ActivityTick).Get(ctx, &out); err != nil {
		return out, err
	}
	if out.Finalized > 0 {
		workflow.GetLogger(ctx).Info("poll run finalized jobs", "finalized", out.Finalized)
	}
	return out, nil
}
