package pollrun

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/yungbote/lexicon-backend/internal/services"
)

type Activities struct {
	Poller services.JobPoller
}

func (a *Activities) Tick(ctx context.Context) (TickResult, error) {
	if a == nil || a.Poller == nil {
		return TickResult{}, fmt.Errorf("pollrun: activity not configured")
	}
	activity.RecordHeartbeat(ctx, "tick")
	r, err := a.Poller.Tick(ctx)
	res := TickResult{
		Skipped:   r.Skipped,
		Jobs:      r.Jobs,
		Completed: r.Completed,
		Failed:    r.Failed,
		Finalized: r.Finalized,
	}
	if err != nil {
		return res, fmt.Errorf("pollrun: tick: %w", err)
	}
	return res, nil
}
