package pollrun

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"

	"github.com/yungbote/lexicon-backend/internal/services"
)

type stubPoller struct {
	report services.TickReport
	err    error
	calls  int
}

func (s *stubPoller) Tick(ctx context.Context) (services.TickReport, error) {
	s.calls++
	return s.report, s.err
}

func (s *stubPoller) RefreshJobs(ctx context.Context, ids []uuid.UUID) (services.TickReport, error) {
	return s.report, s.err
}

func TestWorkflowReturnsTickResult(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterActivityWithOptions((&Activities{}).Tick, activity.RegisterOptions{Name: ActivityTick})
	env.OnActivity(ActivityTick, mock.Anything).Return(TickResult{Jobs: 3, Completed: 5, Finalized: 1}, nil)

	env.ExecuteWorkflow(Workflow)
	if !env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	var out TickResult
	if err := env.GetWorkflowResult(&out); err != nil {
		t.Fatalf("result: %v", err)
	}
	if out.Jobs != 3 || out.Completed != 5 || out.Finalized != 1 {
		t.Fatalf("unexpected result %+v", out)
	}
}

func TestWorkflowSurfacesActivityFailure(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterActivityWithOptions((&Activities{}).Tick, activity.RegisterOptions{Name: ActivityTick})
	env.OnActivity(ActivityTick, mock.Anything).Return(TickResult{}, errors.New("database unavailable"))

	env.ExecuteWorkflow(Workflow)
	if !env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	if env.GetWorkflowError() == nil {
		t.Fatalf("expected the activity error to fail the run")
	}
}

func TestActivityMapsReport(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	poller := &stubPoller{report: services.TickReport{Jobs: 2, Failed: 1}}
	acts := &Activities{Poller: poller}
	env.RegisterActivityWithOptions(acts.Tick, activity.RegisterOptions{Name: ActivityTick})

	val, err := env.ExecuteActivity(ActivityTick)
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	var out TickResult
	if err := val.Get(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Jobs != 2 || out.Failed != 1 || poller.calls != 1 {
		t.Fatalf("unexpected result %+v after %d calls", out, poller.calls)
	}
}

func TestActivityRequiresPoller(t *testing.T) {
	if _, err := (&Activities{}).Tick(context.Background()); err == nil {
		t.Fatalf("expected an error without a poller")
	}
}
