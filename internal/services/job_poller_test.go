package services

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/lexicon-backend/internal/domain"
	"github.com/yungbote/lexicon-backend/internal/platform/apierr"
	"github.com/yungbote/lexicon-backend/internal/platform/llm"
)

func TestPollerCompletesJobAndStagesChanges(t *testing.T) {
	h := newHarness(t)
	ids := h.seedNouns(t, 2)
	job := h.createJob(t, CreateJobParams{Label: "glosses", JobType: types.JobTypeEdit, Scope: idsScope(ids, "noun"), TargetFields: []string{"gloss"}})
	if _, err := h.submitter.SubmitBatch(h.dbc.Ctx, job.ID, 10); err != nil {
		t.Fatalf("submit: %v", err)
	}

	report, err := h.poller.Tick(h.dbc.Ctx)
	if err != nil {
		t.Fatalf("pending tick: %v", err)
	}
	if report.Jobs != 1 || report.Completed != 0 || report.Finalized != 0 {
		t.Fatalf("nothing should move while the provider is busy: %+v", report)
	}

	h.provider.respond = completedWith(`{"gloss":"a better gloss"}`)
	report, err = h.poller.Tick(h.dbc.Ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if report.Completed != 2 || report.Finalized != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	got := h.job(t, job.ID)
	if got.Status != types.JobStatusCompleted || got.CompletedAt == nil {
		t.Fatalf("job should be completed, got %s", got.Status)
	}
	if got.InputTokens != 200 || got.OutputTokens != 40 || got.EstimatedCostUSD == nil {
		t.Fatalf("usage not aggregated: in=%d out=%d cost=%v", got.InputTokens, got.OutputTokens, got.EstimatedCostUSD)
	}
	h.assertAggregates(t, job.ID)
	if got.ChangesetID == nil {
		t.Fatalf("edit jobs should stage a changeset")
	}
	for _, id := range ids {
		if lu := h.lexicalUnit(t, id); lu.Gloss == "a better gloss" {
			t.Fatalf("staged changes must not touch storage before apply")
		}
	}

	detail, err := h.changesets.GetChangeset(h.dbc, *got.ChangesetID)
	if err != nil {
		t.Fatalf("get changeset: %v", err)
	}
	if len(detail.Changes) != 2 || detail.SourceJobID == nil || *detail.SourceJobID != job.ID {
		t.Fatalf("unexpected changeset %+v", detail)
	}
	if _, err := h.changesets.ApplyChangeset(h.dbc, *got.ChangesetID); err != nil {
		t.Fatalf("apply: %v", err)
	}
	for _, id := range ids {
		if lu := h.lexicalUnit(t, id); lu.Gloss != "a better gloss" {
			t.Fatalf("apply did not write %d: %q", id, lu.Gloss)
		}
	}
}

func TestPollerIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ids := h.seedNouns(t, 2)
	job := h.createJob(t, CreateJobParams{JobType: types.JobTypeEdit, Scope: idsScope(ids, "noun"), TargetFields: []string{"gloss"}})
	if _, err := h.submitter.SubmitBatch(h.dbc.Ctx, job.ID, 10); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.provider.respond = completedWith(`{"gloss":"same"}`)
	if _, err := h.poller.Tick(h.dbc.Ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	first := h.job(t, job.ID)

	report, err := h.poller.Tick(h.dbc.Ctx)
	if err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if report.Jobs != 0 {
		t.Fatalf("terminal jobs must not be polled again: %+v", report)
	}
	if _, err := h.poller.RefreshJobs(h.dbc.Ctx, []uuid.UUID{job.ID}); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	second := h.job(t, job.ID)
	if *second.ChangesetID != *first.ChangesetID || second.CompletedItems != first.CompletedItems {
		t.Fatalf("re-polling changed a finished job")
	}
	h.assertAggregates(t, job.ID)
}

func TestPollerModerationWritesDirectly(t *testing.T) {
	h := newHarness(t)
	ids := h.seedNouns(t, 1)
	job := h.createJob(t, CreateJobParams{JobType: types.JobTypeModerate, Scope: idsScope(ids, "noun"), PromptTemplate: "Is {{.lemma}} offensive?"})
	if _, err := h.submitter.SubmitBatch(h.dbc.Ctx, job.ID, 10); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.provider.respond = completedWith(`{"flagged":true,"flagged_reason":"slur"}`)
	if _, err := h.poller.Tick(h.dbc.Ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got := h.job(t, job.ID)
	if got.Status != types.JobStatusCompleted || got.ChangesetID != nil {
		t.Fatalf("moderation should complete without a changeset: %s %v", got.Status, got.ChangesetID)
	}
	lu := h.lexicalUnit(t, ids[0])
	if !lu.Flagged || lu.FlaggedReason == nil || *lu.FlaggedReason != "slur" {
		t.Fatalf("flag not written: %+v", lu)
	}
}

func TestPollerFailsItemsWithBadOutput(t *testing.T) {
	h := newHarness(t)
	ids := h.seedNouns(t, 2)
	job := h.createJob(t, CreateJobParams{JobType: types.JobTypeEdit, Scope: idsScope(ids, "noun"), TargetFields: []string{"gloss"}})
	if _, err := h.submitter.SubmitBatch(h.dbc.Ctx, job.ID, 10); err != nil {
		t.Fatalf("submit: %v", err)
	}
	items := h.jobItems(t, job.ID)
	bad := items[0].ID.String()
	h.provider.respond = func(customID string) llm.Status {
		if customID == bad {
			return llm.Status{State: llm.StateCompleted, Text: `{"gloss":42}`}
		}
		return llm.Status{State: llm.StateCompleted, Text: `{"gloss":"fine"}`}
	}
	report, err := h.poller.Tick(h.dbc.Ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if report.Completed != 1 || report.Failed != 1 || report.Finalized != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	got := h.job(t, job.ID)
	if got.Status != types.JobStatusCompleted || got.FailedItems != 1 || got.CompletedItems != 1 {
		t.Fatalf("a job with graceful item failures still completes: %+v", got)
	}
	for _, it := range h.jobItems(t, job.ID) {
		if it.ID.String() == bad && (it.Status != types.ItemStatusFailed || !strings.Contains(it.Error, "schema")) {
			t.Fatalf("bad output should fail the item with a schema error: %s %q", it.Status, it.Error)
		}
	}
}

func TestPollerToleratesPollErrors(t *testing.T) {
	h := newHarness(t)
	ids := h.seedNouns(t, 1)
	job := h.createJob(t, CreateJobParams{JobType: types.JobTypeEdit, Scope: idsScope(ids, "noun"), TargetFields: []string{"gloss"}})
	if _, err := h.submitter.SubmitBatch(h.dbc.Ctx, job.ID, 10); err != nil {
		t.Fatalf("submit: %v", err)
	}

	h.provider.pollErr = apierr.TransientProvider(errors.New("timeout"))
	if _, err := h.poller.Tick(h.dbc.Ctx); err != nil {
		t.Fatalf("transient poll errors should not fail the tick: %v", err)
	}
	if it := h.jobItems(t, job.ID)[0]; it.Status != types.ItemStatusSubmitted {
		t.Fatalf("transient poll error must leave the item submitted, got %s", it.Status)
	}

	h.provider.pollErr = apierr.PermanentProvider(errors.New("response expired"))
	if _, err := h.poller.Tick(h.dbc.Ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if it := h.jobItems(t, job.ID)[0]; it.Status != types.ItemStatusFailed {
		t.Fatalf("permanent poll error should fail the item, got %s", it.Status)
	}
	if got := h.job(t, job.ID); got.Status != types.JobStatusCompleted || got.ChangesetID != nil {
		t.Fatalf("job with only failed items completes with nothing to stage: %s", got.Status)
	}
}

func TestPollerSkipsCancelledJobs(t *testing.T) {
	h := newHarness(t)
	ids := h.seedNouns(t, 1)
	job := h.createJob(t, CreateJobParams{JobType: types.JobTypeEdit, Scope: idsScope(ids, "noun"), TargetFields: []string{"gloss"}})
	if _, err := h.submitter.SubmitBatch(h.dbc.Ctx, job.ID, 10); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := h.svc.Cancel(h.dbc, job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	h.provider.respond = completedWith(`{"gloss":"late"}`)
	report, err := h.poller.Tick(h.dbc.Ctx)
	if err != nil || report.Jobs != 0 {
		t.Fatalf("cancelled jobs are not in flight: %+v %v", report, err)
	}
	if lu := h.lexicalUnit(t, ids[0]); lu.Gloss == "late" {
		t.Fatalf("cancelled job wrote back")
	}
}

type stubLease struct {
	held     bool
	released int
}

func (l *stubLease) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if l.held {
		return func() {}, false, nil
	}
	return func() { l.released++ }, true, nil
}

func TestPollerHonoursLease(t *testing.T) {
	h := newHarness(t)
	lease := &stubLease{held: true}
	p := h.poller.(*jobPoller)
	p.lease = lease

	report, err := p.Tick(h.dbc.Ctx)
	if err != nil || !report.Skipped {
		t.Fatalf("tick should skip while the lease is held elsewhere: %+v %v", report, err)
	}
	lease.held = false
	report, err = p.Tick(h.dbc.Ctx)
	if err != nil || report.Skipped || lease.released != 1 {
		t.Fatalf("tick should run and release: %+v released=%d %v", report, lease.released, err)
	}
}

func TestPollerRotatesThroughInFlightJobs(t *testing.T) {
	h := newHarness(t)
	ids := h.seedNouns(t, 1)
	for i := 0; i < 2; i++ {
		h.createJob(t, CreateJobParams{JobType: types.JobTypeEdit, Scope: idsScope(ids, "noun"), TargetFields: []string{"gloss"}})
	}
	newest := h.createJob(t, CreateJobParams{JobType: types.JobTypeEdit, Scope: idsScope(ids, "noun"), TargetFields: []string{"gloss"}})
	if _, err := h.submitter.SubmitBatch(h.dbc.Ctx, newest.ID, 10); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.provider.respond = completedWith(`{"gloss":"rotated"}`)

	poller := h.newPoller(PollerConfig{Concurrency: 1, Timeout: 10 * time.Second, JobLimit: 2})
	for tick := 0; tick < 2; tick++ {
		report, err := poller.Tick(h.dbc.Ctx)
		if err != nil {
			t.Fatalf("tick %d: %v", tick, err)
		}
		if report.Jobs > 2 {
			t.Fatalf("tick %d exceeded the job limit: %+v", tick, report)
		}
	}
	if got := h.job(t, newest.ID); got.Status != types.JobStatusCompleted {
		t.Fatalf("older unsubmitted jobs starved the newest one: %s", got.Status)
	}
	h.assertAggregates(t, newest.ID)
}

func TestPollerFailsJobWithUnreadableTargets(t *testing.T) {
	h := newHarness(t)
	ids := h.seedNouns(t, 1)
	job := h.createJob(t, CreateJobParams{JobType: types.JobTypeEdit, Scope: idsScope(ids, "noun"), TargetFields: []string{"gloss"}})
	if _, err := h.submitter.SubmitBatch(h.dbc.Ctx, job.ID, 10); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := h.db.Table("llm_job").Where("id = ?", job.ID).Update("target_fields", `{"gloss":true}`).Error; err != nil {
		t.Fatalf("corrupt target fields: %v", err)
	}
	h.provider.respond = completedWith(`{"gloss":"never used"}`)

	if _, err := h.poller.Tick(h.dbc.Ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got := h.job(t, job.ID)
	if got.Status != types.JobStatusFailed || !strings.Contains(got.Error, "target fields") {
		t.Fatalf("job with unreadable targets should fail: %s %q", got.Status, got.Error)
	}
	if lu := h.lexicalUnit(t, ids[0]); lu.Gloss == "never used" {
		t.Fatalf("a failed job must not write back")
	}
}

func TestSubmitAndPollOverlapSafely(t *testing.T) {
	if os.Getenv("TEST_POSTGRES_DSN") != "" {
		t.Skip("the postgres harness shares one transaction across goroutines")
	}
	h := newHarness(t)
	ids := h.seedNouns(t, 12)
	job := h.createJob(t, CreateJobParams{JobType: types.JobTypeEdit, Scope: idsScope(ids, "noun"), TargetFields: []string{"gloss"}})
	h.provider.respond = completedWith(`{"gloss":"overlap"}`)

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for w := 0; w < 3; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 3; i++ {
				if _, err := h.submitter.SubmitBatch(h.dbc.Ctx, job.ID, 2); err != nil && !apierr.IsKind(err, apierr.KindConflict) {
					errs <- err
				}
			}
		}()
	}
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 4; i++ {
				if _, err := h.poller.Tick(h.dbc.Ctx); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("overlapping call failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		if h.job(t, job.ID).Status == types.JobStatusCompleted {
			break
		}
		if _, err := h.submitter.SubmitBatch(h.dbc.Ctx, job.ID, 100); err != nil && !apierr.IsKind(err, apierr.KindConflict) {
			t.Fatalf("drain submit: %v", err)
		}
		if _, err := h.poller.Tick(h.dbc.Ctx); err != nil {
			t.Fatalf("drain tick: %v", err)
		}
	}

	if got := h.job(t, job.ID); got.Status != types.JobStatusCompleted {
		t.Fatalf("job did not complete: %s", got.Status)
	}
	h.provider.mu.Lock()
	for customID, n := range h.provider.submits {
		if n != 1 {
			h.provider.mu.Unlock()
			t.Fatalf("item %s submitted %d times", customID, n)
		}
	}
	distinct := len(h.provider.submits)
	h.provider.mu.Unlock()
	if distinct != len(ids) {
		t.Fatalf("expected %d distinct submissions, got %d", len(ids), distinct)
	}
	h.assertAggregates(t, job.ID)
}
