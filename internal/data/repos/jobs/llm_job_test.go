package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/yungbote/lexicon-backend/internal/data/repos/testutil"
	types "github.com/yungbote/lexicon-backend/internal/domain"
	"github.com/yungbote/lexicon-backend/internal/platform/dbctx"
	"gorm.io/datatypes"
)

func newJob(owner uuid.UUID, status string, created time.Time) *types.LLMJob {
	return &types.LLMJob{
		ID:             uuid.New(),
		OwnerUserID:    owner,
		Model:          "gpt-5-mini",
		PromptTemplate: "{{.lemma}}",
		Scope:          datatypes.JSON([]byte(`{"kind":"ids","ids":[1]}`)),
		JobType:        "edit",
		EntityType:     "verb",
		TargetFields:   datatypes.JSON([]byte(`["gloss"]`)),
		Status:         status,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

func TestLLMJobRepo(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	repo := NewLLMJobRepo(db, testutil.Logger(t))

	owner := uuid.New()
	now := time.Now().UTC()
	old := newJob(owner, types.JobStatusCompleted, now.Add(-2*time.Hour))
	mid := newJob(owner, types.JobStatusRunning, now.Add(-time.Hour))
	fresh := newJob(owner, types.JobStatusPending, now)
	for _, j := range []*types.LLMJob{old, mid, fresh} {
		if err := repo.Create(dbc, j); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	all, err := repo.List(dbc, ListJobsFilter{OwnerUserID: &owner, IncludeCompleted: true})
	if err != nil || len(all) != 3 || all[0].ID != fresh.ID || all[2].ID != old.ID {
		t.Fatalf("List newest-first: err=%v len=%d", err, len(all))
	}
	active, err := repo.List(dbc, ListJobsFilter{OwnerUserID: &owner})
	if err != nil || len(active) != 2 {
		t.Fatalf("List active: err=%v len=%d", err, len(active))
	}

	inflight, err := repo.ListInFlight(dbc, nil, 0)
	if err != nil || len(inflight) != 2 || inflight[0].ID != mid.ID {
		t.Fatalf("ListInFlight oldest-first: err=%v len=%d", err, len(inflight))
	}
	if err := repo.MarkPolled(dbc, []uuid.UUID{mid.ID}, now); err != nil {
		t.Fatalf("MarkPolled: %v", err)
	}
	window, err := repo.ListInFlight(dbc, nil, 1)
	if err != nil || len(window) != 1 || window[0].ID != fresh.ID {
		t.Fatalf("never-polled jobs should come before polled ones: err=%v len=%d", err, len(window))
	}
	if got, _ := repo.GetByID(dbc, mid.ID); got == nil || got.LastPolledAt == nil {
		t.Fatalf("MarkPolled did not stamp last_polled_at")
	}

	ok, err := repo.UpdateFieldsIfStatus(dbc, old.ID, []string{types.JobStatusPending, types.JobStatusRunning}, map[string]interface{}{"status": types.JobStatusCancelled})
	if err != nil || ok {
		t.Fatalf("completed jobs must not be cancelled: ok=%v err=%v", ok, err)
	}
	ok, err = repo.UpdateFieldsIfStatus(dbc, fresh.ID, []string{types.JobStatusPending, types.JobStatusRunning}, map[string]interface{}{"status": types.JobStatusCancelled})
	if err != nil || !ok {
		t.Fatalf("cancel pending: ok=%v err=%v", ok, err)
	}

	n, err := repo.CountUnseen(dbc, &owner, "")
	if err != nil || n != 1 {
		t.Fatalf("CountUnseen: n=%d err=%v", n, err)
	}
	n, err = repo.CountUnseen(dbc, &owner, "noun")
	if err != nil || n != 0 {
		t.Fatalf("CountUnseen by pos: n=%d err=%v", n, err)
	}
	if err := repo.UpdateFields(dbc, old.ID, map[string]interface{}{"seen_at": now}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	if n, _ = repo.CountUnseen(dbc, &owner, ""); n != 0 {
		t.Fatalf("seen jobs are not unseen: %d", n)
	}

	got, err := repo.GetByID(dbc, uuid.New())
	if err != nil || got != nil {
		t.Fatalf("GetByID missing: %v %v", got, err)
	}
}

func TestLLMJobItemClaims(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	jobs := NewLLMJobRepo(db, testutil.Logger(t))
	items := NewLLMJobItemRepo(db, testutil.Logger(t))

	job := newJob(uuid.New(), types.JobStatusPending, time.Now().UTC())
	if err := jobs.Create(dbc, job); err != nil {
		t.Fatalf("Create job: %v", err)
	}
	var batch []*types.LLMJobItem
	for i := 0; i < 3; i++ {
		batch = append(batch, &types.LLMJobItem{JobID: job.ID, Seq: i, EntityType: "verb", EntityID: int64(10 + i), Status: types.ItemStatusPending})
	}
	if err := items.CreateBatch(dbc, batch); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	stale := time.Now().UTC().Add(-time.Minute)
	cands, err := items.ClaimCandidates(dbc, job.ID, stale, 2)
	if err != nil || len(cands) != 2 || cands[0].Seq != 0 || cands[1].Seq != 1 {
		t.Fatalf("ClaimCandidates: err=%v len=%d", err, len(cands))
	}
	won, err := items.Claim(dbc, cands[0].ID, "a", stale)
	if err != nil || !won {
		t.Fatalf("first claim: %v %v", won, err)
	}
	won, err = items.Claim(dbc, cands[0].ID, "b", stale)
	if err != nil || won {
		t.Fatalf("second claim must lose: %v %v", won, err)
	}
	cands, _ = items.ClaimCandidates(dbc, job.ID, stale, 0)
	if len(cands) != 2 || cands[0].Seq != 1 {
		t.Fatalf("claimed items are not candidates: %d", len(cands))
	}

	ok, err := items.UpdateClaimed(dbc, batch[0].ID, "b", map[string]interface{}{"status": types.ItemStatusSubmitted})
	if err != nil || ok {
		t.Fatalf("wrong token must not update: %v %v", ok, err)
	}
	ok, err = items.UpdateClaimed(dbc, batch[0].ID, "a", map[string]interface{}{"status": types.ItemStatusSubmitted, "input_tokens": 7})
	if err != nil || !ok {
		t.Fatalf("owner update: %v %v", ok, err)
	}
	ok, err = items.UpdateIfStatus(dbc, batch[0].ID, types.ItemStatusPending, map[string]interface{}{"status": types.ItemStatusFailed})
	if err != nil || ok {
		t.Fatalf("CAS from the wrong status must be a no-op: %v %v", ok, err)
	}

	counts, err := items.CountByStatus(dbc, job.ID)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts.Total != 3 || counts.Pending != 2 || counts.Submitted != 1 {
		t.Fatalf("unexpected counts %+v", counts)
	}
	in, out, err := items.SumTokens(dbc, job.ID)
	if err != nil || in != 7 || out != 0 {
		t.Fatalf("SumTokens: %d %d %v", in, out, err)
	}
	if err := items.ReleaseClaim(dbc, batch[0].ID, "a"); err != nil {
		t.Fatalf("ReleaseClaim: %v", err)
	}

	if _, err := items.UpdateIfStatus(dbc, batch[1].ID, types.ItemStatusPending, map[string]interface{}{
		"request_payload": datatypes.JSON(`{"prompt":"p"}`),
	}); err != nil {
		t.Fatalf("set payload: %v", err)
	}
	states, err := items.ListStates(dbc, job.ID)
	if err != nil || len(states) != 3 {
		t.Fatalf("ListStates: err=%v len=%d", err, len(states))
	}
	if states[0].Status != types.ItemStatusSubmitted || states[1].RequestPayload != nil {
		t.Fatalf("ListStates should carry status without payloads: %s %s", states[0].Status, states[1].RequestPayload)
	}
}
