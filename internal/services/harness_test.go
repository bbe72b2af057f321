package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/lexicon-backend/internal/data/repos"
	"github.com/yungbote/lexicon-backend/internal/data/repos/testutil"
	types "github.com/yungbote/lexicon-backend/internal/domain"
	"github.com/yungbote/lexicon-backend/internal/lexicon/scope"
	"github.com/yungbote/lexicon-backend/internal/platform/dbctx"
	"github.com/yungbote/lexicon-backend/internal/platform/llm"
	"github.com/yungbote/lexicon-backend/internal/pricing"
)

// fakeProvider hands out sequential handles. Queued submit errors are returned before any success.
type fakeProvider struct {
	mu       sync.Mutex
	failures []error
	submits  map[string]int
	handles  map[string]string
	requests []llm.Request
	respond  func(customID string) llm.Status
	pollErr  error
	next     int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{submits: map[string]int{}, handles: map[string]string{}}
}

func (f *fakeProvider) Submit(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits[req.CustomID]++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return "", err
	}
	f.next++
	h := fmt.Sprintf("resp_%d", f.next)
	f.handles[h] = req.CustomID
	f.requests = append(f.requests, req)
	return h, nil
}

func (f *fakeProvider) Poll(ctx context.Context, handle string) (llm.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pollErr != nil {
		return llm.Status{}, f.pollErr
	}
	id, ok := f.handles[handle]
	if !ok || f.respond == nil {
		return llm.Status{State: llm.StatePending}, nil
	}
	return f.respond(id), nil
}

func (f *fakeProvider) totalSubmits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.submits {
		n += c
	}
	return n
}

func completedWith(text string) func(string) llm.Status {
	return func(string) llm.Status {
		return llm.Status{State: llm.StateCompleted, Text: text, InputTokens: 100, OutputTokens: 20}
	}
}

type harness struct {
	db         *gorm.DB
	dbc        dbctx.Context
	jobs       repos.LLMJobRepo
	items      repos.LLMJobItemRepo
	provider   *fakeProvider
	submitter  BatchSubmitter
	poller     JobPoller
	changesets ChangesetService
	svc        LLMJobService
	newPoller  func(cfg PollerConfig) JobPoller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	jobs := repos.NewLLMJobRepo(db, log)
	items := repos.NewLLMJobItemRepo(db, log)
	stores := repos.NewEntityRegistry(db, log)
	agg := NewJobAggregator(db, log, jobs, items, pricing.Default())
	changesets := NewChangesetService(db, log, repos.NewChangesetRepo(db, log), repos.NewFieldChangeRepo(db, log), stores)
	wb := NewWriteback(log, stores, changesets, DefaultWritebackPolicy())
	provider := newFakeProvider()
	submitter := NewBatchSubmitter(db, log, jobs, items, stores, agg, provider, SubmitterConfig{
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
		Concurrency: 1,
		Budget:      10 * time.Second,
		ClaimTTL:    5 * time.Minute,
	})
	poller := NewJobPoller(db, log, jobs, items, agg, wb, provider, nil, PollerConfig{Concurrency: 2, Timeout: 10 * time.Second})
	svc := NewLLMJobService(db, log, jobs, items, stores, scope.NewResolver(stores, log), agg, submitter, poller, JobServiceConfig{})
	return &harness{
		db:         db,
		dbc:        dbctx.Context{Ctx: context.Background()},
		jobs:       jobs,
		items:      items,
		provider:   provider,
		submitter:  submitter,
		poller:     poller,
		changesets: changesets,
		svc:        svc,
		newPoller: func(cfg PollerConfig) JobPoller {
			return NewJobPoller(db, log, jobs, items, agg, wb, provider, nil, cfg)
		},
	}
}

func (h *harness) seedNouns(t *testing.T, n int) []int64 {
	t.Helper()
	var ids []int64
	for _, lu := range testutil.SeedLexicalUnits(t, h.dbc.Ctx, h.db, "noun", n) {
		ids = append(ids, lu.ID)
	}
	return ids
}

func idsScope(ids []int64, pos string) json.RawMessage {
	b, _ := json.Marshal(map[string]any{"kind": "ids", "ids": ids, "pos": pos})
	return b
}

func (h *harness) createJob(t *testing.T, p CreateJobParams) *types.LLMJob {
	t.Helper()
	if p.Model == "" {
		p.Model = "gpt-5-mini"
	}
	if p.PromptTemplate == "" {
		p.PromptTemplate = "Rewrite the gloss for {{.lemma}}: {{.gloss}}"
	}
	job, err := h.svc.Create(h.dbc, uuid.New(), p)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func (h *harness) job(t *testing.T, id uuid.UUID) *types.LLMJob {
	t.Helper()
	job, err := h.jobs.GetByID(h.dbc, id)
	if err != nil || job == nil {
		t.Fatalf("load job %s: %v", id, err)
	}
	return job
}

func (h *harness) jobItems(t *testing.T, id uuid.UUID) []*types.LLMJobItem {
	t.Helper()
	out, err := h.items.ListByJob(h.dbc, id, "", 0)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	return out
}

func (h *harness) lexicalUnit(t *testing.T, id int64) *types.LexicalUnit {
	t.Helper()
	var lu types.LexicalUnit
	if err := h.db.WithContext(h.dbc.Ctx).Where("id = ?", id).First(&lu).Error; err != nil {
		t.Fatalf("load lexical unit %d: %v", id, err)
	}
	return &lu
}

// assertAggregates checks the job counters against a direct count of its items.
func (h *harness) assertAggregates(t *testing.T, id uuid.UUID) {
	t.Helper()
	job := h.job(t, id)
	counts := map[string]int{}
	for _, it := range h.jobItems(t, id) {
		counts[it.Status]++
	}
	total := counts[types.ItemStatusPending] + counts[types.ItemStatusSubmitted] + counts[types.ItemStatusCompleted] + counts[types.ItemStatusFailed]
	if job.TotalItems != total ||
		job.PendingItems != counts[types.ItemStatusPending] ||
		job.SubmittedItems != counts[types.ItemStatusSubmitted] ||
		job.CompletedItems != counts[types.ItemStatusCompleted] ||
		job.FailedItems != counts[types.ItemStatusFailed] {
		t.Fatalf("aggregates drifted: job=%d/%d/%d/%d/%d items=%v",
			job.TotalItems, job.PendingItems, job.SubmittedItems, job.CompletedItems, job.FailedItems, counts)
	}
}
