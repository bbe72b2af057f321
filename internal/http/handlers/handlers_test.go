package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/lexicon-backend/internal/data/repos"
	lexrepo "github.com/yungbote/lexicon-backend/internal/data/repos/lexicon"
	"github.com/yungbote/lexicon-backend/internal/data/repos/testutil"
	types "github.com/yungbote/lexicon-backend/internal/domain"
	"github.com/yungbote/lexicon-backend/internal/lexicon/scope"
	"github.com/yungbote/lexicon-backend/internal/platform/apierr"
	"github.com/yungbote/lexicon-backend/internal/platform/dbctx"
	"github.com/yungbote/lexicon-backend/internal/services"
)

type stubJobs struct {
	createErr error
	unseenErr error
	created   *services.CreateJobParams
}

func (s *stubJobs) Create(dbc dbctx.Context, owner uuid.UUID, p services.CreateJobParams) (*types.LLMJob, error) {
	s.created = &p
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &types.LLMJob{ID: uuid.New(), OwnerUserID: owner, Status: types.JobStatusPending}, nil
}
func (s *stubJobs) List(dbc dbctx.Context, p services.ListJobsParams) ([]*types.LLMJob, error) {
	return nil, nil
}
func (s *stubJobs) Get(dbc dbctx.Context, id uuid.UUID) (*types.LLMJob, error) {
	return nil, apierr.NotFound("job %s not found", id)
}
func (s *stubJobs) ListItems(dbc dbctx.Context, jobID uuid.UUID, status string, limit int) ([]*types.LLMJobItem, error) {
	return nil, nil
}
func (s *stubJobs) Cancel(dbc dbctx.Context, id uuid.UUID) (*types.LLMJob, error) {
	return &types.LLMJob{ID: id, Status: types.JobStatusCancelled}, nil
}
func (s *stubJobs) MarkSeen(dbc dbctx.Context, id uuid.UUID) (*types.LLMJob, error) {
	return &types.LLMJob{ID: id}, nil
}
func (s *stubJobs) UnseenCount(dbc dbctx.Context, owner *uuid.UUID, pos string) (int64, error) {
	return 4, s.unseenErr
}
func (s *stubJobs) RecomputeAggregates(dbc dbctx.Context, jobID uuid.UUID) (repos.StatusCounts, error) {
	return repos.StatusCounts{}, nil
}

type stubSubmitter struct {
	sizes []int
}

func (s *stubSubmitter) SubmitBatch(ctx context.Context, jobID uuid.UUID, batchSize int) (services.BatchResult, error) {
	s.sizes = append(s.sizes, batchSize)
	return services.BatchResult{Submitted: batchSize}, nil
}

type stubChangesets struct {
	services.ChangesetService
	applyErr error
}

func (s *stubChangesets) ApplyChangeset(dbc dbctx.Context, id uuid.UUID) (*services.ApplyResult, error) {
	if s.applyErr != nil {
		return nil, s.applyErr
	}
	return &services.ApplyResult{ChangesetID: id, Applied: 1}, nil
}

func router(jobs *stubJobs, sub *stubSubmitter, cs *stubChangesets) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	jh := NewLLMJobHandler(jobs, sub)
	r.POST("/llm-jobs", jh.Create)
	r.GET("/llm-jobs/unseen-count", jh.UnseenCount)
	r.GET("/llm-jobs/:id", jh.Get)
	r.POST("/llm-jobs/:id/batches", jh.SubmitBatch)
	ch := NewChangesetHandler(cs)
	r.POST("/changesets/:id/apply", ch.Apply)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Error struct {
		Message string          `json:"message"`
		Code    string          `json:"code"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return env
}

func TestCreateMapsValidationTo400(t *testing.T) {
	jobs := &stubJobs{createErr: apierr.Validation("invalid request: Model: required")}
	r := router(jobs, &stubSubmitter{}, &stubChangesets{})

	rec := do(r, http.MethodPost, "/llm-jobs", `{"jobType":"edit"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
	if env := decodeError(t, rec); env.Error.Code != "validation_error" || !strings.Contains(env.Error.Message, "Model") {
		t.Fatalf("unexpected envelope %+v", env)
	}

	rec = do(r, http.MethodPost, "/llm-jobs", `{"jobType":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body should be 400, got %d", rec.Code)
	}

	jobs.createErr = nil
	rec = do(r, http.MethodPost, "/llm-jobs", `{"jobType":"edit","model":"gpt-5-mini","scope":{"kind":"ids","ids":[1],"pos":"noun"}}`)
	if rec.Code != http.StatusCreated || jobs.created == nil || jobs.created.Model != "gpt-5-mini" {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitBatchBounds(t *testing.T) {
	sub := &stubSubmitter{}
	r := router(&stubJobs{}, sub, &stubChangesets{})
	path := "/llm-jobs/" + uuid.NewString() + "/batches"

	if rec := do(r, http.MethodPost, path, ""); rec.Code != http.StatusOK {
		t.Fatalf("default batch: %d", rec.Code)
	}
	for _, bad := range []string{`{"batchSize":5}`, `{"batchSize":101}`, `{"batchSize":0}`} {
		if rec := do(r, http.MethodPost, path, bad); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s should be rejected, got %d", bad, rec.Code)
		}
	}
	if rec := do(r, http.MethodPost, path, `{"batchSize":100}`); rec.Code != http.StatusOK {
		t.Fatalf("upper bound should be accepted, got %d", rec.Code)
	}
	if len(sub.sizes) != 2 || sub.sizes[0] != 50 || sub.sizes[1] != 100 {
		t.Fatalf("unexpected sizes %v", sub.sizes)
	}
	if rec := do(r, http.MethodPost, "/llm-jobs/not-a-uuid/batches", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id should be 400, got %d", rec.Code)
	}
}

func TestUnseenCountTimeoutIs504(t *testing.T) {
	jobs := &stubJobs{}
	r := router(jobs, &stubSubmitter{}, &stubChangesets{})
	rec := do(r, http.MethodGet, "/llm-jobs/unseen-count?pos=noun", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"count":4`) {
		t.Fatalf("count: %d %s", rec.Code, rec.Body.String())
	}
	jobs.unseenErr = apierr.StorageTimeout(context.DeadlineExceeded)
	rec = do(r, http.MethodGet, "/llm-jobs/unseen-count", "")
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rec.Code)
	}
}

func TestGetMissingJobIs404(t *testing.T) {
	r := router(&stubJobs{}, &stubSubmitter{}, &stubChangesets{})
	if rec := do(r, http.MethodGet, "/llm-jobs/"+uuid.NewString(), ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestApplyConflictIs409WithDetails(t *testing.T) {
	id := uuid.New()
	cs := &stubChangesets{applyErr: &services.ConflictError{
		ChangesetID: id,
		Conflicts:   []services.FieldConflict{{EntityID: 7, Field: "gloss", Expected: json.RawMessage(`"old"`), Actual: json.RawMessage(`"new"`)}},
	}}
	r := router(&stubJobs{}, &stubSubmitter{}, cs)
	rec := do(r, http.MethodPost, "/changesets/"+id.String()+"/apply", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	env := decodeError(t, rec)
	if env.Error.Code != "changeset_conflict" || !strings.Contains(string(env.Error.Details), `"gloss"`) {
		t.Fatalf("unexpected envelope %+v", env)
	}

	cs.applyErr = errors.New("disk on fire")
	rec = do(r, http.MethodPost, "/changesets/"+id.String()+"/apply", "")
	if rec.Code != http.StatusInternalServerError || strings.Contains(rec.Body.String(), "disk") {
		t.Fatalf("internal errors should be opaque 500s: %d %s", rec.Code, rec.Body.String())
	}
}

func TestScopeCountReadsScopeEnvelope(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	motion := testutil.SeedFrame(t, ctx, db, "Motion")
	testutil.SeedLexicalUnit(t, ctx, db, "run", "verb", &motion.ID)
	testutil.SeedLexicalUnit(t, ctx, db, "walk", "verb", &motion.ID)
	log := testutil.Logger(t)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	sh := NewScopeHandler(scope.NewResolver(lexrepo.NewRegistry(db, log), log))
	r.POST("/scopes/count", sh.Count)

	rec := do(r, http.MethodPost, "/scopes/count", `{"scope":{"kind":"frame_ids","frameIds":[" MOTION "],"includeVerbs":true,"pos":"verb"}}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"count":2`) {
		t.Fatalf("count: %d %s", rec.Code, rec.Body.String())
	}
	for _, bad := range []string{
		`{"kind":"frame_ids","frameIds":["Motion"],"includeVerbs":true,"pos":"verb"}`,
		`{"scope":null}`,
		`{"scope":{"kind":"frame_ids","frameIds":["Teleportation"],"includeVerbs":true,"pos":"verb"}}`,
	} {
		if rec := do(r, http.MethodPost, "/scopes/count", bad); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s should be 400, got %d %s", bad, rec.Code, rec.Body.String())
		}
	}
}
