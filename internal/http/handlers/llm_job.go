package handlers

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/lexicon-backend/internal/http/response"
	"github.com/yungbote/lexicon-backend/internal/platform/apierr"
	"github.com/yungbote/lexicon-backend/internal/platform/ctxutil"
	"github.com/yungbote/lexicon-backend/internal/services"
)

const (
	minHTTPBatch     = 10
	maxHTTPBatch     = 100
	defaultHTTPBatch = 50
)

type LLMJobHandler struct {
	jobs      services.LLMJobService
	submitter services.BatchSubmitter
}

func NewLLMJobHandler(jobs services.LLMJobService, submitter services.BatchSubmitter) *LLMJobHandler {
	return &LLMJobHandler{jobs: jobs, submitter: submitter}
}

// POST /api/llm-jobs
func (h *LLMJobHandler) Create(c *gin.Context) {
	var p services.CreateJobParams
	if err := bindJSON(c, &p); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	job, err := h.jobs.Create(requestDBC(c), ctxutil.UserID(c.Request.Context()), p)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"job": job})
}

// GET /api/llm-jobs
func (h *LLMJobHandler) List(c *gin.Context) {
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	p := services.ListJobsParams{
		EntityType:       c.Query("entityType"),
		IncludeCompleted: boolQuery(c, "includeCompleted"),
		Refresh:          boolQuery(c, "refresh"),
		Limit:            limit,
	}
	if boolQuery(c, "mine") {
		owner := ctxutil.UserID(c.Request.Context())
		p.OwnerUserID = &owner
	}
	jobs, err := h.jobs.List(requestDBC(c), p)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"jobs": jobs})
}

// GET /api/llm-jobs/unseen-count
func (h *LLMJobHandler) UnseenCount(c *gin.Context) {
	owner := ctxutil.UserID(c.Request.Context())
	n, err := h.jobs.UnseenCount(requestDBC(c), &owner, c.Query("pos"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"count": n})
}

// GET /api/llm-jobs/:id
func (h *LLMJobHandler) Get(c *gin.Context) {
	id, err := uuidParam(c, "id")
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	job, err := h.jobs.Get(requestDBC(c), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// GET /api/llm-jobs/:id/items
func (h *LLMJobHandler) ListItems(c *gin.Context) {
	id, err := uuidParam(c, "id")
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	items, err := h.jobs.ListItems(requestDBC(c), id, c.Query("status"), limit)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"items": items})
}

type submitBatchRequest struct {
	BatchSize *int `json:"batchSize"`
}

// POST /api/llm-jobs/:id/batches
func (h *LLMJobHandler) SubmitBatch(c *gin.Context) {
	id, err := uuidParam(c, "id")
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	var req submitBatchRequest
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &req); err != nil {
			response.RespondAPIError(c, err)
			return
		}
	}
	size := defaultHTTPBatch
	if req.BatchSize != nil {
		size = *req.BatchSize
	}
	if size < minHTTPBatch || size > maxHTTPBatch {
		response.RespondAPIError(c, apierr.Validation("batchSize must be between %d and %d", minHTTPBatch, maxHTTPBatch))
		return
	}
	res, err := h.submitter.SubmitBatch(c.Request.Context(), id, size)
	if err != nil {
		response.RespondAPIError(c, fmt.Errorf("submit batch: %w", err))
		return
	}
	response.RespondOK(c, res)
}

// POST /api/llm-jobs/:id/cancel
func (h *LLMJobHandler) Cancel(c *gin.Context) {
	id, err := uuidParam(c, "id")
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	job, err := h.jobs.Cancel(requestDBC(c), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// POST /api/llm-jobs/:id/seen
func (h *LLMJobHandler) MarkSeen(c *gin.Context) {
	id, err := uuidParam(c, "id")
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	job, err := h.jobs.MarkSeen(requestDBC(c), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}
