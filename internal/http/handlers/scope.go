package handlers

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/lexicon-backend/internal/http/response"
	"github.com/yungbote/lexicon-backend/internal/lexicon/scope"
	"github.com/yungbote/lexicon-backend/internal/platform/apierr"
)

type ScopeHandler struct {
	resolver *scope.Resolver
}

func NewScopeHandler(resolver *scope.Resolver) *ScopeHandler {
	return &ScopeHandler{resolver: resolver}
}

type countScopeRequest struct {
	Scope json.RawMessage `json:"scope"`
}

// POST /api/scopes/count
// Body: {"scope": {...}}, the same scope object a job is created with.
func (h *ScopeHandler) Count(c *gin.Context) {
	var req countScopeRequest
	if err := bindJSON(c, &req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	if len(req.Scope) == 0 || string(req.Scope) == "null" {
		response.RespondAPIError(c, apierr.Validation("scope is required"))
		return
	}
	spec, err := scope.Parse(req.Scope)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	n, err := h.resolver.Count(requestDBC(c), spec)
	if err != nil {
		response.RespondAPIError(c, apierr.FromStorage(err))
		return
	}
	response.RespondOK(c, gin.H{"count": n})
}
