package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/lexicon-backend/internal/http/response"
	"github.com/yungbote/lexicon-backend/internal/services"
)

type ChangesetHandler struct {
	changesets services.ChangesetService
}

func NewChangesetHandler(changesets services.ChangesetService) *ChangesetHandler {
	return &ChangesetHandler{changesets: changesets}
}

// POST /api/changesets
func (h *ChangesetHandler) Submit(c *gin.Context) {
	var req services.EditRequest
	if err := bindJSON(c, &req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	res, err := h.changesets.SubmitEdits(requestDBC(c), req)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}

// GET /api/changesets/:id
func (h *ChangesetHandler) Get(c *gin.Context) {
	id, err := uuidParam(c, "id")
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	cs, err := h.changesets.GetChangeset(requestDBC(c), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"changeset": cs})
}

// POST /api/changesets/:id/apply
func (h *ChangesetHandler) Apply(c *gin.Context) {
	id, err := uuidParam(c, "id")
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	res, err := h.changesets.ApplyChangeset(requestDBC(c), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}

// POST /api/changesets/:id/discard
func (h *ChangesetHandler) Discard(c *gin.Context) {
	id, err := uuidParam(c, "id")
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	cs, err := h.changesets.DiscardChangeset(requestDBC(c), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"changeset": cs})
}

// DELETE /api/field-changes/:id
func (h *ChangesetHandler) DeleteFieldChange(c *gin.Context) {
	id, err := uuidParam(c, "id")
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	res, err := h.changesets.DeleteFieldChange(requestDBC(c), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}
