package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/lexicon-backend/internal/http/response"
	"github.com/yungbote/lexicon-backend/internal/services"
)

type PollHandler struct {
	poller services.JobPoller
}

func NewPollHandler(poller services.JobPoller) *PollHandler {
	return &PollHandler{poller: poller}
}

// POST /api/internal/poll
func (h *PollHandler) Trigger(c *gin.Context) {
	report, err := h.poller.Tick(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, report)
}
