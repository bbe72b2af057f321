package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/lexicon-backend/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// detailer is implemented by errors that carry a structured payload for the client.
type detailer interface {
	Details() any
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	body := ErrorEnvelope{Error: APIError{Message: msg, Code: code}}
	var d detailer
	if errors.As(err, &d) {
		body.Error.Details = d.Details()
	}
	c.JSON(status, body)
}

// RespondAPIError maps err onto its status and code through the error taxonomy.
// Internal errors are logged by the request logger; their message is not echoed.
func RespondAPIError(c *gin.Context, err error) {
	kind := apierr.KindOf(err)
	status := apierr.HTTPStatus(kind)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		RespondError(c, status, string(apierr.KindInternal), errors.New("internal error"))
		return
	}
	RespondError(c, status, apierr.CodeOf(err), err)
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}
