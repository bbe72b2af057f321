package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireSharedSecret guards machine endpoints such as the poll trigger. An empty secret
// disables the route entirely.
func RequireSharedSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			abort(c, http.StatusServiceUnavailable, "trigger is not configured", "disabled")
			return
		}
		got := bearerToken(c)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			abort(c, http.StatusUnauthorized, "invalid trigger secret", "unauthorized")
			return
		}
		c.Next()
	}
}
