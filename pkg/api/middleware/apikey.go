package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIKeyHeader is the header clients present their key in.
const APIKeyHeader = "X-API-Key"

// RequireAPIKey guards mutating routes with a static operator key.
// With no key configured the guard is disabled, which suits a daemon
// bound to localhost.
func RequireAPIKey(key string) gin.HandlerFunc {
	want := sha256.Sum256([]byte(key))
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}

		got := sha256.Sum256([]byte(c.GetHeader(APIKeyHeader)))
		if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
				"hint":  "provide " + APIKeyHeader + " header",
			})
			return
		}
		c.Next()
	}
}
