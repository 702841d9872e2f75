package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-relief-ledger/internal/auth"
	"github.com/mr1hm/go-relief-ledger/internal/metrics"
)

const principalKey = "principal"

// RequireAuth validates the bearer token and stores its principal on the
// context.
func RequireAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "bearer token required",
			})
			return
		}

		principal, err := auth.ValidateToken(token, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

func PrincipalFrom(c *gin.Context) string {
	return c.GetString(principalKey)
}

// MetricsMiddleware records request counts and latency by route template.
func MetricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.ObserveRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
