// Package server provides gin middleware for token authentication and
// request logging.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Tyrowin/chatline/internal/auth"
	"github.com/Tyrowin/chatline/internal/logging"
)

// ctxUserIDKey is the gin context key holding the authenticated user id.
const ctxUserIDKey = "userId"

// requireAuth rejects requests without a valid token and stores the user id
// in the gin context for the handlers behind it.
func requireAuth(a *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := a.Authenticate(auth.TokenFromRequest(c.Request))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Unauthorized - invalid or missing token",
			})
			return
		}
		c.Set(ctxUserIDKey, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(ctxUserIDKey)
}

// requestLogger logs one line per request at debug level, warn for 5xx.
func requestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		log := logger.Debug
		if status >= http.StatusInternalServerError {
			log = logger.Warn
		}
		log(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"took", time.Since(start),
		)
	}
}
