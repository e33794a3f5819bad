package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hiddenhill/papervid-backend/internal/logger"
)

// AccessMiddleware gates the job-submission API behind a shared access code.
// An empty configured code disables the check entirely.
type AccessMiddleware struct {
	log        *logger.Logger
	accessCode string
}

func NewAccessMiddleware(log *logger.Logger, accessCode string) *AccessMiddleware {
	return &AccessMiddleware{
		log:        log.With("Middleware", "AccessMiddleware"),
		accessCode: accessCode,
	}
}

func (am *AccessMiddleware) RequireAccess() gin.HandlerFunc {
	return func(c *gin.Context) {
		if am.accessCode == "" {
			c.Next()
			return
		}
		code := c.GetHeader("X-Access-Code")
		if code == "" {
			code = c.Query("access_code")
		}
		if subtle.ConstantTimeCompare([]byte(code), []byte(am.accessCode)) != 1 {
			am.log.Debug("Rejected request with bad access code", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid access code"})
			return
		}
		c.Next()
	}
}
