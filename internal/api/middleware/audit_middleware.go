package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/etrid/flarebridge/internal/domain/services/audit"
)

// AuditContext middleware adds IP address, user agent, and the authenticated
// actor to the request context for audit logging
func AuditContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := audit.WithAuditContext(
			c.Request.Context(),
			c.ClientIP(),
			c.Request.UserAgent(),
			c.GetString("subject"),
		)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
