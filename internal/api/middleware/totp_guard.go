package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"

	"github.com/etrid/flarebridge/pkg/logger"
)

// TOTPGuard requires a valid time-based one-time code on every request. It
// backs the admin mutation endpoints: a leaked admin token alone cannot
// requeue relays or swap the attester set.
func TOTPGuard(secret string, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			// No TOTP secret configured, the role check is the only gate
			c.Next()
			return
		}

		code := c.GetHeader("X-TOTP-Code")
		if code == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":      "X-TOTP-Code header required",
				"request_id": c.GetString("request_id"),
			})
			c.Abort()
			return
		}

		if !totp.Validate(code, secret) {
			log.Warn("Admin TOTP validation failed",
				"subject", c.GetString("subject"),
				"client_ip", c.ClientIP(),
			)
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":      "Invalid TOTP code",
				"request_id": c.GetString("request_id"),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
