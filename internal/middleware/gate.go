package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/careline/careline-api/internal/apperr"
	"github.com/careline/careline-api/internal/security"
)

// GateMiddleware applies the origin allow-list and per-caller rate
// limit to every request before it reaches a handler. Ownership checks
// live in the services, next to the data they verify.
func GateMiddleware(gate *security.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if err := gate.CheckOrigin(origin); err != nil {
			appErr := apperr.From(err)
			c.AbortWithStatusJSON(appErr.HTTPStatus(), gin.H{"error": appErr.Message})
			return
		}

		key := rateKey(c, origin)
		if err := gate.CheckRate(c.Request.Context(), key); err != nil {
			appErr := apperr.From(err)
			if appErr.RetryAfterSeconds > 0 {
				c.Header("Retry-After", strconv.Itoa(appErr.RetryAfterSeconds))
			}
			c.AbortWithStatusJSON(appErr.HTTPStatus(), gin.H{"error": appErr.Message})
			return
		}

		c.Next()
	}
}

// rateKey prefers the authenticated identity; anonymous callers are
// keyed by a fingerprint of their request metadata
func rateKey(c *gin.Context, origin string) string {
	if claims := GetClaims(c); claims != nil {
		if claims.IsDevice() {
			return "device:" + claims.DeviceID
		}
		return "user:" + claims.UserID.String()
	}
	return security.Fingerprint(c.ClientIP(), origin, c.GetHeader("User-Agent"))
}
