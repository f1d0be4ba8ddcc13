package admission

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// GinMiddleware adapts the controller for gin engines.
func (c *Controller) GinMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		dec := c.Admit(ctx.Request)

		switch dec.State {
		case StateStaticBypass:
			ctx.Next()
			return
		case StateBotBlocked:
			ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":  http.StatusText(http.StatusForbidden),
				"reason": dec.Reason,
			})
			return
		case StateRateLimited:
			setRateHeaders(ctx, dec)
			ctx.Header("Retry-After", strconv.Itoa(ceilSeconds(dec.RetryAfter)))
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":  http.StatusText(http.StatusTooManyRequests),
				"reason": dec.Reason,
			})
			return
		case StateSizeRejected:
			ctx.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":  http.StatusText(http.StatusRequestEntityTooLarge),
				"reason": dec.Reason,
			})
			return
		}

		setRateHeaders(ctx, dec)
		for name, value := range securityHeaders {
			ctx.Header(name, value)
		}
		ctx.Header("X-Request-Id", uuid.NewString())
		ctx.Next()
	}
}

func setRateHeaders(ctx *gin.Context, dec Decision) {
	ctx.Header("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
	ctx.Header("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
	ctx.Header("X-RateLimit-Reset", strconv.FormatInt(dec.ResetAt.UnixMilli(), 10))
}
