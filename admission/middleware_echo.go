package admission

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// EchoMiddleware adapts the controller for echo servers.
func (c *Controller) EchoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			dec := c.Admit(ctx.Request())
			header := ctx.Response().Header()

			switch dec.State {
			case StateStaticBypass:
				return next(ctx)
			case StateBotBlocked:
				return ctx.JSON(http.StatusForbidden, map[string]string{
					"error":  http.StatusText(http.StatusForbidden),
					"reason": dec.Reason,
				})
			case StateRateLimited:
				setEchoRateHeaders(header, dec)
				header.Set("Retry-After", strconv.Itoa(ceilSeconds(dec.RetryAfter)))
				return ctx.JSON(http.StatusTooManyRequests, map[string]string{
					"error":  http.StatusText(http.StatusTooManyRequests),
					"reason": dec.Reason,
				})
			case StateSizeRejected:
				return ctx.JSON(http.StatusRequestEntityTooLarge, map[string]string{
					"error":  http.StatusText(http.StatusRequestEntityTooLarge),
					"reason": dec.Reason,
				})
			}

			setEchoRateHeaders(header, dec)
			for name, value := range securityHeaders {
				header.Set(name, value)
			}
			header.Set("X-Request-Id", uuid.NewString())
			return next(ctx)
		}
	}
}

func setEchoRateHeaders(header http.Header, dec Decision) {
	header.Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
	header.Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
	header.Set("X-RateLimit-Reset", strconv.FormatInt(dec.ResetAt.UnixMilli(), 10))
}
