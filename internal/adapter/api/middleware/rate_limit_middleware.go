package middleware

import (
	"math"
	"strconv"

	"github.com/labstack/echo/v4"

	"marketchat/internal/infrastructure/ratelimit"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
	"marketchat/pkg/response"
)

// RateLimit applies the action's bucket per client IP.
func RateLimit(rl *ratelimit.RateLimiter, action string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			allowed, wait := rl.Allow(ip, action)
			if !allowed {
				logger.Warn("RATE LIMIT: blocked %s from IP %s (retry in %v)", action, ip, wait)
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				return response.Error(c, errors.TooManyRequests("Rate limit exceeded"))
			}
			return next(c)
		}
	}
}
