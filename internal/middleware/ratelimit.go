package middleware

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"relay-gateway-go/internal/config"
)

// RateLimit returns a per-client-IP limiter for the /proxy surface.
// Health and metrics endpoints are never limited.
func RateLimit(cfg config.RateLimitConfig) echo.MiddlewareFunc {
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return !isProxyPath(c.Request().URL.Path)
		},
		Store: echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.RequestsPerSecond)),
	})
}
