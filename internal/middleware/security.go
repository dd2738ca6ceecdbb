package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"relay-gateway-go/internal/model"
)

// CORS returns an Echo middleware that sets the gateway's permissive CORS
// headers on every /proxy response. Headers are set before the handler runs
// so they are present on streamed and error responses alike.
func CORS() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if isProxyPath(c.Request().URL.Path) {
				h := c.Response().Header()
				for k, v := range model.CORSHeaders {
					h.Set(k, v)
				}
			}
			return next(c)
		}
	}
}

func isProxyPath(path string) bool {
	return path == "/proxy" || strings.HasPrefix(path, "/proxy/")
}
