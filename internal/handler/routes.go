package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, ws *WebSocketHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	e.Any("/proxy", proxy.Handle)
	e.OPTIONS("/proxy", proxy.Preflight)

	e.POST("/proxy/websocket", ws.Create)
	e.PUT("/proxy/websockets", ws.Send)
	e.DELETE("/proxy/websockets", ws.Close)
	e.GET("/proxy/ws", ws.Direct)
}
