package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"relay-gateway-go/internal/bridge"
	"relay-gateway-go/internal/cache"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cache   cache.Store
	bridge  *bridge.Bridge
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(store cache.Store, b *bridge.Bridge, v Version) *HealthHandler {
	return &HealthHandler{cache: store, bridge: b, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status reports the version and the size of the gateway's in-memory state.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       string(h.version),
		"cache_entries": h.cache.Len(),
		"sessions":      h.bridge.Len(),
	})
}
