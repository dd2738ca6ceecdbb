package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"relay-gateway-go/internal/bridge"
)

type createSessionRequest struct {
	URL string `json:"url"`
}

type sendRequest struct {
	UUID    string `json:"uuid"`
	Message string `json:"message"`
}

type closeRequest struct {
	UUID string `json:"uuid"`
}

// WebSocketHandler manages bridge sessions.
type WebSocketHandler struct {
	bridge   *bridge.Bridge
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWebSocketHandler creates a WebSocketHandler. Upgrades are accepted from
// any origin, matching the gateway's CORS policy.
func NewWebSocketHandler(b *bridge.Bridge, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		bridge: b,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "websocket_handler"),
	}
}

// Create opens a mailbox-topology session and returns its id.
func (h *WebSocketHandler) Create(c echo.Context) error {
	var req createSessionRequest
	if err := decodeJSON(c, &req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid JSON body")
	}
	if req.URL == "" {
		return jsonError(c, http.StatusBadRequest, `missing "url"`)
	}

	id, err := h.bridge.Create(c.Request().Context(), req.URL)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"uuid": id})
}

// Send writes a base64 message to a session's target socket.
func (h *WebSocketHandler) Send(c echo.Context) error {
	var req sendRequest
	if err := decodeJSON(c, &req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid JSON body")
	}
	if req.UUID == "" || req.Message == "" {
		return jsonError(c, http.StatusBadRequest, `missing "uuid" or "message"`)
	}

	if err := h.bridge.Send(req.UUID, req.Message); err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "sent"})
}

// Close ends a session.
func (h *WebSocketHandler) Close(c echo.Context) error {
	var req closeRequest
	if err := decodeJSON(c, &req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid JSON body")
	}
	if req.UUID == "" {
		return jsonError(c, http.StatusBadRequest, `missing "uuid"`)
	}

	if err := h.bridge.Close(req.UUID); err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "closed"})
}

// Direct upgrades the caller and splices it with ?target=. Target problems
// are reported as WebSocket close codes after the upgrade.
func (h *WebSocketHandler) Direct(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		h.logger.Debug("upgrade failed", "err", err)
		return nil
	}

	target := c.QueryParam("target")
	if err := h.bridge.ServeDirect(c.Request().Context(), conn, target); err != nil {
		h.logger.Warn("direct relay rejected", "target", target, "err", err)
	}
	return nil
}

func (h *WebSocketHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("websocket error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	switch {
	case errors.Is(err, bridge.ErrSessionNotFound):
		return jsonError(c, http.StatusNotFound, "WebSocket not found")
	case errors.Is(err, bridge.ErrSessionNotOpen):
		return jsonError(c, http.StatusBadRequest, "WebSocket is not open")
	case errors.Is(err, bridge.ErrInvalidPayload):
		return jsonError(c, http.StatusBadRequest, "message must be base64")
	case errors.Is(err, bridge.ErrInvalidTarget):
		return jsonError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, bridge.ErrMailboxUnavailable):
		return jsonError(c, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, bridge.ErrConnectFailure):
		return jsonError(c, http.StatusInternalServerError, "Failed to connect to WebSocket")
	}
	return jsonError(c, http.StatusInternalServerError, "internal error")
}

func jsonError(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}
