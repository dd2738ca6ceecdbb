package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"relay-gateway-go/internal/model"
	"relay-gateway-go/internal/service"
	"relay-gateway-go/internal/tunnel"
)

// ProxyHandler serves the /proxy envelope: plain forwards and CONNECT tunnels.
type ProxyHandler struct {
	service *service.ForwardService
	relay   *tunnel.Relay
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ForwardService, relay *tunnel.Relay, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		relay:   relay,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle decodes the forward envelope and dispatches on its method.
func (h *ProxyHandler) Handle(c echo.Context) error {
	var fr model.ForwardRequest
	if err := decodeJSON(c, &fr); err != nil {
		return c.String(http.StatusBadRequest, "invalid JSON body")
	}

	origin := c.Scheme() + "://" + c.Request().Host
	method, err := h.service.Validate(&fr, origin)
	if err != nil {
		return h.mapError(c, err)
	}
	if method == http.MethodConnect {
		return h.connect(c, fr.URL)
	}

	resp, err := h.service.Forward(c.Request().Context(), &fr, origin)
	if err != nil {
		return h.mapError(c, err)
	}

	header := c.Response().Header()
	for key, vals := range resp.Header {
		header[key] = vals
	}
	if method == http.MethodGet {
		if resp.Cached {
			header.Set("X-Cache", "HIT")
		} else {
			header.Set("X-Cache", "MISS")
		}
	}

	c.Response().WriteHeader(resp.StatusCode)
	if _, err := c.Response().Write(resp.Body); err != nil {
		h.logger.Error("writing response body",
			"err", err,
			"url", fr.URL,
		)
	}
	return nil
}

// Preflight answers OPTIONS /proxy. CORS headers come from middleware.
func (h *ProxyHandler) Preflight(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

// connect dials the target before taking over the connection, so a failed
// dial still gets an ordinary HTTP error response.
func (h *ProxyHandler) connect(c echo.Context, target string) error {
	tun, err := h.relay.Open(c.Request().Context(), target)
	if err != nil {
		return h.mapError(c, err)
	}

	conn, brw, err := c.Response().Hijack()
	if err != nil {
		_ = tun.Close()
		h.logger.Error("hijack failed", "err", err)
		return c.String(http.StatusInternalServerError, "CONNECT failed: connection cannot be hijacked")
	}

	h.logger.Debug("tunnel open", "target", tun.Target())
	if err := tun.Serve(conn, brw); err != nil {
		h.logger.Warn("tunnel ended with error", "target", tun.Target(), "err", err)
	}
	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	switch {
	case errors.Is(err, service.ErrSelfLoop):
		return c.String(http.StatusBadRequest, "Proxying to self is not allowed")
	case errors.Is(err, service.ErrBadRequest):
		return c.String(http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrTimeout):
		return c.String(http.StatusGatewayTimeout, "Upstream request timed out")
	case errors.Is(err, service.ErrUpstreamFailure):
		cause := strings.TrimPrefix(err.Error(), service.ErrUpstreamFailure.Error()+": ")
		return c.String(http.StatusBadGateway, "Fetch failed: "+cause)
	case errors.Is(err, tunnel.ErrBadTarget):
		return c.String(http.StatusBadRequest, "CONNECT failed: "+err.Error())
	case errors.Is(err, tunnel.ErrTimeout):
		return c.String(http.StatusGatewayTimeout, "CONNECT failed: "+err.Error())
	case errors.Is(err, tunnel.ErrConnectFailure):
		return c.String(http.StatusBadGateway, "CONNECT failed: "+err.Error())
	}
	return c.String(http.StatusBadGateway, "Fetch failed: "+err.Error())
}

// decodeJSON reads a JSON request body into v regardless of Content-Type.
// An empty body leaves v untouched.
func decodeJSON(c echo.Context, v any) error {
	body := c.Request().Body
	if body == nil || body == http.NoBody {
		return nil
	}
	err := json.NewDecoder(body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
