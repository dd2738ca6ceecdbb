package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestCORS_ProxyPaths(t *testing.T) {
	e := echo.New()
	e.Use(CORS())
	ok := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	fail := func(c echo.Context) error { return c.String(http.StatusBadGateway, "Fetch failed") }
	e.POST("/proxy", fail)
	e.PUT("/proxy/websockets", ok)
	e.GET("/healthz", ok)

	tests := []struct {
		method   string
		path     string
		wantCORS bool
	}{
		{http.MethodPost, "/proxy", true},
		{http.MethodPut, "/proxy/websockets", true},
		{http.MethodGet, "/healthz", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			got := rec.Header().Get("Access-Control-Allow-Origin")
			if tt.wantCORS && got != "*" {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "*")
			}
			if !tt.wantCORS && got != "" {
				t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
			}
			if tt.wantCORS {
				want := "GET, POST, PUT, DELETE, OPTIONS, CONNECT"
				if m := rec.Header().Get("Access-Control-Allow-Methods"); m != want {
					t.Errorf("Access-Control-Allow-Methods = %q, want %q", m, want)
				}
			}
		})
	}
}

func TestIsProxyPath(t *testing.T) {
	tests := map[string]bool{
		"/proxy":           true,
		"/proxy/":          true,
		"/proxy/websocket": true,
		"/proxyx":          false,
		"/healthz":         false,
		"/metrics":         false,
	}
	for path, want := range tests {
		if got := isProxyPath(path); got != want {
			t.Errorf("isProxyPath(%q) = %v, want %v", path, got, want)
		}
	}
}
