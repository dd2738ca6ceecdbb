package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"relay-gateway-go/internal/config"
)

func TestNewEcho_RateLimit(t *testing.T) {
	tests := []struct {
		name        string
		enabled     bool
		wantLimited bool
	}{
		{"enabled", true, true},
		{"disabled", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Server: config.ServerConfig{
				BodyMaxBytes: 1 << 20,
				RateLimit:    config.RateLimitConfig{Enabled: tt.enabled, RequestsPerSecond: 1},
			}}
			e := newEcho(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
			e.POST("/proxy", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

			limited := false
			for n := 0; n < 10; n++ {
				req := httptest.NewRequest(http.MethodPost, "/proxy", strings.NewReader(`{"method":"GET","url":"http://example.com"}`))
				rec := httptest.NewRecorder()
				e.ServeHTTP(rec, req)
				if rec.Code == http.StatusTooManyRequests {
					limited = true
					break
				}
			}
			if limited != tt.wantLimited {
				t.Errorf("rate limited = %v, want %v", limited, tt.wantLimited)
			}
		})
	}
}
