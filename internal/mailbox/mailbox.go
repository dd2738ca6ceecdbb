// Package mailbox talks to the external key-value store used as a
// single-slot rendezvous between the bridge and a caller without a socket.
package mailbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"relay-gateway-go/internal/config"
)

var (
	ErrDisabled         = errors.New("mailbox not configured")
	ErrUnexpectedStatus = errors.New("unexpected mailbox response status")
)

// Slot is a keyed single-value rendezvous. An empty slot reads back as
// ok == false.
type Slot interface {
	Write(ctx context.Context, id, value string) error
	Read(ctx context.Context, id string) (value string, ok bool, err error)
	Clear(ctx context.Context, id string) error
}

// New returns an HTTP-backed Slot, or Disabled when no base URL is configured.
func New(cfg *config.Config, logger *slog.Logger) Slot {
	if cfg.Mailbox.BaseURL == "" {
		return Disabled{}
	}
	return NewClient(cfg, logger)
}

// Enabled reports whether s can carry messages.
func Enabled(s Slot) bool {
	if s == nil {
		return false
	}
	_, off := s.(Disabled)
	return !off
}

// Disabled rejects every operation with ErrDisabled.
type Disabled struct{}

func (Disabled) Write(context.Context, string, string) error { return ErrDisabled }
func (Disabled) Read(context.Context, string) (string, bool, error) {
	return "", false, ErrDisabled
}
func (Disabled) Clear(context.Context, string) error { return ErrDisabled }

// Client is a Slot over a JSON document store: values live at
// {base}/{id}.json and null marks an empty slot.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a mailbox Client with the configured per-call timeout.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.Mailbox.BaseURL, "/"),
		authToken:  cfg.Mailbox.AuthToken,
		httpClient: &http.Client{Timeout: cfg.Mailbox.Timeout()},
		logger:     logger.With("component", "mailbox"),
	}
}

// Write stores value at id, replacing whatever was there.
func (c *Client) Write(ctx context.Context, id, value string) error {
	_, err := c.do(ctx, http.MethodPut, c.keyURL(id), value)
	return err
}

// Read returns the value at id. A null document is reported as ok == false.
func (c *Client) Read(ctx context.Context, id string) (string, bool, error) {
	raw, err := c.do(ctx, http.MethodGet, c.keyURL(id), nil)
	if err != nil {
		return "", false, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false, nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false, fmt.Errorf("mailbox: decode %s: %w", id, err)
	}
	return value, true, nil
}

// Clear empties the slot at id.
func (c *Client) Clear(ctx context.Context, id string) error {
	return c.Patch(ctx, map[string]any{id: nil})
}

// Patch updates several keys in one call. A nil value clears its key.
func (c *Client) Patch(ctx context.Context, values map[string]any) error {
	_, err := c.do(ctx, http.MethodPatch, c.rootURL(), values)
	return err
}

func (c *Client) keyURL(id string) string {
	return c.withAuth(c.baseURL + "/" + url.PathEscape(id) + ".json")
}

func (c *Client) rootURL() string {
	return c.withAuth(c.baseURL + ".json")
}

func (c *Client) withAuth(u string) string {
	if c.authToken == "" {
		return u
	}
	return u + "?auth=" + url.QueryEscape(c.authToken)
}

func (c *Client) do(ctx context.Context, method, target string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("mailbox: encode: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("mailbox: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mailbox: %s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("mailbox: read response: %w", err)
	}

	c.logger.Debug("mailbox call",
		"method", method,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s %d", ErrUnexpectedStatus, method, resp.StatusCode)
	}
	return raw, nil
}
