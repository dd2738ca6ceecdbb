// Package service implements the HTTP forward engine.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"relay-gateway-go/internal/cache"
	"relay-gateway-go/internal/client"
	"relay-gateway-go/internal/config"
	"relay-gateway-go/internal/model"
)

// strippedResponseHeaders describe the upstream leg's framing and are not
// copied to the caller; the body is re-framed when it is written out.
// Content-Encoding is left to the client, which drops it only after decoding.
var strippedResponseHeaders = []string{
	"Content-Length",
	"Transfer-Encoding",
}

// ForwardService executes caller-described requests against arbitrary targets.
type ForwardService struct {
	client    *client.UpstreamClient
	cache     cache.Store
	baseline  http.Header
	timeout   time.Duration
	publicURL string
	logger    *slog.Logger
}

// NewForwardService creates a ForwardService.
func NewForwardService(c *client.UpstreamClient, store cache.Store, cfg *config.Config, logger *slog.Logger) *ForwardService {
	return &ForwardService{
		client:    c,
		cache:     store,
		baseline:  Baseline(cfg.Upstream.UserAgent),
		timeout:   cfg.Upstream.UpstreamTimeout(),
		publicURL: strings.TrimSuffix(cfg.Server.PublicURL, "/"),
		logger:    logger.With("component", "forward_service"),
	}
}

// Validate checks the envelope and returns the upper-cased method.
// origin is the scheme://host[:port] the caller used to reach this gateway.
func (s *ForwardService) Validate(fr *model.ForwardRequest, origin string) (string, error) {
	if fr == nil || strings.TrimSpace(fr.Method) == "" || strings.TrimSpace(fr.URL) == "" {
		return "", ErrBadRequest
	}
	method := strings.ToUpper(strings.TrimSpace(fr.Method))

	for _, self := range []string{origin, s.publicURL} {
		if self != "" && hasPrefixFold(fr.URL, self) {
			return "", ErrSelfLoop
		}
	}
	if method == http.MethodConnect && origin != "" {
		if _, host, ok := strings.Cut(origin, "://"); ok && strings.EqualFold(fr.URL, host) {
			return "", ErrSelfLoop
		}
	}
	return method, nil
}

// Forward validates fr, serves GET from the cache when possible, and
// otherwise performs a single upstream call bounded by the configured
// deadline. Only completed GET calls are stored.
func (s *ForwardService) Forward(ctx context.Context, fr *model.ForwardRequest, origin string) (*model.ForwardResponse, error) {
	method, err := s.Validate(fr, origin)
	if err != nil {
		return nil, err
	}

	if method == http.MethodGet {
		if cached, ok := s.cache.Get(fr.URL); ok {
			s.logger.Debug("cache hit", "url", fr.URL)
			cached.Cached = true
			return cached, nil
		}
	}

	header := BuildHeaders(s.baseline, fr.Headers)

	var body io.Reader
	if method != http.MethodGet && method != http.MethodHead {
		payload, ok, err := encodeBody(fr.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
		if ok {
			body = bytes.NewReader(payload)
			if header.Get("Content-Type") == "" {
				header.Set("Content-Type", "application/json")
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.logger.Debug("forwarding request", "method", method, "url", fr.URL)

	resp, err := s.client.Send(ctx, method, fr.URL, header, body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstreamFailure, err)
	}

	finalizeHeaders(resp.Header)

	if method == http.MethodGet {
		s.cache.Put(fr.URL, resp)
	}
	return resp, nil
}

// finalizeHeaders strips leg-specific framing headers and applies CORS.
func finalizeHeaders(h http.Header) {
	for _, k := range strippedResponseHeaders {
		h.Del(k)
	}
	for k, v := range model.CORSHeaders {
		h.Set(k, v)
	}
}

// encodeBody turns the envelope body into wire bytes. A JSON string is sent
// as its text; any other JSON value is sent as JSON. Absent or null bodies
// report ok=false.
func encodeBody(raw json.RawMessage) ([]byte, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, false, nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, false, fmt.Errorf("decode body string: %w", err)
		}
		return []byte(text), true, nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return nil, false, fmt.Errorf("encode body: %w", err)
	}
	return compact.Bytes(), true, nil
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
