// Package model defines shared types for the gateway.
package model

import (
	"encoding/json"
	"net/http"
)

// CORSHeaders are attached to every /proxy response, including tunnel
// acknowledgements.
var CORSHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": "GET, POST, PUT, DELETE, OPTIONS, CONNECT",
	"Access-Control-Allow-Headers": "Content-Type, Authorization",
}

// ForwardRequest is the JSON envelope a caller posts to /proxy describing
// the request the gateway should issue on its behalf.
type ForwardRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	// Body is kept raw so that a JSON string can be passed through as text
	// while any other JSON value is re-encoded.
	Body json.RawMessage `json:"body,omitempty"`
}

// ForwardResponse is a fully buffered upstream response.
type ForwardResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Cached is set when the response was served from the cache.
	Cached bool
}

// Clone returns a deep copy so a cached snapshot is never shared with a writer.
func (r *ForwardResponse) Clone() *ForwardResponse {
	if r == nil {
		return nil
	}
	body := make([]byte, len(r.Body))
	copy(body, r.Body)
	return &ForwardResponse{
		StatusCode: r.StatusCode,
		Header:     r.Header.Clone(),
		Body:       body,
	}
}
