package service

import "net/http"

// baselineHeaders is what a plain browser navigation sends. Accept-Encoding
// is identity so upstream bodies normally arrive uncompressed.
var baselineHeaders = map[string]string{
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.9",
	"DNT":             "1",
	"Connection":      "keep-alive",
	"Cache-Control":   "max-age=0",
	"Accept-Encoding": "identity",
}

// DefaultUserAgent is the baseline User-Agent when none is configured.
const DefaultUserAgent = "Kernel"

// Baseline returns a fresh copy of the browser-like header baseline with the
// given User-Agent.
func Baseline(userAgent string) http.Header {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	h := make(http.Header, len(baselineHeaders)+1)
	h.Set("User-Agent", userAgent)
	for k, v := range baselineHeaders {
		h.Set(k, v)
	}
	return h
}

// BuildHeaders overlays the caller's headers on baseline. Keys match
// case-insensitively and caller values win. Values are not validated.
func BuildHeaders(baseline http.Header, clientHeaders map[string]string) http.Header {
	merged := baseline.Clone()
	if merged == nil {
		merged = make(http.Header)
	}
	for k, v := range clientHeaders {
		merged.Set(k, v)
	}
	return merged
}
