package service

import "errors"

// Forward path failures. Handlers map these to 400, 400, 504 and 502.
var (
	ErrBadRequest      = errors.New(`missing "method" or "url" in request body`)
	ErrSelfLoop        = errors.New("proxying to self is not allowed")
	ErrTimeout         = errors.New("upstream request timed out")
	ErrUpstreamFailure = errors.New("fetch failed")
)
