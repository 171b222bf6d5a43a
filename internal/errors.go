package gateway

import "errors"

// Sentinel errors for the gateway domain.
var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotFound          = errors.New("not found")
	ErrBadRequest        = errors.New("bad request")
	ErrUpstream          = errors.New("upstream error")
	ErrTruncated         = errors.New("response truncated") // header sent, body incomplete
	ErrArgNotFound       = errors.New("query argument not found")
	ErrMalformedEncoding = errors.New("malformed percent-encoding")
)
