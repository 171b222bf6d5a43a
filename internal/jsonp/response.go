package jsonp

import (
	"context"
	"net/http"

	gateway "github.com/eugener/xssgate/internal"
)

// Response is the per-response task passed down the filter chain. It owns the
// wrapping state for its response; nothing in it is shared across responses.
type Response struct {
	Status     int
	Method     string
	RawQuery   string
	Subrequest bool
	Header     http.Header

	// Decision is set by HeaderFilter before the header is forwarded.
	Decision Decision
	// Wrap is non-nil from header activation until the suffix is emitted.
	Wrap *State
}

// State tracks the framing of one wrapped response.
type State struct {
	Callback      string
	prefixEmitted bool
}

// Reason explains a Decision; values are stable metric and log labels.
type Reason string

const (
	ReasonWrapped         Reason = "wrapped"
	ReasonStatus          Reason = "status"
	ReasonSubrequest      Reason = "subrequest"
	ReasonDisabled        Reason = "disabled"
	ReasonMethod          Reason = "method"
	ReasonMisconfigured   Reason = "misconfigured"
	ReasonContentType     Reason = "content_type"
	ReasonContentEncoding Reason = "content_encoding"
	ReasonNoCallback      Reason = "no_callback"
	ReasonInvalidCallback Reason = "invalid_callback"
	ReasonMalformed       Reason = "malformed_encoding"
)

// Decision is the outcome of the eligibility check for one response.
type Decision struct {
	Wrap     bool
	Reason   Reason
	Callback string // decoded argument, set once it was found
}

// Action returns the gateway action name for d.
func (d Decision) Action() string {
	switch {
	case d.Wrap:
		return gateway.ActionWrap
	case d.Reason == ReasonMalformed:
		return gateway.ActionAbort
	default:
		return gateway.ActionPass
	}
}

// Chunk is one unit of body data. Last marks the end of the stream; Flush
// asks the sink to push buffered bytes without ending it.
type Chunk struct {
	Data  []byte
	Flush bool
	Last  bool
}

// HeaderSink receives the response head once it is final.
type HeaderSink interface {
	SendHeader(ctx context.Context, r *Response) error
}

// BodySink receives body chunks in order.
type BodySink interface {
	SendBody(ctx context.Context, r *Response, chunks []Chunk) error
}

// HeaderSinkFunc adapts a function to HeaderSink.
type HeaderSinkFunc func(ctx context.Context, r *Response) error

func (f HeaderSinkFunc) SendHeader(ctx context.Context, r *Response) error { return f(ctx, r) }

// BodySinkFunc adapts a function to BodySink.
type BodySinkFunc func(ctx context.Context, r *Response, chunks []Chunk) error

func (f BodySinkFunc) SendBody(ctx context.Context, r *Response, chunks []Chunk) error {
	return f(ctx, r, chunks)
}
