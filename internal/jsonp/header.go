package jsonp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	gateway "github.com/eugener/xssgate/internal"
)

// Decide runs the eligibility checks in order and stops at the first one that
// fails. It does not touch r. The only error it returns wraps
// gateway.ErrMalformedEncoding; every other outcome is a Decision.
func Decide(r *Response, cfg *Config) (Decision, error) {
	if r.Status != http.StatusOK {
		return Decision{Reason: ReasonStatus}, nil
	}
	if r.Subrequest {
		return Decision{Reason: ReasonSubrequest}, nil
	}
	if cfg == nil || !cfg.GetEnabled {
		return Decision{Reason: ReasonDisabled}, nil
	}
	if r.Method != http.MethodGet {
		return Decision{Reason: ReasonMethod}, nil
	}
	if cfg.CallbackArg == "" {
		return Decision{Reason: ReasonMisconfigured}, nil
	}
	if !cfg.MatchType(r.Header.Get("Content-Type")) {
		return Decision{Reason: ReasonContentType}, nil
	}
	// Encoded bodies are not JSON text; framing them would corrupt the payload.
	if ce := r.Header.Get("Content-Encoding"); ce != "" && !strings.EqualFold(ce, "identity") {
		return Decision{Reason: ReasonContentEncoding}, nil
	}

	cb, err := CallbackArg(r.RawQuery, cfg.CallbackArg)
	switch {
	case errors.Is(err, gateway.ErrArgNotFound):
		return Decision{Reason: ReasonNoCallback}, nil
	case err != nil:
		return Decision{Reason: ReasonMalformed}, err
	}
	if !ValidCallback(cb) {
		return Decision{Reason: ReasonInvalidCallback, Callback: cb}, nil
	}
	return Decision{Wrap: true, Reason: ReasonWrapped, Callback: cb}, nil
}

// HeaderFilter is the header stage of the JSONP filter.
type HeaderFilter struct {
	cfg  *Config
	next HeaderSink
	log  *slog.Logger
}

// NewHeaderFilter returns a header stage for cfg forwarding to next.
// A nil logger uses slog.Default().
func NewHeaderFilter(cfg *Config, next HeaderSink, logger *slog.Logger) *HeaderFilter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HeaderFilter{cfg: cfg, next: next, log: logger}
}

// SendHeader decides eligibility for r, rewrites the head of activated
// responses and forwards it. A malformed callback encoding is returned
// without forwarding anything; the caller must abort the response.
func (f *HeaderFilter) SendHeader(ctx context.Context, r *Response) error {
	d, err := Decide(r, f.cfg)
	r.Decision = d
	if err != nil {
		f.log.LogAttrs(ctx, slog.LevelError, "jsonp: callback argument not fully decoded",
			slog.String("error", err.Error()),
			slog.String("request_id", gateway.RequestIDFromContext(ctx)),
		)
		return err
	}

	switch d.Reason {
	case ReasonMisconfigured:
		f.log.LogAttrs(ctx, slog.LevelError, "jsonp: get is enabled but no callback_arg is configured",
			slog.String("request_id", gateway.RequestIDFromContext(ctx)),
		)
	case ReasonInvalidCallback:
		f.log.LogAttrs(ctx, slog.LevelWarn, "jsonp: bad callback argument",
			slog.String("callback", d.Callback),
			slog.String("request_id", gateway.RequestIDFromContext(ctx)),
		)
	}

	if d.Wrap {
		r.Wrap = &State{Callback: d.Callback}
		if r.Header == nil {
			r.Header = make(http.Header)
		}
		r.Header.Set("Content-Type", f.cfg.OutputType)
		// The framing changes the length and invalidates byte ranges.
		r.Header.Del("Content-Length")
		r.Header.Del("Accept-Ranges")
	}
	return f.next.SendHeader(ctx, r)
}
