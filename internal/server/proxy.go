package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	gateway "github.com/eugener/xssgate/internal"
	"github.com/eugener/xssgate/internal/jsonp"
)

// maxRecordedCallback bounds the callback text kept in the decision log.
const maxRecordedCallback = 128

// Forwarder proxies a request to an upstream and streams the response into w.
type Forwarder interface {
	Forward(ctx context.Context, w http.ResponseWriter, r *http.Request, path string) error
}

// Route is one proxied prefix with its effective JSONP configuration.
type Route struct {
	Name        string
	Prefix      string // normalized, no trailing slash except "/"
	StripPrefix bool
	Target      string // upstream base URL, informational
	JSONP       *jsonp.Config
	Upstream    Forwarder
}

func (s *server) mountRoutes(r chi.Router) {
	for _, rt := range s.deps.Routes {
		h := s.handleProxy(rt)
		if rt.Prefix == "/" {
			r.Handle("/*", h)
			continue
		}
		r.Handle(rt.Prefix, h)
		r.Handle(rt.Prefix+"/*", h)
	}
}

// upstreamPath returns the path sent upstream for a request under rt.
func (rt Route) upstreamPath(p string) string {
	if !rt.StripPrefix || rt.Prefix == "/" {
		return p
	}
	p = strings.TrimPrefix(p, rt.Prefix)
	if p == "" || p[0] != '/' {
		p = "/" + p
	}
	return p
}

func (s *server) handleProxy(rt Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := s.tracer.Start(r.Context(), "proxy "+rt.Name,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("xssgate.route", rt.Name),
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			),
		)
		defer span.End()
		r = r.WithContext(ctx)

		jw := newJSONPWriter(w, r, rt.JSONP, s.deps.Logger)
		start := time.Now()
		err := rt.Upstream.Forward(ctx, jw, r, rt.upstreamPath(r.URL.EscapedPath()))
		if err != nil && !jw.decided() {
			writeError(jw, err, "upstream request failed")
		}
		// A body cut short after the head went out must not be closed with
		// a suffix; the connection is dropped once the outcome is recorded.
		truncated := errors.Is(err, gateway.ErrTruncated) && !errors.Is(err, errAborted)
		if !truncated {
			if ferr := jw.finish(); err == nil && ferr != nil && !errors.Is(ferr, errAborted) {
				err = ferr
			}
		}
		elapsed := time.Since(start)
		if truncated {
			defer panic(http.ErrAbortHandler)
		}

		if m := s.deps.Metrics; m != nil {
			m.UpstreamDuration.WithLabelValues(rt.Name).Observe(elapsed.Seconds())
			if errors.Is(err, gateway.ErrUpstream) {
				m.UpstreamErrors.WithLabelValues(rt.Name).Inc()
			}
		}

		if err != nil && !errors.Is(err, errAborted) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.deps.Logger.LogAttrs(ctx, slog.LevelWarn, "proxy error",
				slog.String("route", rt.Name),
				slog.String("error", err.Error()),
				slog.String("request_id", gateway.RequestIDFromContext(ctx)),
			)
		}

		if !jw.decided() {
			return
		}
		d := jw.resp.Decision
		span.SetAttributes(
			attribute.String("xssgate.jsonp.action", d.Action()),
			attribute.String("xssgate.jsonp.reason", string(d.Reason)),
			attribute.Int("http.response.status_code", jw.status),
		)
		if m := s.deps.Metrics; m != nil {
			m.JSONPDecisions.WithLabelValues(rt.Name, d.Action(), string(d.Reason)).Inc()
		}
		if s.deps.Recorder != nil {
			s.deps.Recorder.Record(gateway.DecisionRecord{
				Route:     rt.Name,
				Method:    r.Method,
				Path:      r.URL.Path,
				Status:    jw.status,
				Action:    d.Action(),
				Reason:    string(d.Reason),
				Callback:  truncate(d.Callback, maxRecordedCallback),
				RequestID: gateway.RequestIDFromContext(ctx),
				CreatedAt: time.Now().UTC(),
			})
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
