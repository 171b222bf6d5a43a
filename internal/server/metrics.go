package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// statusLabels holds the status label for every code so the hot path
// never formats one.
var statusLabels [600]string

func init() {
	for i := range statusLabels {
		statusLabels[i] = strconv.Itoa(i)
	}
}

// noRoute labels requests served by the gateway itself.
const noRoute = "none"

// statusLabel returns the metric label for code; out-of-range codes share "other".
func statusLabel(code int) string {
	if code < 0 || code >= len(statusLabels) {
		return "other"
	}
	return statusLabels[code]
}

// routeNames maps each mounted chi pattern to the route it serves.
func routeNames(routes []Route) map[string]string {
	names := make(map[string]string, 2*len(routes))
	for _, rt := range routes {
		if rt.Prefix == "/" {
			names["/*"] = rt.Name
			continue
		}
		names[rt.Prefix] = rt.Name
		names[rt.Prefix+"/*"] = rt.Name
	}
	return names
}

// metrics counts requests by method, pattern, status and proxied route,
// observes their duration and tracks how many are in flight. The deferred
// update also runs when the handler aborts the connection.
func (s *server) metrics(next http.Handler) http.Handler {
	m := s.deps.Metrics
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.ActiveRequests.Inc()
		start := time.Now()
		sw := acquireStatusWriter(w)
		defer func() {
			status := sw.status
			releaseStatusWriter(sw)
			m.ActiveRequests.Dec()

			pattern := routePattern(r)
			route, ok := s.routes[pattern]
			if !ok {
				route = noRoute
			}
			m.RequestsTotal.WithLabelValues(r.Method, pattern, statusLabel(status), route).Inc()
			m.RequestDuration.WithLabelValues(r.Method, pattern, route).Observe(time.Since(start).Seconds())
		}()
		next.ServeHTTP(sw, r)
	})
}

// routePattern returns the chi route pattern for bounded cardinality.
// Unmatched requests share one label instead of their raw path.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return "unmatched"
}
