// Package server implements the HTTP transport layer for the xssgate gateway.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	gateway "github.com/eugener/xssgate/internal"
	"github.com/eugener/xssgate/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// DecisionRecorder records JSONP decisions asynchronously.
type DecisionRecorder interface {
	Record(gateway.DecisionRecord)
}

// DecisionReader serves the admin decision log.
type DecisionReader interface {
	QueryDecisions(ctx context.Context, f gateway.DecisionFilter) ([]gateway.DecisionRecord, error)
	CountDecisions(ctx context.Context, f gateway.DecisionFilter) (int, error)
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Routes         []Route
	ReadyCheck     ReadyChecker       // nil = always ready (for tests)
	Recorder       DecisionRecorder   // nil = no decision recording
	Decisions      DecisionReader     // nil = no admin decision log
	AdminKey       string             // empty = admin API disabled
	Metrics        *telemetry.Metrics // nil = no metrics
	MetricsHandler http.Handler       // nil = no /metrics endpoint
	Logger         *slog.Logger       // nil = slog.Default()
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &server{
		deps:   deps,
		tracer: telemetry.Tracer("xssgate/server"),
		routes: routeNames(deps.Routes),
	}

	r := chi.NewRouter()

	// Global middleware. Recovery sits inside logging and metrics so a
	// recovered panic is counted with the 500 it produced.
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(s.metrics)
	}
	r.Use(s.recovery)

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// Admin API (admin key required)
	if deps.AdminKey != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.authenticateAdmin)
			r.Get("/routes", s.handleListRoutes)
			r.Get("/decisions", s.handleListDecisions)
		})
	}

	// Proxied routes, one mount per configured prefix
	s.mountRoutes(r)

	return r
}

type server struct {
	deps   Deps
	tracer trace.Tracer
	routes map[string]string // chi pattern -> route name
}
