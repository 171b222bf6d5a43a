// Package gateway defines domain types shared across the xssgate JSONP gateway.
// This package has no project imports -- it is the dependency root.
package gateway

import (
	"context"
	"time"
)

// --- JSONP decisions ---

// Decision actions recorded for every proxied response.
const (
	ActionPass  = "pass"
	ActionWrap  = "wrap"
	ActionAbort = "abort"
)

// DecisionRecord is one persisted JSONP eligibility outcome.
type DecisionRecord struct {
	ID        string    `json:"id"`
	Route     string    `json:"route"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Status    int       `json:"status"`
	Action    string    `json:"action"`
	Reason    string    `json:"reason"`
	Callback  string    `json:"callback,omitempty"` // truncated; only set when an argument was seen
	RequestID string    `json:"request_id"`
	CreatedAt time.Time `json:"created_at"`
}

// DecisionFilter selects decision records.
type DecisionFilter struct {
	Route  string
	Action string
	Since  string // RFC3339, inclusive
	Until  string // RFC3339, exclusive
	Offset int
	Limit  int
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
type requestMeta struct {
	RequestID  string
	Subrequest bool
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
// A subrequest mark already on ctx is kept.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	m := &requestMeta{RequestID: id}
	if p := metaFromContext(ctx); p != nil {
		m.Subrequest = p.Subrequest
	}
	return context.WithValue(ctx, ctxKeyMeta, m)
}

// ContextWithSubrequest marks ctx as belonging to an internal subrequest issued
// by the gateway itself. Responses to subrequests are never rewritten.
// The parent's request ID is carried over; the parent's metadata is not mutated.
//
// Nothing in the gateway marks requests on its own. This is the hook for
// in-process callers that dispatch a request through the server handler
// (an embedding application composing one response from several routes)
// and need the upstream bytes untouched. Client requests can never set it.
func ContextWithSubrequest(ctx context.Context) context.Context {
	m := &requestMeta{Subrequest: true}
	if p := metaFromContext(ctx); p != nil {
		m.RequestID = p.RequestID
	}
	return context.WithValue(ctx, ctxKeyMeta, m)
}

// IsSubrequest reports whether ctx was marked by ContextWithSubrequest.
func IsSubrequest(ctx context.Context) bool {
	if m := metaFromContext(ctx); m != nil {
		return m.Subrequest
	}
	return false
}
