package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	gateway "github.com/eugener/xssgate/internal"
	"github.com/eugener/xssgate/internal/jsonp"
)

// authenticateAdmin requires "Authorization: Bearer <admin key>".
func (s *server) authenticateAdmin(next http.Handler) http.Handler {
	want := []byte(s.deps.AdminKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			writeError(w, gateway.ErrUnauthorized, "invalid admin key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Pagination helpers ---

type pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

type listResponse struct {
	Data       any        `json:"data"`
	Pagination pagination `json:"pagination"`
}

func parsePagination(r *http.Request) (offset, limit int) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return
}

// parseSinceUntil validates optional since/until RFC3339 query params and
// normalizes them to UTC, the form stored in the decision log.
// Writes 400 and returns false on invalid format.
func parseSinceUntil(w http.ResponseWriter, r *http.Request) (since, until string, ok bool) {
	q := r.URL.Query()
	if since, ok = parseRFC3339(w, "since", q.Get("since")); !ok {
		return "", "", false
	}
	if until, ok = parseRFC3339(w, "until", q.Get("until")); !ok {
		return "", "", false
	}
	return since, until, true
}

func parseRFC3339(w http.ResponseWriter, name, raw string) (string, bool) {
	if raw == "" {
		return "", true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %s: %w", gateway.ErrBadRequest, name, err), "invalid "+name+" format, use RFC3339")
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

// --- Routes ---

type routeView struct {
	Name        string        `json:"name"`
	Prefix      string        `json:"prefix"`
	StripPrefix bool          `json:"strip_prefix"`
	Target      string        `json:"target"`
	JSONP       *jsonp.Config `json:"jsonp"`
}

func (s *server) handleListRoutes(w http.ResponseWriter, _ *http.Request) {
	views := make([]routeView, 0, len(s.deps.Routes))
	for _, rt := range s.deps.Routes {
		views = append(views, routeView{
			Name:        rt.Name,
			Prefix:      rt.Prefix,
			StripPrefix: rt.StripPrefix,
			Target:      rt.Target,
			JSONP:       rt.JSONP,
		})
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       views,
		Pagination: pagination{Offset: 0, Limit: len(views), Total: len(views)},
	})
}

// --- Decisions ---

func (s *server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Decisions == nil {
		writeError(w, gateway.ErrNotFound, "decision log disabled")
		return
	}
	since, until, ok := parseSinceUntil(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	action := q.Get("action")
	switch action {
	case "", gateway.ActionPass, gateway.ActionWrap, gateway.ActionAbort:
	default:
		writeError(w, gateway.ErrBadRequest, "invalid action, use pass, wrap or abort")
		return
	}

	offset, limit := parsePagination(r)
	filter := gateway.DecisionFilter{
		Route:  q.Get("route"),
		Action: action,
		Since:  since,
		Until:  until,
		Offset: offset,
		Limit:  limit,
	}
	records, err := s.deps.Decisions.QueryDecisions(r.Context(), filter)
	if err != nil {
		s.deps.Logger.ErrorContext(r.Context(), "query decisions", "error", err)
		writeError(w, err, "failed to query decisions")
		return
	}
	total, _ := s.deps.Decisions.CountDecisions(r.Context(), filter)
	if records == nil {
		records = []gateway.DecisionRecord{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       records,
		Pagination: pagination{Offset: offset, Limit: limit, Total: total},
	})
}
