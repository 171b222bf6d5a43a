package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	gateway "github.com/eugener/xssgate/internal"
)

const testAdminKey = "admin-secret"

// fakeDecisionReader serves canned records and captures the last filter.
type fakeDecisionReader struct {
	mu      sync.Mutex
	records []gateway.DecisionRecord
	last    gateway.DecisionFilter
}

func (f *fakeDecisionReader) QueryDecisions(_ context.Context, filter gateway.DecisionFilter) ([]gateway.DecisionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = filter
	var out []gateway.DecisionRecord
	for _, r := range f.records {
		if filter.Action != "" && r.Action != filter.Action {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeDecisionReader) CountDecisions(ctx context.Context, filter gateway.DecisionFilter) (int, error) {
	out, _ := f.QueryDecisions(ctx, filter)
	return len(out), nil
}

func (f *fakeDecisionReader) lastFilter() gateway.DecisionFilter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func newAdminTestHandler(t *testing.T) (http.Handler, *fakeDecisionReader) {
	t.Helper()
	reader := &fakeDecisionReader{records: []gateway.DecisionRecord{
		{ID: "d1", Route: "api", Action: gateway.ActionWrap, Reason: "wrapped", Status: 200},
		{ID: "d2", Route: "api", Action: gateway.ActionPass, Reason: "no_callback", Status: 200},
	}}
	h := New(Deps{
		AdminKey:  testAdminKey,
		Decisions: reader,
		Routes: []Route{{
			Name:   "api",
			Prefix: "/api",
			Target: "http://backend:9000",
			JSONP:  enabledJSONP(t),
		}},
	})
	return h, reader
}

func adminGet(h http.Handler, target, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAdminAuth(t *testing.T) {
	t.Parallel()
	h, _ := newAdminTestHandler(t)

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"valid", testAdminKey, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if rec := adminGet(h, "/admin/routes", tt.key); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAdminDisabledWithoutKey(t *testing.T) {
	t.Parallel()
	h := New(Deps{})
	if rec := adminGet(h, "/admin/routes", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAdminListRoutes(t *testing.T) {
	t.Parallel()
	h, _ := newAdminTestHandler(t)

	rec := adminGet(h, "/admin/routes", testAdminKey)
	var resp struct {
		Data []struct {
			Name   string `json:"name"`
			Prefix string `json:"prefix"`
			Target string `json:"target"`
			JSONP  struct {
				Get         bool     `json:"get"`
				CallbackArg string   `json:"callback_arg"`
				InputTypes  []string `json:"input_types"`
				OutputType  string   `json:"output_type"`
			} `json:"jsonp"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("routes = %d, want 1", len(resp.Data))
	}
	r := resp.Data[0]
	if r.Name != "api" || r.Prefix != "/api" || r.Target != "http://backend:9000" {
		t.Errorf("route = %+v", r)
	}
	if !r.JSONP.Get || r.JSONP.CallbackArg != "callback" || r.JSONP.OutputType != "application/x-javascript" {
		t.Errorf("jsonp = %+v", r.JSONP)
	}
}

func TestAdminListDecisions(t *testing.T) {
	t.Parallel()

	t.Run("all", func(t *testing.T) {
		t.Parallel()
		h, _ := newAdminTestHandler(t)
		rec := adminGet(h, "/admin/decisions", testAdminKey)
		var resp listResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Pagination.Total != 2 || resp.Pagination.Limit != 50 {
			t.Errorf("pagination = %+v", resp.Pagination)
		}
	})

	t.Run("filter", func(t *testing.T) {
		t.Parallel()
		h, reader := newAdminTestHandler(t)
		rec := adminGet(h, "/admin/decisions?route=api&action=wrap&since=2026-01-01T02:00:00%2B02:00&limit=10&offset=5", testAdminKey)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
		}
		f := reader.lastFilter()
		want := gateway.DecisionFilter{
			Route:  "api",
			Action: gateway.ActionWrap,
			Since:  "2026-01-01T00:00:00Z",
			Offset: 5,
			Limit:  10,
		}
		if f != want {
			t.Errorf("filter = %+v, want %+v", f, want)
		}
	})

	t.Run("bad since", func(t *testing.T) {
		t.Parallel()
		h, _ := newAdminTestHandler(t)
		if rec := adminGet(h, "/admin/decisions?since=yesterday", testAdminKey); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("bad action", func(t *testing.T) {
		t.Parallel()
		h, _ := newAdminTestHandler(t)
		if rec := adminGet(h, "/admin/decisions?action=drop", testAdminKey); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("no store", func(t *testing.T) {
		t.Parallel()
		h := New(Deps{AdminKey: testAdminKey})
		if rec := adminGet(h, "/admin/decisions", testAdminKey); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}
