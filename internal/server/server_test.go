package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	gateway "github.com/eugener/xssgate/internal"
	"github.com/eugener/xssgate/internal/jsonp"
	"github.com/eugener/xssgate/internal/upstream"
)

func ptr[T any](v T) *T { return &v }

// enabledJSONP returns the effective config of a route with get on and
// callback_arg "callback".
func enabledJSONP(t *testing.T) *jsonp.Config {
	t.Helper()
	cfg, err := jsonp.Options{Get: ptr(true), CallbackArg: ptr("callback")}.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return cfg
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// fakeRecorder collects decision records in memory.
type fakeRecorder struct {
	mu      sync.Mutex
	records []gateway.DecisionRecord
}

func (f *fakeRecorder) Record(r gateway.DecisionRecord) {
	f.mu.Lock()
	f.records = append(f.records, r)
	f.mu.Unlock()
}

func (f *fakeRecorder) all() []gateway.DecisionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.DecisionRecord(nil), f.records...)
}

// newUpstreamRoute starts an httptest upstream serving h and returns a
// route named "api" mounted at /api with strip_prefix.
func newUpstreamRoute(t *testing.T, cfg *jsonp.Config, h http.HandlerFunc) Route {
	t.Helper()
	backend := httptest.NewServer(h)
	t.Cleanup(backend.Close)

	u, err := upstream.New("api", backend.URL, backend.Client(), 0)
	if err != nil {
		t.Fatalf("upstream.New: %v", err)
	}
	return Route{
		Name:        "api",
		Prefix:      "/api",
		StripPrefix: true,
		Target:      backend.URL,
		JSONP:       cfg,
		Upstream:    u,
	}
}

func jsonBackend(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	}
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := New(Deps{})

	rec := serve(h, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "ok")
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		check ReadyChecker
		want  int
	}{
		{"no check", nil, http.StatusOK},
		{"ready", func(context.Context) error { return nil }, http.StatusOK},
		{"not ready", func(context.Context) error { return errors.New("db down") }, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			logger, _ := newTestLogger()
			h := New(Deps{ReadyCheck: tt.check, Logger: logger})
			if rec := serve(h, http.MethodGet, "/readyz"); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	t.Parallel()
	h := New(Deps{})

	t.Run("generated", func(t *testing.T) {
		t.Parallel()
		rec := serve(h, http.MethodGet, "/healthz")
		if id := rec.Header().Get("X-Request-Id"); len(id) != 36 {
			t.Errorf("X-Request-Id = %q, want uuid", id)
		}
	})

	t.Run("propagated", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("X-Request-Id", "client-id-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if id := rec.Header().Get("X-Request-Id"); id != "client-id-1" {
			t.Errorf("X-Request-Id = %q, want %q", id, "client-id-1")
		}
	})
}

type panicForwarder struct{}

func (panicForwarder) Forward(context.Context, http.ResponseWriter, *http.Request, string) error {
	panic("boom")
}

func TestRecovery(t *testing.T) {
	t.Parallel()
	logger, logs := newTestLogger()
	h := New(Deps{
		Logger: logger,
		Routes: []Route{{Name: "boom", Prefix: "/boom", JSONP: enabledJSONP(t), Upstream: panicForwarder{}}},
	})

	rec := serve(h, http.MethodGet, "/boom/x")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(logs.String(), "panic recovered") {
		t.Errorf("log missing panic entry: %s", logs.String())
	}
}

func TestUnknownPath(t *testing.T) {
	t.Parallel()
	h := New(Deps{})
	if rec := serve(h, http.MethodGet, "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
