package gateway

import (
	"context"
	"testing"
)

func TestRequestIDContext(t *testing.T) {
	t.Parallel()

	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("empty ctx RequestID = %q, want empty", got)
	}

	ctx := ContextWithRequestID(context.Background(), "req-1")
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Errorf("RequestID = %q, want %q", got, "req-1")
	}
	if IsSubrequest(ctx) {
		t.Error("top-level request reported as subrequest")
	}
}

func TestSubrequestContext(t *testing.T) {
	t.Parallel()

	t.Run("carries request id", func(t *testing.T) {
		t.Parallel()
		parent := ContextWithRequestID(context.Background(), "req-2")
		sub := ContextWithSubrequest(parent)
		if !IsSubrequest(sub) {
			t.Error("IsSubrequest = false, want true")
		}
		if got := RequestIDFromContext(sub); got != "req-2" {
			t.Errorf("RequestID = %q, want %q", got, "req-2")
		}
	})

	t.Run("parent untouched", func(t *testing.T) {
		t.Parallel()
		parent := ContextWithRequestID(context.Background(), "req-3")
		_ = ContextWithSubrequest(parent)
		if IsSubrequest(parent) {
			t.Error("parent marked as subrequest")
		}
	})

	t.Run("survives request id", func(t *testing.T) {
		t.Parallel()
		ctx := ContextWithRequestID(ContextWithSubrequest(context.Background()), "req-4")
		if !IsSubrequest(ctx) {
			t.Error("request id assignment dropped the subrequest mark")
		}
		if got := RequestIDFromContext(ctx); got != "req-4" {
			t.Errorf("RequestID = %q, want %q", got, "req-4")
		}
	})

		t.Run("no parent meta", func(t *testing.T) {
		t.Parallel()
		sub := ContextWithSubrequest(context.Background())
		if !IsSubrequest(sub) {
			t.Error("IsSubrequest = false, want true")
		}
		if got := RequestIDFromContext(sub); got != "" {
			t.Errorf("RequestID = %q, want empty", got)
		}
	})
}
