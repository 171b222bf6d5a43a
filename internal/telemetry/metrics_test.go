package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	if m.RequestsTotal == nil {
		t.Error("RequestsTotal is nil")
	}
	if m.RequestDuration == nil {
		t.Error("RequestDuration is nil")
	}
	if m.ActiveRequests == nil {
		t.Error("ActiveRequests is nil")
	}
	if m.UpstreamDuration == nil {
		t.Error("UpstreamDuration is nil")
	}
	if m.UpstreamErrors == nil {
		t.Error("UpstreamErrors is nil")
	}
	if m.JSONPDecisions == nil {
		t.Error("JSONPDecisions is nil")
	}
	if m.DecisionQueueLength == nil {
		t.Error("DecisionQueueLength is nil")
	}

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather: %v", err)
	}
}

func TestNewMetricsIncrement(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	m.RequestsTotal.WithLabelValues("GET", "/api/*", "200", "api").Inc()
	m.ActiveRequests.Set(5)
	m.RequestDuration.WithLabelValues("GET", "/api/*", "api").Observe(0.123)
	m.UpstreamDuration.WithLabelValues("api").Observe(0.05)
	m.JSONPDecisions.WithLabelValues("api", "wrap", "wrapped").Inc()
	m.JSONPDecisions.WithLabelValues("api", "pass", "no_callback").Add(2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather after increment: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	want := []string{
		"xssgate_requests_total",
		"xssgate_active_requests",
		"xssgate_request_duration_seconds",
		"xssgate_upstream_duration_seconds",
		"xssgate_jsonp_decisions_total",
		"xssgate_decision_queue_length",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("missing metric %q in gathered families", name)
		}
	}

	if got := testutil.ToFloat64(m.JSONPDecisions.WithLabelValues("api", "pass", "no_callback")); got != 2 {
		t.Errorf("pass/no_callback = %v, want 2", got)
	}
}

func TestNewMetricsDoubleRegister(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	NewMetrics(reg)

	defer func() {
		if recover() == nil {
			t.Error("second NewMetrics on same registry did not panic")
		}
	}()
	NewMetrics(reg)
}
