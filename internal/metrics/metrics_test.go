package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}

	if m.registry == nil {
		t.Error("Registry is nil")
	}

	if m.RequestsTotal == nil {
		t.Error("RequestsTotal is nil")
	}
	if m.RequestDuration == nil {
		t.Error("RequestDuration is nil")
	}
	if m.RequestIterations == nil {
		t.Error("RequestIterations is nil")
	}
	if m.CapabilityCallsTotal == nil {
		t.Error("CapabilityCallsTotal is nil")
	}
	if m.CapabilityCallDuration == nil {
		t.Error("CapabilityCallDuration is nil")
	}
	if m.CapabilityErrorsTotal == nil {
		t.Error("CapabilityErrorsTotal is nil")
	}
	if m.PlanParseFailuresTotal == nil {
		t.Error("PlanParseFailuresTotal is nil")
	}
	if m.PlanRepairsTotal == nil {
		t.Error("PlanRepairsTotal is nil")
	}
	if m.ReasoningCallsTotal == nil {
		t.Error("ReasoningCallsTotal is nil")
	}
	if m.SessionsActive == nil {
		t.Error("SessionsActive is nil")
	}
	if m.MemoryEpisodesTotal == nil {
		t.Error("MemoryEpisodesTotal is nil")
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()

	// Record sample metrics so they appear in output
	m.RequestsTotal.WithLabelValues("loop", "done").Inc()
	m.RequestDuration.WithLabelValues("loop").Observe(1.0)
	m.RequestIterations.WithLabelValues("loop").Observe(3)
	m.CapabilityCallsTotal.WithLabelValues("todo", "success").Inc()
	m.CapabilityCallDuration.WithLabelValues("todo").Observe(0.5)
	m.CapabilityErrorsTotal.WithLabelValues("todo", "timeout").Inc()
	m.PlanRepairsTotal.WithLabelValues("retry").Inc()
	m.ReasoningCallsTotal.WithLabelValues("anthropic", "ok").Inc()
	m.ReasoningCallDuration.WithLabelValues("anthropic").Observe(0.8)

	handler := m.Handler()
	if handler == nil {
		t.Fatal("Handler returned nil")
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()

	expectedMetrics := []string{
		"requests_total",
		"request_duration_seconds",
		"request_iterations",
		"capability_calls_total",
		"capability_call_duration_seconds",
		"capability_errors_total",
		"plan_parse_failures_total",
		"plan_repairs_total",
		"clarifications_total",
		"reasoning_calls_total",
		"reasoning_call_duration_seconds",
		"sessions_active",
		"sessions_total",
		"memory_episodes_total",
		"memory_retrievals_total",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(body, metric) {
			t.Errorf("Metrics output missing: %s", metric)
		}
	}
}

func TestMetricsRegistry(t *testing.T) {
	m := NewMetrics()

	registry := m.Registry()
	if registry == nil {
		t.Fatal("Registry returned nil")
	}

	// Vectors only appear in gather once they have at least one child
	m.RequestsTotal.WithLabelValues("simple", "done").Inc()
	m.RequestDuration.WithLabelValues("simple").Observe(0.2)
	m.RequestIterations.WithLabelValues("simple").Observe(1)
	m.CapabilityCallsTotal.WithLabelValues("clock", "success").Inc()
	m.CapabilityCallDuration.WithLabelValues("clock").Observe(0.01)
	m.CapabilityErrorsTotal.WithLabelValues("clock", "validation").Inc()
	m.PlanRepairsTotal.WithLabelValues("alternative").Inc()
	m.ReasoningCallsTotal.WithLabelValues("mock", "ok").Inc()
	m.ReasoningCallDuration.WithLabelValues("mock").Observe(0.001)

	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	metricNames := make(map[string]bool)
	for _, mf := range metricFamilies {
		metricNames[*mf.Name] = true
	}

	expectedCount := 15
	if len(metricNames) != expectedCount {
		t.Errorf("Expected %d metrics, got %d", expectedCount, len(metricNames))
	}
}

func TestSessionGaugeValue(t *testing.T) {
	m := NewMetrics()

	m.SessionsActive.Set(5)

	metricFamilies, _ := m.registry.Gather()
	found := false
	for _, mf := range metricFamilies {
		if *mf.Name == "sessions_active" {
			found = true
			if len(mf.Metric) > 0 && *mf.Metric[0].Gauge.Value != 5 {
				t.Errorf("Expected value 5, got %f", *mf.Metric[0].Gauge.Value)
			}
		}
	}
	if !found {
		t.Error("sessions_active metric not found")
	}
}

func TestMetricsIsolation(t *testing.T) {
	m1 := NewMetrics()
	m2 := NewMetrics()

	m1.SessionsTotal.Inc()
	m1.SessionsTotal.Inc()
	m2.SessionsTotal.Inc()

	metricFamilies1, _ := m1.registry.Gather()
	for _, mf := range metricFamilies1 {
		if *mf.Name == "sessions_total" {
			if len(mf.Metric) > 0 && *mf.Metric[0].Counter.Value != 2 {
				t.Errorf("m1: Expected value 2, got %f", *mf.Metric[0].Counter.Value)
			}
		}
	}

	metricFamilies2, _ := m2.registry.Gather()
	for _, mf := range metricFamilies2 {
		if *mf.Name == "sessions_total" {
			if len(mf.Metric) > 0 && *mf.Metric[0].Counter.Value != 1 {
				t.Errorf("m2: Expected value 1, got %f", *mf.Metric[0].Counter.Value)
			}
		}
	}
}
