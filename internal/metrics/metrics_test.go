package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if m.registry == nil {
		t.Error("Registry is nil")
	}

	if m.RunsTotal == nil {
		t.Error("RunsTotal is nil")
	}
	if m.RunDuration == nil {
		t.Error("RunDuration is nil")
	}
	if m.RunsInFlight == nil {
		t.Error("RunsInFlight is nil")
	}
	if m.ToolCallsTotal == nil {
		t.Error("ToolCallsTotal is nil")
	}
	if m.ToolCallDuration == nil {
		t.Error("ToolCallDuration is nil")
	}
	if m.ToolCallErrorsTotal == nil {
		t.Error("ToolCallErrorsTotal is nil")
	}
	if m.ConnectionsReady == nil {
		t.Error("ConnectionsReady is nil")
	}
	if m.ConnectionOpensTotal == nil {
		t.Error("ConnectionOpensTotal is nil")
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()

	m.RecordRun("openai", time.Second, "complete")
	m.RecordToolCall("calculate", 50*time.Millisecond, false)
	m.RecordToolCall("calculate", 50*time.Millisecond, true)
	m.RecordConnectionOpen("files", true)
	m.SetConnectionsReady(1)

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
		"agent_runs_total",
		"agent_run_duration_seconds",
		"tool_calls_total",
		"tool_call_duration_seconds",
		"tool_call_errors_total",
		"mcp_connections_ready",
		"mcp_connection_opens_total",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(body, metric) {
			t.Errorf("Metrics output missing: %s", metric)
		}
	}
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics

	// All recording calls are no-ops on a nil receiver.
	m.RecordRun("openai", time.Second, "complete")
	m.RecordToolCall("calculate", time.Millisecond, true)
	m.RecordConnectionOpen("files", false)
	m.SetConnectionsReady(3)
	done := m.RunStarted()
	done()
}

func TestRecordToolCallErrorStatus(t *testing.T) {
	m := NewMetrics()

	m.RecordToolCall("broken", time.Millisecond, true)

	metricFamilies, err := m.registry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	foundErrors := false
	for _, mf := range metricFamilies {
		if *mf.Name == "tool_call_errors_total" {
			foundErrors = true
			if len(mf.Metric) == 0 || *mf.Metric[0].Counter.Value != 1 {
				t.Error("Expected one recorded tool error")
			}
		}
	}
	if !foundErrors {
		t.Error("tool_call_errors_total metric not found")
	}
}

func TestMetricsIsolation(t *testing.T) {
	m1 := NewMetrics()
	m2 := NewMetrics()

	m1.RecordRun("openai", time.Second, "complete")
	m1.RecordRun("openai", time.Second, "complete")
	m2.RecordRun("openai", time.Second, "complete")

	count := func(m *Metrics) float64 {
		families, _ := m.registry.Gather()
		for _, mf := range families {
			if *mf.Name == "agent_runs_total" {
				if len(mf.Metric) > 0 {
					return *mf.Metric[0].Counter.Value
				}
			}
		}
		return 0
	}

	if got := count(m1); got != 2 {
		t.Errorf("m1: expected 2 runs, got %f", got)
	}
	if got := count(m2); got != 1 {
		t.Errorf("m2: expected 1 run, got %f", got)
	}
}
