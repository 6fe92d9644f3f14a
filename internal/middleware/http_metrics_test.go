package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// TestNormalizePath verifies dynamic segments collapse to route patterns
// while static routes and unknowns pass through.
func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", "/"},
		{"/checkout", "/checkout"},
		{"/checkout/intent", "/checkout/intent"},
		{"/payment-methods", "/payment-methods"},
		{"/payment-methods/setup-intent", "/payment-methods/setup-intent"},
		{"/payment-methods/pm_abc123", "/payment-methods/{id}"},
		{"/orders/ord-1", "/orders/{id}"},
		{"/orders/ord-1/refund", "/orders/{id}/refund"},
		{"/internal/stripe", "/internal/stripe"},
		{"/metrics", "/metrics"},
		{"/unknown/route", "/unknown/route"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			if matchLabels(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(m *dto.Metric, labels map[string]string) bool {
	got := make(map[string]string)
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range labels {
		if got[k] != v {
			return false
		}
	}
	return true
}

// TestHTTPMetrics_RecordsNormalizedRoute verifies requests are counted under
// the normalized route with the response status.
func TestHTTPMetrics_RecordsNormalizedRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("failed to register metrics: %v", err)
	}

	handler := HTTPMetrics(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders/ord-42", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	got := counterValue(t, reg, MetricHTTPRequestsTotal, map[string]string{
		"method": "GET",
		"path":   "/orders/{id}",
		"status": "404",
	})
	if got != 1 {
		t.Errorf("requests counter = %v, want 1", got)
	}
}

// TestHTTPMetrics_SkipsHealthEndpoints verifies probe endpoints do not add
// metric series.
func TestHTTPMetrics_SkipsHealthEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("failed to register metrics: %v", err)
	}

	handler := HTTPMetrics(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/health", "/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		got := counterValue(t, reg, MetricHTTPRequestsTotal, map[string]string{"path": path})
		if got != 0 {
			t.Errorf("%s recorded %v requests, want 0", path, got)
		}
	}
}
