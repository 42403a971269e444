package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func TestObserveOperation(t *testing.T) {
	m := New()
	m.ObserveOperation("authenticate_from_cache", "ok", time.Now())
	m.ObserveOperation("authenticate_from_cache", "ok", time.Now())
	m.ObserveOperation("authenticate_from_cache", "expired", time.Now())

	out := scrape(t, m)
	for _, want := range []string{
		`identity_session_operations_total{operation="authenticate_from_cache",result="ok"} 2`,
		`identity_session_operations_total{operation="authenticate_from_cache",result="expired"} 1`,
		`identity_session_operation_duration_seconds_count{operation="authenticate_from_cache"} 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveOperation("x", "ok", time.Now())
	m.DecodeFallback()
	m.DecodeFailure()
	m.PublishFailed("kafka")
	m.ObserveHTTP("GET", "/x", 200, time.Now())
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.DecodeFallback()
	m.PublishFailed("clickhouse")
	m.ObserveHTTP("GET", "/api/v1/session/check/{email}", 200, time.Now())

	out := scrape(t, m)
	for _, want := range []string{
		"identity_session_decode_fallbacks_total 1",
		`identity_events_publish_failures_total{sink="clickhouse"} 1`,
		`identity_http_requests_total{method="GET",route="/api/v1/session/check/{email}",status="200"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
