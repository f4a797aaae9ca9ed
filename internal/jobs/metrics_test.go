package jobmetrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestTrackerRecordsStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	_ = m.Track("cleanup").End(nil)
	err := m.Track("cleanup").End(errors.New("boom"))
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected error passthrough, got %v", err)
	}

	body := scrape(t, reg)
	for _, want := range []string{
		`odyssey_pos_jobs_total{job="cleanup",status="success"} 1`,
		`odyssey_pos_jobs_total{job="cleanup",status="failure"} 1`,
		`odyssey_pos_jobs_failures_total{job="cleanup"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics, got: %s", want, body)
		}
	}
}

func TestCountersIgnoreEmptyInput(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.AddShortages("TRANSFER_OUT", 1, 2)
	m.AddShortages("TRANSFER_OUT", 1, 0)
	m.AddPurged(0)
	m.AddPurged(5)

	body := scrape(t, reg)
	if !strings.Contains(body, `odyssey_pos_shortage_alerts_total{branch="1",source="TRANSFER_OUT"} 2`) {
		t.Fatalf("expected shortage counter, got: %s", body)
	}
	if !strings.Contains(body, `odyssey_pos_idempotency_keys_purged_total 5`) {
		t.Fatalf("expected purge counter, got: %s", body)
	}

	var nilMetrics *Metrics
	nilMetrics.AddShortages("ADJUSTMENT", 1, 1)
	if err := nilMetrics.Track("x").End(nil); err != nil {
		t.Fatalf("nil tracker should pass through, got %v", err)
	}
}
