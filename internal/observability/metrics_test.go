package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/api/v1/transfers")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transfers", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, rr.Code)
	}

	body := scrape(t, metrics)
	if !strings.Contains(body, `odyssey_pos_http_requests_total{code="409",route="/api/v1/transfers"} 1`) {
		t.Fatalf("expected metrics to record request, got: %s", body)
	}
	if !strings.Contains(body, `odyssey_pos_http_request_duration_seconds_bucket{route="/api/v1/transfers"`) {
		t.Fatalf("expected duration histogram to be present, got: %s", body)
	}
}

func TestStockMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.TransferRecorded("create")
	metrics.TransferRecorded("create")
	metrics.TransferRecorded("void")
	metrics.AdjustmentRecorded("create", -20)
	metrics.ShortagesObserved(1)
	metrics.ShortagesObserved(0)
	metrics.TxRetried("transfer.create")

	body := scrape(t, metrics)
	for _, want := range []string{
		`odyssey_pos_transfers_total{action="create"} 2`,
		`odyssey_pos_transfers_total{action="void"} 1`,
		`odyssey_pos_adjustments_total{action="create"} 1`,
		`odyssey_pos_adjustment_gap_units_sum 20`,
		`odyssey_pos_stock_shortages_total 1`,
		`odyssey_pos_tx_retries_total{operation="transfer.create"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in scrape, got: %s", want, body)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.TransferRecorded("create")
	metrics.AdjustmentRecorded("void", 3)
	metrics.ShortagesObserved(2)
	metrics.TxRetried("adjustment.create")

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from nil metrics, got %d", rr.Code)
	}
}
