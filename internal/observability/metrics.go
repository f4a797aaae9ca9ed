package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk HTTP dan pergerakan stok.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	transfers       *prometheus.CounterVec
	adjustments     *prometheus.CounterVec
	adjustmentGap   prometheus.Histogram
	shortages       prometheus.Counter
	txRetries       *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry beserta seluruh metrik.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_pos_http_requests_total",
		Help: "Number of HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_pos_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	transfers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_pos_transfers_total",
		Help: "Stock transfers by action (create, void).",
	}, []string{"action"})
	adjustments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_pos_adjustments_total",
		Help: "Stock-take adjustment records by action (create, void).",
	}, []string{"action"})
	gap := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "odyssey_pos_adjustment_gap_units",
		Help:    "Absolute stock-take gap in base units per adjustment record.",
		Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
	})
	shortages := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_pos_stock_shortages_total",
		Help: "Ledger keys left below zero by a committed submission.",
	})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_pos_tx_retries_total",
		Help: "Submissions retried after a concurrent modification.",
	}, []string{"operation"})
	registry.MustRegister(requests, duration, transfers, adjustments, gap, shortages, retries)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		transfers:       transfers,
		adjustments:     adjustments,
		adjustmentGap:   gap,
		shortages:       shortages,
		txRetries:       retries,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat jumlah dan durasi setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer mengekspos registry untuk metrik tambahan (mis. metrik job).
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// Gatherer mengekspos registry untuk pengujian.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.DefaultGatherer
	}
	return m.registry
}

// TransferRecorded counts a committed or voided transfer.
func (m *Metrics) TransferRecorded(action string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(action).Inc()
}

// AdjustmentRecorded counts an adjustment record and observes its gap.
func (m *Metrics) AdjustmentRecorded(action string, gap int64) {
	if m == nil {
		return
	}
	m.adjustments.WithLabelValues(action).Inc()
	if gap < 0 {
		gap = -gap
	}
	m.adjustmentGap.Observe(float64(gap))
}

// ShortagesObserved adds n negative-stock keys.
func (m *Metrics) ShortagesObserved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.shortages.Add(float64(n))
}

// TxRetried counts one retry of operation.
func (m *Metrics) TxRetried(operation string) {
	if m == nil {
		return
	}
	m.txRetries.WithLabelValues(operation).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
