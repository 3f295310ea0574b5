// Package metrics provides Prometheus instrumentation for tern.
//
// Collectors live in a custom registry so /metrics exposes only tern series.
// Every method is safe to call on a nil *Metrics, which disables recording.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/tern/internal/domain"
)

// Metrics holds all Prometheus collectors used by tern.
type Metrics struct {
	Registry *prometheus.Registry

	CouponsEvaluated    prometheus.Counter
	OutputRecords       prometheus.Counter
	ContractVerdicts    *prometheus.CounterVec
	TierAbsent          *prometheus.CounterVec
	CatalogLoadErrors   *prometheus.CounterVec
	CatalogContracts    prometheus.Gauge
	BatchDuration       prometheus.Histogram
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers all tern metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		CouponsEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tern_coupons_evaluated_total",
			Help: "Total number of coupons evaluated against the contract catalog.",
		}),

		OutputRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tern_output_records_total",
			Help: "Total number of output records emitted.",
		}),

		ContractVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tern_contract_verdicts_total",
			Help: "Contract verdicts by outcome.",
		}, []string{"verdict"}),

		TierAbsent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tern_tier_absent_total",
			Help: "Tier payouts that could not be computed, by reason.",
		}, []string{"reason"}),

		CatalogLoadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tern_catalog_load_errors_total",
			Help: "Contract load errors by kind.",
		}, []string{"kind"}),

		CatalogContracts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tern_catalog_contracts",
			Help: "Number of contracts in the active catalog.",
		}),

		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tern_batch_duration_seconds",
			Help:    "Batch evaluation latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 9),
		}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tern_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tern_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.CouponsEvaluated,
		m.OutputRecords,
		m.ContractVerdicts,
		m.TierAbsent,
		m.CatalogLoadErrors,
		m.CatalogContracts,
		m.BatchDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// Handler returns an http.Handler that serves the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveCoupon records one coupon's contract results and output records.
func (m *Metrics) ObserveCoupon(results []domain.EvaluationResult, records int) {
	if m == nil {
		return
	}
	m.CouponsEvaluated.Inc()
	m.OutputRecords.Add(float64(records))

	for _, r := range results {
		m.ContractVerdicts.WithLabelValues(verdictLabel(r)).Inc()
		for _, p := range r.Payouts {
			if p.Amount == nil {
				m.TierAbsent.WithLabelValues(p.AbsentReason).Inc()
			}
		}
	}
}

func verdictLabel(r domain.EvaluationResult) string {
	switch {
	case r.AddonID != "" && r.Eligible:
		return "addon_granted"
	case r.AddonID != "":
		return "addon_rejected"
	case r.Eligible:
		return "eligible"
	default:
		return "rejected"
	}
}

// ObserveCatalog records the size of a freshly loaded catalog and the kinds
// of its load errors.
func (m *Metrics) ObserveCatalog(contracts int, errorKinds []string) {
	if m == nil {
		return
	}
	m.CatalogContracts.Set(float64(contracts))
	for _, k := range errorKinds {
		m.CatalogLoadErrors.WithLabelValues(k).Inc()
	}
}

// ObserveBatch records a batch duration.
func (m *Metrics) ObserveBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(d.Seconds())
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, route, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route, code).Observe(d.Seconds())
}
