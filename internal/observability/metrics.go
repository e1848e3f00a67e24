package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chantier-erp/chantier/internal/billing"
)

// Metrics collects the Prometheus metrics of the API process.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	invoicesGenerated prometheus.Counter
	invoiceItems      prometheus.Histogram
	invoicedAmount    prometheus.Counter
	billsCreated      prometheus.Counter
	billedNetAmount   prometheus.Counter
	statusChanges     *prometheus.CounterVec
}

// NewMetrics initialises the registry with HTTP and billing collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chantier_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chantier_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	m := &Metrics{
		registry:        registry,
		requestsTotal:   requests,
		requestDuration: duration,
		invoicesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chantier_invoices_generated_total",
			Help: "Progress invoices generated.",
		}),
		invoiceItems: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chantier_invoice_items",
			Help:    "Number of items per generated invoice.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		invoicedAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chantier_invoiced_amount_total",
			Help: "Sum of period amounts of generated invoices.",
		}),
		billsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chantier_subcontract_bills_created_total",
			Help: "Subcontractor bills recorded.",
		}),
		billedNetAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chantier_subcontract_billed_net_amount_total",
			Help: "Sum of net amounts of recorded subcontractor bills.",
		}),
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chantier_status_transitions_total",
			Help: "Lifecycle transitions by entity and target status.",
		}, []string{"entity", "status"}),
	}
	registry.MustRegister(requests, duration, m.invoicesGenerated, m.invoiceItems,
		m.invoicedAmount, m.billsCreated, m.billedNetAmount, m.statusChanges)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per chi route pattern.
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

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// InvoiceGenerated counts a generated invoice.
func (m *Metrics) InvoiceGenerated(items int, amount float64) {
	if m == nil {
		return
	}
	m.invoicesGenerated.Inc()
	m.invoiceItems.Observe(float64(items))
	if amount > 0 {
		m.invoicedAmount.Add(amount)
	}
}

// BillCreated counts a recorded subcontractor bill. Negative corrections are
// not subtracted since counters only grow.
func (m *Metrics) BillCreated(lines int, netAmount float64) {
	if m == nil {
		return
	}
	m.billsCreated.Inc()
	if netAmount > 0 {
		m.billedNetAmount.Add(netAmount)
	}
}

// StatusChanged counts a lifecycle transition.
func (m *Metrics) StatusChanged(entity string, status billing.Status) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(entity, string(status)).Inc()
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
