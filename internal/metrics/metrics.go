package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relief_ledger"

// Metrics holds the ledger, audit and HTTP collectors. Each instance owns a
// private registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	EventsCreated        prometheus.Counter
	DuplicateSubmissions prometheus.Counter
	EventsVerified       prometheus.Counter
	FundsApproved        prometheus.Counter
	Distributions        prometheus.Counter
	DistributedAmount    prometheus.Counter
	Donations            prometheus.Counter
	DonatedAmount        prometheus.Counter
	ConflictRetries      prometheus.Counter
	Rejections           *prometheus.CounterVec // labels: operation, reason
	SeverityScore        prometheus.Histogram

	AuditDropped        prometheus.Counter
	AuditDeliveryErrors *prometheus.CounterVec // labels: sink

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EventsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_created_total",
			Help:      "Disaster events accepted by the registry.",
		}),
		DuplicateSubmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_submissions_total",
			Help:      "Event submissions rejected for a known fingerprint.",
		}),
		EventsVerified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_verified_total",
			Help:      "Disaster events verified by an authorized principal.",
		}),
		FundsApproved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "funds_approved_total",
			Help:      "Fund pools created and approved.",
		}),
		Distributions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distributions_total",
			Help:      "Successful fund distributions.",
		}),
		DistributedAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distributed_amount_total",
			Help:      "Sum of distributed amounts in minor currency units.",
		}),
		Donations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "donations_total",
			Help:      "Donations recorded against verified events.",
		}),
		DonatedAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "donated_amount_total",
			Help:      "Sum of donated amounts in minor currency units.",
		}),
		ConflictRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_retries_total",
			Help:      "Distribution attempts retried after losing a compare-and-swap.",
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Rejected ledger operations by operation and reason.",
		}, []string{"operation", "reason"}),
		SeverityScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "severity_score",
			Help:      "Distribution of computed severity scores.",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
		AuditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "dropped_total",
			Help:      "Notifications dropped because the audit queue was full.",
		}),
		AuditDeliveryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "delivery_errors_total",
			Help:      "Notification delivery failures by sink.",
		}, []string{"sink"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for inbound HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of inbound HTTP requests.",
		}, []string{"method", "path", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.EventsCreated,
		m.DuplicateSubmissions,
		m.EventsVerified,
		m.FundsApproved,
		m.Distributions,
		m.DistributedAmount,
		m.Donations,
		m.DonatedAmount,
		m.ConflictRetries,
		m.Rejections,
		m.SeverityScore,
		m.AuditDropped,
		m.AuditDeliveryErrors,
		m.requestDuration,
		m.requestTotal,
	)

	return m
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveRequest(method, path string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	m.requestTotal.WithLabelValues(method, path, code).Inc()
	m.requestDuration.WithLabelValues(method, path, code).Observe(elapsed.Seconds())
}
