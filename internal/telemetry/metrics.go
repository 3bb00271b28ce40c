package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of http request",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status_code"},
	)
)

// Metrics records scheduling outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	operations      *prometheus.CounterVec
	enrollments     prometheus.Counter
	rejectedItems   *prometheus.CounterVec
	batchSize       prometheus.Histogram
	sessionsCreated prometheus.Counter
}

// NewMetrics registers the scheduling collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduling_operations_total",
			Help: "Scheduling operations by name and result code",
		}, []string{"operation", "code"}),
		enrollments: factory.NewCounter(prometheus.CounterOpts{
			Name: "scheduling_enrollments_admitted_total",
			Help: "Clients admitted into sessions",
		}),
		rejectedItems: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduling_batch_items_rejected_total",
			Help: "Batch items rejected by reason code",
		}, []string{"code"}),
		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scheduling_batch_size",
			Help:    "Client ids per batch assignment call",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "scheduling_sessions_created_total",
			Help: "Sessions persisted, including every occurrence of a series",
		}),
	}
}

// Operation counts one call; code is "ok" or an error code.
func (m *Metrics) Operation(name, code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "ok"
	}
	m.operations.WithLabelValues(name, code).Inc()
}

func (m *Metrics) SessionsCreated(n int) {
	if m == nil {
		return
	}
	m.sessionsCreated.Add(float64(n))
}

// Batch records the size and per-item outcome of one batch assignment.
func (m *Metrics) Batch(size, admitted int, rejectedCodes []string) {
	if m == nil {
		return
	}
	m.batchSize.Observe(float64(size))
	m.enrollments.Add(float64(admitted))
	for _, code := range rejectedCodes {
		m.rejectedItems.WithLabelValues(code).Inc()
	}
}
