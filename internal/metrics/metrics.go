package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notifyhub/newsletter-delivery/internal/domain"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	DeliveriesSucceeded prometheus.Counter
	DeliveriesFailed    *prometheus.CounterVec
	RetriesScheduled    prometheus.Counter
	DeliveriesDeferred  prometheus.Counter
	AttemptLatency      prometheus.Histogram
	PublishRequests     *prometheus.CounterVec
	DeliveryTasks       *prometheus.GaugeVec
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DeliveriesSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deliveries_succeeded_total",
			Help: "Total number of delivery tasks accepted by the email gateway.",
		}),

		DeliveriesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deliveries_failed_total",
			Help: "Total number of delivery tasks moved to failed, by reason (permanent, retries_exhausted, missing_data).",
		}, []string{"reason"}),

		RetriesScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "delivery_retries_scheduled_total",
			Help: "Total number of transient failures rescheduled with backoff.",
		}),

		DeliveriesDeferred: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deliveries_deferred_total",
			Help: "Total number of deliveries postponed because the email gateway circuit was open.",
		}),

		AttemptLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "delivery_attempt_seconds",
			Help:    "Latency of a single delivery attempt, from claim to gateway answer.",
			Buckets: prometheus.DefBuckets,
		}),

		PublishRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "publish_requests_total",
			Help: "Publish requests by outcome (created, replayed, conflict, invalid, error).",
		}, []string{"outcome"}),

		DeliveryTasks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "delivery_tasks",
			Help: "Current number of delivery tasks per status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.DeliveriesSucceeded,
		m.DeliveriesFailed,
		m.RetriesScheduled,
		m.DeliveriesDeferred,
		m.AttemptLatency,
		m.PublishRequests,
		m.DeliveryTasks,
	)

	return m
}

// WorkerHooks returns the metric callback functions expected by worker.MetricHooks.
// Centralises the prometheus observation calls so worker.go stays import-free.
func (m *Metrics) WorkerHooks() (
	onSucceeded func(time.Duration),
	onFailed func(reason string),
	onRetry func(),
	onDeferred func(),
) {
	onSucceeded = func(latency time.Duration) {
		m.DeliveriesSucceeded.Inc()
		m.AttemptLatency.Observe(latency.Seconds())
	}
	onFailed = func(reason string) {
		m.DeliveriesFailed.WithLabelValues(reason).Inc()
	}
	onRetry = func() {
		m.RetriesScheduled.Inc()
	}
	onDeferred = func() {
		m.DeliveriesDeferred.Inc()
	}
	return
}

// PublishHook returns the callback the publish service reports outcomes to.
func (m *Metrics) PublishHook() func(outcome string) {
	return func(outcome string) {
		m.PublishRequests.WithLabelValues(outcome).Inc()
	}
}

// SetTaskCounts publishes a CountByStatus snapshot to the delivery_tasks gauge.
func (m *Metrics) SetTaskCounts(c domain.DeliveryCounts) {
	m.DeliveryTasks.WithLabelValues(string(domain.TaskPending)).Set(float64(c.Pending))
	m.DeliveryTasks.WithLabelValues(string(domain.TaskSucceeded)).Set(float64(c.Succeeded))
	m.DeliveryTasks.WithLabelValues(string(domain.TaskFailed)).Set(float64(c.Failed))
}
