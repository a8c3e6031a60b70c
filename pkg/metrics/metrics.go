package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "webpush"

// Metrics holds the push service collectors on a private registry.
type Metrics struct {
	registry  *prometheus.Registry
	consumed  prometheus.Counter
	delivered prometheus.Counter
	gone      prometheus.Counter
	failed    prometheus.Counter
	retried   prometheus.Counter
	bulkSize  prometheus.Histogram
}

// New registers a fresh collector set.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		consumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Envelopes taken off the push queue.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_succeeded_total",
			Help:      "Deliveries accepted by a push gateway.",
		}),
		gone: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_gone_total",
			Help:      "Deliveries answered with a gone subscription.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_failed_total",
			Help:      "Deliveries that ended in a transient failure.",
		}),
		retried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_retried_total",
			Help:      "Delivery retries scheduled after a transient failure.",
		}),
		bulkSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bulk_batch_size",
			Help:      "Recipients per bulk dispatch.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
	m.registry.MustRegister(
		m.consumed, m.delivered, m.gone, m.failed, m.retried, m.bulkSize,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) IncConsumed()  { m.consumed.Inc() }
func (m *Metrics) IncDelivered() { m.delivered.Inc() }
func (m *Metrics) IncGone()      { m.gone.Inc() }
func (m *Metrics) IncFailed()    { m.failed.Inc() }
func (m *Metrics) IncRetried()   { m.retried.Inc() }

func (m *Metrics) ObserveBulk(size int) { m.bulkSize.Observe(float64(size)) }

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
