package queue

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/dataports/metric"
)

// queueMetrics holds Prometheus metrics for queue operations.
type queueMetrics struct {
	enqueues prometheus.Counter
	dequeues prometheus.Counter
	drops    prometheus.Counter
	size     prometheus.Gauge
}

// newQueueMetrics creates and registers queue metrics with the provided registry.
func newQueueMetrics(registry *metric.MetricsRegistry, prefix string) (*queueMetrics, error) {
	labels := prometheus.Labels{"port": prefix}
	m := &queueMetrics{
		enqueues: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "dataports",
			Subsystem:   "queue",
			Name:        "enqueues_total",
			ConstLabels: labels,
			Help:        "Total number of values appended to a port queue",
		}),
		dequeues: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "dataports",
			Subsystem:   "queue",
			Name:        "dequeues_total",
			ConstLabels: labels,
			Help:        "Total number of values taken from a port queue",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "dataports",
			Subsystem:   "queue",
			Name:        "drops_total",
			ConstLabels: labels,
			Help:        "Total number of values dropped because the queue was full",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "dataports",
			Subsystem:   "queue",
			Name:        "size",
			ConstLabels: labels,
			Help:        "Approximate number of values waiting in the queue",
		}),
	}

	if err := registry.RegisterCounter(prefix, "queue_enqueues", m.enqueues); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "queue_dequeues", m.dequeues); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "queue_drops", m.drops); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "queue_size", m.size); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *queueMetrics) recordEnqueue(size int64) {
	if m == nil {
		return
	}
	m.enqueues.Inc()
	m.size.Set(float64(size))
}

func (m *queueMetrics) recordDequeue(size int64) {
	if m == nil {
		return
	}
	m.dequeues.Inc()
	m.size.Set(float64(size))
}

func (m *queueMetrics) recordDrop() {
	if m == nil {
		return
	}
	m.drops.Inc()
}
