package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the runtime-level metrics of the port framework.
// All Record methods are safe to call on a nil *Metrics, so components can
// hold an optional metrics pointer without guarding every call site.
type Metrics struct {
	// Port metrics
	PortsRegistered   prometheus.Gauge
	PortPublishes     *prometheus.CounterVec
	PortPulls         *prometheus.CounterVec
	PortPullFallbacks *prometheus.CounterVec
	PullDuration      *prometheus.HistogramVec
	StrategyChanges   *prometheus.CounterVec

	// Buffer pool metrics
	PoolBuffersCreated  *prometheus.CounterVec
	PoolBuffersRecycled *prometheus.CounterVec

	// Network metrics
	NetworkMessages   *prometheus.CounterVec
	NetworkSuppressed *prometheus.CounterVec
	NetworkErrors     *prometheus.CounterVec

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all runtime metrics
func NewMetrics() *Metrics {
	return &Metrics{
		PortsRegistered: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dataports",
				Subsystem: "port",
				Name:      "registered",
				Help:      "Number of ports currently registered with the runtime",
			},
		),

		PortPublishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dataports",
				Subsystem: "port",
				Name:      "publishes_total",
				Help:      "Total number of values published into a port",
			},
			[]string{"port"},
		),

		PortPulls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dataports",
				Subsystem: "port",
				Name:      "pulls_total",
				Help:      "Total number of pull requests served, by origin (local, handler)",
			},
			[]string{"port", "origin"},
		),

		PortPullFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dataports",
				Subsystem: "port",
				Name:      "pull_fallbacks_total",
				Help:      "Total number of pulls answered with the last local value after a failure",
			},
			[]string{"port", "reason"},
		),

		PullDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dataports",
				Subsystem: "port",
				Name:      "pull_duration_seconds",
				Help:      "Duration of remote pull calls in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"port"},
		),

		StrategyChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dataports",
				Subsystem: "port",
				Name:      "strategy_changes_total",
				Help:      "Total number of push/pull strategy transitions",
			},
			[]string{"port", "state"},
		),

		PoolBuffersCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dataports",
				Subsystem: "pool",
				Name:      "buffers_created_total",
				Help:      "Total number of buffers allocated by thread-local pools",
			},
			[]string{"type"},
		),

		PoolBuffersRecycled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dataports",
				Subsystem: "pool",
				Name:      "buffers_recycled_total",
				Help:      "Total number of buffers returned to thread-local pools",
			},
			[]string{"type"},
		),

		NetworkMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dataports",
				Subsystem: "network",
				Name:      "messages_total",
				Help:      "Total number of port values sent or received over the network",
			},
			[]string{"port", "direction"},
		),

		NetworkSuppressed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dataports",
				Subsystem: "network",
				Name:      "suppressed_total",
				Help:      "Total number of inbound values dropped because they equal the current value",
			},
			[]string{"port"},
		),

		NetworkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dataports",
				Subsystem: "network",
				Name:      "errors_total",
				Help:      "Total number of network adapter errors",
			},
			[]string{"port", "operation"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dataports",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "dataports",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.PortsRegistered,
		c.PortPublishes,
		c.PortPulls,
		c.PortPullFallbacks,
		c.PullDuration,
		c.StrategyChanges,
		c.PoolBuffersCreated,
		c.PoolBuffersRecycled,
		c.NetworkMessages,
		c.NetworkSuppressed,
		c.NetworkErrors,
		c.NATSConnected,
		c.NATSReconnects,
	}
}

// SetPortsRegistered updates the registered port gauge
func (c *Metrics) SetPortsRegistered(n int) {
	if c == nil {
		return
	}
	c.PortsRegistered.Set(float64(n))
}

// RecordPublish increments the publish counter of a port
func (c *Metrics) RecordPublish(port string) {
	if c == nil {
		return
	}
	c.PortPublishes.WithLabelValues(port).Inc()
}

// RecordPull increments the pull counter of a port
func (c *Metrics) RecordPull(port, origin string) {
	if c == nil {
		return
	}
	c.PortPulls.WithLabelValues(port, origin).Inc()
}

// RecordPullFallback increments the fallback counter of a port
func (c *Metrics) RecordPullFallback(port, reason string) {
	if c == nil {
		return
	}
	c.PortPullFallbacks.WithLabelValues(port, reason).Inc()
}

// RecordPullDuration observes the duration of a remote pull
func (c *Metrics) RecordPullDuration(port string, d time.Duration) {
	if c == nil {
		return
	}
	c.PullDuration.WithLabelValues(port).Observe(d.Seconds())
}

// RecordStrategyChange increments the strategy transition counter
func (c *Metrics) RecordStrategyChange(port, state string) {
	if c == nil {
		return
	}
	c.StrategyChanges.WithLabelValues(port, state).Inc()
}

// RecordBufferCreated increments the pool allocation counter of a type
func (c *Metrics) RecordBufferCreated(typeName string) {
	if c == nil {
		return
	}
	c.PoolBuffersCreated.WithLabelValues(typeName).Inc()
}

// RecordBufferRecycled increments the pool recycle counter of a type
func (c *Metrics) RecordBufferRecycled(typeName string) {
	if c == nil {
		return
	}
	c.PoolBuffersRecycled.WithLabelValues(typeName).Inc()
}

// RecordNetworkMessage increments the network message counter
func (c *Metrics) RecordNetworkMessage(port, direction string) {
	if c == nil {
		return
	}
	c.NetworkMessages.WithLabelValues(port, direction).Inc()
}

// RecordNetworkSuppressed increments the suppressed inbound value counter
func (c *Metrics) RecordNetworkSuppressed(port string) {
	if c == nil {
		return
	}
	c.NetworkSuppressed.WithLabelValues(port).Inc()
}

// RecordNetworkError increments the network error counter
func (c *Metrics) RecordNetworkError(port, operation string) {
	if c == nil {
		return
	}
	c.NetworkErrors.WithLabelValues(port, operation).Inc()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	if c == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	if c == nil {
		return
	}
	c.NATSReconnects.Inc()
}
