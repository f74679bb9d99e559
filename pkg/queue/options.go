package queue

import (
	"github.com/c360/dataports/metric"
)

// DropCallback is called with every item the queue discards on overflow
type DropCallback[E any] func(item E)

// Option configures queue behavior using the functional options pattern.
type Option[E any] func(*queueOptions[E])

// queueOptions holds internal configuration for queue instances.
// Stats are ALWAYS collected. Metrics are optional and exposed via WithMetrics().
type queueOptions[E any] struct {
	dropCallback DropCallback[E]

	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
}

// WithMetrics enables Prometheus metrics export for queue statistics.
// If registry is nil or prefix empty, this option is ignored.
func WithMetrics[E any](registry *metric.MetricsRegistry, prefix string) Option[E] {
	return func(opts *queueOptions[E]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithDropCallback sets a callback invoked with every dropped item.
// The callback runs on the goroutine that caused the drop.
func WithDropCallback[E any](callback DropCallback[E]) Option[E] {
	return func(opts *queueOptions[E]) {
		opts.dropCallback = callback
	}
}

func applyOptions[E any](options ...Option[E]) *queueOptions[E] {
	opts := &queueOptions[E]{}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
