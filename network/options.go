package network

import (
	"log/slog"
	"time"

	"github.com/c360/dataports/metric"
)

// Mode selects the direction of an adapter
type Mode int

const (
	// Export sends the values of the local port to peers and answers their pulls
	Export Mode = iota
	// Import feeds values from a peer into the local port and forwards pulls to it
	Import
)

// String returns the mode name
func (m Mode) String() string {
	switch m {
	case Export:
		return "export"
	case Import:
		return "import"
	default:
		return "unknown"
	}
}

// Defaults
const (
	DefaultSubjectPrefix = "dataports"
	DefaultPullTimeout   = 1000 * time.Millisecond
	DefaultInboxSize     = 1024
)

// Option configures an Adapter
type Option func(*options)

type options struct {
	mode          Mode
	subjectPrefix string
	subject       string
	pullTimeout   time.Duration
	inboxSize     int
	logger        *slog.Logger
	metrics       *metric.Metrics
	hasMetrics    bool
}

// WithMode sets the adapter direction. The default is Export.
func WithMode(m Mode) Option {
	return func(o *options) {
		o.mode = m
	}
}

// WithSubjectPrefix sets the prefix of every subject the adapter uses
func WithSubjectPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.subjectPrefix = prefix
		}
	}
}

// WithSubjectName overrides the subject token derived from the port name, so
// ports with different local names can be paired
func WithSubjectName(name string) Option {
	return func(o *options) {
		o.subject = name
	}
}

// WithPullTimeout bounds how long a remote pull may block
func WithPullTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pullTimeout = d
		}
	}
}

// WithInboxSize sets how many inbound messages may wait for the receive loop
func WithInboxSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.inboxSize = n
		}
	}
}

// WithLogger sets the adapter logger. The default is the runtime logger of the port.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics reports network activity to registry. The default is the
// runtime metrics of the port.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *options) {
		o.metrics = registry.CoreMetrics()
		o.hasMetrics = true
	}
}
