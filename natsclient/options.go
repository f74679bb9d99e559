package natsclient

import (
	"log/slog"
	"time"

	"github.com/c360/dataports/config"
	"github.com/c360/dataports/metric"
)

// ClientOption is a functional option for configuring the Client
type ClientOption func(*Client) error

// FromConfig applies the nats section of a dataports configuration. Zero
// durations keep the client defaults; MaxReconnects is taken as is, -1
// meaning unlimited.
func FromConfig(cfg config.NATSConfig) ClientOption {
	return func(c *Client) error {
		c.clientName = cfg.Name
		c.maxReconnects = cfg.MaxReconnects
		setDuration(&c.reconnectWait, cfg.ReconnectWait)
		setDuration(&c.timeout, cfg.Timeout)
		setDuration(&c.pingInterval, cfg.PingInterval)
		setDuration(&c.drainTimeout, cfg.DrainTimeout)
		c.compression = cfg.Compression

		c.username = cfg.Username
		c.password = cfg.Password
		c.token = cfg.Token

		c.tlsEnabled = cfg.TLS.Enabled
		if cfg.TLS.Enabled {
			c.tlsCertFile = cfg.TLS.CertFile
			c.tlsKeyFile = cfg.TLS.KeyFile
			c.tlsCAFile = cfg.TLS.CAFile
		}
		return nil
	}
}

func setDuration(dst *time.Duration, d time.Duration) {
	if d > 0 {
		*dst = d
	}
}

// WithMaxReconnects sets the maximum number of reconnection attempts (-1 for infinite)
func WithMaxReconnects(max int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = max
		return nil
	}
}

// WithTimeout sets the connection timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.timeout = d
		return nil
	}
}

// WithHealthInterval sets how often the connection is checked with a flush.
// Zero disables the monitor.
func WithHealthInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.healthInterval = d
		return nil
	}
}

// WithLogger sets the logger for the client
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithDisconnectCallback is called after the connection drops, in addition to
// the client's own bookkeeping
func WithDisconnectCallback(fn func(error)) ClientOption {
	return func(c *Client) error {
		c.onDisconnect = fn
		return nil
	}
}

// WithReconnectCallback is called after the connection is reestablished
func WithReconnectCallback(fn func()) ClientOption {
	return func(c *Client) error {
		c.onReconnect = fn
		return nil
	}
}

// WithCircuitBreakerThreshold sets how many consecutive connect failures open
// the circuit. Values below 1 keep the default of 5.
func WithCircuitBreakerThreshold(threshold int32) ClientOption {
	return func(c *Client) error {
		if threshold >= 1 {
			c.circuitThreshold = threshold
		}
		return nil
	}
}

// WithMaxBackoff caps the circuit breaker backoff. Values below a second keep
// the default of one minute.
func WithMaxBackoff(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d >= time.Second {
			c.maxBackoff = d
		}
		return nil
	}
}

// WithMetrics reports connection status and reconnects to the core metrics
// of registry
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *Client) error {
		c.metrics = registry.CoreMetrics()
		return nil
	}
}
