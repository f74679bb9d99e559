package port

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360/dataports/errors"
	"github.com/c360/dataports/metric"
	"github.com/c360/dataports/pkg/handle"
	"github.com/c360/dataports/pool"
)

// DefaultMaxPropagationDepth bounds recursive pushes and pulls
const DefaultMaxPropagationDepth = 64

// AbstractPort is the type-erased view of a Port used by the Runtime
type AbstractPort interface {
	Handle() handle.Handle
	Name() string
	DataType() pool.TypeInfo
	State() State
	IsReady() bool
	Init()
	Delete()

	connectAbstract(dst AbstractPort) error
}

type portEntry struct {
	port AbstractPort
}

// Runtime owns the handle registry of all ports and the lock that serializes
// graph changes.
type Runtime struct {
	ports    *handle.Registry[portEntry]
	graphMu  sync.Mutex
	maxDepth int

	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *metric.Metrics
}

// RuntimeOption configures a Runtime
type RuntimeOption func(*runtimeConfig)

type runtimeConfig struct {
	capacity int
	maxDepth int
	logger   *slog.Logger
	registry *metric.MetricsRegistry
}

// WithLogger sets the runtime logger
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(c *runtimeConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics reports port activity to registry. Ports with queues also
// register their queue metrics there.
func WithMetrics(registry *metric.MetricsRegistry) RuntimeOption {
	return func(c *runtimeConfig) {
		c.registry = registry
	}
}

// WithRegistryCapacity limits the number of live ports
func WithRegistryCapacity(n int) RuntimeOption {
	return func(c *runtimeConfig) {
		c.capacity = n
	}
}

// WithMaxPropagationDepth bounds how many hops a push or pull may travel
func WithMaxPropagationDepth(n int) RuntimeOption {
	return func(c *runtimeConfig) {
		if n > 0 {
			c.maxDepth = n
		}
	}
}

// NewRuntime creates an empty port runtime
func NewRuntime(opts ...RuntimeOption) *Runtime {
	cfg := &runtimeConfig{
		capacity: handle.MaxCapacity,
		maxDepth: DefaultMaxPropagationDepth,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	return &Runtime{
		ports:    handle.New[portEntry](handle.WithCapacity(cfg.capacity)),
		maxDepth: cfg.maxDepth,
		logger:   cfg.logger.With("component", "port-runtime"),
		registry: cfg.registry,
		metrics:  cfg.registry.CoreMetrics(),
	}
}

// Logger returns the runtime logger
func (rt *Runtime) Logger() *slog.Logger {
	return rt.logger
}

// Metrics returns the core metrics, or nil when metrics are disabled
func (rt *Runtime) Metrics() *metric.Metrics {
	return rt.metrics
}

// NewThread creates a pool.Thread that reports to the runtime metrics
func (rt *Runtime) NewThread(name string) *pool.Thread {
	return pool.NewThread(name, pool.WithMetrics(rt.metrics), pool.WithLogger(rt.logger))
}

func (rt *Runtime) register(p AbstractPort) (handle.Handle, error) {
	h, err := rt.ports.Add(&portEntry{port: p}, true)
	if err != nil {
		return handle.Invalid, err
	}
	rt.metrics.SetPortsRegistered(rt.ports.Len())
	return h, nil
}

func (rt *Runtime) unregister(h handle.Handle) {
	rt.ports.Remove(h)
	rt.metrics.SetPortsRegistered(rt.ports.Len())
}

// Lookup resolves a port handle. Stale handles and ports being deleted yield false.
func (rt *Runtime) Lookup(h handle.Handle) (AbstractPort, bool) {
	e, ok := rt.ports.Get(h)
	if !ok {
		return nil, false
	}
	return e.port, true
}

// Ports returns all live ports
func (rt *Runtime) Ports() []AbstractPort {
	var ports []AbstractPort
	rt.ports.Range(func(_ handle.Handle, e *portEntry) bool {
		ports = append(ports, e.port)
		return true
	})
	return ports
}

// Connect adds an edge between two ports identified by handle
func (rt *Runtime) Connect(src, dst handle.Handle) error {
	s, ok := rt.Lookup(src)
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrStaleHandle, src), "Runtime", "Connect", "source lookup")
	}
	d, ok := rt.Lookup(dst)
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrStaleHandle, dst), "Runtime", "Connect", "destination lookup")
	}
	return s.connectAbstract(d)
}

// Close deletes every port
func (rt *Runtime) Close() {
	for _, p := range rt.Ports() {
		p.Delete()
	}
}
