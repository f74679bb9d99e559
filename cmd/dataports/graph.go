package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/c360/dataports/config"
	"github.com/c360/dataports/health"
	"github.com/c360/dataports/network"
	"github.com/c360/dataports/pool"
	"github.com/c360/dataports/port"
)

// binding is the type-erased view of a network adapter
type binding interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	Health() health.Status
}

// signal writes the demo value for tick t into a source port
type signal func(th *pool.Thread, t float64)

// portGraph is the port graph declared by the configuration
type portGraph struct {
	rt       *port.Runtime
	ports    map[string]port.AbstractPort
	bindings []binding
	signals  map[string]signal
	logger   *slog.Logger
}

// buildGraph creates every configured port, connects them and wraps the
// exported and imported ones in adapters on tr. Adapters are not started.
func buildGraph(rt *port.Runtime, cfg *config.Config, tr network.Transport, logger *slog.Logger) (*portGraph, error) {
	g := &portGraph{
		rt:      rt,
		ports:   make(map[string]port.AbstractPort, len(cfg.Ports)),
		signals: make(map[string]signal),
		logger:  logger.With("component", "port-graph"),
	}

	fed := make(map[string]bool)
	for _, pc := range cfg.Ports {
		for _, dst := range pc.ConnectTo {
			fed[dst] = true
		}
	}

	for _, pc := range cfg.Ports {
		var err error
		switch pc.Type {
		case "bool":
			err = addPort(g, pc, pool.Bool, cfg.Network, tr, func(t float64) bool { return math.Sin(t) >= 0 })
		case "int":
			err = addPort(g, pc, pool.Int, cfg.Network, tr, func(t float64) int { return int(t) })
		case "int64":
			err = addPort(g, pc, pool.Int64, cfg.Network, tr, func(t float64) int64 { return int64(t) })
		case "float64":
			err = addPort(g, pc, pool.Float64, cfg.Network, tr, math.Sin)
		case "string":
			err = addPort(g, pc, pool.String, cfg.Network, tr, func(t float64) string { return fmt.Sprintf("tick-%d", int(t)) })
		case "bytes":
			err = addPort(g, pc, pool.Bytes, cfg.Network, tr, func(t float64) []byte { return []byte(fmt.Sprintf("%d", int(t))) })
		default:
			err = fmt.Errorf("port %s: unknown type %q", pc.Name, pc.Type)
		}
		if err != nil {
			g.close()
			return nil, err
		}
		if fed[pc.Name] || pc.Mode == "import" {
			delete(g.signals, pc.Name)
		}
	}

	for _, pc := range cfg.Ports {
		for _, dst := range pc.ConnectTo {
			if err := rt.Connect(g.ports[pc.Name].Handle(), g.ports[dst].Handle()); err != nil {
				g.close()
				return nil, fmt.Errorf("connect %s -> %s: %w", pc.Name, dst, err)
			}
		}
	}

	for _, p := range g.ports {
		p.Init()
	}

	g.logger.Info("Port graph built",
		"ports", len(g.ports), "adapters", len(g.bindings), "sources", len(g.signals))
	return g, nil
}

func addPort[T any](g *portGraph, pc config.PortConfig, typ *pool.Type[T], netCfg config.NetworkConfig,
	tr network.Transport, demo func(t float64) T,
) error {
	var opts []port.Option
	switch pc.Mode {
	case "export":
		opts = append(opts, port.AsInput())
	case "import":
		opts = append(opts, port.AsOutput())
	default:
		if len(pc.ConnectTo) == 0 {
			opts = append(opts, port.AsInput())
		}
	}
	if pc.Queue > 0 {
		opts = append(opts, port.WithQueue(pc.Queue))
	}

	p, err := port.New(g.rt, pc.Name, typ, opts...)
	if err != nil {
		return fmt.Errorf("create port %s: %w", pc.Name, err)
	}
	g.ports[pc.Name] = p
	g.signals[pc.Name] = func(th *pool.Thread, t float64) { p.PublishValue(th, demo(t)) }

	if pc.Mode == "" {
		if len(pc.ConnectTo) == 0 {
			logger := g.logger
			p.AddListener(func(v T) {
				logger.Debug("Value received", "port", pc.Name, "value", v)
			})
		}
		return nil
	}

	mode := network.Export
	if pc.Mode == "import" {
		mode = network.Import
	}
	a, err := network.NewAdapter(p, tr,
		network.WithMode(mode),
		network.WithSubjectPrefix(netCfg.SubjectPrefix),
		network.WithSubjectName(pc.Subject),
		network.WithPullTimeout(netCfg.PullTimeout),
		network.WithInboxSize(netCfg.InboxSize),
		network.WithLogger(g.logger),
	)
	if err != nil {
		return fmt.Errorf("create adapter for %s: %w", pc.Name, err)
	}
	g.bindings = append(g.bindings, a)
	return nil
}

// start starts every adapter. On failure the adapters already started are stopped.
func (g *portGraph) start(ctx context.Context) error {
	for i, b := range g.bindings {
		if err := b.Start(ctx); err != nil {
			for _, started := range g.bindings[:i] {
				_ = started.Stop(ctx)
			}
			return fmt.Errorf("start %s: %w", b.Name(), err)
		}
		g.logger.Info("Adapter started", "adapter", b.Name())
	}
	return nil
}

// stop stops every running adapter and returns the first error
func (g *portGraph) stop(ctx context.Context) error {
	var first error
	for _, b := range g.bindings {
		if !b.IsRunning() {
			continue
		}
		if err := b.Stop(ctx); err != nil {
			g.logger.Warn("Adapter stop failed", "adapter", b.Name(), "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// register adds every adapter to m
func (g *portGraph) register(m *health.Monitor) {
	for _, b := range g.bindings {
		m.Register(b.Name(), b)
	}
}

// emit publishes the demo value for tick t into every source port
func (g *portGraph) emit(th *pool.Thread, t float64) {
	for _, s := range g.signals {
		s(th, t)
	}
}

func (g *portGraph) close() {
	for _, p := range g.ports {
		p.Delete()
	}
}
