package main

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dataports/config"
	"github.com/c360/dataports/health"
	"github.com/c360/dataports/network"
	"github.com/c360/dataports/port"
)

const eventually = 2 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// bridgeConfig routes src through the loopback bus into sink
func bridgeConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Network.Transport = config.TransportLoopback
	cfg.Ports = []config.PortConfig{
		{Name: "src", Type: "int", ConnectTo: []string{"out"}},
		{Name: "out", Type: "int", Mode: "export", Subject: "speed"},
		{Name: "in", Type: "int", Mode: "import", Subject: "speed", ConnectTo: []string{"sink"}},
		{Name: "sink", Type: "int"},
		{Name: "label", Type: "string"},
	}
	return cfg
}

func typed[T any](t *testing.T, g *portGraph, name string) *port.Port[T] {
	t.Helper()
	p, ok := g.ports[name].(*port.Port[T])
	require.True(t, ok, "port %s has the wrong type", name)
	return p
}

func TestBuildGraph_Bridge(t *testing.T) {
	cfg := bridgeConfig()
	require.NoError(t, cfg.Validate())

	rt := port.NewRuntime(port.WithLogger(discardLogger()))
	tr := network.NewLoopbackTransport()
	g, err := buildGraph(rt, cfg, tr, discardLogger())
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	require.Len(t, g.ports, 5)
	require.Len(t, g.bindings, 2)
	assert.Equal(t, "export:out", g.bindings[0].Name())
	assert.Equal(t, "import:in", g.bindings[1].Name())

	for _, p := range g.ports {
		assert.True(t, p.IsReady(), p.Name())
	}
	assert.True(t, typed[int](t, g, "src").IsConnectedTo(typed[int](t, g, "out")))
	assert.True(t, typed[int](t, g, "in").IsConnectedTo(typed[int](t, g, "sink")))
	assert.Equal(t, port.Input, typed[int](t, g, "sink").Direction())

	ctx := context.Background()
	require.NoError(t, g.start(ctx))
	t.Cleanup(func() { _ = g.stop(ctx) })

	th := rt.NewThread("test")
	defer th.Close()

	sink := typed[int](t, g, "sink")
	typed[int](t, g, "src").PublishValue(th, 42)
	require.Eventually(t, func() bool { return sink.Get() == 42 }, eventually, time.Millisecond)

	monitor := health.NewMonitor()
	g.register(monitor)
	assert.Equal(t, 2, monitor.Count())
	assert.True(t, monitor.AggregateHealth("test").IsHealthy())
}

func TestBuildGraph_Sources(t *testing.T) {
	rt := port.NewRuntime(port.WithLogger(discardLogger()))
	g, err := buildGraph(rt, bridgeConfig(), network.NewLoopbackTransport(), discardLogger())
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	// Ports fed by an edge and imported ports are not sources
	var sources []string
	for name := range g.signals {
		sources = append(sources, name)
	}
	sort.Strings(sources)
	assert.Equal(t, []string{"label", "src"}, sources)

	th := rt.NewThread("demo")
	defer th.Close()
	g.emit(th, 3)

	assert.Equal(t, 3, typed[int](t, g, "src").Get())
	assert.Equal(t, 3, typed[int](t, g, "out").Get(), "export ports want pushed data")
	assert.Equal(t, "tick-3", typed[string](t, g, "label").Get())
}

func TestBuildGraph_TypeMismatch(t *testing.T) {
	cfg := config.Defaults()
	cfg.Network.Transport = config.TransportLoopback
	cfg.Ports = []config.PortConfig{
		{Name: "a", Type: "int", ConnectTo: []string{"b"}},
		{Name: "b", Type: "float64"},
	}

	rt := port.NewRuntime(port.WithLogger(discardLogger()))
	_, err := buildGraph(rt, cfg, network.NewLoopbackTransport(), discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect a -> b")
	assert.Empty(t, rt.Ports(), "a failed build deletes its ports")
}

func TestPortGraph_StartRollsBack(t *testing.T) {
	cfg := config.Defaults()
	cfg.Network.Transport = config.TransportLoopback
	cfg.Ports = []config.PortConfig{
		{Name: "first", Type: "int", Mode: "export", Subject: "dup"},
		{Name: "second", Type: "int", Mode: "export", Subject: "dup"},
	}

	rt := port.NewRuntime(port.WithLogger(discardLogger()))
	g, err := buildGraph(rt, cfg, network.NewLoopbackTransport(), discardLogger())
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	err = g.start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start export:second")
	assert.True(t, g.bindings[0].Health().IsUnhealthy(), "first adapter is stopped again")
	for _, b := range g.bindings {
		assert.False(t, b.IsRunning(), b.Name())
	}
	assert.NoError(t, g.stop(context.Background()), "stop skips adapters that are not running")
}
