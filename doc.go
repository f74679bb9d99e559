// Package dataports provides typed publish/subscribe data ports that are
// connected into a graph, exchange values through pooled buffers and can be
// bridged to other processes over NATS.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│          cmd/dataports              │  Config, signals,
//	│   (graph from config, demo, HUP)    │  metrics endpoint
//	└─────────────────────────────────────┘
//	           ↓ builds
//	┌─────────────────────────────────────┐
//	│             port                    │  Edges, push/pull,
//	│  (Port[T], Runtime, strategies)     │  queues, listeners
//	└─────────────────────────────────────┘
//	           ↓ stores values in
//	┌─────────────────────────────────────┐
//	│             pool                    │  Generations, refs,
//	│   (Type, Buffer, Thread, Arena)     │  per-thread pools
//	└─────────────────────────────────────┘
//	           ↕ bridged by
//	┌─────────────────────────────────────┐
//	│            network                  │  Export/import
//	│  (Adapter, Envelope, Transport)     │  NATS or loopback
//	└─────────────────────────────────────┘
//
// # Packages
//
// Core:
//   - pkg/handle: Generation-checked handle registry
//   - pkg/queue: Bounded concurrent queue that drops the oldest entry
//   - pool: Value types, buffers with generations, per-thread pools
//   - port: Typed ports, edges, push/pull strategy propagation
//
// Network:
//   - network: Port adapters, wire envelope, transports
//   - natsclient: NATS connection management with circuit breaker
//
// Infrastructure:
//   - config: Layered JSON/YAML configuration with reload
//   - errors: Classified errors (transient, invalid, fatal)
//   - health: Health status and monitor
//   - metric: Prometheus metrics and HTTP endpoint
//   - pkg/retry: Retry with backoff for transient failures
//
// # Usage Patterns
//
// Two ports in one process:
//
//	rt := port.NewRuntime(port.WithLogger(logger))
//	defer rt.Close()
//
//	src, _ := port.New(rt, "arm.speed", pool.Float64, port.AsOutput())
//	dst, _ := port.New(rt, "controller.speed", pool.Float64, port.AsInput())
//	_ = src.ConnectTo(dst)
//	src.Init()
//	dst.Init()
//
//	th := rt.NewThread("producer")
//	defer th.Close()
//	src.PublishValue(th, 0.75)
//	_ = dst.Get() // 0.75
//
// Bridging a port to another process:
//
//	exp, _ := network.NewAdapter(src, network.NewNATSTransport(client))
//	_ = exp.Start(ctx)
//	defer exp.Stop(ctx)
//
// # Binary
//
//	# Validate a configuration
//	dataports --config configs/arm.yaml --validate
//
//	# Run in-process with a test signal
//	DATAPORTS_TRANSPORT=loopback dataports --demo --log-format=text
package dataports
