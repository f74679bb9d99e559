// Package metric provides Prometheus-based metrics collection and an HTTP
// server for dataports observability.
//
// A MetricsRegistry owns a private Prometheus registry preloaded with the core
// runtime metrics (Metrics type) plus Go and process collectors. Components
// that want their own collectors register them through the MetricsRegistrar
// interface, keyed by service and metric name.
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//	if err := server.Start(); err != nil {
//	    return err
//	}
//	defer server.Stop(ctx)
//
//	m := registry.CoreMetrics()
//	m.RecordPublish("sensor/temperature")
//	m.RecordNetworkMessage("sensor/temperature", "outbound")
//
// Record methods accept a nil *Metrics receiver, so runtime components hold an
// optional pointer and never branch on whether metrics are enabled.
//
// # Metric Names
//
// All core metrics live in the "dataports" namespace:
//
//	dataports_port_registered
//	dataports_port_publishes_total{port}
//	dataports_port_pulls_total{port,origin}
//	dataports_port_pull_fallbacks_total{port,reason}
//	dataports_port_pull_duration_seconds{port}
//	dataports_port_strategy_changes_total{port,state}
//	dataports_pool_buffers_created_total{type}
//	dataports_pool_buffers_recycled_total{type}
//	dataports_network_messages_total{port,direction}
//	dataports_network_suppressed_total{port}
//	dataports_network_errors_total{port,operation}
//	dataports_nats_connected
//	dataports_nats_reconnects_total
package metric
