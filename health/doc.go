// Package health reports the health of dataports components.
//
// A Status is healthy, degraded or unhealthy. Network adapters and the NATS
// client report degraded while a transient failure lasts (a timed-out pull,
// a reconnect) and unhealthy when they cannot work at all.
//
//	monitor := health.NewMonitor()
//	monitor.Register("adapter.speed", adapter)
//	monitor.UpdateHealthy("nats", "connected")
//
//	status := monitor.AggregateHealth("dataports")
//
// FromError turns an error into a Status with a sanitized message: URLs,
// paths, IP addresses, ports and credentials are replaced with placeholders.
package health
