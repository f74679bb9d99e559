// Package queue provides a bounded, lock-free, drop-oldest queue used as the
// optional value backlog of a port.
//
// # Overview
//
// Any number of writers may Enqueue concurrently; a single consumer calls
// DequeueSingle or DequeueAll. Enqueue never blocks. When more than Capacity
// items are outstanding the oldest ones are dropped, so a consumer that polls
// with DequeueSingle may skip values. DequeueAll drains everything that is
// currently visible into a caller-owned Fragment and is the way to observe the
// most recent Capacity values without gaps.
//
// Nodes are not allocated per operation. Callers pass a NodeCache, normally the
// per-thread pool of the calling goroutine, from which nodes are taken on
// Enqueue and to which consumed or dropped nodes are returned.
//
//	q, err := queue.New[*Event](3, queue.WithDropCallback[*Event](func(e *Event) { e.Release() }))
//	q.Enqueue(cache, ev)
//
//	var frag queue.Fragment[*Event]
//	q.DequeueAll(cache, &frag)
//	for _, ev := range frag.Items() { ... }
//
// # Observability
//
// Statistics are always collected and available via Stats(). Prometheus
// metrics are optional and enabled with WithMetrics.
package queue
