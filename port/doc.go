// Package port implements the data ports of a dataflow graph and the protocol
// by which values travel between them.
//
// A Port holds exactly one current value as an atomically swapped pool.Ref.
// Publishing installs a new buffer with a single atomic swap, releases the
// buffer it replaced, and then pushes the same buffer to every connected
// destination that wants pushed data. Readers never block: Get copies the
// value and retries if the reference changed underneath it, GetLocked retains
// the buffer with a generation-checked TryLock.
//
// Two flavors share one implementation. Cheap-copy ports take buffers from the
// publishing thread's pool; standard ports take individually allocated heap
// buffers. Behavior that differs per port is plugged in rather than
// subclassed: an AssignHook (for example Bounds) may replace or discard a
// candidate value, a PullHandler (for example a network adapter) may answer
// pull requests, and LifecycleHooks receive init and delete notifications.
//
// # Graph
//
// Edges are directed. Each port keeps copy-on-write slices of its outgoing
// and incoming neighbors, replaced under the runtime graph lock, so publishes
// traverse a consistent snapshot while connections change concurrently.
// Connections that would close a forward cycle are rejected with
// errors.ErrCycle.
//
// Whether a publish reaches a destination is decided by its push strategy. A
// port pushes if it asked for pushed data itself or if any downstream port
// does; PropagateStrategy recomputes this upstream after every graph change.
// Ports without a push-wanting consumer are pull-only and are read with Pull.
//
// # Usage
//
//	rt := port.NewRuntime(port.WithLogger(logger))
//	out, _ := port.New(rt, "ctrl/out", pool.Float64, port.AsOutput())
//	in, _ := port.New(rt, "drive/in", pool.Float64, port.AsInput(), port.WithQueue(8))
//	_ = out.ConnectTo(in)
//
//	th := pool.NewThread("ctrl")
//	out.PublishValue(th, 1.5)
//	v := in.Get()
package port
