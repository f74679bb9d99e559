// Package pool owns the memory behind port values.
//
// Every value published through a port lives in a Buffer. Buffers are
// registered in a per-type Arena whose slots carry a generation counter; a Ref
// is the pair (slot, generation) and only resolves while the slot generation
// is unchanged. Recycling a buffer bumps its generation, so a Ref captured
// before the recycle can never be confused with one captured after.
//
// Two flavors exist:
//
//   - Cheap buffers come from a per-thread Pool. When their last reference is
//     released they are pushed onto the owning pool's lock-free return stack
//     and reused by the owner without any heap allocation.
//   - Heap buffers are allocated individually with NewBuffer and handed to the
//     GC once their last reference is released.
//
// # Threads
//
// Go has no thread-local storage, so the per-thread state is an explicit
// Thread value. Each goroutine that publishes or consumes port data creates
// its own Thread and passes it to port operations:
//
//	th := pool.NewThread("control-loop")
//	defer th.Close()
//
//	buf := pool.GetUnusedBuffer(th, pool.Float64)
//	buf.Value = 21.5
//	out.Publish(th, buf)
//
// A Thread and its pools are not safe for concurrent use. Releasing a
// reference is safe from any goroutine.
package pool
