package port

import (
	"github.com/c360/dataports/errors"
	"github.com/c360/dataports/pool"
)

// GetUnusedBuffer returns a buffer of the port's flavor, owned by th when the
// port is cheap-copy. The caller holds its only reference.
func (p *Port[T]) GetUnusedBuffer(th *pool.Thread) *pool.Buffer[T] {
	if p.flavor == CheapCopy {
		return pool.GetUnusedBuffer(th, p.typ)
	}
	return pool.NewBuffer(p.typ)
}

// PublishValue copies v into an unused buffer and publishes it
func (p *Port[T]) PublishValue(th *pool.Thread, v T) {
	p.checkPublisher(th, "PublishValue")
	b := p.GetUnusedBuffer(th)
	b.Value = v
	p.Publish(th, b)
}

// Publish installs buf as the current value and pushes it downstream. The
// caller's reference to buf is consumed: it must not be used afterwards
// without locking it first.
//
// buf must come from GetUnusedBuffer of this port's flavor and, for
// cheap-copy ports, be owned by th. Violations panic.
func (p *Port[T]) Publish(th *pool.Thread, buf *pool.Buffer[T]) {
	// The reference is consumed even when the publish is refused.
	if p.IsDeleted() && buf != nil && buf.Refs() > 0 {
		buf.Release()
	}
	p.checkPublisher(th, "Publish")
	if buf.Type() != p.typ {
		errors.Misuse("Port", "Publish", "buffer of type %s published to port %s of type %s",
			buf.Type().Name(), p.name, p.typ.Name())
	}
	if buf.Refs() < 1 {
		errors.Misuse("Port", "Publish", "buffer %s published without a reference", buf.Ref())
	}
	switch p.flavor {
	case CheapCopy:
		if !buf.Cheap() {
			errors.Misuse("Port", "Publish", "heap buffer published to cheap-copy port %s", p.name)
		}
		if buf.Owner() != th {
			errors.Misuse("Port", "Publish", "buffer owned by thread %d published from thread %d",
				buf.Owner().ID(), th.ID())
		}
	case Standard:
		if buf.Cheap() {
			errors.Misuse("Port", "Publish", "pooled buffer published to standard port %s", p.name)
		}
	}

	p.rt.metrics.RecordPublish(p.name)
	p.receive(th, buf, nil, 0, false)
	buf.Release()
}

// checkPublisher panics before any buffer is taken from th's pool
func (p *Port[T]) checkPublisher(th *pool.Thread, method string) {
	if th == nil || th.Closed() {
		errors.Misuse("Port", method, "publish to %s without an open thread", p.name)
	}
	if p.IsDeleted() {
		errors.Misuse("Port", method, "publish to deleted port %s", p.name)
	}
}

// receive runs the assign hook, installs the result and propagates it.
// The caller keeps its own reference to buf.
func (p *Port[T]) receive(th *pool.Thread, buf *pool.Buffer[T], origin *Port[T], depth int, reverse bool) {
	if depth > p.rt.maxDepth {
		p.rt.logger.Warn("Propagation depth exceeded", "port", p.name, "depth", depth)
		return
	}
	if p.IsDeleted() {
		return
	}

	b, owned := p.assign(th, buf)
	if b == nil {
		return
	}
	p.install(th, b)

	if !reverse {
		for _, dst := range p.Outgoing() {
			if dst != origin && dst.push.Load() {
				dst.receive(th, b, p, depth+1, false)
			}
		}
	}
	if p.reversePush {
		for _, src := range p.Incoming() {
			if src != origin && src.acceptReverse {
				src.receive(th, b, p, depth+1, true)
			}
		}
	}

	if owned {
		b.Release()
	}
}

// assign applies the assign hook. It returns the buffer to install, whether
// the caller owns a reference to it, or nil if the value is discarded.
func (p *Port[T]) assign(th *pool.Thread, buf *pool.Buffer[T]) (*pool.Buffer[T], bool) {
	if p.assignHook == nil {
		return buf, false
	}
	v, action := p.assignHook.Assign(buf.Value)
	switch action {
	case Replace:
		nb := p.GetUnusedBuffer(th)
		nb.Value = v
		return nb, true
	case Discard:
		return nil, false
	default:
		return buf, false
	}
}

// install makes b the current value, queues it and notifies listeners
func (p *Port[T]) install(th *pool.Thread, b *pool.Buffer[T]) {
	p.swapCurrent(b)

	if p.queue != nil {
		b.Lock()
		p.queue.Enqueue(pool.PoolFor(th, p.typ), b)
	}
	p.changed.Store(true)
	p.notifyListeners(b.Value)
}

// swapCurrent replaces the current value with a single atomic swap
func (p *Port[T]) swapCurrent(b *pool.Buffer[T]) {
	b.Lock()
	old := pool.Ref(p.current.Swap(uint64(b.Ref())))
	p.releaseRef(old)

	// Delete may have emptied current while we swapped.
	if p.IsDeleted() {
		p.releaseRef(pool.Ref(p.current.Swap(0)))
	}
}

func (p *Port[T]) releaseRef(r pool.Ref) {
	if r.IsNil() {
		return
	}
	if b, ok := p.typ.Resolve(r); ok {
		b.Release()
	}
}
