package port

import (
	"context"

	"github.com/c360/dataports/errors"
	"github.com/c360/dataports/pkg/queue"
	"github.com/c360/dataports/pool"
)

// CurrentRef returns the reference of the current value
func (p *Port[T]) CurrentRef() pool.Ref {
	return pool.Ref(p.current.Load())
}

// Get returns a copy of the current value. The buffer is locked for the
// duration of the copy so its pool cannot recycle it underneath the reader.
func (p *Port[T]) Get() T {
	for {
		r := pool.Ref(p.current.Load())
		if r.IsNil() {
			return p.typ.New()
		}
		b, ok := p.typ.Resolve(r)
		if !ok || !b.TryLock(r) {
			continue
		}
		v := b.Value
		b.Release()
		return v
	}
}

// GetLocked returns the current buffer with a reference the caller must
// release. Returns nil for a deleted port.
func (p *Port[T]) GetLocked() *pool.Buffer[T] {
	for {
		r := pool.Ref(p.current.Load())
		if r.IsNil() {
			return nil
		}
		if b, ok := p.typ.Resolve(r); ok && b.TryLock(r) {
			return b
		}
	}
}

// GetAutoLocked is GetLocked with the reference registered on th, released
// by the next th.ReleaseAllLocks
func (p *Port[T]) GetAutoLocked(th *pool.Thread) *pool.Buffer[T] {
	b := p.GetLocked()
	if b != nil {
		th.AddAutoLock(b)
	}
	return b
}

// HasChanged reports whether a value was installed since the last ResetChanged
func (p *Port[T]) HasChanged() bool {
	return p.changed.Load()
}

// ResetChanged clears the changed flag
func (p *Port[T]) ResetChanged() {
	p.changed.Store(false)
}

// Pull returns a locked buffer holding the most recent value available
// upstream. A port without sources returns its own value. Otherwise the first
// source is pulled recursively, and an installed PullHandler answers in place
// of walking further. With intermediateAssign the pulled value is also
// installed in every port along the chain, without pushing it anywhere.
func (p *Port[T]) Pull(ctx context.Context, th *pool.Thread, intermediateAssign bool) *pool.Buffer[T] {
	return p.pull(ctx, th, intermediateAssign, 0)
}

func (p *Port[T]) pull(ctx context.Context, th *pool.Thread, intermediateAssign bool, depth int) *pool.Buffer[T] {
	if ref := p.pullHandler.Load(); ref != nil {
		p.rt.metrics.RecordPull(p.name, "handler")
		if b, ok := ref.h.PullRequest(ctx, th, p); ok && b != nil {
			if intermediateAssign {
				return p.installPulled(th, b)
			}
			return b
		}
		return p.GetLocked()
	}

	sources := p.Incoming()
	if len(sources) == 0 || depth >= p.rt.maxDepth {
		p.rt.metrics.RecordPull(p.name, "local")
		return p.GetLocked()
	}

	b := sources[0].pull(ctx, th, intermediateAssign, depth+1)
	if b != nil && intermediateAssign {
		return p.installPulled(th, b)
	}
	return b
}

// installPulled runs the assign hook on a pulled buffer and installs the
// result as the current value. The caller's reference moves to the returned
// buffer: a replaced or discarded value releases b.
func (p *Port[T]) installPulled(th *pool.Thread, b *pool.Buffer[T]) *pool.Buffer[T] {
	nb, owned := p.assign(th, b)
	switch {
	case nb == nil:
		b.Release()
		return p.GetLocked()
	case owned:
		b.Release()
		p.swapCurrent(nb)
		return nb
	default:
		p.swapCurrent(b)
		return b
	}
}

func (p *Port[T]) requireQueue(method string) {
	if p.queue == nil {
		errors.Misuse("Port", method, "port %s has no queue", p.name)
	}
}

// DequeueSingle takes the oldest queued buffer. The caller owns the returned
// reference. Only one goroutine may dequeue from a port.
func (p *Port[T]) DequeueSingle(th *pool.Thread) (*pool.Buffer[T], bool) {
	p.requireQueue("DequeueSingle")
	return p.queue.DequeueSingle(pool.PoolFor(th, p.typ))
}

// DequeueAll moves every queued buffer into frag and returns how many were
// added. The caller owns the references in frag.
func (p *Port[T]) DequeueAll(th *pool.Thread, frag *queue.Fragment[*pool.Buffer[T]]) int {
	p.requireQueue("DequeueAll")
	return p.queue.DequeueAll(pool.PoolFor(th, p.typ), frag)
}

// DequeueAllValues drains the queue and returns the values oldest first
func (p *Port[T]) DequeueAllValues(th *pool.Thread) []T {
	var frag queue.Fragment[*pool.Buffer[T]]
	p.DequeueAll(th, &frag)
	values := make([]T, 0, frag.Len())
	for _, b := range frag.Items() {
		values = append(values, b.Value)
		b.Release()
	}
	return values
}
