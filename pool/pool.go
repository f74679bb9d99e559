package pool

import (
	"sync/atomic"

	"github.com/c360/dataports/pkg/queue"
)

const maxCachedNodes = 256

// Pool is the per-thread cache of one data type: reusable cheap buffers and
// queue nodes. Only the owning thread takes from a pool; any goroutine may
// give buffers back through the lock-free return stack.
type Pool[T any] struct {
	typ    *Type[T]
	thread *Thread

	free []*Buffer[T]
	all  []*Buffer[T]

	// Treiber stack of buffers whose last reference was released. Pushed by
	// any goroutine, drained as a whole by the owner.
	returned atomic.Pointer[Buffer[T]]
	closed   atomic.Bool

	nodes []*queue.Node[*Buffer[T]]

	created  atomic.Int64
	recycled atomic.Int64
}

var _ queue.NodeCache[*Buffer[int]] = (*Pool[int])(nil)

// PoolFor returns the pool of typ on th, creating it on first use
func PoolFor[T any](th *Thread, typ *Type[T]) *Pool[T] {
	th.checkOpen("PoolFor")
	if p, ok := th.pools[typ.id]; ok {
		return p.(*Pool[T])
	}
	p := &Pool[T]{typ: typ, thread: th}
	th.pools[typ.id] = p
	return p
}

// GetUnusedBuffer returns a buffer of typ owned by th. The caller holds the
// only reference and may write Value until the buffer is published.
func GetUnusedBuffer[T any](th *Thread, typ *Type[T]) *Buffer[T] {
	return PoolFor(th, typ).get()
}

func (p *Pool[T]) get() *Buffer[T] {
	p.drainReturned()

	var b *Buffer[T]
	if n := len(p.free); n > 0 {
		b = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		b = &Buffer[T]{Value: p.typ.New(), typ: p.typ, owner: p}
		p.typ.arena.alloc(b)
		p.all = append(p.all, b)
		p.created.Add(1)
		p.thread.metrics.RecordBufferCreated(p.typ.name)
	}
	b.refs.Store(1)
	return b
}

// giveBack is called by whichever goroutine released the last reference
func (p *Pool[T]) giveBack(b *Buffer[T]) {
	for {
		head := p.returned.Load()
		b.returnNext = head
		if p.returned.CompareAndSwap(head, b) {
			break
		}
	}
	// The pool may have closed between the release and the push. Close drains
	// after setting closed, so whoever swaps the stack last frees it.
	if p.closed.Load() {
		p.releaseReturned()
	}
}

// drainReturned moves returned buffers to the free list, invalidating all
// references to their previous incarnation
func (p *Pool[T]) drainReturned() {
	b := p.returned.Swap(nil)
	for b != nil {
		next := b.returnNext
		b.returnNext = nil
		p.typ.arena.recycle(b)
		p.free = append(p.free, b)
		p.recycled.Add(1)
		p.thread.metrics.RecordBufferRecycled(p.typ.name)
		b = next
	}
}

func (p *Pool[T]) releaseReturned() {
	b := p.returned.Swap(nil)
	for b != nil {
		next := b.returnNext
		b.returnNext = nil
		p.typ.arena.releaseAdopted(b)
		b = next
	}
}

// close hands still-referenced buffers to the arena and frees the rest
func (p *Pool[T]) close() {
	p.closed.Store(true)
	p.drainReturned()
	for _, b := range p.free {
		p.typ.arena.release(b)
	}
	// Every buffer not on the free list reaches the return stack exactly once
	// more, where releaseReturned frees it.
	p.typ.arena.adopt(len(p.all) - len(p.free))
	p.releaseReturned()
	p.free = nil
	p.all = nil
	p.nodes = nil
}

// GetNode implements queue.NodeCache
func (p *Pool[T]) GetNode() *queue.Node[*Buffer[T]] {
	if n := len(p.nodes); n > 0 {
		node := p.nodes[n-1]
		p.nodes = p.nodes[:n-1]
		return node
	}
	return new(queue.Node[*Buffer[T]])
}

// PutNode implements queue.NodeCache
func (p *Pool[T]) PutNode(n *queue.Node[*Buffer[T]]) {
	if len(p.nodes) < maxCachedNodes {
		p.nodes = append(p.nodes, n)
	}
}

// Stats returns a snapshot of the pool counters. Must be called by the owner.
func (p *Pool[T]) Stats() Stats {
	s := Stats{
		Type:     p.typ.name,
		Created:  int(p.created.Load()),
		Free:     len(p.free),
		Recycled: int(p.recycled.Load()),
		Nodes:    len(p.nodes),
	}
	for _, b := range p.all {
		if b.refs.Load() > 0 {
			s.InUse++
		}
	}
	return s
}

// Leaked returns the references of buffers that are still locked but not
// reachable according to reachable. Must be called by the owner while no
// goroutine is publishing with buffers of this pool.
func (p *Pool[T]) Leaked(reachable func(Ref) bool) []Ref {
	var leaked []Ref
	for _, b := range p.all {
		if b.refs.Load() <= 0 {
			continue
		}
		r := b.Ref()
		if reachable == nil || !reachable(r) {
			leaked = append(leaked, r)
		}
	}
	return leaked
}

// Stats is a point-in-time view of a pool
type Stats struct {
	Type     string `json:"type"`
	Created  int    `json:"created"`
	Free     int    `json:"free"`
	InUse    int    `json:"in_use"`
	Recycled int    `json:"recycled"`
	Nodes    int    `json:"cached_nodes"`
}
