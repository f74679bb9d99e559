package pool

import (
	"sync/atomic"

	"github.com/c360/dataports/errors"
)

// Lock is a retained reference that can be given back
type Lock interface {
	Release()
}

// Buffer holds one value of a data type together with its reference count.
//
// Value must only be written while the caller holds the sole reference, i.e.
// between obtaining an unused buffer and publishing it. Once published a
// buffer is immutable until its last reference is released.
type Buffer[T any] struct {
	Value T

	typ   *Type[T]
	owner *Pool[T] // nil for heap buffers
	slot  uint32

	// Any goroutine may add or drop references. Only the release that
	// reaches zero hands the buffer to the owner, through its return stack.
	refs atomic.Int32

	// link in the owner's return stack
	returnNext *Buffer[T]
}

// NewBuffer allocates a heap buffer holding a fresh value of typ. The caller
// holds the only reference.
func NewBuffer[T any](typ *Type[T]) *Buffer[T] {
	b := &Buffer[T]{Value: typ.New(), typ: typ}
	typ.arena.alloc(b)
	b.refs.Store(1)
	return b
}

// Type returns the data type of the buffer
func (b *Buffer[T]) Type() *Type[T] {
	return b.typ
}

// Ref returns a reference to the current incarnation of the buffer
func (b *Buffer[T]) Ref() Ref {
	return makeRef(b.slot, b.typ.arena.generation(b.slot))
}

// Generation returns the current reuse generation of the buffer
func (b *Buffer[T]) Generation() uint32 {
	return b.typ.arena.generation(b.slot)
}

// Refs returns the current reference count
func (b *Buffer[T]) Refs() int {
	return int(b.refs.Load())
}

// Cheap reports whether the buffer belongs to a thread-local pool
func (b *Buffer[T]) Cheap() bool {
	return b.owner != nil
}

// Owner returns the thread whose pool owns the buffer, or nil for heap buffers
func (b *Buffer[T]) Owner() *Thread {
	if b.owner == nil {
		return nil
	}
	return b.owner.thread
}

// Lock adds a reference. The caller must already hold one.
func (b *Buffer[T]) Lock() {
	if b.refs.Add(1) <= 1 {
		errors.Misuse("Buffer", "Lock", "lock on unreferenced buffer %s", b.Ref())
	}
}

// TryLock adds a reference only if the buffer is still the incarnation r
// refers to. Used by readers that found r without holding a reference.
func (b *Buffer[T]) TryLock(r Ref) bool {
	for {
		n := b.refs.Load()
		if n <= 0 {
			return false
		}
		if b.refs.CompareAndSwap(n, n+1) {
			break
		}
	}
	if b.typ.arena.generation(b.slot) != r.Generation() {
		b.Release()
		return false
	}
	return true
}

// Release drops a reference. When the count reaches zero a cheap buffer goes
// back to its pool and a heap buffer is freed.
func (b *Buffer[T]) Release() {
	n := b.refs.Add(-1)
	switch {
	case n > 0:
		return
	case n < 0:
		errors.Misuse("Buffer", "Release", "reference count below zero on %s", b.Ref())
	}

	if b.owner == nil {
		b.typ.arena.release(b)
		return
	}
	b.owner.giveBack(b)
}
