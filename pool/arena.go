package pool

import (
	"sync"
	"sync/atomic"

	"github.com/c360/dataports/errors"
)

const (
	arenaChunkBits = 10
	arenaChunkSize = 1 << arenaChunkBits
	arenaMaxChunks = 1 << 12
)

type arenaSlot[T any] struct {
	generation atomic.Uint32
	buf        atomic.Pointer[Buffer[T]]
}

type arenaChunk[T any] [arenaChunkSize]arenaSlot[T]

// Arena is the slot table of one data type. Every live buffer occupies one
// slot; the slot generation changes whenever the buffer is recycled or freed.
// Resolve is lock-free; slot allocation takes a short lock.
type Arena[T any] struct {
	chunks [arenaMaxChunks]atomic.Pointer[arenaChunk[T]]

	mu   sync.Mutex
	free []uint32
	next uint32

	live      atomic.Int64
	successor atomic.Int64
}

func newArena[T any]() *Arena[T] {
	// Slot 0 is never handed out so the zero Ref stays null.
	return &Arena[T]{next: 1}
}

func (a *Arena[T]) slot(index uint32) *arenaSlot[T] {
	c := a.chunks[index>>arenaChunkBits].Load()
	if c == nil {
		return nil
	}
	return &c[index&(arenaChunkSize-1)]
}

func (a *Arena[T]) alloc(b *Buffer[T]) {
	a.mu.Lock()
	var index uint32
	if n := len(a.free); n > 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		index = a.next
		if int(index>>arenaChunkBits) >= arenaMaxChunks {
			a.mu.Unlock()
			panic(errors.WrapFatal(errors.ErrResourceExhausted, "Arena", "alloc", "buffer slot allocation"))
		}
		a.next++
		if a.chunks[index>>arenaChunkBits].Load() == nil {
			a.chunks[index>>arenaChunkBits].Store(new(arenaChunk[T]))
		}
	}
	a.mu.Unlock()

	s := a.slot(index)
	b.slot = index
	s.buf.Store(b)
	bumpGeneration(s)
	a.live.Add(1)
}

// release frees the slot of b. Every outstanding Ref to it stops resolving.
func (a *Arena[T]) release(b *Buffer[T]) {
	s := a.slot(b.slot)
	bumpGeneration(s)
	s.buf.Store(nil)

	a.mu.Lock()
	a.free = append(a.free, b.slot)
	a.mu.Unlock()
	a.live.Add(-1)
}

// adopt takes over a buffer whose pool has been closed while the buffer was
// still referenced. The slot is freed when the last reference is released.
func (a *Arena[T]) adopt(n int) {
	a.successor.Add(int64(n))
}

func (a *Arena[T]) releaseAdopted(b *Buffer[T]) {
	a.successor.Add(-1)
	a.release(b)
}

func bumpGeneration[T any](s *arenaSlot[T]) uint32 {
	for {
		g := s.generation.Load()
		next := g + 1
		if next == 0 {
			next = 1
		}
		if s.generation.CompareAndSwap(g, next) {
			return next
		}
	}
}

// recycle invalidates all references to b while keeping its slot
func (a *Arena[T]) recycle(b *Buffer[T]) {
	bumpGeneration(a.slot(b.slot))
}

func (a *Arena[T]) generation(index uint32) uint32 {
	s := a.slot(index)
	if s == nil {
		return 0
	}
	return s.generation.Load()
}

// Resolve returns the buffer referenced by r, or false if r is null or its
// generation no longer matches the slot.
func (a *Arena[T]) Resolve(r Ref) (*Buffer[T], bool) {
	if r.IsNil() {
		return nil, false
	}
	s := a.slot(r.Slot())
	if s == nil || s.generation.Load() != r.Generation() {
		return nil, false
	}
	b := s.buf.Load()
	if b == nil || s.generation.Load() != r.Generation() {
		return nil, false
	}
	return b, true
}

// Live returns the number of occupied slots
func (a *Arena[T]) Live() int {
	return int(a.live.Load())
}

// Adopted returns the number of buffers currently owned by the arena because
// their thread closed while they were still referenced
func (a *Arena[T]) Adopted() int {
	return int(a.successor.Load())
}
