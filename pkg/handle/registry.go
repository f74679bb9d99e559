package handle

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/c360/dataports/errors"
)

const (
	chunkBits = 8
	chunkSize = 1 << chunkBits
	numChunks = MaxCapacity / chunkSize

	stateOccupied = 1 << generationBits
	stateDeleted  = 1 << (generationBits + 1)
	statePort     = 1 << (generationBits + 2)
)

func liveState(h Handle) uint32 {
	st := h.Generation() | stateOccupied
	if h.IsPort() {
		st |= statePort
	}
	return st
}

// slot state packs the current generation with the occupied, deleted and port
// flags so a reader validates a handle with a single load.
type slot[T any] struct {
	state atomic.Uint32
	obj   atomic.Pointer[T]
}

type chunk[T any] [chunkSize]slot[T]

// Option configures a Registry
type Option func(*options)

type options struct {
	capacity int
}

// WithCapacity limits the number of live objects. Values outside
// (0, MaxCapacity] fall back to MaxCapacity.
func WithCapacity(n int) Option {
	return func(o *options) {
		if n > 0 && n <= MaxCapacity {
			o.capacity = n
		}
	}
}

// Registry maps handles to objects. Add, MarkDeleted and Remove take a short
// lock; Get is lock-free.
type Registry[T any] struct {
	chunks   [numChunks]atomic.Pointer[chunk[T]]
	capacity int

	mu   sync.Mutex
	free []uint32
	next uint32
	live atomic.Int64
}

// New creates an empty registry
func New[T any](opts ...Option) *Registry[T] {
	o := &options{capacity: MaxCapacity}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return &Registry[T]{capacity: o.capacity}
}

func (r *Registry[T]) slot(index uint32) *slot[T] {
	c := r.chunks[index>>chunkBits].Load()
	if c == nil {
		return nil
	}
	return &c[index&(chunkSize-1)]
}

// Add stores obj in a free slot and returns its handle.
// Running out of slots is fatal and reported as ErrRegistryExhausted.
func (r *Registry[T]) Add(obj *T, isPort bool) (Handle, error) {
	if obj == nil {
		errors.Misuse("Registry", "Add", "nil object")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var index uint32
	switch {
	case len(r.free) > 0:
		index = r.free[len(r.free)-1]
		r.free = r.free[:len(r.free)-1]
	case int(r.next) < r.capacity:
		index = r.next
		r.next++
		if index&(chunkSize-1) == 0 && r.chunks[index>>chunkBits].Load() == nil {
			r.chunks[index>>chunkBits].Store(new(chunk[T]))
		}
	default:
		return Invalid, errors.WrapFatal(
			fmt.Errorf("%w: %d live objects", errors.ErrRegistryExhausted, r.capacity),
			"Registry", "Add", "slot allocation")
	}

	s := r.slot(index)
	h := makeHandle(index, nextGeneration(s.state.Load()&generationMask), isPort)
	s.obj.Store(obj)
	s.state.Store(liveState(h))
	r.live.Add(1)

	return h, nil
}

// Get returns the object of h, or false if the handle is stale, unknown or
// marked deleted.
func (r *Registry[T]) Get(h Handle) (*T, bool) {
	if h.IsZero() {
		return nil, false
	}
	s := r.slot(h.Index())
	if s == nil {
		return nil, false
	}

	want := liveState(h)
	if s.state.Load() != want {
		return nil, false
	}
	obj := s.obj.Load()
	// A concurrent Remove changes the state before clearing the object.
	if s.state.Load() != want || obj == nil {
		return nil, false
	}
	return obj, true
}

// MarkDeleted flags the object of h as logically gone. The slot stays
// allocated until Remove. Returns false for stale handles.
func (r *Registry[T]) MarkDeleted(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.lockedSlot(h)
	if s == nil {
		return false
	}
	s.state.Store(s.state.Load() | stateDeleted)
	return true
}

// IsDeleted reports whether h is still allocated but marked deleted
func (r *Registry[T]) IsDeleted(h Handle) bool {
	s := r.slot(h.Index())
	if s == nil || h.IsZero() {
		return false
	}
	return s.state.Load() == liveState(h)|stateDeleted
}

// Remove frees the slot of h and bumps its generation, invalidating every
// copy of h. Returns false for stale handles.
func (r *Registry[T]) Remove(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.lockedSlot(h)
	if s == nil {
		return false
	}
	s.state.Store(nextGeneration(h.Generation()))
	s.obj.Store(nil)
	r.free = append(r.free, h.Index())
	r.live.Add(-1)
	return true
}

// lockedSlot resolves an allocated slot matching h, deleted or not. Caller holds r.mu.
func (r *Registry[T]) lockedSlot(h Handle) *slot[T] {
	if h.IsZero() || h.Index() >= r.next {
		return nil
	}
	s := r.slot(h.Index())
	st := s.state.Load()
	if st&^stateDeleted != liveState(h) {
		return nil
	}
	return s
}

// Len returns the number of allocated slots, including marked-deleted ones
func (r *Registry[T]) Len() int {
	return int(r.live.Load())
}

// Capacity returns the maximum number of live objects
func (r *Registry[T]) Capacity() int {
	return r.capacity
}

// Range calls fn for every live object that is not marked deleted, until fn
// returns false. Objects added or removed concurrently may or may not be seen.
func (r *Registry[T]) Range(fn func(Handle, *T) bool) {
	r.mu.Lock()
	high := r.next
	r.mu.Unlock()

	for i := uint32(0); i < high; i++ {
		s := r.slot(i)
		if s == nil {
			continue
		}
		st := s.state.Load()
		if st&stateOccupied == 0 || st&stateDeleted != 0 {
			continue
		}
		obj := s.obj.Load()
		if obj == nil || s.state.Load() != st {
			continue
		}
		if !fn(makeHandle(i, st&generationMask, st&statePort != 0), obj) {
			return
		}
	}
}
