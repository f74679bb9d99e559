package pool

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/c360/dataports/errors"
)

// TypeInfo is the type-erased view of a registered data type
type TypeInfo interface {
	ID() uint16
	Name() string
	Cheap() bool
}

// Type describes a port data type: its identity, how to create, compare and
// serialize values, and the arena its buffers live in.
type Type[T any] struct {
	id      uint16
	name    string
	cheap   bool
	factory func() T
	equal   func(a, b T) bool
	codec   Codec[T]
	arena   *Arena[T]
}

// TypeOption configures a Type
type TypeOption[T any] func(*Type[T])

// WithFactory sets the constructor of fresh values. Defaults to the zero value.
func WithFactory[T any](f func() T) TypeOption[T] {
	return func(t *Type[T]) {
		if f != nil {
			t.factory = f
		}
	}
}

// WithEqual sets content equality. Defaults to reflect.DeepEqual.
func WithEqual[T any](eq func(a, b T) bool) TypeOption[T] {
	return func(t *Type[T]) {
		if eq != nil {
			t.equal = eq
		}
	}
}

// WithCodec sets the network codec. Defaults to JSONCodec.
func WithCodec[T any](c Codec[T]) TypeOption[T] {
	return func(t *Type[T]) {
		if c != nil {
			t.codec = c
		}
	}
}

// HeapAllocated marks the type as large or variable-size. Ports of such types
// default to the standard flavor with individually allocated buffers.
func HeapAllocated[T any]() TypeOption[T] {
	return func(t *Type[T]) {
		t.cheap = false
	}
}

var catalog = struct {
	mu     sync.RWMutex
	byName map[string]TypeInfo
	byID   []TypeInfo
}{
	byName: make(map[string]TypeInfo),
	byID:   []TypeInfo{nil}, // ID 0 is reserved
}

// NewType registers a data type under a unique name. Registering the same
// name twice is a programming error and panics.
func NewType[T any](name string, opts ...TypeOption[T]) *Type[T] {
	t := &Type[T]{
		name:    name,
		cheap:   true,
		factory: func() T {
			var zero T
			return zero
		},
		equal:   func(a, b T) bool { return reflect.DeepEqual(a, b) },
		codec:   JSONCodec[T]{},
		arena:   newArena[T](),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}

	catalog.mu.Lock()
	defer catalog.mu.Unlock()

	if _, exists := catalog.byName[name]; exists {
		errors.Misuse("pool", "NewType", "type %q registered twice", name)
	}
	if len(catalog.byID) > 0xFFFF {
		errors.Misuse("pool", "NewType", "type catalog full")
	}
	t.id = uint16(len(catalog.byID))
	catalog.byID = append(catalog.byID, t)
	catalog.byName[name] = t
	return t
}

// TypeByName looks up a registered type
func TypeByName(name string) (TypeInfo, bool) {
	catalog.mu.RLock()
	defer catalog.mu.RUnlock()
	t, ok := catalog.byName[name]
	return t, ok
}

// TypeByID looks up a registered type by its numeric identifier
func TypeByID(id uint16) (TypeInfo, bool) {
	catalog.mu.RLock()
	defer catalog.mu.RUnlock()
	if id == 0 || int(id) >= len(catalog.byID) {
		return nil, false
	}
	return catalog.byID[id], true
}

// ID returns the stable numeric identifier of the type
func (t *Type[T]) ID() uint16 { return t.id }

// Name returns the registered name
func (t *Type[T]) Name() string { return t.name }

// Cheap reports whether ports of this type default to pooled buffers
func (t *Type[T]) Cheap() bool { return t.cheap }

// New returns a fresh value from the type factory
func (t *Type[T]) New() T { return t.factory() }

// Equal reports whether a and b have equal content
func (t *Type[T]) Equal(a, b T) bool { return t.equal(a, b) }

// Codec returns the network codec of the type
func (t *Type[T]) Codec() Codec[T] { return t.codec }

// Arena returns the slot arena holding all buffers of the type
func (t *Type[T]) Arena() *Arena[T] { return t.arena }

// Resolve returns the buffer behind r if r is still current
func (t *Type[T]) Resolve(r Ref) (*Buffer[T], bool) { return t.arena.Resolve(r) }

func (t *Type[T]) String() string {
	return fmt.Sprintf("%s#%d", t.name, t.id)
}

// Built-in types
var (
	Bool    = NewType[bool]("bool")
	Int     = NewType[int]("int")
	Int64   = NewType[int64]("int64")
	Float64 = NewType[float64]("float64")
	String  = NewType[string]("string")
	Bytes   = NewType[[]byte]("bytes", HeapAllocated[[]byte]())
)
