package port

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/c360/dataports/errors"
	"github.com/c360/dataports/pkg/handle"
	"github.com/c360/dataports/pkg/queue"
	"github.com/c360/dataports/pool"
)

const (
	lifecycleCreated int32 = iota
	lifecycleReady
	lifecycleDeleted
)

type pullHandlerRef[T any] struct {
	h PullHandler[T]
}

// Port is a typed data port. All methods are safe for concurrent use unless
// stated otherwise; methods taking a *pool.Thread must be called from the
// goroutine owning that thread.
type Port[T any] struct {
	rt     *Runtime
	h      handle.Handle
	name   string
	typ    *pool.Type[T]
	flavor Flavor
	dir    Direction

	wantPush      atomic.Bool
	push          atomic.Bool
	reversePush   bool
	acceptReverse bool
	volatile      bool

	current    atomic.Uint64
	defaultBuf *pool.Buffer[T]
	changed    atomic.Bool
	lifecycle  atomic.Int32

	queue       *queue.Queue[*pool.Buffer[T]]
	assignHook  AssignHook[T]
	pullHandler atomic.Pointer[pullHandlerRef[T]]
	hooks       LifecycleHooks

	// copy-on-write, replaced under rt.graphMu
	outgoing atomic.Pointer[[]*Port[T]]
	incoming atomic.Pointer[[]*Port[T]]

	listenerMu sync.Mutex
	listeners  atomic.Pointer[[]*listenerEntry[T]]
}

// New creates a port of typ and registers it with rt
func New[T any](rt *Runtime, name string, typ *pool.Type[T], opts ...Option) (*Port[T], error) {
	cfg := &config{}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	p := &Port[T]{
		rt:            rt,
		name:          name,
		typ:           typ,
		flavor:        cfg.flavor,
		dir:           cfg.direction,
		reversePush:   cfg.reversePush,
		acceptReverse: cfg.acceptReverse,
		volatile:      cfg.volatile,
		hooks:         cfg.hooks,
	}
	if p.flavor == FlavorDefault {
		p.flavor = Standard
		if typ.Cheap() {
			p.flavor = CheapCopy
		}
	}

	wantPush := cfg.direction == Input
	if cfg.push != nil {
		wantPush = *cfg.push
	}
	p.wantPush.Store(wantPush)
	p.push.Store(wantPush)

	if cfg.assignHook != nil {
		hook, ok := cfg.assignHook.(AssignHook[T])
		if !ok {
			errors.Misuse("Port", "New", "assign hook %T does not match port type %s", cfg.assignHook, typ.Name())
		}
		p.assignHook = hook
	}
	if cfg.pullHandler != nil {
		h, ok := cfg.pullHandler.(PullHandler[T])
		if !ok {
			errors.Misuse("Port", "New", "pull handler %T does not match port type %s", cfg.pullHandler, typ.Name())
		}
		p.SetPullHandler(h)
	}

	// The default buffer is referenced by the port for its whole life and by
	// current while nothing else has been published.
	p.defaultBuf = pool.NewBuffer(typ)
	if cfg.defaultValue != nil {
		v, ok := cfg.defaultValue.(T)
		if !ok {
			p.defaultBuf.Release()
			errors.Misuse("Port", "New", "default value %T does not match port type %s", cfg.defaultValue, typ.Name())
		}
		p.defaultBuf.Value = v
	}
	p.defaultBuf.Lock()
	p.current.Store(uint64(p.defaultBuf.Ref()))

	if cfg.queueCapacity > 0 {
		q, err := queue.New[*pool.Buffer[T]](cfg.queueCapacity,
			queue.WithDropCallback[*pool.Buffer[T]](func(b *pool.Buffer[T]) { b.Release() }),
			queue.WithMetrics[*pool.Buffer[T]](rt.registry, name),
		)
		if err != nil {
			p.releaseValues()
			return nil, errors.Wrap(err, "Port", "New", fmt.Sprintf("queue for %s", name))
		}
		p.queue = q
	}

	h, err := rt.register(p)
	if err != nil {
		p.releaseValues()
		return nil, err
	}
	p.h = h

	rt.logger.Debug("Port created",
		"port", name, "handle", h, "type", typ.Name(), "flavor", p.flavor, "direction", p.dir)
	return p, nil
}

// Handle returns the registry handle of the port
func (p *Port[T]) Handle() handle.Handle { return p.h }

// Name returns the port name
func (p *Port[T]) Name() string { return p.name }

// Type returns the data type of the port
func (p *Port[T]) Type() *pool.Type[T] { return p.typ }

// DataType returns the type-erased data type
func (p *Port[T]) DataType() pool.TypeInfo { return p.typ }

// Flavor returns the buffer flavor of the port
func (p *Port[T]) Flavor() Flavor { return p.flavor }

// Direction returns whether the port is an input, output or proxy
func (p *Port[T]) Direction() Direction { return p.dir }

// Runtime returns the runtime the port belongs to
func (p *Port[T]) Runtime() *Runtime { return p.rt }

// IsVolatile reports whether the port proxies a peer that may vanish
func (p *Port[T]) IsVolatile() bool { return p.volatile }

// HasQueue reports whether the port keeps a backlog of values
func (p *Port[T]) HasQueue() bool { return p.queue != nil }

// Queue returns the backlog queue, or nil
func (p *Port[T]) Queue() *queue.Queue[*pool.Buffer[T]] { return p.queue }

// IsReady reports whether Init has completed and the port is not deleted
func (p *Port[T]) IsReady() bool { return p.lifecycle.Load() == lifecycleReady }

// IsDeleted reports whether Delete has been called
func (p *Port[T]) IsDeleted() bool { return p.lifecycle.Load() == lifecycleDeleted }

// Default returns the default value of the port
func (p *Port[T]) Default() T { return p.defaultBuf.Value }

func (p *Port[T]) String() string {
	return fmt.Sprintf("%s(%s)", p.name, p.h)
}

// Init runs the init hooks and marks the port ready. Calling Init twice is a no-op.
func (p *Port[T]) Init() {
	if p.lifecycle.Load() != lifecycleCreated {
		return
	}
	if p.hooks != nil {
		p.hooks.PreChildInit(p.h)
	}
	if !p.lifecycle.CompareAndSwap(lifecycleCreated, lifecycleReady) {
		return
	}
	if p.hooks != nil {
		p.hooks.PostChildInit(p.h)
	}
}

// Delete disconnects the port, releases every buffer it holds and invalidates
// its handle. Publishing into a deleted port panics.
func (p *Port[T]) Delete() {
	prev := p.lifecycle.Swap(lifecycleDeleted)
	if prev == lifecycleDeleted {
		return
	}
	if p.hooks != nil {
		p.hooks.PrepareDelete(p.h)
	}
	p.rt.ports.MarkDeleted(p.h)
	p.DisconnectAll()
	p.RemoveListeners()
	p.pullHandler.Store(nil)

	if p.queue != nil {
		p.queue.Clear(queue.HeapNodes[*pool.Buffer[T]]{})
	}
	p.releaseValues()
	p.rt.unregister(p.h)
	p.rt.logger.Debug("Port deleted", "port", p.name, "handle", p.h)
}

func (p *Port[T]) releaseValues() {
	if r := pool.Ref(p.current.Swap(0)); !r.IsNil() {
		if b, ok := p.typ.Resolve(r); ok {
			b.Release()
		}
	}
	p.defaultBuf.Release()
}

// SetPullHandler installs or, with nil, removes the pull handler
func (p *Port[T]) SetPullHandler(h PullHandler[T]) {
	if h == nil {
		p.pullHandler.Store(nil)
		return
	}
	p.pullHandler.Store(&pullHandlerRef[T]{h: h})
}

// AddListener registers fn to be called with every installed value. The
// returned function removes the listener.
func (p *Port[T]) AddListener(fn Listener[T]) (remove func()) {
	entry := &listenerEntry[T]{fn: fn}

	p.listenerMu.Lock()
	defer p.listenerMu.Unlock()
	var next []*listenerEntry[T]
	if cur := p.listeners.Load(); cur != nil {
		next = append(next, *cur...)
	}
	next = append(next, entry)
	p.listeners.Store(&next)

	return func() { p.removeListener(entry) }
}

func (p *Port[T]) removeListener(entry *listenerEntry[T]) {
	p.listenerMu.Lock()
	defer p.listenerMu.Unlock()
	cur := p.listeners.Load()
	if cur == nil {
		return
	}
	next := make([]*listenerEntry[T], 0, len(*cur))
	for _, e := range *cur {
		if e != entry {
			next = append(next, e)
		}
	}
	p.listeners.Store(&next)
}

// RemoveListeners drops every listener
func (p *Port[T]) RemoveListeners() {
	p.listenerMu.Lock()
	p.listeners.Store(nil)
	p.listenerMu.Unlock()
}

func (p *Port[T]) notifyListeners(v T) {
	ls := p.listeners.Load()
	if ls == nil {
		return
	}
	for _, e := range *ls {
		e.fn(v)
	}
}
