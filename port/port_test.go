package port

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dataports/errors"
	"github.com/c360/dataports/metric"
	"github.com/c360/dataports/pkg/handle"
	"github.com/c360/dataports/pool"
)

func newTestPort[T any](t *testing.T, rt *Runtime, name string, typ *pool.Type[T], opts ...Option) *Port[T] {
	t.Helper()
	p, err := New(rt, name, typ, opts...)
	require.NoError(t, err)
	p.Init()
	return p
}

var typeSeq atomic.Uint64

// isolatedIntType registers an int type whose arena only this test touches
func isolatedIntType(t *testing.T) *pool.Type[int] {
	t.Helper()
	return pool.NewType[int](fmt.Sprintf("%s#%d", t.Name(), typeSeq.Add(1)))
}

func newThread(t *testing.T, name string) *pool.Thread {
	t.Helper()
	th := pool.NewThread(name)
	t.Cleanup(th.Close)
	return th
}

func TestPort_DefaultAndPublish(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()
	th := newThread(t, "main")

	p := newTestPort(t, rt, "speed", pool.Float64, WithDefault(2.5))
	assert.Equal(t, 2.5, p.Get())
	assert.Equal(t, 2.5, p.Default())
	assert.Equal(t, CheapCopy, p.Flavor())
	assert.False(t, p.HasChanged())

	p.PublishValue(th, 7.25)
	assert.Equal(t, 7.25, p.Get())
	assert.True(t, p.HasChanged())

	p.ResetChanged()
	assert.False(t, p.HasChanged())

	b := p.GetUnusedBuffer(th)
	b.Value = 9
	p.Publish(th, b)
	assert.Equal(t, 9.0, p.Get())
	assert.Equal(t, 1, b.Refs(), "only the port holds the published buffer")
}

func TestPort_StandardFlavor(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()
	th := newThread(t, "main")

	src := newTestPort(t, rt, "frame/out", pool.Bytes, AsOutput())
	dst := newTestPort(t, rt, "frame/in", pool.Bytes, AsInput(), WithQueue(4))
	require.Equal(t, Standard, src.Flavor())
	require.NoError(t, src.ConnectTo(dst))

	b := src.GetUnusedBuffer(th)
	assert.False(t, b.Cheap())
	b.Value = []byte("frame-1")
	src.Publish(th, b)

	assert.Equal(t, []byte("frame-1"), dst.Get())
	assert.Same(t, b, dst.GetLocked(), "buffers are shared, not copied")
	b.Release()

	values := dst.DequeueAllValues(th)
	assert.Equal(t, [][]byte{[]byte("frame-1")}, values)
}

func TestPort_BoundsClamp(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()
	th := newThread(t, "main")

	a := newTestPort(t, rt, "a", pool.Int, AsOutput(),
		WithAssignHook[int](NewBounds(0, 10, Clamp)))
	b := newTestPort(t, rt, "b", pool.Int, AsInput())
	require.NoError(t, a.ConnectTo(b))

	for _, tc := range []struct {
		publish, want int
	}{
		{15, 10},
		{-3, 0},
		{5, 5},
	} {
		a.PublishValue(th, tc.publish)
		assert.Equal(t, tc.want, b.Get(), "publish %d", tc.publish)
		assert.Equal(t, tc.want, a.Get())
	}
}

func TestPort_BoundsDiscardAndDefault(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()
	th := newThread(t, "main")

	discard := newTestPort(t, rt, "discard", pool.Int,
		WithAssignHook[int](NewBounds(0, 10, DiscardOutOfBounds)))
	discard.PublishValue(th, 4)
	discard.ResetChanged()
	discard.PublishValue(th, 11)
	assert.Equal(t, 4, discard.Get(), "out-of-bounds value keeps the previous one")
	assert.False(t, discard.HasChanged())

	def := newTestPort(t, rt, "default", pool.Int,
		WithAssignHook[int](NewBounds(0, 10, UseDefault).WithOutOfBoundsDefault(3)))
	def.PublishValue(th, 99)
	assert.Equal(t, 3, def.Get())
}

func TestBounds_Assign(t *testing.T) {
	b := NewBounds(1.0, 2.0, Clamp)
	tests := []struct {
		name   string
		in     float64
		out    float64
		action Action
	}{
		{"inside", 1.5, 1.5, Accept},
		{"lower edge", 1.0, 1.0, Accept},
		{"upper edge", 2.0, 2.0, Accept},
		{"below", 0.5, 1.0, Replace},
		{"above", 3.0, 2.0, Replace},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, action := b.Assign(tt.in)
			assert.Equal(t, tt.out, out)
			assert.Equal(t, tt.action, action)
		})
	}
	assert.Equal(t, "clamp", Clamp.String())
}

func TestPort_QueueKeepsMostRecent(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()
	th := newThread(t, "main")

	c := newTestPort(t, rt, "c", pool.Int, AsInput(), WithQueue(3))
	for i := 1; i <= 5; i++ {
		c.PublishValue(th, i)
	}

	assert.Equal(t, []int{3, 4, 5}, c.DequeueAllValues(th))
	assert.Empty(t, c.DequeueAllValues(th))

	c.PublishValue(th, 6)
	b, ok := c.DequeueSingle(th)
	require.True(t, ok)
	assert.Equal(t, 6, b.Value)
	b.Release()
}

func TestPort_ListenersAndAutoLocks(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()
	th := newThread(t, "main")

	p := newTestPort(t, rt, "status", pool.String)
	var seen []string
	remove := p.AddListener(func(v string) { seen = append(seen, v) })

	p.PublishValue(th, "idle")
	p.PublishValue(th, "busy")
	remove()
	p.PublishValue(th, "done")
	assert.Equal(t, []string{"idle", "busy"}, seen)

	b := p.GetAutoLocked(th)
	require.NotNil(t, b)
	assert.Equal(t, "done", b.Value)
	assert.Equal(t, 2, b.Refs())
	assert.Equal(t, 1, th.ReleaseAllLocks())
	assert.Equal(t, 1, b.Refs())
}

type recordingHooks struct {
	calls []string
}

func (r *recordingHooks) PreChildInit(handle.Handle)  { r.calls = append(r.calls, "pre-init") }
func (r *recordingHooks) PostChildInit(handle.Handle) { r.calls = append(r.calls, "post-init") }
func (r *recordingHooks) PrepareDelete(handle.Handle) { r.calls = append(r.calls, "prepare-delete") }

func TestPort_LifecycleAndDelete(t *testing.T) {
	rt := NewRuntime()
	th := newThread(t, "main")
	hooks := &recordingHooks{}
	ints := isolatedIntType(t)

	p, err := New(rt, "p", ints, WithLifecycleHooks(hooks), WithQueue(2))
	require.NoError(t, err)
	assert.False(t, p.IsReady())
	p.Init()
	p.Init()
	assert.True(t, p.IsReady())

	other := newTestPort(t, rt, "other", ints, AsInput())
	require.NoError(t, p.ConnectTo(other))
	p.PublishValue(th, 1)
	p.PublishValue(th, 2)

	found, ok := rt.Lookup(p.Handle())
	require.True(t, ok)
	assert.Equal(t, "p", found.Name())

	p.Delete()
	p.Delete()
	assert.Equal(t, []string{"pre-init", "post-init", "prepare-delete"}, hooks.calls)
	assert.True(t, p.IsDeleted())
	assert.False(t, other.IsConnected())

	_, ok = rt.Lookup(p.Handle())
	assert.False(t, ok)
	assert.Equal(t, 0, p.Get(), "deleted port reads the zero value")
	assert.Nil(t, p.GetLocked())
	assert.Panics(t, func() { p.PublishValue(th, 3) })

	rt.Close()
	assert.Empty(t, rt.Ports())
	th.Close()
	assert.Equal(t, 0, ints.Arena().Live(), "every buffer is freed")
	assert.Equal(t, 0, ints.Arena().Adopted())
}

func TestPort_Misuse(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()
	owner := newThread(t, "owner")
	intruder := newThread(t, "intruder")

	p := newTestPort(t, rt, "p", pool.Int)
	std := newTestPort(t, rt, "std", pool.Int, WithFlavor(Standard))

	b := pool.GetUnusedBuffer(owner, pool.Int)
	assert.PanicsWithValue(t,
		"Port.Publish: contract violation: buffer owned by thread "+strconv.FormatUint(owner.ID(), 10)+" published from thread "+strconv.FormatUint(intruder.ID(), 10),
		func() { p.Publish(intruder, b) })
	assert.Panics(t, func() { std.Publish(owner, b) }, "pooled buffer into standard port")
	b.Release()

	heap := pool.NewBuffer(pool.Int)
	assert.Panics(t, func() { p.Publish(owner, heap) }, "heap buffer into cheap-copy port")
	heap.Release()

	assert.Panics(t, func() { p.DequeueAllValues(owner) }, "port without queue")
	assert.Panics(t, func() { p.PublishValue(nil, 1) })

	assert.Panics(t, func() {
		_, _ = New(rt, "bad", pool.Int, WithDefault("text"))
	})
}

func TestPort_TwoPublishersLeaveNoLeaks(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()
	ints := isolatedIntType(t)

	p := newTestPort(t, rt, "shared", ints, AsOutput())
	threads := []*pool.Thread{pool.NewThread("pub-1"), pool.NewThread("pub-2")}

	const publishes = 10000
	var wg sync.WaitGroup
	for i, th := range threads {
		wg.Add(1)
		go func(id int, th *pool.Thread) {
			defer wg.Done()
			for n := 0; n < publishes; n++ {
				b := pool.GetUnusedBuffer(th, ints)
				b.Value = id*publishes + n
				p.Publish(th, b)
			}
		}(i, th)
	}
	wg.Wait()

	current := p.CurrentRef()
	inUse := 0
	for _, th := range threads {
		pl := pool.PoolFor(th, ints)
		leaked := pl.Leaked(func(r pool.Ref) bool { return r == current })
		assert.Empty(t, leaked, "thread %s", th.Name())
		inUse += pl.Stats().InUse
	}
	assert.Equal(t, 1, inUse, "only the current value is referenced")

	cur := p.GetLocked()
	require.NotNil(t, cur)
	assert.Equal(t, 2, cur.Refs())
	cur.Release()

	p.Delete()
	for _, th := range threads {
		th.Close()
	}
	assert.Equal(t, 0, ints.Arena().Adopted())
	assert.Equal(t, 0, ints.Arena().Live())
}

func TestPort_ConcurrentReadersSeeMonotonicValues(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()
	ints := isolatedIntType(t)

	out := newTestPort(t, rt, "counter", ints, AsOutput())
	in := newTestPort(t, rt, "counter/in", ints, AsInput(), WithQueue(4))
	require.NoError(t, out.ConnectTo(in))
	pub := pool.NewThread("publisher")

	const (
		publishes = 20000
		readers   = 4
	)
	var (
		done       atomic.Bool
		violations atomic.Int64
		wg         sync.WaitGroup
	)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			th := pool.NewThread(fmt.Sprintf("reader-%d", id))
			defer th.Close()

			var lastOut, lastIn, lastAuto int
			check := func(last *int, v int) {
				if v < *last {
					violations.Add(1)
				}
				*last = v
			}
			for !done.Load() {
				check(&lastOut, out.Get())
				if b := in.GetLocked(); b != nil {
					check(&lastIn, b.Value)
					b.Release()
				}
				if b := out.GetAutoLocked(th); b != nil {
					check(&lastAuto, b.Value)
				}
				th.ReleaseAllLocks()
			}
		}(i)
	}

	for n := 1; n <= publishes; n++ {
		out.PublishValue(pub, n)
	}
	done.Store(true)
	wg.Wait()

	assert.Zero(t, violations.Load(), "a reader observed a value older than one it had already seen")
	assert.Equal(t, publishes, out.Get())
	assert.Equal(t, publishes, in.Get())
	assert.Equal(t, []int{publishes - 3, publishes - 2, publishes - 1, publishes}, in.DequeueAllValues(pub))

	current := out.CurrentRef()
	require.Equal(t, current, in.CurrentRef())
	pl := pool.PoolFor(pub, ints)
	assert.Empty(t, pl.Leaked(func(r pool.Ref) bool { return r == current }))
	assert.Equal(t, 1, pl.Stats().InUse)

	rt.Close()
	pub.Close()
	assert.Equal(t, 0, ints.Arena().Live())
	assert.Equal(t, 0, ints.Arena().Adopted())
}

func TestPort_ReferenceBalance(t *testing.T) {
	ints := isolatedIntType(t)

	rt := NewRuntime()
	th := pool.NewThread("balance")

	a := newTestPort(t, rt, "a", ints, AsOutput(), WithAssignHook[int](NewBounds(0, 100, Clamp)))
	b := newTestPort(t, rt, "b", ints, WithQueue(2))
	c := newTestPort(t, rt, "c", ints, AsInput(), WithQueue(5))
	d := newTestPort(t, rt, "d", ints, AsInput(), WithPushStrategy(false))
	require.NoError(t, a.ConnectTo(b))
	require.NoError(t, b.ConnectTo(c))
	require.NoError(t, a.ConnectTo(d))

	for i := 0; i < 50; i++ {
		a.PublishValue(th, i*7)
		if i%3 == 0 {
			_ = c.DequeueAllValues(th)
		}
		if i%5 == 0 {
			ctx := context.Background()
			d.Pull(ctx, th, true).Release()
		}
	}

	rt.Close()
	th.Close()
	assert.Equal(t, 0, ints.Arena().Live())
	assert.Equal(t, 0, ints.Arena().Adopted())
}

func TestRuntime_LookupConnectAndMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	rt := NewRuntime(WithMetrics(registry), WithRegistryCapacity(3))
	defer rt.Close()
	th := rt.NewThread("main")
	defer th.Close()

	in := newTestPort(t, rt, "in", pool.Int, AsInput(), WithQueue(2))
	out := newTestPort(t, rt, "out", pool.Int, AsOutput())
	text := newTestPort(t, rt, "text", pool.String, AsInput())

	_, err := New(rt, "overflow", pool.Int)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))

	require.NoError(t, rt.Connect(out.Handle(), in.Handle()))
	assert.True(t, out.IsConnectedTo(in))

	err = rt.Connect(out.Handle(), text.Handle())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)

	err = rt.Connect(handle.Invalid, in.Handle())
	assert.ErrorIs(t, err, errors.ErrStaleHandle)

	out.PublishValue(th, 4)
	m := registry.CoreMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PortPublishes.WithLabelValues("out")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PortsRegistered))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PoolBuffersCreated.WithLabelValues("int")))
	assert.Len(t, rt.Ports(), 3)
}
