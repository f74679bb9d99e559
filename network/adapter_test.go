package network

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dataports/errors"
	"github.com/c360/dataports/metric"
	"github.com/c360/dataports/pool"
	"github.com/c360/dataports/port"
)

const eventually = 2 * time.Second

type fixture struct {
	rt       *port.Runtime
	registry *metric.MetricsRegistry
	tr       *LoopbackTransport
	th       *pool.Thread
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := metric.NewMetricsRegistry()
	rt := port.NewRuntime(port.WithMetrics(registry))
	th := rt.NewThread("test")
	t.Cleanup(func() {
		rt.Close()
		th.Close()
	})
	return &fixture{rt: rt, registry: registry, tr: NewLoopbackTransport(), th: th}
}

func (f *fixture) newPort(t *testing.T, name string, opts ...port.Option) *port.Port[int] {
	t.Helper()
	p, err := port.New(f.rt, name, pool.Int, opts...)
	require.NoError(t, err)
	p.Init()
	return p
}

func (f *fixture) start(t *testing.T, p *port.Port[int], opts ...Option) *Adapter[int] {
	t.Helper()
	a, err := NewAdapter(p, f.tr, opts...)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		if a.IsRunning() {
			_ = a.Stop(context.Background())
		}
	})
	return a
}

func (f *fixture) importer(t *testing.T, p *port.Port[int], opts ...Option) *Adapter[int] {
	t.Helper()
	return f.start(t, p, append([]Option{WithMode(Import), WithSubjectName("speed")}, opts...)...)
}

func TestAdapter_ExportImportRoundTrip(t *testing.T) {
	f := newFixture(t)
	src := f.newPort(t, "speed", port.AsOutput())
	dst := f.newPort(t, "remote_speed")

	exp := f.start(t, src)
	imp := f.importer(t, dst)

	assert.Equal(t, Export, exp.Mode())
	assert.Equal(t, Import, imp.Mode())
	assert.Equal(t, "dataports.speed.data", imp.DataSubject())
	assert.Equal(t, exp.PullSubject(), imp.PullSubject())
	assert.NotEqual(t, exp.ID(), imp.ID())

	src.PublishValue(f.th, 7)
	require.Eventually(t, func() bool { return dst.Get() == 7 }, eventually, time.Millisecond)

	src.PublishValue(f.th, 9)
	require.Eventually(t, func() bool { return dst.Get() == 9 }, eventually, time.Millisecond)

	assert.Equal(t, int64(3), exp.Stats().Sent, "initial value plus two changes")
	assert.True(t, exp.Health().IsHealthy())
	assert.True(t, imp.Health().IsHealthy())
	assert.Equal(t, int64(3), imp.Health().Metrics.MessagesReceived)

	m := f.registry.CoreMetrics()
	assert.Equal(t, 3.0, testutil.ToFloat64(m.NetworkMessages.WithLabelValues("speed", "outbound")))
}

func TestAdapter_ExportsPortFedByEdge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.newPort(t, "arm.speed", port.AsOutput())
	exported := f.newPort(t, "speed")
	require.NoError(t, src.ConnectTo(exported))
	require.False(t, exported.PushStrategy())
	dst := f.newPort(t, "remote_speed")

	exp := f.start(t, exported)
	assert.True(t, exported.PushStrategy(), "an exported port is pushed while the adapter runs")
	f.importer(t, dst)

	src.PublishValue(f.th, 42)
	assert.Equal(t, 42, exported.Get())
	assert.Eventually(t, func() bool { return dst.Get() == 42 }, eventually, 5*time.Millisecond)

	b := dst.Pull(ctx, f.th, false)
	require.NotNil(t, b)
	assert.Equal(t, 42, b.Value)
	b.Release()
	assert.Positive(t, exp.Stats().PullsServed)

	require.NoError(t, exp.Stop(ctx))
	assert.False(t, exported.WantsPush(), "stop restores the port's own strategy")
	assert.False(t, exported.PushStrategy())
}

func TestAdapter_ServePullReachesSources(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.newPort(t, "arm.speed", port.AsOutput())
	exported := f.newPort(t, "speed")
	require.NoError(t, src.ConnectTo(exported))

	// Published before the exporter exists, so the value was never pushed.
	src.PublishValue(f.th, 17)
	require.Equal(t, 0, exported.Get())

	exp := f.start(t, exported)
	resp, err := f.tr.Request(ctx, exp.PullSubject(), nil)
	require.NoError(t, err)
	env, err := UnmarshalEnvelope(resp)
	require.NoError(t, err)
	assert.Equal(t, FlagPull, env.Flag)
	assert.JSONEq(t, "17", string(env.Payload))
}

func TestAdapter_InitialSync(t *testing.T) {
	f := newFixture(t)
	src := f.newPort(t, "speed", port.AsOutput())
	dst := f.newPort(t, "remote_speed")

	src.PublishValue(f.th, 5)
	exp := f.start(t, src)

	// The importer missed the initial value and asks for it on start.
	f.importer(t, dst)
	require.Eventually(t, func() bool { return dst.Get() == 5 }, eventually, time.Millisecond)
	assert.Equal(t, int64(1), exp.Stats().PullsServed)
}

func TestAdapter_SuppressesEqualValues(t *testing.T) {
	f := newFixture(t)
	src := f.newPort(t, "speed", port.AsOutput())
	dst := f.newPort(t, "remote_speed")

	var installs atomic.Int32
	dst.AddListener(func(v int) {
		if v == 7 {
			installs.Add(1)
		}
	})

	f.start(t, src)
	imp := f.importer(t, dst)

	src.PublishValue(f.th, 7)
	src.PublishValue(f.th, 7)

	// initial sync, then two changes
	require.Eventually(t, func() bool { return imp.Stats().Received == 3 }, eventually, time.Millisecond)
	assert.Equal(t, int32(1), installs.Load())
	assert.Equal(t, int64(2), imp.Stats().Suppressed)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.registry.CoreMetrics().NetworkSuppressed.WithLabelValues("remote_speed")))
}

func TestAdapter_PullForwardsToPeer(t *testing.T) {
	f := newFixture(t)
	dst := f.newPort(t, "remote_speed")
	imp := f.importer(t, dst)

	// A peer that only answers pulls, so the value cannot arrive by push.
	peer := uuid.New()
	_, err := f.tr.Serve(context.Background(), imp.PullSubject(), func(context.Context, []byte) ([]byte, error) {
		env := Envelope{Source: peer, Port: "speed", Type: "int", Flag: FlagPull, Seq: 1, Payload: []byte("12")}
		return env.Marshal()
	})
	require.NoError(t, err)

	b := dst.Pull(context.Background(), f.th, true)
	require.NotNil(t, b)
	assert.Equal(t, 12, b.Value)
	b.Release()
	assert.Equal(t, 12, dst.Get(), "intermediate assign installs the pulled value")

	assert.Equal(t, int64(1), imp.Stats().PullsForwarded)
	assert.Zero(t, imp.Stats().PullFallbacks)
}

func TestAdapter_PullFallsBackOnTimeout(t *testing.T) {
	f := newFixture(t)
	src := f.newPort(t, "speed", port.AsOutput())
	dst := f.newPort(t, "remote_speed")

	f.tr.SetLatency(500 * time.Millisecond)
	f.start(t, src)
	imp := f.importer(t, dst, WithPullTimeout(50*time.Millisecond))

	src.PublishValue(f.th, 3)
	require.Eventually(t, func() bool { return dst.Get() == 3 }, eventually, time.Millisecond)

	start := time.Now()
	b := dst.Pull(context.Background(), f.th, false)
	elapsed := time.Since(start)

	require.NotNil(t, b)
	assert.Equal(t, 3, b.Value, "last local value")
	b.Release()
	assert.Less(t, elapsed, 400*time.Millisecond)

	assert.Equal(t, int64(1), imp.Stats().PullFallbacks)
	assert.True(t, imp.Health().IsDegraded())
	assert.Equal(t, 1.0, testutil.ToFloat64(
		f.registry.CoreMetrics().PortPullFallbacks.WithLabelValues("remote_speed", "timeout")))
}

func TestAdapter_PullFallsBackWithoutPeer(t *testing.T) {
	f := newFixture(t)
	dst := f.newPort(t, "remote_speed", port.WithDefault(11))
	imp := f.importer(t, dst)

	b := dst.Pull(context.Background(), f.th, false)
	require.NotNil(t, b)
	assert.Equal(t, 11, b.Value)
	b.Release()

	assert.Equal(t, int64(1), imp.Stats().PullFallbacks)
	assert.Equal(t, 1.0, testutil.ToFloat64(
		f.registry.CoreMetrics().PortPullFallbacks.WithLabelValues("remote_speed", "no_responders")))
}

func publishEnvelope(t *testing.T, tr Transport, env Envelope) {
	t.Helper()
	data, err := env.Marshal()
	require.NoError(t, err)
	require.NoError(t, tr.Publish(context.Background(), DataSubject(DefaultSubjectPrefix, "speed"), data))
}

func payload(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestAdapter_InboundFiltering(t *testing.T) {
	f := newFixture(t)
	dst := f.newPort(t, "remote_speed")
	imp := f.importer(t, dst)
	peer := uuid.New()

	// Own messages are ignored.
	publishEnvelope(t, f.tr, Envelope{Source: imp.ID(), Port: "speed", Type: "int", Flag: FlagChanged, Seq: 1, Payload: payload(t, 100)})

	// Wrong data type and garbage are errors.
	publishEnvelope(t, f.tr, Envelope{Source: peer, Port: "speed", Type: "string", Flag: FlagChanged, Seq: 1, Payload: payload(t, "x")})
	require.NoError(t, f.tr.Publish(context.Background(), imp.DataSubject(), []byte("garbage")))
	require.Eventually(t, func() bool { return imp.Stats().Errors == 2 }, eventually, time.Millisecond)

	publishEnvelope(t, f.tr, Envelope{Source: peer, Port: "speed", Type: "int", Flag: FlagChanged, Seq: 5, Payload: payload(t, 50)})
	require.Eventually(t, func() bool { return dst.Get() == 50 }, eventually, time.Millisecond)

	// Older and repeated sequence numbers from the same peer are stale.
	publishEnvelope(t, f.tr, Envelope{Source: peer, Port: "speed", Type: "int", Flag: FlagChanged, Seq: 4, Payload: payload(t, 40)})
	publishEnvelope(t, f.tr, Envelope{Source: peer, Port: "speed", Type: "int", Flag: FlagChanged, Seq: 5, Payload: payload(t, 41)})
	publishEnvelope(t, f.tr, Envelope{Source: peer, Port: "speed", Type: "int", Flag: FlagChanged, Seq: 6, Payload: payload(t, 60)})
	require.Eventually(t, func() bool { return dst.Get() == 60 }, eventually, time.Millisecond)

	stats := imp.Stats()
	assert.Equal(t, int64(2), stats.Stale)
	assert.Equal(t, int64(2), stats.Received)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.registry.CoreMetrics().NetworkErrors.WithLabelValues("remote_speed", "decode")))
}

func TestAdapter_InboxFullDrops(t *testing.T) {
	f := newFixture(t)
	dst := f.newPort(t, "remote_speed")

	a, err := NewAdapter(dst, f.tr, WithMode(Import))
	require.NoError(t, err)
	a.inbox = make(chan []byte, 1)

	a.enqueue(context.Background(), []byte("a"))
	a.enqueue(context.Background(), []byte("b"))

	assert.Len(t, a.inbox, 1)
	assert.Equal(t, int64(1), a.Stats().Dropped)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.registry.CoreMetrics().NetworkErrors.WithLabelValues("remote_speed", "inbox_full")))
}

func TestAdapter_Lifecycle(t *testing.T) {
	f := newFixture(t)
	src := f.newPort(t, "speed", port.AsOutput())
	ctx := context.Background()

	_, err := NewAdapter[int](nil, f.tr)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
	_, err = NewAdapter(src, nil)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
	_, err = NewAdapter(src, f.tr, WithMode(Mode(7)))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	a, err := NewAdapter(src, f.tr)
	require.NoError(t, err)
	assert.Equal(t, "export:speed", a.Name())
	assert.True(t, a.Health().IsUnhealthy(), "not started")

	err = a.Stop(ctx)
	assert.ErrorIs(t, err, errors.ErrNotStarted)

	require.NoError(t, a.Start(ctx))
	err = a.Start(ctx)
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)
	assert.True(t, errors.IsInvalid(err))

	require.NoError(t, a.Stop(ctx))
	assert.False(t, a.IsRunning())
	assert.True(t, a.Health().IsUnhealthy())

	sent := a.Stats().Sent
	src.PublishValue(f.th, 1)
	assert.Equal(t, sent, a.Stats().Sent, "stopped exporter no longer listens")

	require.NoError(t, a.Start(ctx), "restart")
	require.NoError(t, a.Stop(ctx))

	src.Delete()
	err = a.Start(ctx)
	assert.ErrorIs(t, err, errors.ErrPortDeleted)
}

func TestAdapter_StopRestoresLocalPull(t *testing.T) {
	f := newFixture(t)
	dst := f.newPort(t, "remote_speed", port.WithDefault(4))
	imp := f.importer(t, dst)

	require.NoError(t, imp.Stop(context.Background()))

	b := dst.Pull(context.Background(), f.th, false)
	require.NotNil(t, b)
	assert.Equal(t, 4, b.Value)
	b.Release()
	assert.Zero(t, imp.Stats().PullFallbacks, "no remote call after stop")
}

func TestAdapter_ServePullDeletedPort(t *testing.T) {
	f := newFixture(t)
	src := f.newPort(t, "speed")

	a, err := NewAdapter(src, f.tr)
	require.NoError(t, err)

	resp, err := a.servePull(context.Background(), nil)
	require.NoError(t, err)
	env, err := UnmarshalEnvelope(resp)
	require.NoError(t, err)
	assert.Equal(t, FlagPull, env.Flag)

	_, err = a.servePull(context.Background(), []byte("{"))
	assert.ErrorIs(t, err, errors.ErrInvalidData)

	src.Delete()
	_, err = a.servePull(context.Background(), nil)
	assert.ErrorIs(t, err, errors.ErrPortDeleted)
}
