package network

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/c360/dataports/errors"
	"github.com/c360/dataports/health"
	"github.com/c360/dataports/metric"
	"github.com/c360/dataports/pool"
	"github.com/c360/dataports/port"
)

// Stats is a snapshot of adapter counters
type Stats struct {
	Mode           string `json:"mode"`
	Sent           int64  `json:"sent"`
	Received       int64  `json:"received"`
	Suppressed     int64  `json:"suppressed"`
	Stale          int64  `json:"stale"`
	Dropped        int64  `json:"dropped"`
	PullsServed    int64  `json:"pulls_served"`
	PullsForwarded int64  `json:"pulls_forwarded"`
	PullFallbacks  int64  `json:"pull_fallbacks"`
	Errors         int64  `json:"errors"`
}

// Adapter makes a local port the proxy of a remote peer.
//
// In Export mode every value installed in the port is sent to peers with the
// changed flag, and peers may pull the current value. In Import mode values
// from peers are published into the port through the normal publish path;
// values equal to the current one are suppressed. Pulls on an imported port
// become remote calls bounded by the pull timeout and fall back to the last
// local value on failure.
//
// Stop the adapter before deleting its port.
type Adapter[T any] struct {
	port    *port.Port[T]
	tr      Transport
	opts    options
	id      uuid.UUID
	name    string
	dataSub string
	pullSub string
	logger  *slog.Logger
	metrics *metric.Metrics

	// warnings on the data path are rate limited
	warnLimiter *rate.Limiter

	seq atomic.Uint64

	mu             sync.Mutex
	running        bool
	ctx            context.Context
	cancel         context.CancelFunc
	subs           []Subscription
	removeListener func()
	inbox          chan []byte
	done           chan struct{}
	startedAt      time.Time

	// An exporter serves pulls on its own thread and keeps the port pushed
	// while it runs.
	serveMu     sync.Mutex
	serveThread *pool.Thread
	pushForced  bool
	prevPush    bool

	errMu   sync.Mutex
	lastErr error

	lastActivity   atomic.Int64
	sent           atomic.Int64
	received       atomic.Int64
	suppressed     atomic.Int64
	stale          atomic.Int64
	dropped        atomic.Int64
	pullsServed    atomic.Int64
	pullsForwarded atomic.Int64
	pullFallbacks  atomic.Int64
	errCount       atomic.Int64
}

// NewAdapter creates a stopped adapter for p on tr
func NewAdapter[T any](p *port.Port[T], tr Transport, opts ...Option) (*Adapter[T], error) {
	if p == nil || tr == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Adapter", "NewAdapter", "port and transport are required")
	}

	o := options{
		mode:          Export,
		subjectPrefix: DefaultSubjectPrefix,
		pullTimeout:   DefaultPullTimeout,
		inboxSize:     DefaultInboxSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.mode != Export && o.mode != Import {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: mode %d", errors.ErrInvalidConfig, o.mode), "Adapter", "NewAdapter", "check mode")
	}

	subject := p.Name()
	if o.subject != "" {
		subject = o.subject
	}
	logger := o.logger
	if logger == nil {
		logger = p.Runtime().Logger()
	}
	metrics := p.Runtime().Metrics()
	if o.hasMetrics {
		metrics = o.metrics
	}

	a := &Adapter[T]{
		port:    p,
		tr:      tr,
		opts:    o,
		id:      uuid.New(),
		name:    o.mode.String() + ":" + p.Name(),
		dataSub: DataSubject(o.subjectPrefix, subject),
		pullSub: PullSubject(o.subjectPrefix, subject),
		metrics: metrics,

		warnLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	a.logger = logger.With("component", "network-adapter", "port", p.Name(), "mode", o.mode.String())
	return a, nil
}

// ID returns the instance id stamped on every envelope the adapter sends
func (a *Adapter[T]) ID() uuid.UUID { return a.id }

// Name returns the adapter name, the mode followed by the port name
func (a *Adapter[T]) Name() string { return a.name }

// Mode returns the adapter direction
func (a *Adapter[T]) Mode() Mode { return a.opts.mode }

// DataSubject returns the subject values travel on
func (a *Adapter[T]) DataSubject() string { return a.dataSub }

// PullSubject returns the subject pull calls travel on
func (a *Adapter[T]) PullSubject() string { return a.pullSub }

// Port returns the adapted port
func (a *Adapter[T]) Port() *port.Port[T] { return a.port }

// IsRunning reports whether the adapter has been started and not stopped
func (a *Adapter[T]) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Start subscribes to the transport. An exporter sends the current value with
// the initial flag. An importer asks the peer for its current value first.
func (a *Adapter[T]) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Adapter", "Start", a.name)
	}
	if a.port.IsDeleted() {
		return errors.WrapInvalid(errors.ErrPortDeleted, "Adapter", "Start", a.name)
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.ctx = runCtx
	a.cancel = cancel

	var err error
	switch a.opts.mode {
	case Export:
		err = a.startExport(runCtx)
	case Import:
		err = a.startImport(runCtx)
	}
	if err != nil {
		a.teardown()
		return err
	}

	a.running = true
	a.startedAt = time.Now()
	a.logger.Info("Network adapter started", "data_subject", a.dataSub, "pull_subject", a.pullSub, "id", a.id)
	return nil
}

func (a *Adapter[T]) startExport(ctx context.Context) error {
	a.serveMu.Lock()
	a.serveThread = a.port.Runtime().NewThread(a.name)
	a.serveMu.Unlock()

	// Listeners only fire for values installed in the port, so upstream
	// publishes must be pushed into it.
	a.prevPush = a.port.WantsPush()
	a.pushForced = true
	a.port.SetPushStrategy(true)

	sub, err := a.tr.Serve(ctx, a.pullSub, a.servePull)
	if err != nil {
		return errors.Wrap(err, "Adapter", "Start", "serve pull subject")
	}
	a.subs = append(a.subs, sub)

	a.removeListener = a.port.AddListener(func(v T) {
		a.send(a.ctx, FlagChanged, v)
	})
	a.send(ctx, FlagInitial, a.pullLocal(ctx))
	return nil
}

func (a *Adapter[T]) startImport(ctx context.Context) error {
	a.inbox = make(chan []byte, a.opts.inboxSize)
	a.done = make(chan struct{})

	sub, err := a.tr.Subscribe(ctx, a.dataSub, a.enqueue)
	if err != nil {
		return errors.Wrap(err, "Adapter", "Start", "subscribe data subject")
	}
	a.subs = append(a.subs, sub)

	// The peer's current value goes through the inbox like any other message.
	if data, err := a.requestPull(ctx); err != nil {
		a.logger.Debug("Initial sync skipped", "error", err)
	} else {
		a.enqueue(ctx, data)
	}

	a.port.SetPullHandler(port.PullHandlerFunc[T](a.pullRemote))
	go a.receiveLoop(ctx, a.inbox, a.done)
	return nil
}

// Stop unsubscribes and waits for the receive loop to finish
func (a *Adapter[T]) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return errors.WrapInvalid(errors.ErrNotStarted, "Adapter", "Stop", a.name)
	}
	a.running = false
	err := a.teardown()

	if a.done != nil {
		select {
		case <-a.done:
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "Adapter", "Stop", "wait for receive loop")
		}
	}

	a.logger.Info("Network adapter stopped", "sent", a.sent.Load(), "received", a.received.Load())
	return err
}

// teardown releases everything Start acquired. Caller holds a.mu.
func (a *Adapter[T]) teardown() error {
	var errs []error
	for _, sub := range a.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	a.subs = nil

	if a.removeListener != nil {
		a.removeListener()
		a.removeListener = nil
	}
	if a.opts.mode == Import {
		a.port.SetPullHandler(nil)
	}
	if a.pushForced {
		a.port.SetPushStrategy(a.prevPush)
		a.pushForced = false
	}
	a.serveMu.Lock()
	if a.serveThread != nil {
		a.serveThread.Close()
		a.serveThread = nil
	}
	a.serveMu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}

	if err := stderrors.Join(errs...); err != nil {
		return errors.Wrap(err, "Adapter", "Stop", "unsubscribe")
	}
	return nil
}

// send serializes v and publishes it on the data subject
func (a *Adapter[T]) send(ctx context.Context, flag Flag, v T) {
	data, err := a.encode(flag, a.seq.Add(1), v)
	if err != nil {
		a.fail("encode", err)
		return
	}
	if err := a.tr.Publish(ctx, a.dataSub, data); err != nil {
		a.fail("publish", err)
		return
	}
	a.sent.Add(1)
	a.touch()
	a.clearErr()
	a.metrics.RecordNetworkMessage(a.port.Name(), "outbound")
}

func (a *Adapter[T]) encode(flag Flag, seq uint64, v T) ([]byte, error) {
	payload, err := a.port.Type().Codec().Encode(v)
	if err != nil {
		return nil, err
	}
	env := Envelope{
		Source:  a.id,
		Port:    a.port.Name(),
		Type:    a.port.Type().Name(),
		Flag:    flag,
		Seq:     seq,
		Payload: payload,
	}
	return env.Marshal()
}

func (a *Adapter[T]) decode(env *Envelope) (T, error) {
	if env.Type != a.port.Type().Name() {
		var zero T
		return zero, errors.WrapInvalid(
			fmt.Errorf("%w: got %s, want %s", errors.ErrTypeMismatch, env.Type, a.port.Type().Name()),
			"Adapter", "decode", "check envelope type")
	}
	return a.port.Type().Codec().Decode(env.Payload)
}

// servePull answers a peer's pull call with the value pulled through the
// port, so a port that is not pushed still serves its sources' value
func (a *Adapter[T]) servePull(ctx context.Context, data []byte) ([]byte, error) {
	if len(data) > 0 {
		var req pullRequest
		if err := json.Unmarshal(data, &req); err != nil {
			a.fail("serve_pull", err)
			return nil, errors.WrapInvalid(errors.ErrInvalidData, "Adapter", "servePull", "decode pull request")
		}
	}
	if a.port.IsDeleted() {
		return nil, errors.WrapInvalid(errors.ErrPortDeleted, "Adapter", "servePull", a.port.Name())
	}

	resp, err := a.encode(FlagPull, a.seq.Load(), a.pullLocal(ctx))
	if err != nil {
		a.fail("serve_pull", err)
		return nil, err
	}
	a.pullsServed.Add(1)
	a.touch()
	return resp, nil
}

// pullLocal pulls the exported port on the serving thread and copies the
// value out. Falls back to Get once the adapter has been torn down.
func (a *Adapter[T]) pullLocal(ctx context.Context) T {
	a.serveMu.Lock()
	defer a.serveMu.Unlock()

	th := a.serveThread
	if th == nil {
		return a.port.Get()
	}
	b := a.port.Pull(ctx, th, false)
	if b == nil {
		return a.port.Get()
	}
	v := b.Value
	b.Release()
	th.ReleaseAllLocks()
	return v
}

func (a *Adapter[T]) requestPull(ctx context.Context) ([]byte, error) {
	req, err := json.Marshal(pullRequest{Source: a.id, Port: a.port.Name()})
	if err != nil {
		return nil, errors.WrapInvalid(err, "Adapter", "requestPull", "encode pull request")
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.pullTimeout)
	defer cancel()
	return a.tr.Request(ctx, a.pullSub, req)
}

// pullRemote is the pull handler of an imported port. It never blocks longer
// than the pull timeout; on failure the port answers with its own value.
func (a *Adapter[T]) pullRemote(ctx context.Context, th *pool.Thread, p *port.Port[T]) (*pool.Buffer[T], bool) {
	start := time.Now()
	resp, err := a.requestPull(ctx)
	a.metrics.RecordPullDuration(p.Name(), time.Since(start))
	if err != nil {
		a.fallback(pullFailureReason(err), err)
		return nil, false
	}

	env, err := UnmarshalEnvelope(resp)
	if err != nil {
		a.fallback("decode", err)
		return nil, false
	}
	v, err := a.decode(env)
	if err != nil {
		a.fallback("decode", err)
		return nil, false
	}

	a.pullsForwarded.Add(1)
	a.touch()
	a.clearErr()

	b := p.GetUnusedBuffer(th)
	b.Value = v
	return b, true
}

func pullFailureReason(err error) string {
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case stderrors.Is(err, errors.ErrNoResponders):
		return "no_responders"
	case stderrors.Is(err, errors.ErrRemotePull):
		return "remote_error"
	default:
		return "transport"
	}
}

func (a *Adapter[T]) fallback(reason string, err error) {
	a.pullFallbacks.Add(1)
	a.metrics.RecordPullFallback(a.port.Name(), reason)
	if a.warnLimiter.Allow() {
		a.logger.Warn("Remote pull failed, using last local value", "reason", reason, "error", err)
	}
	a.fail("pull", err)
}

// enqueue hands an inbound message to the receive loop without blocking the
// transport. A full inbox drops the message.
func (a *Adapter[T]) enqueue(_ context.Context, data []byte) {
	select {
	case a.inbox <- data:
	default:
		a.dropped.Add(1)
		a.metrics.RecordNetworkError(a.port.Name(), "inbox_full")
		if a.warnLimiter.Allow() {
			a.logger.Warn("Inbox full, dropping inbound value", "capacity", cap(a.inbox), "dropped", a.dropped.Load())
		}
	}
}

// receiveLoop owns the thread that publishes inbound values into the port.
// Closing the thread on exit hands buffers still held by ports to the arena.
func (a *Adapter[T]) receiveLoop(ctx context.Context, inbox <-chan []byte, done chan<- struct{}) {
	defer close(done)

	th := a.port.Runtime().NewThread(a.name)
	defer th.Close()

	lastSeq := make(map[uuid.UUID]uint64)
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-inbox:
			a.handleInbound(th, lastSeq, data)
			th.ReleaseAllLocks()
		}
	}
}

func (a *Adapter[T]) handleInbound(th *pool.Thread, lastSeq map[uuid.UUID]uint64, data []byte) {
	env, err := UnmarshalEnvelope(data)
	if err != nil {
		a.fail("decode", err)
		return
	}
	if env.Source == a.id {
		return
	}

	last, seen := lastSeq[env.Source]
	if seen && (env.Seq < last || (env.Flag == FlagChanged && env.Seq == last)) {
		a.stale.Add(1)
		return
	}
	lastSeq[env.Source] = env.Seq

	v, err := a.decode(env)
	if err != nil {
		a.fail("decode", err)
		return
	}

	a.received.Add(1)
	a.touch()
	a.metrics.RecordNetworkMessage(a.port.Name(), "inbound")

	if a.port.IsDeleted() {
		return
	}
	if a.port.Type().Equal(a.port.Get(), v) {
		a.suppressed.Add(1)
		a.metrics.RecordNetworkSuppressed(a.port.Name())
		return
	}
	a.port.PublishValue(th, v)
}

func (a *Adapter[T]) fail(operation string, err error) {
	a.errCount.Add(1)
	a.metrics.RecordNetworkError(a.port.Name(), operation)
	a.errMu.Lock()
	a.lastErr = err
	a.errMu.Unlock()
	if operation != "pull" && a.warnLimiter.Allow() {
		a.logger.Error("Network adapter error", "operation", operation, "error", err)
	}
}

func (a *Adapter[T]) clearErr() {
	a.errMu.Lock()
	a.lastErr = nil
	a.errMu.Unlock()
}

func (a *Adapter[T]) touch() {
	a.lastActivity.Store(time.Now().UnixNano())
}

// Health reports the adapter as unhealthy while stopped and degraded while
// its last transport operation failed transiently
func (a *Adapter[T]) Health() health.Status {
	a.mu.Lock()
	running := a.running
	startedAt := a.startedAt
	a.mu.Unlock()

	a.errMu.Lock()
	lastErr := a.lastErr
	a.errMu.Unlock()

	var status health.Status
	if running {
		status = health.FromError(a.name, lastErr)
	} else {
		status = health.NewUnhealthy(a.name, "adapter stopped")
	}

	m := &health.Metrics{
		ErrorCount:       a.errCount.Load(),
		MessagesSent:     a.sent.Load(),
		MessagesReceived: a.received.Load(),
		PullFallbacks:    a.pullFallbacks.Load(),
	}
	if running {
		m.Uptime = time.Since(startedAt)
	}
	if ts := a.lastActivity.Load(); ts != 0 {
		m.LastActivity = time.Unix(0, ts)
	}
	return status.WithMetrics(m)
}

// Stats returns a snapshot of the adapter counters
func (a *Adapter[T]) Stats() Stats {
	return Stats{
		Mode:           a.opts.mode.String(),
		Sent:           a.sent.Load(),
		Received:       a.received.Load(),
		Suppressed:     a.suppressed.Load(),
		Stale:          a.stale.Load(),
		Dropped:        a.dropped.Load(),
		PullsServed:    a.pullsServed.Load(),
		PullsForwarded: a.pullsForwarded.Load(),
		PullFallbacks:  a.pullFallbacks.Load(),
		Errors:         a.errCount.Load(),
	}
}
