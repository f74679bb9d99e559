package network

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/dataports/errors"
)

// LoopbackTransport delivers messages in-process. Subscribers are called
// synchronously on the publishing goroutine, request servers on a goroutine of
// their own. A configurable latency delays every request.
type LoopbackTransport struct {
	mu      sync.RWMutex
	subs    map[string][]*loopbackSub
	servers map[string]*loopbackSub
	closed  bool

	latency atomic.Int64
}

type loopbackSub struct {
	t       *LoopbackTransport
	subject string
	ctx     context.Context
	handler Handler
	serve   RequestHandler
	active  atomic.Bool
}

// NewLoopbackTransport creates an empty in-process transport
func NewLoopbackTransport() *LoopbackTransport {
	return &LoopbackTransport{
		subs:    make(map[string][]*loopbackSub),
		servers: make(map[string]*loopbackSub),
	}
}

// SetLatency delays every subsequent request by d
func (t *LoopbackTransport) SetLatency(d time.Duration) {
	t.latency.Store(int64(d))
}

// Publish implements Transport
func (t *LoopbackTransport) Publish(ctx context.Context, subject string, data []byte) error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return errors.WrapTransient(errors.ErrConnectionLost, "LoopbackTransport", "Publish", subject)
	}
	subs := t.subs[subject]
	t.mu.RUnlock()

	for _, s := range subs {
		if s.active.Load() {
			// Each subscriber gets its own copy, like a real wire.
			s.handler(ctx, append([]byte(nil), data...))
		}
	}
	return nil
}

// Subscribe implements Transport
func (t *LoopbackTransport) Subscribe(ctx context.Context, subject string, h Handler) (Subscription, error) {
	s := &loopbackSub{t: t, subject: subject, ctx: ctx, handler: h}
	s.active.Store(true)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errors.WrapTransient(errors.ErrConnectionLost, "LoopbackTransport", "Subscribe", subject)
	}
	next := make([]*loopbackSub, 0, len(t.subs[subject])+1)
	next = append(next, t.subs[subject]...)
	t.subs[subject] = append(next, s)
	return s, nil
}

// Serve implements Transport. Only one server may serve a subject.
func (t *LoopbackTransport) Serve(ctx context.Context, subject string, h RequestHandler) (Subscription, error) {
	s := &loopbackSub{t: t, subject: subject, ctx: ctx, serve: h}
	s.active.Store(true)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errors.WrapTransient(errors.ErrConnectionLost, "LoopbackTransport", "Serve", subject)
	}
	if cur, ok := t.servers[subject]; ok && cur.active.Load() {
		return nil, errors.WrapInvalid(fmt.Errorf("subject %s already served", subject),
			"LoopbackTransport", "Serve", "register server")
	}
	t.servers[subject] = s
	return s, nil
}

// Request implements Transport
func (t *LoopbackTransport) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	t.mu.RLock()
	closed := t.closed
	server := t.servers[subject]
	t.mu.RUnlock()

	if closed {
		return nil, errors.WrapTransient(errors.ErrConnectionLost, "LoopbackTransport", "Request", subject)
	}
	if server == nil || !server.active.Load() {
		return nil, errors.WrapTransient(errors.ErrNoResponders, "LoopbackTransport", "Request", subject)
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	latency := time.Duration(t.latency.Load())
	req := append([]byte(nil), data...)

	go func() {
		if latency > 0 {
			time.Sleep(latency)
		}
		resp, err := server.serve(server.ctx, req)
		done <- result{data: resp, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, errors.Wrap(fmt.Errorf("%w: %v", errors.ErrRemotePull, r.err), "LoopbackTransport", "Request", subject)
		}
		return r.data, nil
	case <-ctx.Done():
		return nil, errors.WrapTransient(ctx.Err(), "LoopbackTransport", "Request", subject)
	}
}

// Close drops every subscription. Later calls fail with errors.ErrConnectionLost.
func (t *LoopbackTransport) Close(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, subs := range t.subs {
		for _, s := range subs {
			s.active.Store(false)
		}
	}
	for _, s := range t.servers {
		s.active.Store(false)
	}
	t.subs = make(map[string][]*loopbackSub)
	t.servers = make(map[string]*loopbackSub)
	t.closed = true
	return nil
}

// Unsubscribe implements Subscription
func (s *loopbackSub) Unsubscribe() error {
	if !s.active.Swap(false) {
		return nil
	}

	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if s.serve != nil {
		if t.servers[s.subject] == s {
			delete(t.servers, s.subject)
		}
		return nil
	}
	cur := t.subs[s.subject]
	next := make([]*loopbackSub, 0, len(cur))
	for _, x := range cur {
		if x != s {
			next = append(next, x)
		}
	}
	t.subs[s.subject] = next
	return nil
}
