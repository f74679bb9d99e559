package port

import (
	"fmt"
	"sync/atomic"

	"github.com/c360/dataports/errors"
)

func snapshot[T any](ptr *atomic.Pointer[[]*Port[T]]) []*Port[T] {
	if s := ptr.Load(); s != nil {
		return *s
	}
	return nil
}

// Outgoing returns a snapshot of the destinations of the port
func (p *Port[T]) Outgoing() []*Port[T] {
	return snapshot(&p.outgoing)
}

// Incoming returns a snapshot of the sources of the port
func (p *Port[T]) Incoming() []*Port[T] {
	return snapshot(&p.incoming)
}

// IsConnected reports whether the port has any edge
func (p *Port[T]) IsConnected() bool {
	return len(p.Outgoing()) > 0 || len(p.Incoming()) > 0
}

// IsConnectedTo reports whether an edge p -> dst exists
func (p *Port[T]) IsConnectedTo(dst *Port[T]) bool {
	for _, d := range p.Outgoing() {
		if d == dst {
			return true
		}
	}
	return false
}

func (p *Port[T]) connectAbstract(dst AbstractPort) error {
	d, ok := dst.(*Port[T])
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s -> %s", errors.ErrTypeMismatch, p.typ.Name(), dst.DataType().Name()),
			"Port", "ConnectTo", "edge creation")
	}
	return p.ConnectTo(d)
}

// ConnectTo adds the edge p -> dst. Connecting twice is a no-op. An edge that
// would close a cycle is rejected with errors.ErrCycle.
func (p *Port[T]) ConnectTo(dst *Port[T]) error {
	switch {
	case dst == p:
		return errors.WrapInvalid(errors.ErrSelfConnect, "Port", "ConnectTo", p.name)
	case dst.typ != p.typ:
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s -> %s", errors.ErrTypeMismatch, p.typ.Name(), dst.typ.Name()),
			"Port", "ConnectTo", "edge creation")
	case dst.rt != p.rt:
		return errors.WrapInvalid(fmt.Errorf("ports %s and %s belong to different runtimes", p.name, dst.name),
			"Port", "ConnectTo", "edge creation")
	}

	rt := p.rt
	rt.graphMu.Lock()
	defer rt.graphMu.Unlock()

	if p.IsDeleted() || dst.IsDeleted() {
		return errors.WrapInvalid(errors.ErrPortDeleted, "Port", "ConnectTo", fmt.Sprintf("%s -> %s", p.name, dst.name))
	}
	if p.IsConnectedTo(dst) {
		return nil
	}
	if dst.reaches(p) {
		return errors.WrapInvalid(errors.ErrCycle, "Port", "ConnectTo", fmt.Sprintf("%s -> %s", p.name, dst.name))
	}

	p.outgoing.Store(appendCopy(p.Outgoing(), dst))
	dst.incoming.Store(appendCopy(dst.Incoming(), p))
	p.updateStrategy(true, 0)

	rt.logger.Debug("Ports connected", "source", p.name, "destination", dst.name, "push", dst.push.Load())
	return nil
}

// DisconnectFrom removes the edge p -> dst. Returns false if it did not exist.
func (p *Port[T]) DisconnectFrom(dst *Port[T]) bool {
	rt := p.rt
	rt.graphMu.Lock()
	defer rt.graphMu.Unlock()

	if !p.disconnectLocked(dst) {
		return false
	}
	p.updateStrategy(true, 0)
	rt.logger.Debug("Ports disconnected", "source", p.name, "destination", dst.name)
	return true
}

// DisconnectAll removes every edge of the port
func (p *Port[T]) DisconnectAll() {
	rt := p.rt
	rt.graphMu.Lock()
	defer rt.graphMu.Unlock()

	for _, dst := range p.Outgoing() {
		p.disconnectLocked(dst)
	}
	sources := p.Incoming()
	for _, src := range sources {
		src.disconnectLocked(p)
	}
	p.updateStrategy(true, 0)
	for _, src := range sources {
		src.updateStrategy(true, 0)
	}
}

func (p *Port[T]) disconnectLocked(dst *Port[T]) bool {
	out, removed := removeCopy(p.Outgoing(), dst)
	if !removed {
		return false
	}
	in, _ := removeCopy(dst.Incoming(), p)
	p.outgoing.Store(&out)
	dst.incoming.Store(&in)
	return true
}

// reaches reports whether target is reachable from p along outgoing edges.
// Caller holds rt.graphMu.
func (p *Port[T]) reaches(target *Port[T]) bool {
	visited := make(map[*Port[T]]bool)
	stack := []*Port[T]{p}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == target {
			return true
		}
		if visited[n] {
			continue
		}
		visited[n] = true
		stack = append(stack, n.Outgoing()...)
	}
	return false
}

func appendCopy[T any](s []*Port[T], p *Port[T]) *[]*Port[T] {
	next := make([]*Port[T], 0, len(s)+1)
	next = append(next, s...)
	next = append(next, p)
	return &next
}

func removeCopy[T any](s []*Port[T], p *Port[T]) ([]*Port[T], bool) {
	next := make([]*Port[T], 0, len(s))
	removed := false
	for _, x := range s {
		if x == p && !removed {
			removed = true
			continue
		}
		next = append(next, x)
	}
	return next, removed
}
