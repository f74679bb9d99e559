package port

// State is the connection state of a port as seen by the push strategy
type State int

const (
	// NoConnection means the port has no edges
	NoConnection State = iota
	// ConnectedPush means publishes upstream are pushed into this port
	ConnectedPush
	// ConnectedPull means the port is only updated when pulled
	ConnectedPull
)

// String returns a string representation of the state
func (s State) String() string {
	switch s {
	case NoConnection:
		return "no-connection"
	case ConnectedPush:
		return "connected-push"
	case ConnectedPull:
		return "connected-pull"
	default:
		return "unknown"
	}
}

// State returns the current connection state
func (p *Port[T]) State() State {
	if !p.IsConnected() {
		return NoConnection
	}
	if p.push.Load() {
		return ConnectedPush
	}
	return ConnectedPull
}

// PushStrategy reports whether publishes upstream are pushed into the port
func (p *Port[T]) PushStrategy() bool {
	return p.push.Load()
}

// WantsPush reports whether the port itself asked for pushed data
func (p *Port[T]) WantsPush() bool {
	return p.wantPush.Load()
}

// SetPushStrategy changes whether the port itself wants pushed data and
// propagates the consequences upstream
func (p *Port[T]) SetPushStrategy(push bool) {
	if p.wantPush.Swap(push) == push {
		return
	}
	p.PropagateStrategy()
}

// PropagateStrategy recomputes the push flag of the port and of every port
// upstream whose flag depends on it. A port pushes if it wants pushed data or
// any of its destinations pushes.
func (p *Port[T]) PropagateStrategy() {
	p.rt.graphMu.Lock()
	defer p.rt.graphMu.Unlock()
	p.updateStrategy(true, 0)
}

// updateStrategy walks upstream only as long as flags change. The graph is
// acyclic, depth is a guard against pathological chains. Caller holds rt.graphMu.
func (p *Port[T]) updateStrategy(force bool, depth int) {
	if depth > p.rt.maxDepth {
		p.rt.logger.Warn("Strategy propagation depth exceeded", "port", p.name, "depth", depth)
		return
	}

	push := p.wantPush.Load()
	if !push {
		for _, dst := range p.Outgoing() {
			if dst.push.Load() {
				push = true
				break
			}
		}
	}

	if prev := p.push.Swap(push); prev != push {
		p.rt.metrics.RecordStrategyChange(p.name, p.State().String())
		p.rt.logger.Debug("Push strategy changed", "port", p.name, "push", push)
	} else if !force {
		return
	}

	for _, src := range p.Incoming() {
		src.updateStrategy(false, depth+1)
	}
}
