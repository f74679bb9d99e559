package port

import (
	"context"

	"github.com/c360/dataports/pkg/handle"
	"github.com/c360/dataports/pool"
)

// Action is the outcome of an assign hook
type Action int

const (
	// Accept installs the candidate unchanged
	Accept Action = iota
	// Replace installs the value returned by the hook instead
	Replace
	// Discard keeps the previous value and stops propagation
	Discard
)

// AssignHook intercepts every value about to be installed in a port
type AssignHook[T any] interface {
	Assign(candidate T) (T, Action)
}

// AssignFunc adapts a function to AssignHook
type AssignFunc[T any] func(candidate T) (T, Action)

// Assign implements AssignHook
func (f AssignFunc[T]) Assign(candidate T) (T, Action) {
	return f(candidate)
}

// PullHandler answers pull requests in place of walking further upstream.
// It returns a locked buffer, or false to fall back to the port's own value.
type PullHandler[T any] interface {
	PullRequest(ctx context.Context, th *pool.Thread, p *Port[T]) (*pool.Buffer[T], bool)
}

// PullHandlerFunc adapts a function to PullHandler
type PullHandlerFunc[T any] func(ctx context.Context, th *pool.Thread, p *Port[T]) (*pool.Buffer[T], bool)

// PullRequest implements PullHandler
func (f PullHandlerFunc[T]) PullRequest(ctx context.Context, th *pool.Thread, p *Port[T]) (*pool.Buffer[T], bool) {
	return f(ctx, th, p)
}

// LifecycleHooks are called by the port at fixed points of its lifecycle
type LifecycleHooks interface {
	PreChildInit(h handle.Handle)
	PostChildInit(h handle.Handle)
	PrepareDelete(h handle.Handle)
}

// Listener is notified synchronously with every value installed by a publish
type Listener[T any] func(v T)

type listenerEntry[T any] struct {
	fn Listener[T]
}
