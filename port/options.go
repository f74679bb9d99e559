package port

// Flavor selects where a port takes its buffers from
type Flavor int

const (
	// FlavorDefault follows the data type: cheap types get CheapCopy
	FlavorDefault Flavor = iota
	// CheapCopy ports use buffers from the publishing thread's pool
	CheapCopy
	// Standard ports use individually allocated heap buffers
	Standard
)

// String returns a string representation of the flavor
func (f Flavor) String() string {
	switch f {
	case CheapCopy:
		return "cheap-copy"
	case Standard:
		return "standard"
	default:
		return "default"
	}
}

// Direction tells whether a port consumes or produces data
type Direction int

const (
	// Proxy ports forward data and neither request nor originate it
	Proxy Direction = iota
	// Input ports consume data and request pushes by default
	Input
	// Output ports originate data
	Output
)

// String returns a string representation of the direction
func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return "proxy"
	}
}

// Option configures a port at construction
type Option func(*config)

type config struct {
	flavor        Flavor
	direction     Direction
	push          *bool
	reversePush   bool
	acceptReverse bool
	volatile      bool
	queueCapacity int

	// typed values, checked against the port type in New
	defaultValue any
	assignHook   any
	pullHandler  any
	hooks        LifecycleHooks
}

// WithFlavor selects cheap-copy or standard buffers
func WithFlavor(f Flavor) Option {
	return func(c *config) { c.flavor = f }
}

// AsInput marks the port as a consumer. Input ports want pushed data unless
// WithPushStrategy(false) is given.
func AsInput() Option {
	return func(c *config) { c.direction = Input }
}

// AsOutput marks the port as a producer
func AsOutput() Option {
	return func(c *config) { c.direction = Output }
}

// WithPushStrategy sets whether the port itself wants pushed data
func WithPushStrategy(push bool) Option {
	return func(c *config) { c.push = &push }
}

// WithReversePush makes the port forward received data back to its sources
// that accept reverse data
func WithReversePush(enabled bool) Option {
	return func(c *config) { c.reversePush = enabled }
}

// WithAcceptReverseData lets destinations push data back into this port
func WithAcceptReverseData() Option {
	return func(c *config) { c.acceptReverse = true }
}

// WithQueue keeps a backlog of up to capacity received values
func WithQueue(capacity int) Option {
	return func(c *config) { c.queueCapacity = capacity }
}

// Volatile marks a port whose peer may vanish, such as a network proxy
func Volatile() Option {
	return func(c *config) { c.volatile = true }
}

// WithDefault sets the value the port holds before anything is published
func WithDefault[T any](v T) Option {
	return func(c *config) { c.defaultValue = v }
}

// WithAssignHook installs a hook that runs before every value is installed
func WithAssignHook[T any](h AssignHook[T]) Option {
	return func(c *config) { c.assignHook = h }
}

// WithPullHandler installs a handler that answers pull requests
func WithPullHandler[T any](h PullHandler[T]) Option {
	return func(c *config) { c.pullHandler = h }
}

// WithLifecycleHooks installs init and delete callbacks
func WithLifecycleHooks(h LifecycleHooks) Option {
	return func(c *config) { c.hooks = h }
}
