package port

import "cmp"

// Policy decides what happens to a value outside its bounds
type Policy int

const (
	// DiscardOutOfBounds keeps the previous value
	DiscardOutOfBounds Policy = iota
	// Clamp replaces the value with the nearest bound
	Clamp
	// UseDefault replaces the value with the configured out-of-bounds default
	UseDefault
)

// String returns a string representation of the policy
func (p Policy) String() string {
	switch p {
	case DiscardOutOfBounds:
		return "discard"
	case Clamp:
		return "clamp"
	case UseDefault:
		return "default"
	default:
		return "unknown"
	}
}

// Bounds is an AssignHook enforcing an inclusive [Min, Max] range
type Bounds[T any] struct {
	Min     T
	Max     T
	Less    func(a, b T) bool
	Policy  Policy
	Default T
}

// NewBounds creates bounds for an ordered type
func NewBounds[T cmp.Ordered](lo, hi T, policy Policy) *Bounds[T] {
	return &Bounds[T]{
		Min:    lo,
		Max:    hi,
		Less:   cmp.Less[T],
		Policy: policy,
	}
}

// WithOutOfBoundsDefault sets the substitute used by the UseDefault policy
func (b *Bounds[T]) WithOutOfBoundsDefault(v T) *Bounds[T] {
	b.Default = v
	return b
}

// InBounds reports whether v lies within [Min, Max]
func (b *Bounds[T]) InBounds(v T) bool {
	return !b.Less(v, b.Min) && !b.Less(b.Max, v)
}

// Assign implements AssignHook
func (b *Bounds[T]) Assign(candidate T) (T, Action) {
	if b.InBounds(candidate) {
		return candidate, Accept
	}

	switch b.Policy {
	case Clamp:
		if b.Less(candidate, b.Min) {
			return b.Min, Replace
		}
		return b.Max, Replace
	case UseDefault:
		return b.Default, Replace
	default:
		return candidate, Discard
	}
}
