package pool

import "fmt"

// Ref is a generation-tagged reference to a buffer slot.
// The zero Ref is null.
type Ref uint64

func makeRef(slot, generation uint32) Ref {
	return Ref(uint64(slot)<<32 | uint64(generation))
}

// Slot returns the arena slot index
func (r Ref) Slot() uint32 {
	return uint32(r >> 32)
}

// Generation returns the slot generation captured in the reference
func (r Ref) Generation() uint32 {
	return uint32(r)
}

// IsNil reports whether r is the null reference
func (r Ref) IsNil() bool {
	return r == 0
}

func (r Ref) String() string {
	return fmt.Sprintf("ref(%d@%d)", r.Slot(), r.Generation())
}
