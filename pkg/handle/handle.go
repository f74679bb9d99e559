// Package handle provides a generational handle registry.
//
// A Handle is a 32-bit value that resolves to a live object only while the
// generation encoded in it matches the generation of its slot. Removing an
// object bumps the slot generation, so handles captured earlier silently stop
// resolving instead of pointing at whatever object reuses the slot later.
//
// Layout of a Handle:
//
//	bit 31      port flag
//	bits 16-30  generation (15 bits, never 0)
//	bits 0-15   slot index
package handle

import "fmt"

// Handle identifies an object stored in a Registry
type Handle uint32

const (
	indexBits      = 16
	indexMask      = 1<<indexBits - 1
	generationBits = 15
	generationMask = 1<<generationBits - 1
	portFlag       = 1 << 31

	// MaxCapacity is the largest number of slots a Registry can address
	MaxCapacity = 1 << indexBits
)

// Invalid is the zero handle. It never resolves because generation 0 is never issued.
const Invalid Handle = 0

func makeHandle(index uint32, generation uint32, isPort bool) Handle {
	h := Handle(index&indexMask | (generation&generationMask)<<indexBits)
	if isPort {
		h |= portFlag
	}
	return h
}

// Index returns the slot index
func (h Handle) Index() uint32 {
	return uint32(h) & indexMask
}

// Generation returns the generation encoded in the handle
func (h Handle) Generation() uint32 {
	return (uint32(h) >> indexBits) & generationMask
}

// IsPort reports whether the handle refers to a port
func (h Handle) IsPort() bool {
	return uint32(h)&portFlag != 0
}

// IsZero reports whether h is the invalid zero handle
func (h Handle) IsZero() bool {
	return h.Generation() == 0
}

// String formats the handle for logs
func (h Handle) String() string {
	kind := "elem"
	if h.IsPort() {
		kind = "port"
	}
	return fmt.Sprintf("%s#%d.%d", kind, h.Index(), h.Generation())
}

// nextGeneration advances a 15-bit generation, skipping 0
func nextGeneration(g uint32) uint32 {
	g = (g + 1) & generationMask
	if g == 0 {
		g = 1
	}
	return g
}
