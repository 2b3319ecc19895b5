// Package addr decomposes a fixed-width address into the offset/set/tag
// triple a set-associative cache needs, for any unsigned address width.
package addr

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

// Layout holds the masks and shifts derived from a line size and a set
// count. It replaces the textual duplication of 32-bit and 64-bit address
// handling in the original cache model with a single generic type.
type Layout[T constraints.Unsigned] struct {
	lineSize uint64
	sets     uint64

	byteMask  T
	lineMask  T
	lineShift uint
	tagShift  uint
}

// log2 returns log2(v) and requires v to be a power of two.
func log2(v uint64) uint {
	if v == 0 || v&(v-1) != 0 {
		panic(fmt.Sprintf("addr: %d is not a power of two", v))
	}
	shift := uint(0)
	for v > 1 {
		v >>= 1
		shift++
	}
	return shift
}

// NewLayout builds a Layout for lines of lineSize bytes arranged into sets
// sets per way. lineSize and sets must be powers of two. sets == 1 means a
// fully associative cache (no set index bits).
func NewLayout[T constraints.Unsigned](lineSize, sets uint64) Layout[T] {
	if lineSize == 0 {
		panic("addr: lineSize must be positive")
	}
	if sets == 0 {
		panic("addr: sets must be positive")
	}
	lineShift := log2(lineSize)
	l := Layout[T]{
		lineSize:  lineSize,
		sets:      sets,
		byteMask:  T(lineSize - 1),
		lineShift: lineShift,
	}
	if sets == 1 {
		// Fully associative: no set index, tag starts right after the offset.
		l.lineMask = 0
		l.tagShift = lineShift
	} else {
		l.lineMask = T(sets - 1)
		l.tagShift = log2(sets) + lineShift
	}
	return l
}

// Offset returns the byte offset of a within its line.
func (l Layout[T]) Offset(a T) T {
	return a & l.byteMask
}

// Set returns the set index of a.
func (l Layout[T]) Set(a T) T {
	if l.sets == 1 {
		return 0
	}
	return (a >> l.lineShift) & l.lineMask
}

// Tag returns the high-order identity bits of a.
func (l Layout[T]) Tag(a T) T {
	return a >> l.tagShift
}

// LineAddress reconstructs the address of the first byte of the line
// identified by tag and set, inverting Tag/Set.
func (l Layout[T]) LineAddress(tag, set T) T {
	if l.sets == 1 {
		return tag << l.tagShift
	}
	return (tag<<(l.tagShift-l.lineShift) + set) << l.lineShift
}

// LineSize returns the configured line size in bytes.
func (l Layout[T]) LineSize() uint64 { return l.lineSize }

// Sets returns the configured number of sets.
func (l Layout[T]) Sets() uint64 { return l.sets }
