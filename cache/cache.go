// Package cache implements the generic N-way set-associative cache that
// backs every variant in the fetch-cache family: tag/valid file, 32-bit
// word read/write, victim selection, and line replacement.
package cache

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/exp/constraints"

	"github.com/gpusim/cachesim/addr"
	"github.com/gpusim/cachesim/replace"
)

// slot is one (way, set) cache line entry.
type slot[T constraints.Unsigned] struct {
	tag   T
	valid bool
	data  []byte
}

// Cache is a generic, fixed-geometry set-associative cache. It holds no
// reservation or dirty-bit machinery of its own; that is layered on top
// by fetchcache.Cache.
type Cache[T constraints.Unsigned] struct {
	ways   int
	layout addr.Layout[T]
	policy replace.Policy

	// slots[way][set]
	slots [][]slot[T]
}

// New creates a cache with ways ways and sets sets of lineSize-byte lines.
// ways, sets, and lineSize must be positive; sets and lineSize must be
// powers of two. policy may be nil only if every set always has an
// invalid line available at SelectVictim time (callers needing eviction
// must supply one).
func New[T constraints.Unsigned](ways, sets, lineSize int, policy replace.Policy) *Cache[T] {
	if ways <= 0 {
		panic("cache: at least a way is required")
	}
	if sets <= 0 {
		panic("cache: at least a line per way is required")
	}
	if lineSize <= 0 {
		panic("cache: at least a byte per line is required")
	}
	c := &Cache[T]{
		ways:   ways,
		layout: addr.NewLayout[T](uint64(lineSize), uint64(sets)),
		policy: policy,
		slots:  make([][]slot[T], ways),
	}
	for w := 0; w < ways; w++ {
		row := make([]slot[T], sets)
		for s := range row {
			row[s].data = make([]byte, lineSize)
		}
		c.slots[w] = row
	}
	return c
}

// Ways returns the configured associativity.
func (c *Cache[T]) Ways() int { return c.ways }

// Sets returns the configured number of sets.
func (c *Cache[T]) Sets() int { return int(c.layout.Sets()) }

// LineSize returns the configured line size in bytes.
func (c *Cache[T]) LineSize() int { return int(c.layout.LineSize()) }

// Layout exposes the address decomposition this cache was built with.
func (c *Cache[T]) Layout() addr.Layout[T] { return c.layout }

// Search looks up address in the tag file. way is only meaningful when
// hit is true.
func (c *Cache[T]) Search(address T) (hit bool, way, set int) {
	set = int(c.layout.Set(address))
	tag := c.layout.Tag(address)
	for w := 0; w < c.ways; w++ {
		s := &c.slots[w][set]
		if s.valid && s.tag == tag {
			return true, w, set
		}
	}
	return false, 0, set
}

// Valid reports whether (way, set) currently holds a resident line.
func (c *Cache[T]) Valid(way, set int) bool {
	return c.slots[way][set].valid
}

// Tag returns the tag currently stored at (way, set), regardless of
// validity.
func (c *Cache[T]) Tag(way, set int) T {
	return c.slots[way][set].tag
}

// Read performs a 32-bit aligned word read. It fails (returns false) on
// a miss.
func (c *Cache[T]) Read(address T, data *uint32) bool {
	hit, way, set := c.Search(address)
	if !hit {
		return false
	}
	off := c.layout.Offset(address)
	*data = binary.LittleEndian.Uint32(c.slots[way][set].data[off:])
	if c.policy != nil {
		c.policy.Access(way, set)
	}
	return true
}

// Write performs a 32-bit aligned word write. It fails (returns false)
// on a miss.
func (c *Cache[T]) Write(address T, data uint32) bool {
	hit, way, set := c.Search(address)
	if !hit {
		return false
	}
	off := c.layout.Offset(address)
	binary.LittleEndian.PutUint32(c.slots[way][set].data[off:], data)
	if c.policy != nil {
		c.policy.Access(way, set)
	}
	return true
}

// SelectVictim picks a way to evict for the set address falls into,
// preferring any invalid line before consulting the replacement policy.
// It panics if every line is valid and no policy was attached.
func (c *Cache[T]) SelectVictim(address T) int {
	set := int(c.layout.Set(address))
	for w := 0; w < c.ways; w++ {
		if !c.slots[w][set].valid {
			return w
		}
	}
	if c.policy == nil {
		panic("cache: no replacement policy defined")
	}
	return c.policy.Victim(set)
}

// Replace rewrites the tag for (way, set-of-address) and marks it valid,
// without touching line data.
func (c *Cache[T]) Replace(address T, way int) {
	c.replaceTag(address, way)
}

// ReplaceData rewrites the tag for (way, set-of-address), marks it
// valid, and copies data into the line.
func (c *Cache[T]) ReplaceData(address T, way int, data []byte) {
	set := c.replaceTag(address, way)
	copy(c.slots[way][set].data, data)
}

func (c *Cache[T]) replaceTag(address T, way int) int {
	if way < 0 || way >= c.ways {
		panic(fmt.Sprintf("cache: out of range way %d", way))
	}
	set := int(c.layout.Set(address))
	s := &c.slots[way][set]
	s.tag = c.layout.Tag(address)
	s.valid = true
	if c.policy != nil {
		c.policy.Access(way, set)
	}
	return set
}

// Fill copies lineSize bytes of data into the line holding address. The
// line must already be resident (a hit); filling a non-resident line is
// a caller bug and panics.
func (c *Cache[T]) Fill(address T, data []byte) {
	hit, way, set := c.Search(address)
	if !hit {
		panic("cache: trying to fill a non-allocated line")
	}
	copy(c.slots[way][set].data, data)
}

// FillAt fills the line known to be at (way, set) directly, bypassing a
// tag search. Used by callers (fetchcache) that already hold the
// (way, set) coordinates from an earlier Search/SelectVictim.
func (c *Cache[T]) FillAt(way, set int, data []byte) {
	copy(c.slots[way][set].data, data)
}

// Line returns the byte slice backing (way, set). Callers must not
// retain it past the next mutating call.
func (c *Cache[T]) Line(way, set int) []byte {
	return c.slots[way][set].data
}

// Invalidate clears the valid bit for address's line, if resident.
func (c *Cache[T]) Invalidate(address T) {
	if hit, way, set := c.Search(address); hit {
		c.slots[way][set].valid = false
	}
}

// InvalidateAt clears the valid bit at (way, set) directly.
func (c *Cache[T]) InvalidateAt(way, set int) {
	c.slots[way][set].valid = false
}

// Reset clears every valid bit.
func (c *Cache[T]) Reset() {
	for w := range c.slots {
		for s := range c.slots[w] {
			c.slots[w][s].valid = false
		}
	}
}
