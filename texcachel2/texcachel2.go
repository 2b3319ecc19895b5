// Package texcachel2 implements the two-level texture cache of spec §4.5:
// a small/fast L0 fetch cache backed by a larger L1 texture cache. The
// consumer sees exactly the L0 contract (fetch/read/unreserve); an L0
// miss is serviced by fetching the same line from L1, which may itself
// miss to memory through the banked/decompressing pipeline of §4.4.
//
// Simplification (recorded as an Open Question decision): L0 and L1
// share one line size and both hold decompressed texel data — only L1
// carries the memory-facing machinery (banks, miss quota, tickets,
// decompression), matching spec §4.5's "the memory-facing machinery of
// §4.4 applies to the L1 side only". The original's separate compressed
// L1 line size is not modeled.
package texcachel2

import (
	"github.com/gpusim/cachesim/fetchcache"
	"github.com/gpusim/cachesim/memtrans"
	"github.com/gpusim/cachesim/stats"
	"github.com/gpusim/cachesim/texcache"
)

// l0State is the Design Note's explicit L0⇒L1 dependency: an L0 request
// that has reserved an L1 entry holds that reservation's (way, set) in
// its own record, rather than relying on convention as the original did.
type l0State struct {
	inUse bool
	req   fetchcache.Request
	l1Way int
	l1Set int
}

// Cache is the two-level texture cache.
type Cache struct {
	name string
	l0   *fetchcache.Cache[uint64]
	l1   *texcache.Cache

	lineSizeL0 int
	l0req      []l0State
}

// New creates a two-level texture cache. L0 is waysL0 x setsL0 x
// lineSizeL0 with its own request-queue depth; L1 is waysL1 x setsL1 at
// the same line size, with the banked/ported/decompressing machinery of
// texcache.Cache.
func New(waysL0, setsL0, lineSizeL0, waysL1, setsL1, portWidth, reqQueueSizeL0, reqQueueSizeL1,
	banks, maxAccesses, bankWidth, maxMisses, decomprLatency int, name string, sink stats.Sink) *Cache {
	if sink == nil {
		sink = stats.Nop
	}
	l0 := fetchcache.New[uint64](waysL0, setsL0, lineSizeL0, reqQueueSizeL0, name+".L0", sink)
	l1 := texcache.New(waysL1, setsL1, lineSizeL0, portWidth, reqQueueSizeL1, banks, maxAccesses, bankWidth, maxMisses, decomprLatency, name+".L1", sink)
	return &Cache{
		name:       name,
		l0:         l0,
		l1:         l1,
		lineSizeL0: lineSizeL0,
		l0req:      make([]l0State, reqQueueSizeL0),
	}
}

// Ways, Sets, LineSize expose L0's geometry, the contract the consumer
// sees.
func (c *Cache) Ways() int     { return c.l0.Ways() }
func (c *Cache) Sets() int     { return c.l0.Sets() }
func (c *Cache) LineSize() int { return c.lineSizeL0 }

// SetLogger and SetDebug attach tracing to both levels.
func (c *Cache) SetLogger(l texcache.Logger) {
	c.l0.SetLogger(l)
	c.l1.SetLogger(l)
}

func (c *Cache) SetDebug(enable bool) {
	c.l0.SetDebug(enable)
	c.l1.SetDebug(enable)
}

// Fetch reserves (and, on an L0 miss, begins filling from L1) the line
// for address. BlackTexelAddress short-circuits exactly as in texcache.
func (c *Cache) Fetch(address uint64, source any) fetchcache.FetchResult {
	if address == texcache.BlackTexelAddress {
		return fetchcache.FetchResult{OK: true, Way: texcache.SentinelWay, Set: texcache.SentinelSet, Ready: true}
	}
	return c.l0.Fetch(address, false, source)
}

// Read reads size bytes at address's offset from L0's (way, set).
func (c *Cache) Read(address uint64, way, set, size int, buf []byte) bool {
	if way == texcache.SentinelWay && set == texcache.SentinelSet {
		for i := 0; i < size; i++ {
			buf[i] = 0
		}
		return true
	}
	return c.l0.Read(address, way, set, size, buf)
}

// Unreserve releases one reservation on L0's (way, set); the sentinel
// pair is a no-op.
func (c *Cache) Unreserve(way, set int) {
	if way == texcache.SentinelWay && set == texcache.SentinelSet {
		return
	}
	c.l0.Unreserve(way, set)
}

// Reset empties both cache levels and the pending L0-to-L1 request table.
func (c *Cache) Reset() {
	c.l0.Reset()
	c.l1.Reset()
	for i := range c.l0req {
		c.l0req[i] = l0State{}
	}
}

// ProcessMemoryTransaction delivers READ_DATA to L1, the only level that
// talks to memory.
func (c *Cache) ProcessMemoryTransaction(cycle uint64, tx memtrans.Transaction) {
	c.l1.ProcessMemoryTransaction(cycle, tx)
}

// tryCommit reads the L1 line for e into L0 and releases the L1
// reservation, completing one L0 fill. It fails (transiently, like any
// other cache access) while the L1 line is still being filled from
// memory or its read port/bank is busy; the caller retries on a later
// cycle.
func (c *Cache) tryCommit(id int, e *l0State) bool {
	buf := make([]byte, c.lineSizeL0)
	if !c.l1.Read(e.req.InAddress, e.l1Way, e.l1Set, c.lineSizeL0, buf) {
		return false
	}
	c.l0.WriteLine(e.req.Way, e.req.Set, buf)
	c.l0.FreeRequest(id, false, true)
	c.l1.Unreserve(e.l1Way, e.l1Set)
	*e = l0State{}
	return true
}

// Update advances both cache levels by one cycle: it drives L1's memory
// pipeline, retries every pending L0 fill against L1, and hands at most
// one new L0 miss down to L1 per cycle. On a cycle where L1 emits a
// memory transaction, Update returns it and does neither of the other
// two.
func (c *Cache) Update(cycle uint64, memoryState memtrans.ControllerState) (tx *memtrans.Transaction, filled bool, tag uint64) {
	l1tx, _, _ := c.l1.Update(cycle, memoryState)
	if l1tx != nil {
		return l1tx, false, 0
	}

	for id := range c.l0req {
		e := &c.l0req[id]
		if !e.inUse {
			continue
		}
		addr := e.req.InAddress
		if c.tryCommit(id, e) {
			filled = true
			tag = addr
		}
	}

	if id, req, ok := c.l0.GetRequest(); ok {
		res := c.l1.Fetch(req.InAddress, req.Source)
		if !res.OK {
			c.l0.Requeue(id)
			return nil, filled, tag
		}
		c.l0req[id] = l0State{inUse: true, req: req, l1Way: res.Way, l1Set: res.Set}
		if c.tryCommit(id, &c.l0req[id]) {
			filled = true
			tag = req.InAddress
		}
	}

	return nil, filled, tag
}

// String implements fmt.Stringer for debug traces.
func (c *Cache) String() string {
	return c.name + " (two-level texture cache)"
}
