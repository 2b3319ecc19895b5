// Package inputcache implements the vertex-stream input cache of spec
// §4.6: a thin driver over fetchcache.Cache[uint32] that adds only a
// multi-ported, fixed-width read/write timing model. Unlike texcache it
// has no banks, no miss quota, and no decompression — a fill is a
// straight copy of the memory-returned bytes into the line.
package inputcache

import (
	"fmt"

	"github.com/gpusim/cachesim/fetchcache"
	"github.com/gpusim/cachesim/ints"
	"github.com/gpusim/cachesim/memtrans"
	"github.com/gpusim/cachesim/stats"
)

// Logger mirrors fetchcache.Logger so callers don't need to import both
// packages just to wire a trace sink.
type Logger = fetchcache.Logger

// fillEntry tracks one in-flight line fill, indexed by its owning
// fetchcache request id (as in texcache, the two queues march in lock
// step, so no separate allocator is needed).
type fillEntry struct {
	inUse      bool
	req        fetchcache.Request
	size       uint32
	received   uint32
	data       []byte
	ticket     uint32
	haveTicket bool
}

// Cache is the input cache: a fetchcache.Cache[uint32] plus a multi-port
// read/write timing model and an uncompressed fill pipeline.
type Cache struct {
	name  string
	fc    *fetchcache.Cache[uint32]
	stats stats.Sink

	lineSize  int
	numPorts  int
	portWidth int

	tickets *memtrans.TicketPool

	readPortCycles []int
	writeCycles    int
	memoryCycles   int // bus-busy countdown seeded from the last READ_DATA's BusCycles

	queue   []fillEntry
	pending []int // fetchcache request ids awaiting a READ_REQ, FIFO
}

// New creates an input cache. ways/sets/lineSize/reqQueueSize follow the
// generic fetch-cache contract; numPorts is the number of independent
// read/write ports and portWidth their width in bytes.
func New(ways, sets, lineSize, numPorts, portWidth, reqQueueSize int, name string, sink stats.Sink) *Cache {
	if numPorts <= 0 || portWidth <= 0 {
		panic("inputcache: numPorts and portWidth must be positive")
	}
	if sink == nil {
		sink = stats.Nop
	}
	return &Cache{
		name:           name,
		fc:             fetchcache.New[uint32](ways, sets, lineSize, reqQueueSize, name, sink),
		stats:          sink,
		lineSize:       lineSize,
		numPorts:       numPorts,
		portWidth:      portWidth,
		tickets:        memtrans.NewTicketPool(memtrans.MaxMemoryTickets, 0),
		readPortCycles: make([]int, numPorts),
		queue:          make([]fillEntry, reqQueueSize),
	}
}

// ceilDiv computes the number of d-sized chunks needed to cover n,
// delegating to the teacher's generic ints.ChunkCount.
func ceilDiv(n, d int) int { return int(ints.ChunkCount(uint(n), uint(d))) }

// SetLogger and SetDebug delegate to the underlying fetch cache.
func (c *Cache) SetLogger(l Logger)   { c.fc.SetLogger(l) }
func (c *Cache) SetDebug(enable bool) { c.fc.SetDebug(enable) }

// Ways, Sets, LineSize, RequestQueueSize expose the cache's geometry.
func (c *Cache) Ways() int             { return c.fc.Ways() }
func (c *Cache) Sets() int             { return c.fc.Sets() }
func (c *Cache) LineSize() int         { return c.fc.LineSize() }
func (c *Cache) RequestQueueSize() int { return c.fc.RequestQueueSize() }

func (c *Cache) freePort() int {
	for i := 0; i < c.numPorts; i++ {
		if c.readPortCycles[i] == 0 {
			return i
		}
	}
	return -1
}

// Fetch reserves and, on a miss, schedules a fetch for the line
// containing address. There is no bank limit or miss quota: the only
// resource that can make this fail is the fetch cache's own reservation
// and request-queue bookkeeping.
func (c *Cache) Fetch(address uint32, source any) fetchcache.FetchResult {
	return c.fc.Fetch(address, false, source)
}

// Read reads size bytes at address's offset from (way, set), subject
// only to the read-port busy model.
func (c *Cache) Read(address uint32, way, set, size int, buf []byte) bool {
	port := c.freePort()
	if port < 0 {
		return false
	}
	if !c.fc.Read(address, way, set, size, buf) {
		return false
	}
	c.readPortCycles[port] = ceilDiv(size, c.portWidth)
	return true
}

// Unreserve releases one reservation on (way, set).
func (c *Cache) Unreserve(way, set int) { c.fc.Unreserve(way, set) }

// Reset returns the cache, its ticket pool, and its fill pipeline to
// their initial empty state.
func (c *Cache) Reset() {
	c.fc.Reset()
	c.tickets.Reset()
	for i := range c.queue {
		c.queue[i] = fillEntry{}
	}
	c.pending = c.pending[:0]
	for i := range c.readPortCycles {
		c.readPortCycles[i] = 0
	}
	c.writeCycles = 0
	c.memoryCycles = 0
}

// ProcessMemoryTransaction delivers a READ_DATA transaction from the
// memory controller, keyed by ticket, accumulating its payload against
// the fill it belongs to.
func (c *Cache) ProcessMemoryTransaction(cycle uint64, tx memtrans.Transaction) {
	if tx.Command != memtrans.ReadData {
		panic(fmt.Sprintf("inputcache: unsupported transaction command %s", tx.Command))
	}
	id, issueCycle, ok := c.tickets.Release(tx.Ticket)
	if !ok {
		panic("inputcache: received data for an unknown ticket")
	}
	e := &c.queue[id]
	e.data = append(e.data, tx.Data...)
	e.received += uint32(len(tx.Data))
	if busy := int(tx.BusCycles); busy > c.memoryCycles {
		c.memoryCycles = busy
	}
	c.stats.Add(stats.MemoryRequests, 1)
	c.stats.Add(stats.MemoryRequestLatency, int64(cycle-issueCycle))
}

// Update advances the input cache by one cycle: age out busy read/write
// ports and the memory-bus-busy countdown seeded from the last received
// transaction's BusCycles, drain one spill/fill request from the fetch
// cache, emit at most one outbound READ_REQ, and commit a fully-received
// line straight to the cache once the bus is free (no decompression
// stage). It returns the transaction to submit to the memory
// controller (nil if none), and whether a line finished filling this
// cycle together with its tag.
func (c *Cache) Update(cycle uint64, memoryState memtrans.ControllerState) (tx *memtrans.Transaction, filled bool, tag uint32) {
	for i := range c.readPortCycles {
		if c.readPortCycles[i] > 0 {
			c.readPortCycles[i]--
		}
	}
	if c.writeCycles > 0 {
		c.writeCycles--
	}
	if c.memoryCycles > 0 {
		c.memoryCycles--
	}

	if id, req, ok := c.fc.GetRequest(); ok {
		switch {
		case req.Spill:
			wtx := memtrans.Transaction{
				Command: memtrans.WriteReq,
				Address: uint64(req.OutAddress),
				Size:    uint32(c.lineSize),
				Source:  memtrans.SourceSpill,
			}
			c.fc.FreeRequest(id, true, false)
			if req.Fill {
				c.fc.Requeue(id)
			}
			return &wtx, false, 0
		case req.Fill:
			c.queue[id] = fillEntry{inUse: true, req: req, size: uint32(c.lineSize)}
			c.pending = append(c.pending, id)
		default:
			c.fc.FreeRequest(id, false, false)
		}
	}

	for len(c.pending) > 0 {
		id := c.pending[0]
		e := &c.queue[id]
		if !e.inUse || e.haveTicket {
			c.pending = c.pending[1:]
			continue
		}
		if memoryState&memtrans.StateReadAccept == 0 {
			break
		}
		ticket, ok := c.tickets.Acquire(id, cycle)
		if !ok {
			break
		}
		e.haveTicket = true
		e.ticket = ticket
		rtx := memtrans.Transaction{
			Command: memtrans.ReadReq,
			Address: uint64(e.req.InAddress),
			Size:    e.size,
			Ticket:  ticket,
			Source:  memtrans.SourceFetch,
		}
		c.pending = c.pending[1:]
		return &rtx, false, 0
	}

	if c.writeCycles == 0 && c.memoryCycles == 0 {
		for id := range c.queue {
			e := &c.queue[id]
			if e.inUse && e.haveTicket && e.received >= e.size {
				c.fc.WriteLine(e.req.Way, e.req.Set, e.data)
				c.fc.FreeRequest(id, false, true)
				tag = e.req.InAddress
				filled = true
				c.writeCycles = ceilDiv(c.lineSize, c.portWidth)
				c.queue[id] = fillEntry{}
				break
			}
		}
	}

	return nil, filled, tag
}

// String implements fmt.Stringer for debug traces.
func (c *Cache) String() string {
	return fmt.Sprintf("inputcache.Cache[%s](%dx%dx%d, %d ports)", c.name, c.fc.Ways(), c.fc.Sets(), c.lineSize, c.numPorts)
}
