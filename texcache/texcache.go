// Package texcache specializes the fetch cache for texture sampling
// (spec §4.4): banked tag/data access limits with same-line collapsing, a
// per-cycle miss quota, a multi-ported read model, and a fill pipeline
// that decompresses DXT/LATC blocks before committing them to the line.
package texcache

import (
	"fmt"

	"github.com/gpusim/cachesim/fetchcache"
	"github.com/gpusim/cachesim/ints"
	"github.com/gpusim/cachesim/memtrans"
	"github.com/gpusim/cachesim/stats"
	"github.com/gpusim/cachesim/texcache/texcodec"
)

// BlackTexelAddress is a reserved sentinel texture address: its space tag
// (0xF) is never produced by texcodec.TagAddress for a real compression
// mode. Fetching it succeeds immediately and reading it yields zeros,
// used for out-of-bounds texture sampling (spec §4.4, §6).
const BlackTexelAddress = uint64(0xF) << 60

// SentinelWay and SentinelSet are the pseudo-way/pseudo-line pair a
// BlackTexelAddress fetch reports; Unreserve treats this pair as a no-op
// (spec §6).
const (
	SentinelWay = 0x80000000
	SentinelSet = 0x80000000
)

// Logger mirrors fetchcache.Logger so callers don't need to import both
// packages just to wire a trace sink.
type Logger = fetchcache.Logger

// fillEntry tracks one in-flight line fill, indexed by its owning
// fetchcache request id (the two queues march in lock step, so no
// separate allocator is needed).
type fillEntry struct {
	inUse      bool
	req        fetchcache.Request
	mode       texcodec.Mode
	memAddress uint64
	size       uint32
	received   uint32
	data       []byte
	ticket     uint32
	haveTicket bool
}

// Cache is a texture cache: a fetchcache.Cache[uint64] plus the resource
// limits and fill pipeline described in spec §4.4.
type Cache struct {
	name  string
	fc    *fetchcache.Cache[uint64]
	stats stats.Sink

	lineSize       int
	portWidth      int
	banks          int
	maxAccesses    int
	maxMisses      int
	decomprLatency int

	bankShift uint
	bankMask  uint64

	tickets *memtrans.TicketPool

	tagBankAccess  []int
	dataBankAccess []int
	tagBankLines   [][]uint64
	dataBankLines  [][]uint64
	cycleMisses    int

	readPortCycles []int
	writeCycles    int

	queue   []fillEntry
	pending []int // fetchcache request ids awaiting a READ_REQ, FIFO

	decompressing    int // index into queue, -1 if the stage is free
	uncompressCycles int
	memoryCycles     int // bus-busy countdown seeded from the last READ_DATA's BusCycles
}

// New creates a texture cache. ways/lines/lineSize/reqQueueSize follow
// the generic fetch-cache contract; portWidth is the read/write port
// width in bytes; banks/maxAccesses/bankWidth bound concurrent tag and
// data accesses per cycle; maxMisses bounds misses serviced per cycle;
// decomprLatency is the cycles a compressed block takes to decompress.
func New(ways, sets, lineSize, portWidth, reqQueueSize, banks, maxAccesses, bankWidth, maxMisses, decomprLatency int, name string, sink stats.Sink) *Cache {
	if banks <= 0 || maxAccesses <= 0 || bankWidth <= 0 || maxMisses <= 0 || portWidth <= 0 || decomprLatency < 0 {
		panic("texcache: banks, maxAccesses, bankWidth, maxMisses, and portWidth must be positive")
	}
	if sink == nil {
		sink = stats.Nop
	}
	c := &Cache{
		name:           name,
		fc:             fetchcache.New[uint64](ways, sets, lineSize, reqQueueSize, name, sink),
		stats:          sink,
		lineSize:       lineSize,
		portWidth:      portWidth,
		banks:          banks,
		maxAccesses:    maxAccesses,
		maxMisses:      maxMisses,
		decomprLatency: decomprLatency,
		bankShift:      log2u(uint64(bankWidth)),
		bankMask:       uint64(banks - 1),
		tickets:        memtrans.NewTicketPool(memtrans.MaxMemoryTickets, 0),
		tagBankAccess:  make([]int, banks),
		dataBankAccess: make([]int, banks),
		tagBankLines:   make([][]uint64, banks),
		dataBankLines:  make([][]uint64, banks),
		readPortCycles: make([]int, banks*maxAccesses),
		queue:          make([]fillEntry, reqQueueSize),
		decompressing:  -1,
	}
	return c
}

func log2u(v uint64) uint {
	if v == 0 || v&(v-1) != 0 {
		panic("texcache: value must be a power of two")
	}
	var n uint
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}

// ceilDiv computes the number of d-sized chunks needed to cover n,
// delegating to the teacher's generic ints.ChunkCount.
func ceilDiv(n, d int) int { return int(ints.ChunkCount(uint(n), uint(d))) }

// SetLogger and SetDebug delegate to the underlying fetch cache.
func (c *Cache) SetLogger(l Logger) { c.fc.SetLogger(l) }
func (c *Cache) SetDebug(enable bool) { c.fc.SetDebug(enable) }

// Ways, Sets, LineSize, RequestQueueSize expose the cache's geometry.
func (c *Cache) Ways() int             { return c.fc.Ways() }
func (c *Cache) Sets() int             { return c.fc.Sets() }
func (c *Cache) LineSize() int         { return c.fc.LineSize() }
func (c *Cache) RequestQueueSize() int { return c.fc.RequestQueueSize() }

func (c *Cache) bank(lineAddr uint64) int {
	return int((lineAddr >> c.bankShift) & c.bankMask)
}

// admitBank applies the per-cycle bank-access limit with same-line
// collapsing: a repeat access to a line already counted this cycle is
// free, but a new line beyond maxAccesses fails and bumps conflictStat.
func (c *Cache) admitBank(access []int, lines [][]uint64, bank int, lineAddr uint64, conflictStat string) bool {
	for _, l := range lines[bank] {
		if l == lineAddr {
			return true
		}
	}
	if access[bank] >= c.maxAccesses {
		c.stats.Add(conflictStat, 1)
		return false
	}
	access[bank]++
	lines[bank] = append(lines[bank], lineAddr)
	return true
}

func (c *Cache) freePort(bank int) int {
	base := bank * c.maxAccesses
	for i := 0; i < c.maxAccesses; i++ {
		if c.readPortCycles[base+i] == 0 {
			return base + i
		}
	}
	return -1
}

// Fetch reserves and, on a miss, schedules a fetch for the line containing
// address, subject to the tag-bank access limit and the per-cycle miss
// quota (spec §4.4). BlackTexelAddress short-circuits to an immediate,
// already-ready hit.
func (c *Cache) Fetch(address uint64, source any) fetchcache.FetchResult {
	if address == BlackTexelAddress {
		return fetchcache.FetchResult{OK: true, Way: SentinelWay, Set: SentinelSet, Miss: false, Ready: true}
	}
	lineAddr := address &^ uint64(c.lineSize-1)
	bank := c.bank(lineAddr)
	if !c.admitBank(c.tagBankAccess, c.tagBankLines, bank, lineAddr, stats.FetchBankConflicts) {
		return fetchcache.FetchResult{OK: false, Miss: true}
	}
	if !c.fc.Peek(address) && c.cycleMisses >= c.maxMisses {
		c.stats.Add(stats.MissFailFetch, 1)
		return fetchcache.FetchResult{OK: false, Miss: true}
	}
	res := c.fc.Fetch(address, false, source)
	if res.OK && res.Miss {
		c.cycleMisses++
	}
	return res
}

// Read reads size bytes at address's offset from (way, set), subject to
// the data-bank access limit and the read-port busy model (spec §4.4).
// A sentinel (way, set) pair from a BlackTexelAddress fetch yields zeros
// unconditionally.
func (c *Cache) Read(address uint64, way, set, size int, buf []byte) bool {
	if way == SentinelWay && set == SentinelSet {
		for i := 0; i < size; i++ {
			buf[i] = 0
		}
		return true
	}
	lineAddr := address &^ uint64(c.lineSize-1)
	bank := c.bank(lineAddr)
	if !c.admitBank(c.dataBankAccess, c.dataBankLines, bank, lineAddr, stats.ReadBankConflicts) {
		return false
	}
	port := c.freePort(bank)
	if port < 0 {
		return false
	}
	if !c.fc.Read(address, way, set, size, buf) {
		return false
	}
	c.readPortCycles[port] = ceilDiv(size, c.portWidth)
	return true
}

// Unreserve releases one reservation on (way, set); the sentinel pair
// reported for BlackTexelAddress is a no-op (spec §6).
func (c *Cache) Unreserve(way, set int) {
	if way == SentinelWay && set == SentinelSet {
		return
	}
	c.fc.Unreserve(way, set)
}

// Reset returns the cache, its ticket pool, and its fill pipeline to
// their initial empty state.
func (c *Cache) Reset() {
	c.fc.Reset()
	c.tickets.Reset()
	for i := range c.queue {
		c.queue[i] = fillEntry{}
	}
	c.pending = c.pending[:0]
	for b := 0; b < c.banks; b++ {
		c.tagBankAccess[b] = 0
		c.dataBankAccess[b] = 0
		c.tagBankLines[b] = nil
		c.dataBankLines[b] = nil
	}
	c.cycleMisses = 0
	for i := range c.readPortCycles {
		c.readPortCycles[i] = 0
	}
	c.writeCycles = 0
	c.decompressing = -1
	c.uncompressCycles = 0
	c.memoryCycles = 0
}

// ProcessMemoryTransaction delivers a READ_DATA transaction from the
// memory controller, keyed by ticket, accumulating its payload against
// the fill it belongs to.
func (c *Cache) ProcessMemoryTransaction(cycle uint64, tx memtrans.Transaction) {
	if tx.Command != memtrans.ReadData {
		panic(fmt.Sprintf("texcache: unsupported transaction command %s", tx.Command))
	}
	id, issueCycle, ok := c.tickets.Release(tx.Ticket)
	if !ok {
		panic("texcache: received data for an unknown ticket")
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

// Update advances the texture cache by one cycle, implementing the
// six-step schedule of spec §4.4: age out busy counters (including the
// memory-bus-busy countdown seeded from the last received transaction's
// BusCycles), drain one spill/fill request from the fetch cache, emit at
// most one outbound READ_REQ, and advance the decompress/commit pipeline
// once the bus is no longer busy. It returns the transaction to submit
// to the memory controller (nil if none), and whether a line finished
// filling this cycle together with its tag.
func (c *Cache) Update(cycle uint64, memoryState memtrans.ControllerState) (tx *memtrans.Transaction, filled bool, tag uint64) {
	for i := range c.readPortCycles {
		if c.readPortCycles[i] > 0 {
			c.readPortCycles[i]--
		}
	}
	if c.writeCycles > 0 {
		c.writeCycles--
	}
	if c.uncompressCycles > 0 {
		c.uncompressCycles--
	}
	if c.memoryCycles > 0 {
		c.memoryCycles--
	}
	for b := 0; b < c.banks; b++ {
		c.tagBankAccess[b] = 0
		c.dataBankAccess[b] = 0
		c.tagBankLines[b] = c.tagBankLines[b][:0]
		c.dataBankLines[b] = c.dataBankLines[b][:0]
	}
	c.cycleMisses = 0

	if id, req, ok := c.fc.GetRequest(); ok {
		switch {
		case req.Spill:
			wtx := memtrans.Transaction{
				Command: memtrans.WriteReq,
				Address: req.OutAddress,
				Size:    uint32(c.lineSize),
				Source:  memtrans.SourceSpill,
			}
			c.fc.FreeRequest(id, true, false)
			if req.Fill {
				c.fc.Requeue(id)
			}
			return &wtx, false, 0
		case req.Fill:
			mode := texcodec.ModeFromAddress(req.InAddress)
			c.queue[id] = fillEntry{
				inUse:      true,
				req:        req,
				mode:       mode,
				memAddress: texcodec.MemoryAddress(req.InAddress, mode),
				size:       uint32(mode.CompressedSize(c.lineSize)),
			}
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
			Address: e.memAddress,
			Size:    e.size,
			Ticket:  ticket,
			Source:  memtrans.SourceFetch,
		}
		c.pending = c.pending[1:]
		return &rtx, false, 0
	}

	if c.decompressing < 0 && c.memoryCycles == 0 {
		for i := range c.queue {
			e := &c.queue[i]
			if e.inUse && e.haveTicket && e.received >= e.size {
				c.decompressing = i
				c.uncompressCycles = c.decomprLatency
				break
			}
		}
	}

	if c.decompressing >= 0 && c.uncompressCycles == 0 && c.writeCycles == 0 {
		id := c.decompressing
		e := &c.queue[id]
		data, err := texcodec.Decompress(e.mode, e.data, c.lineSize)
		if err != nil {
			panic(err)
		}
		c.fc.WriteLine(e.req.Way, e.req.Set, data)
		c.fc.FreeRequest(id, false, true)
		tag = e.req.InAddress
		filled = true
		c.writeCycles = ceilDiv(c.lineSize, c.portWidth)
		c.queue[id] = fillEntry{}
		c.decompressing = -1
	}

	return nil, filled, tag
}

// String implements fmt.Stringer for debug traces.
func (c *Cache) String() string {
	return fmt.Sprintf("texcache.Cache[%s](%dx%dx%d, %d banks)", c.name, c.fc.Ways(), c.fc.Sets(), c.lineSize, c.banks)
}
