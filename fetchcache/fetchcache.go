// Package fetchcache implements the fetch cache: a generic cache extended
// with a per-line reserve counter, dirty/masked bits, a write mask, a
// bounded in-flight memory-request queue, and the four-phase
// fetch/read/write/unreserve access protocol described in spec §4.3.
package fetchcache

import (
	"fmt"

	"golang.org/x/exp/constraints"

	"github.com/gpusim/cachesim/addr"
	"github.com/gpusim/cachesim/cache"
	"github.com/gpusim/cachesim/ints"
	"github.com/gpusim/cachesim/stats"
)

// maxLRU bounds the victim-ring memory: the fetch cache's own victim
// override remembers at most this many recently accessed ways per set,
// regardless of associativity (spec §3 "Victim metadata").
const maxLRU = 4

// Logger receives trace lines when debug mode is enabled, matching the
// teacher's tenant/dcache.Logger shape.
type Logger interface {
	Printf(f string, args ...interface{})
}

// Request is one entry of the bounded memory-request queue (spec §3
// "Request entry"). Source is an opaque cookie (the Go stand-in for the
// original's DynamicObject*) propagated from the Fetch/Allocate call that
// created the request through to whatever drives GetRequest/FreeRequest.
type Request struct {
	InAddress  uint64
	OutAddress uint64
	Set        int
	Way        int
	Spill      bool
	Fill       bool
	Masked     bool
	Source     any

	free bool
}

// Live reports whether the request still has work pending (spec §3: "An
// entry is live while spill || fill").
func (r *Request) Live() bool { return r.Spill || r.Fill }

// FetchResult is the outcome of Fetch: it folds the three C++ overloads
// (plain fetch, fetch with a fail-on-miss flag, fetch with a ready flag)
// into one return value, the same way tenant/dcache.Flag folds cache
// option booleans into a single bitmask argument.
type FetchResult struct {
	OK    bool
	Way   int
	Set   int
	Miss  bool
	Ready bool
}

// Cache is a fetch cache over address type T (uint32 for the 32-bit
// input/Z/color variants, uint64 for the texture cache's address space).
type Cache[T constraints.Unsigned] struct {
	base   *cache.Cache[T]
	layout addr.Layout[T]

	ways, sets, lineSize int
	name                 string
	logger               Logger
	debug                bool
	stats                stats.Sink

	reserve   [][]int
	dirty     [][]bool
	masked    [][]bool
	replacing [][]bool
	// writeMask packs one bit per line byte into uint64 words (via the
	// ints package's bit-range helpers) rather than one bool per byte.
	writeMask [][][]uint64

	victimRing [][maxLRU]int
	firstWay   int

	queue        []Request
	freeList     []int // ring of free queue indices
	freeHead     int
	freeCount    int
	activeList   []int // ring of active queue indices, oldest first
	activeHead   int
	activeCount  int
}

// New creates a fetch cache with the given geometry and request-queue
// capacity. ways, sets, lineSize, and reqQueueSize must be positive;
// sets and lineSize must be powers of two (enforced by cache.New /
// addr.NewLayout). sink may be stats.Nop.
func New[T constraints.Unsigned](ways, sets, lineSize, reqQueueSize int, name string, sink stats.Sink) *Cache[T] {
	if reqQueueSize <= 0 {
		panic("fetchcache: request queue size must be positive")
	}
	base := cache.New[T](ways, sets, lineSize, nil) // victim selection is overridden below
	fc := &Cache[T]{
		base:     base,
		layout:   base.Layout(),
		ways:     ways,
		sets:     sets,
		lineSize: lineSize,
		name:     name,
		stats:    sink,
		queue:    make([]Request, reqQueueSize),
		freeList: make([]int, reqQueueSize),
		activeList: make([]int, reqQueueSize),
	}
	if fc.stats == nil {
		fc.stats = stats.Nop
	}
	fc.reserve = make2D[int](ways, sets)
	fc.dirty = make2DBool(ways, sets)
	fc.masked = make2DBool(ways, sets)
	fc.replacing = make2DBool(ways, sets)
	maskWords := int(ints.ChunkCount(uint(lineSize), 64))
	fc.writeMask = make([][][]uint64, ways)
	for w := 0; w < ways; w++ {
		fc.writeMask[w] = make([][]uint64, sets)
		for s := 0; s < sets; s++ {
			fc.writeMask[w][s] = make([]uint64, maskWords)
		}
	}
	fc.victimRing = make([][maxLRU]int, sets)
	fc.Reset()
	return fc
}

func make2D[E any](ways, sets int) [][]E {
	out := make([][]E, ways)
	for w := range out {
		out[w] = make([]E, sets)
	}
	return out
}

func make2DBool(ways, sets int) [][]bool {
	return make2D[bool](ways, sets)
}

// SetLogger attaches a logger for debug tracing; nil disables it.
func (fc *Cache[T]) SetLogger(l Logger) { fc.logger = l }

// SetDebug enables or disables debug trace output (spec §9 "Supplemented
// Features": the original's setDebug/debugMode toggle).
func (fc *Cache[T]) SetDebug(enable bool) { fc.debug = enable }

func (fc *Cache[T]) tracef(f string, args ...interface{}) {
	if fc.debug && fc.logger != nil {
		fc.logger.Printf("%s => "+f, append([]interface{}{fc.name}, args...)...)
	}
}

// Ways, Sets, LineSize, RequestQueueSize expose the cache's geometry.
func (fc *Cache[T]) Ways() int             { return fc.ways }
func (fc *Cache[T]) Sets() int             { return fc.sets }
func (fc *Cache[T]) LineSize() int         { return fc.lineSize }
func (fc *Cache[T]) RequestQueueSize() int { return len(fc.queue) }

// Layout exposes the address decomposition this cache was built with.
func (fc *Cache[T]) Layout() addr.Layout[T] { return fc.layout }

// Reserve returns the current reservation count for (way, set).
func (fc *Cache[T]) Reserve(way, set int) int { return fc.reserve[way][set] }

// Replacing reports whether a fill for (way, set) is in flight.
func (fc *Cache[T]) Replacing(way, set int) bool { return fc.replacing[way][set] }

// Dirty reports whether (way, set) has been written since its last fill.
func (fc *Cache[T]) Dirty(way, set int) bool { return fc.dirty[way][set] }

// allMaskedBytesWritten reports whether every byte of (way, set)'s write
// mask is set, used to decide whether a masked line counts as a Fetch
// hit (spec §4.3: "hit requires ... (not masked or all bytes written)").
func (fc *Cache[T]) allMaskedBytesWritten(way, set int) bool {
	mask := fc.writeMask[way][set]
	for i := 0; i < fc.lineSize; i++ {
		if !ints.TestBit(mask, i) {
			return false
		}
	}
	return true
}

// touchVictimRing records way as the most recent access for set,
// replacing the fetch cache's own victim bookkeeping for the underlying
// replacement policy (spec §4.3 "Victim selection").
func (fc *Cache[T]) touchVictimRing(way, set int) {
	ring := &fc.victimRing[set]
	aux := ring[maxLRU-1]
	ring[maxLRU-1] = way
	for i := maxLRU - 2; i >= 0 && aux != way; i-- {
		ring[i], aux = aux, ring[i]
	}
}

// nextVictim implements the ring-plus-rotating-pointer victim search of
// spec §4.3.
func (fc *Cache[T]) nextVictim(set int) int {
	fc.firstWay = (fc.firstWay + 1) % fc.ways
	ring := &fc.victimRing[set]
	for i := fc.firstWay; i < fc.ways; i++ {
		if fc.reserve[i][set] != 0 {
			continue
		}
		inRing := false
		for j := 0; j < maxLRU; j++ {
			if ring[j] == i {
				inRing = true
				break
			}
		}
		if !inRing {
			return i
		}
	}
	for j := 0; j < maxLRU; j++ {
		w := ring[j]
		if fc.reserve[w][set] == 0 {
			return w
		}
	}
	return 0
}

func (fc *Cache[T]) allocFreeRequest() (int, bool) {
	if fc.freeCount == 0 {
		return 0, false
	}
	idx := fc.freeList[fc.freeHead]
	fc.freeHead = (fc.freeHead + 1) % len(fc.freeList)
	fc.freeCount--
	fc.queue[idx].free = false
	fc.activeList[(fc.activeHead+fc.activeCount)%len(fc.activeList)] = idx
	fc.activeCount++
	return idx, true
}

func (fc *Cache[T]) releaseFreeRequest(idx int) {
	fc.queue[idx] = Request{free: true}
	pos := (fc.freeHead + fc.freeCount) % len(fc.freeList)
	fc.freeList[pos] = idx
	fc.freeCount++
}

// Peek reports whether address is currently resident, without mutating
// any reservation or replacement state. Specialized variants (texcache)
// use this to decide whether a pending Fetch will consume a miss-quota
// slot before committing to it.
func (fc *Cache[T]) Peek(address T) bool {
	hit, way, set := fc.base.Search(address)
	if hit && fc.masked[way][set] {
		hit = fc.allMaskedBytesWritten(way, set)
	}
	return hit
}

// Fetch reserves and, on a miss, requests from memory the line
// containing address. failOnMiss folds the C++ overload where the
// caller wants to fail rather than allocate a new line on a miss.
func (fc *Cache[T]) Fetch(address T, failOnMiss bool, source any) FetchResult {
	hit, way, set := fc.base.Search(address)
	if hit && fc.masked[way][set] {
		hit = fc.allMaskedBytesWritten(way, set)
	}
	if hit {
		fc.tracef("Fetch hit address %#x.", uint64(address))
		fc.reserve[way][set]++
		fc.stats.Add(stats.HitsFetch, 1)
		return FetchResult{OK: true, Way: way, Set: set, Miss: false, Ready: !fc.replacing[way][set]}
	}

	fc.tracef("Fetch miss address %#x.", uint64(address))
	fc.stats.Add(stats.MissesFetch, 1)

	if failOnMiss {
		fc.stats.Add(stats.MissFailFetch, 1)
		fc.stats.Add(stats.MissFailMissFetch, 1)
		return FetchResult{OK: false, Miss: true}
	}

	set = int(fc.layout.Set(address))
	way = fc.nextVictim(set)
	if fc.reserve[way][set] != 0 {
		fc.stats.Add(stats.MissFailFetch, 1)
		fc.stats.Add(stats.MissFailReserveFetch, 1)
		return FetchResult{OK: false, Miss: true}
	}
	idx, ok := fc.allocFreeRequest()
	if !ok {
		fc.stats.Add(stats.MissFailFetch, 1)
		fc.stats.Add(stats.MissFailReqQueueFetch, 1)
		return FetchResult{OK: false, Miss: true}
	}

	oldAddress := fc.layout.LineAddress(fc.base.Tag(way, set), T(set))
	wasValid := fc.base.Valid(way, set)
	wasDirty := fc.dirty[way][set]
	wasMasked := fc.masked[way][set]

	fc.base.Replace(address, way)

	req := Request{
		InAddress:  uint64(fc.layout.LineAddress(fc.layout.Tag(address), T(set))),
		OutAddress: uint64(oldAddress),
		Set:        set,
		Way:        way,
		Fill:       true,
		Source:     source,
	}
	if wasValid && wasDirty {
		req.Spill = true
		req.Masked = wasMasked
	}
	fc.queue[idx] = req
	fc.queue[idx].free = false

	fc.reserve[way][set] = 1
	fc.replacing[way][set] = true
	fc.masked[way][set] = false
	fc.dirty[way][set] = false

	fc.stats.Add(stats.MissOKFetch, 1)
	return FetchResult{OK: true, Way: way, Set: set, Miss: true, Ready: false}
}

// Allocate reserves a cache line for address without reading it first
// (write-buffer mode): on a miss, the line is put directly into masked
// mode and the caller is expected to fill it via masked Write calls.
func (fc *Cache[T]) Allocate(address T, source any) (ok bool, way, set int) {
	hit, way, set := fc.base.Search(address)
	if hit {
		fc.reserve[way][set]++
		fc.stats.Add(stats.HitsAlloc, 1)
		return true, way, set
	}

	fc.stats.Add(stats.MissesAlloc, 1)
	set = int(fc.layout.Set(address))
	way = fc.nextVictim(set)
	if fc.reserve[way][set] != 0 {
		fc.stats.Add(stats.MissFailAlloc, 1)
		fc.stats.Add(stats.MissFailReserveAlloc, 1)
		return false, 0, 0
	}

	wasValid := fc.base.Valid(way, set)
	wasDirty := fc.dirty[way][set]

	if wasValid && wasDirty {
		idx, ok := fc.allocFreeRequest()
		if !ok {
			fc.stats.Add(stats.MissFailAlloc, 1)
			fc.stats.Add(stats.MissFailReqQueueAlloc, 1)
			return false, 0, 0
		}
		oldAddress := fc.layout.LineAddress(fc.base.Tag(way, set), T(set))
		fc.queue[idx] = Request{
			OutAddress: uint64(oldAddress),
			Set:        set,
			Way:        way,
			Spill:      true,
			Masked:     true,
			Source:     source,
		}
	}

	fc.base.Replace(address, way)
	ints.ClearBits(fc.writeMask[way][set], 0, fc.lineSize)
	fc.reserve[way][set] = 1
	fc.masked[way][set] = true
	fc.dirty[way][set] = false

	fc.stats.Add(stats.MissOKAlloc, 1)
	return true, way, set
}

func checkAccessBounds(offset, size, lineSize int) {
	if size%4 != 0 {
		panic("fetchcache: size must be a multiple of 4 bytes")
	}
	if size > lineSize {
		panic("fetchcache: trying to access more than a cache line")
	}
	if offset+size > lineSize {
		panic("fetchcache: trying to access beyond the cache line")
	}
}

func (fc *Cache[T]) checkResident(address T, way, set int) {
	if fc.base.Tag(way, set) != fc.layout.Tag(address) {
		panic("fetchcache: trying to access an unfetched address")
	}
}

// Read copies size bytes starting at address's offset from (way, set)
// into buf. It fails while the line is still being filled.
func (fc *Cache[T]) Read(address T, way, set, size int, buf []byte) bool {
	off := int(fc.layout.Offset(address))
	checkAccessBounds(off, size, fc.lineSize)
	fc.checkResident(address, way, set)
	if fc.replacing[way][set] {
		fc.stats.Add(stats.ReadsFail, 1)
		return false
	}
	copy(buf[:size], fc.base.Line(way, set)[off:off+size])
	fc.touchVictimRing(way, set)
	fc.stats.Add(stats.ReadsOK, 1)
	fc.stats.Add(stats.ReadBytes, int64(size))
	return true
}

// Write copies size bytes from buf into (way, set) at address's offset,
// marks the line dirty, and decrements its reservation.
func (fc *Cache[T]) Write(address T, way, set, size int, buf []byte) bool {
	off := int(fc.layout.Offset(address))
	checkAccessBounds(off, size, fc.lineSize)
	fc.checkResident(address, way, set)
	if fc.replacing[way][set] {
		fc.stats.Add(stats.WritesFail, 1)
		return false
	}
	copy(fc.base.Line(way, set)[off:off+size], buf[:size])
	fc.dirty[way][set] = true
	if fc.reserve[way][set] > 0 {
		fc.reserve[way][set]--
	}
	fc.touchVictimRing(way, set)
	fc.stats.Add(stats.WritesOK, 1)
	fc.stats.Add(stats.WriteBytes, int64(size))
	return true
}

// WriteMasked is the masked overload of Write: only bytes with mask[i]
// set participate, writeMask[b] accumulates with |=, and dirty is only
// set if any byte was actually written.
func (fc *Cache[T]) WriteMasked(address T, way, set, size int, buf []byte, mask []bool) bool {
	off := int(fc.layout.Offset(address))
	checkAccessBounds(off, size, fc.lineSize)
	fc.checkResident(address, way, set)
	if fc.replacing[way][set] {
		fc.stats.Add(stats.WritesFail, 1)
		return false
	}
	line := fc.base.Line(way, set)
	anyWrite := false
	for i := 0; i < size; i++ {
		if !mask[i] {
			continue
		}
		line[off+i] = buf[i]
		ints.SetBit(fc.writeMask[way][set], off+i)
		anyWrite = true
	}
	fc.dirty[way][set] = fc.dirty[way][set] || anyWrite
	if fc.reserve[way][set] > 0 {
		fc.reserve[way][set]--
	}
	fc.touchVictimRing(way, set)
	fc.stats.Add(stats.WritesOK, 1)
	fc.stats.Add(stats.WriteBytes, int64(size))
	return true
}

// ReadLine is the internal fast path used by the fill/spill engine to
// read a whole line regardless of offset alignment.
func (fc *Cache[T]) ReadLine(way, set int, buf []byte) {
	copy(buf[:fc.lineSize], fc.base.Line(way, set))
}

// WriteLine is the internal fast path used by the fill engine to commit
// a freshly-fetched line; it clears dirty and returns the line's tag.
func (fc *Cache[T]) WriteLine(way, set int, data []byte) T {
	fc.base.FillAt(way, set, data)
	fc.dirty[way][set] = false
	return fc.base.Tag(way, set)
}

// ReadMask returns a copy of the per-byte write mask for (way, set),
// used when building a masked spill transaction.
func (fc *Cache[T]) ReadMask(way, set int) []bool {
	out := make([]bool, fc.lineSize)
	for i := range out {
		out[i] = ints.TestBit(fc.writeMask[way][set], i)
	}
	return out
}

// ResetMask clears the per-byte write mask for (way, set).
func (fc *Cache[T]) ResetMask(way, set int) {
	ints.ClearBits(fc.writeMask[way][set], 0, fc.lineSize)
}

// Unreserve releases one reservation on (way, set), flooring at zero.
func (fc *Cache[T]) Unreserve(way, set int) {
	if fc.reserve[way][set] > 0 {
		fc.reserve[way][set]--
	}
	fc.stats.Add(stats.Unreserves, 1)
}

// Reset returns every slot to Empty and empties the request queue and
// its free/active rings.
func (fc *Cache[T]) Reset() {
	fc.base.Reset()
	fc.firstWay = 0
	for w := 0; w < fc.ways; w++ {
		for s := 0; s < fc.sets; s++ {
			fc.reserve[w][s] = 0
			fc.dirty[w][s] = false
			fc.masked[w][s] = false
			fc.replacing[w][s] = false
			ints.ClearBits(fc.writeMask[w][s], 0, fc.lineSize)
		}
	}
	for s := range fc.victimRing {
		fc.victimRing[s] = [maxLRU]int{}
	}
	for i := range fc.queue {
		fc.queue[i] = Request{free: true}
		fc.freeList[i] = i
	}
	fc.freeHead = 0
	fc.freeCount = len(fc.queue)
	fc.activeHead = 0
	fc.activeCount = 0
}

// Flush enqueues a spill request for every valid dirty or masked line
// that is not being filled, until the request queue fills; valid clean
// lines are invalidated without a spill. It returns false if the queue
// filled first, and true once every such line has been queued for spill;
// it does not wait for the spills to complete.
func (fc *Cache[T]) Flush() bool {
	for w := 0; w < fc.ways; w++ {
		for s := 0; s < fc.sets; s++ {
			if !fc.base.Valid(w, s) || fc.replacing[w][s] {
				continue
			}
			if !fc.dirty[w][s] && !fc.masked[w][s] {
				fc.base.InvalidateAt(w, s)
				continue
			}
			idx, ok := fc.allocFreeRequest()
			if !ok {
				return false
			}
			addrLine := fc.layout.LineAddress(fc.base.Tag(w, s), T(s))
			fc.queue[idx] = Request{
				OutAddress: uint64(addrLine),
				Set:        s,
				Way:        w,
				Spill:      true,
				Masked:     fc.masked[w][s],
			}
			fc.replacing[w][s] = true
			fc.base.InvalidateAt(w, s)
		}
	}
	return true
}

// GetRequest pops the next active request for a memory-controller driver
// to service. ok is false if the queue has no active requests.
func (fc *Cache[T]) GetRequest() (id int, req Request, ok bool) {
	if fc.activeCount == 0 {
		return 0, Request{}, false
	}
	id = fc.activeList[fc.activeHead]
	fc.activeHead = (fc.activeHead + 1) % len(fc.activeList)
	fc.activeCount--
	return id, fc.queue[id], true
}

// Requeue puts a request back at the front of the active list, for
// drivers that popped a request via GetRequest but could not service it
// this cycle (e.g. the controller refused a read).
func (fc *Cache[T]) Requeue(id int) {
	fc.activeHead = (fc.activeHead - 1 + len(fc.activeList)) % len(fc.activeList)
	fc.activeList[fc.activeHead] = id
	fc.activeCount++
}

// FreeRequest marks parts of request id complete. Once both its spill
// and fill halves are done, the slot's replacing flag is cleared, its
// write mask is reset, and the entry returns to the free list.
func (fc *Cache[T]) FreeRequest(id int, freeSpill, freeFill bool) {
	req := &fc.queue[id]
	if freeSpill {
		req.Spill = false
	}
	if freeFill {
		req.Fill = false
	}
	if req.Live() {
		return
	}
	way, set := req.Way, req.Set
	fc.replacing[way][set] = false
	ints.ClearBits(fc.writeMask[way][set], 0, fc.lineSize)
	fc.releaseFreeRequest(id)
}

// String implements fmt.Stringer for debug traces.
func (fc *Cache[T]) String() string {
	return fmt.Sprintf("fetchcache.Cache[%s](%dx%dx%d)", fc.name, fc.ways, fc.sets, fc.lineSize)
}
