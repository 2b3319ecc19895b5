// Package memtrans defines the wire format a fetch cache uses to talk to
// the (out of scope) memory controller: transaction records, the
// controller's accept-state bitmask, and the ticket pool that associates
// outstanding requests with request-queue slots.
package memtrans

import (
	"encoding/binary"

	"github.com/dchest/siphash"
)

// Command identifies the kind of memory transaction.
type Command int

const (
	ReadReq Command = iota
	ReadData
	WriteReq
	WriteData
)

func (c Command) String() string {
	switch c {
	case ReadReq:
		return "READ_REQ"
	case ReadData:
		return "READ_DATA"
	case WriteReq:
		return "WRITE_REQ"
	case WriteData:
		return "WRITE_DATA"
	default:
		return "UNKNOWN"
	}
}

// MAX_TRANSACTION_SIZE bounds the size field of any Transaction (spec §6).
const MaxTransactionSize = 1 << 16

// MAX_MEMORY_TICKETS bounds the number of outstanding memory requests any
// single cache may have in flight at once (spec §3, §8).
const MaxMemoryTickets = 32

// ControllerState is a bitmask describing what the memory controller will
// currently accept.
type ControllerState uint32

const (
	// StateReadAccept must be set for the cache to be allowed to emit a
	// ReadReq transaction this cycle.
	StateReadAccept ControllerState = 1 << iota
	StateWriteAccept
)

// Source identifies the subsystem that originated a transaction, carried
// through purely for tracing.
type Source int

const (
	SourceFetch Source = iota
	SourceAlloc
	SourceSpill
)

// Transaction is the value-typed record exchanged with the memory
// controller. The cache never holds a pointer back to the controller;
// transactions are handed over by value and ownership transfers with
// them (Design Note "Cyclic ownership between cache and memory
// controller").
type Transaction struct {
	Command   Command
	Address   uint64
	Size      uint32
	Data      []byte
	Source    Source
	Requester uint32
	Ticket    uint32
	BusCycles uint32
	Cookies   []any
}

// TicketPool is a fixed-capacity free list of ticket IDs used to
// correlate an outstanding memory request with the request-queue slot
// waiting on it.
type TicketPool struct {
	capacity int
	free     []uint32 // ring of free ticket IDs
	head     int
	count    int

	owner      map[uint32]int // ticket -> request-queue index
	issueCycle map[uint32]uint64
}

// NewTicketPool creates a pool of capacity tickets, numbered 0..capacity-1.
// The initial free order is shuffled deterministically from seed via
// siphash so that ticket reuse order is reproducible across runs without
// depending on a global PRNG (tickets are otherwise interchangeable, so
// this has no semantic effect beyond making traces stable).
func NewTicketPool(capacity int, seed uint64) *TicketPool {
	if capacity <= 0 {
		panic("memtrans: ticket pool capacity must be positive")
	}
	order := make([]uint32, capacity)
	for i := range order {
		order[i] = uint32(i)
	}
	shuffle(order, seed)
	return &TicketPool{
		capacity:   capacity,
		free:       order,
		count:      capacity,
		owner:      make(map[uint32]int, capacity),
		issueCycle: make(map[uint32]uint64, capacity),
	}
}

// shuffle performs a deterministic Fisher-Yates shuffle driven by a
// siphash stream keyed on seed: each swap index is derived by hashing
// the position into the stream, rather than calling into a global PRNG.
func shuffle(order []uint32, seed uint64) {
	var buf [8]byte
	for i := len(order) - 1; i > 0; i-- {
		binary.LittleEndian.PutUint64(buf[:], uint64(i))
		h := siphash.Hash(seed, 0, buf[:])
		j := int(h % uint64(i+1))
		order[i], order[j] = order[j], order[i]
	}
}

// Free returns the number of tickets currently available.
func (p *TicketPool) Free() int { return p.count }

// Outstanding returns the number of tickets currently checked out.
func (p *TicketPool) Outstanding() int { return p.capacity - p.count }

// Capacity returns the pool's fixed size.
func (p *TicketPool) Capacity() int { return p.capacity }

// Acquire checks out a ticket for requestQueueIndex, issued at cycle.
// It returns ok=false if the pool is exhausted.
func (p *TicketPool) Acquire(requestQueueIndex int, cycle uint64) (ticket uint32, ok bool) {
	if p.count == 0 {
		return 0, false
	}
	ticket = p.free[p.head]
	p.head = (p.head + 1) % p.capacity
	p.count--
	p.owner[ticket] = requestQueueIndex
	p.issueCycle[ticket] = cycle
	return ticket, true
}

// Release returns ticket to the pool and reports the request-queue index
// and issue cycle it was associated with. ok is false if the ticket was
// not outstanding (a caller bug).
func (p *TicketPool) Release(ticket uint32) (requestQueueIndex int, issueCycle uint64, ok bool) {
	requestQueueIndex, ok = p.owner[ticket]
	if !ok {
		return 0, 0, false
	}
	issueCycle = p.issueCycle[ticket]
	delete(p.owner, ticket)
	delete(p.issueCycle, ticket)
	pos := (p.head + p.count) % p.capacity
	p.free[pos] = ticket
	p.count++
	return requestQueueIndex, issueCycle, true
}

// Reset returns every outstanding ticket to the pool.
func (p *TicketPool) Reset() {
	for t := range p.owner {
		delete(p.owner, t)
		delete(p.issueCycle, t)
	}
	for i := range p.free {
		p.free[i] = uint32(i)
	}
	p.head = 0
	p.count = p.capacity
}

// Controller is the out-of-scope collaborator contract a cache drives
// through value-typed transactions: it accepts outbound READ_REQ/
// WRITE_REQ/WRITE_DATA transactions and asynchronously returns READ_DATA
// transactions via whatever channel the embedding simulator wires up
// (see texcache.Cache.Update / ProcessMemoryTransaction).
type Controller interface {
	// State reports the controller's current accept bitmask.
	State() ControllerState
	// Submit hands a transaction to the controller. The controller takes
	// ownership of tx's Data slice.
	Submit(tx Transaction)
}
