package main

import (
	"encoding/binary"

	"github.com/dchest/siphash"
	"github.com/gpusim/cachesim/ints"
	"github.com/gpusim/cachesim/memtrans"
)

// scheduled is a READ_DATA response the fake controller owes the caller
// at a future cycle.
type scheduled struct {
	atCycle uint64
	tx      memtrans.Transaction
}

// fakeMemory is a deterministic in-memory stand-in for the memory
// controller spec §1/§6 places out of scope: every READ_REQ is answered
// exactly `latency` cycles later with bytes derived from the request's
// address via a siphash stream, so runs are reproducible given a seed.
// The response's BusCycles is ceil(size/busWidth), modeling a bus that
// moves busWidth bytes/cycle so the cache's post-arrival busy-cycle
// accounting (spec §4.4 step 1/3) has something real to gate on. It
// satisfies memtrans.Controller.
type fakeMemory struct {
	latency  int
	busWidth int
	seed     uint64
	cycle    uint64
	pending  []scheduled
}

func newFakeMemory(latency, busWidth int, seed uint64) *fakeMemory {
	return &fakeMemory{latency: latency, busWidth: ints.Max(busWidth, 1), seed: seed}
}

func (m *fakeMemory) State() memtrans.ControllerState {
	return memtrans.StateReadAccept | memtrans.StateWriteAccept
}

// Submit hands the controller an outbound transaction. Write requests
// are acknowledged implicitly (this harness never reads spilled data
// back); read requests are queued to come back after latency cycles.
func (m *fakeMemory) Submit(tx memtrans.Transaction) {
	if tx.Command != memtrans.ReadReq {
		return
	}
	data := make([]byte, tx.Size)
	for i := range data {
		data[i] = fillByte(tx.Address, i, m.seed)
	}
	m.pending = append(m.pending, scheduled{
		atCycle: m.cycle + 1 + uint64(m.latency),
		tx: memtrans.Transaction{
			Command:   memtrans.ReadData,
			Ticket:    tx.Ticket,
			Data:      data,
			BusCycles: uint32(ints.ChunkCount(uint(tx.Size), uint(m.busWidth))),
		},
	})
}

// fillByte derives one deterministic byte of a line's fill data from its
// address and offset using the same siphash primitive memtrans.TicketPool
// uses to shuffle ticket order.
func fillByte(address uint64, offset int, seed uint64) byte {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], address)
	binary.LittleEndian.PutUint64(buf[8:], uint64(offset))
	return byte(siphash.Hash(seed, 0, buf[:]))
}

// Tick advances the fake controller to cycle, returning every READ_DATA
// transaction now due.
func (m *fakeMemory) Tick(cycle uint64) []memtrans.Transaction {
	m.cycle = cycle
	var ready []memtrans.Transaction
	kept := m.pending[:0]
	for _, s := range m.pending {
		if s.atCycle <= cycle {
			ready = append(ready, s.tx)
		} else {
			kept = append(kept, s)
		}
	}
	m.pending = kept
	return ready
}
