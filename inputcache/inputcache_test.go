package inputcache

import (
	"testing"

	"github.com/gpusim/cachesim/memtrans"
	"github.com/gpusim/cachesim/stats"
)

func TestColdMissFetchAndFill(t *testing.T) {
	c := New(4, 64, 64, 2, 16, 8, "Input", stats.Nop)
	addr := uint32(0x4000)
	res := c.Fetch(addr, nil)
	if !res.OK || !res.Miss || res.Ready {
		t.Fatalf("cold fetch: got %+v", res)
	}

	tx, filled, _ := c.Update(1, memtrans.StateReadAccept)
	if filled {
		t.Fatal("should not be filled on the request-emitting cycle")
	}
	if tx == nil || tx.Command != memtrans.ReadReq {
		t.Fatalf("expected a READ_REQ, got %+v", tx)
	}
	if tx.Address != uint64(addr&^63) {
		t.Fatalf("read address = %#x, want %#x", tx.Address, addr&^63)
	}
	if tx.Size != 64 {
		t.Fatalf("read size = %d, want 64", tx.Size)
	}

	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i)
	}
	c.ProcessMemoryTransaction(2, memtrans.Transaction{Command: memtrans.ReadData, Ticket: tx.Ticket, Data: data})

	tx2, filled2, tag2 := c.Update(3, memtrans.StateReadAccept)
	if tx2 != nil {
		t.Fatalf("no outbound transaction expected while committing a fill, got %+v", tx2)
	}
	if !filled2 || tag2 != addr {
		t.Fatalf("expected filled=true tag=%#x, got filled=%v tag=%#x", addr, filled2, tag2)
	}

	buf := make([]byte, 4)
	if !c.Read(addr, res.Way, res.Set, 4, buf) {
		t.Fatal("read should succeed after fill")
	}
	for i := range buf {
		if buf[i] != byte(i) {
			t.Fatalf("byte %d = %d, want %d", i, buf[i], i)
		}
	}
}

func TestBusBusyDelaysFillCommit(t *testing.T) {
	c := New(4, 64, 64, 2, 16, 8, "Input", stats.Nop)
	addr := uint32(0x4000)
	res := c.Fetch(addr, nil)
	if !res.OK || !res.Miss {
		t.Fatalf("cold fetch: got %+v", res)
	}
	tx, _, _ := c.Update(1, memtrans.StateReadAccept)
	if tx == nil {
		t.Fatal("expected a READ_REQ")
	}

	data := make([]byte, 64)
	c.ProcessMemoryTransaction(2, memtrans.Transaction{Command: memtrans.ReadData, Ticket: tx.Ticket, Data: data, BusCycles: 2})

	// BusCycles=2: the first Update after arrival only ages the bus
	// counter to 1, so the fill must not commit yet even though the
	// line's bytes already arrived in full; the second brings it to zero
	// and commits in that same call.
	if _, filled, _ := c.Update(3, memtrans.StateReadAccept); filled {
		t.Fatal("fill completed while the memory bus was still busy")
	}
	_, filled, tag := c.Update(4, memtrans.StateReadAccept)
	if !filled || tag != addr {
		t.Fatalf("expected the fill to commit once the bus frees up, got filled=%v tag=%#x", filled, tag)
	}
}

func TestReadPortBusyModel(t *testing.T) {
	// One port, portWidth == lineSize: a single read occupies the only
	// port for exactly one cycle.
	c := New(4, 64, 64, 1, 64, 8, "Input", stats.Nop)
	addr := uint32(0)
	res := c.Fetch(addr, nil)
	tx, _, _ := c.Update(1, memtrans.StateReadAccept)
	data := make([]byte, 64)
	c.ProcessMemoryTransaction(2, memtrans.Transaction{Command: memtrans.ReadData, Ticket: tx.Ticket, Data: data})
	c.Update(3, memtrans.StateReadAccept)

	buf := make([]byte, 4)
	if !c.Read(addr, res.Way, res.Set, 4, buf) {
		t.Fatal("first read should succeed")
	}
	if c.Read(addr, res.Way, res.Set, 4, buf) {
		t.Fatal("second read in the same cycle should fail: only one port")
	}
	c.Update(4, memtrans.StateReadAccept)
	if !c.Read(addr, res.Way, res.Set, 4, buf) {
		t.Fatal("read should succeed again once the port frees up")
	}
}

func TestNoMissQuotaOrBanks(t *testing.T) {
	// Unlike texcache, two distinct misses in the same cycle both
	// succeed: there is no bank limit or miss quota.
	c := New(4, 64, 64, 4, 16, 16, "Input", stats.Nop)
	if r := c.Fetch(uint32(0*64), nil); !r.OK {
		t.Fatalf("first miss should succeed, got %+v", r)
	}
	if r := c.Fetch(uint32(1*64), nil); !r.OK {
		t.Fatalf("second miss in the same cycle should also succeed, got %+v", r)
	}
}

func TestResetClearsState(t *testing.T) {
	c := New(4, 64, 64, 2, 16, 8, "Input", stats.Nop)
	c.Fetch(uint32(0x1000), nil)
	c.Reset()
	if id, _, ok := c.fc.GetRequest(); ok {
		t.Fatalf("reset should empty the active queue, got id=%d", id)
	}
}
