package texcachel2

import (
	"testing"

	"github.com/gpusim/cachesim/memtrans"
	"github.com/gpusim/cachesim/stats"
	"github.com/gpusim/cachesim/texcache"
)

func newTestCache() *Cache {
	return New(4, 16, 64, 4, 64, 4, 8, 16, 4, 2, 16, 2, 0, "TexL2", stats.Nop)
}

func TestL0MissFillsThroughL1(t *testing.T) {
	c := newTestCache()
	addr := uint64(0x10000)
	res := c.Fetch(addr, nil)
	if !res.OK {
		t.Fatalf("fetch should succeed, got %+v", res)
	}

	var filled bool
	var tag uint64
	var tx *memtrans.Transaction
	for cycle := uint64(1); cycle < 8 && !filled; cycle++ {
		tx, filled, tag = c.Update(cycle, memtrans.StateReadAccept)
		if tx != nil && tx.Command == memtrans.ReadReq {
			data := make([]byte, tx.Size)
			for i := range data {
				data[i] = byte(i + 1)
			}
			c.ProcessMemoryTransaction(cycle+1, memtrans.Transaction{
				Command: memtrans.ReadData,
				Ticket:  tx.Ticket,
				Data:    data,
			})
		}
	}
	if !filled || tag != addr {
		t.Fatalf("expected the L0 line to fill with tag %#x, got filled=%v tag=%#x", addr, filled, tag)
	}

	buf := make([]byte, 4)
	if !c.Read(addr, res.Way, res.Set, 4, buf) {
		t.Fatal("read should succeed once L0 has filled")
	}
	for i, b := range buf {
		if b != byte(i+1) {
			t.Fatalf("byte %d = %d, want %d", i, b, i+1)
		}
	}
}

func TestBlackTexelBypassesBothLevels(t *testing.T) {
	c := newTestCache()
	res := c.Fetch(texcache.BlackTexelAddress, nil)
	if !res.OK || !res.Ready {
		t.Fatalf("black texel fetch should be an immediate ready hit, got %+v", res)
	}
	buf := []byte{9, 9, 9, 9}
	if !c.Read(texcache.BlackTexelAddress, res.Way, res.Set, 4, buf) {
		t.Fatal("black texel read should always succeed")
	}
	for _, b := range buf {
		if b != 0 {
			t.Fatalf("expected all-zero bytes, got %v", buf)
		}
	}
	c.Unreserve(res.Way, res.Set) // must not panic
}

func TestResetClearsBothLevelsAndPendingTable(t *testing.T) {
	c := newTestCache()
	res := c.Fetch(uint64(0x20000), nil)
	c.Reset()
	if id, _, ok := c.l0.GetRequest(); ok {
		t.Fatalf("reset should empty L0's active queue, got id=%d", id)
	}
	_ = res
}
