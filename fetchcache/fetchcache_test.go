package fetchcache

import (
	"testing"

	"github.com/gpusim/cachesim/stats"
)

func newTestCache() *Cache[uint64] {
	return New[uint64](4, 64, 64, 16, "TestFetchCache", stats.Nop)
}

func TestFetchMissThenHit(t *testing.T) {
	fc := newTestCache()
	r := fc.Fetch(0x10000, false, nil)
	if !r.OK || !r.Miss || r.Ready {
		t.Fatalf("cold fetch: got %+v", r)
	}
	if !fc.Replacing(r.Way, r.Set) {
		t.Fatal("line should be replacing after a miss")
	}
	if fc.Reserve(r.Way, r.Set) != 1 {
		t.Fatalf("reserve = %d, want 1", fc.Reserve(r.Way, r.Set))
	}

	// Complete the fill out of band, as the memory-request driver would.
	id, req, ok := fc.GetRequest()
	if !ok || !req.Fill {
		t.Fatalf("expected one active fill request, got ok=%v req=%+v", ok, req)
	}
	fc.WriteLine(r.Way, r.Set, make([]byte, 64))
	fc.FreeRequest(id, false, true)
	if fc.Replacing(r.Way, r.Set) {
		t.Fatal("line should no longer be replacing after fill completes")
	}

	r2 := fc.Fetch(0x10000, false, nil)
	if !r2.OK || r2.Miss || !r2.Ready {
		t.Fatalf("expected ready hit, got %+v", r2)
	}
	if fc.Reserve(r.Way, r.Set) != 2 {
		t.Fatalf("reserve = %d, want 2 after second fetch", fc.Reserve(r.Way, r.Set))
	}
}

func TestUnreserveFloorsAtZero(t *testing.T) {
	fc := newTestCache()
	r := fc.Fetch(0x10000, false, nil)
	fc.Unreserve(r.Way, r.Set)
	fc.Unreserve(r.Way, r.Set) // already 0; must not go negative
	if fc.Reserve(r.Way, r.Set) != 0 {
		t.Fatalf("reserve = %d, want 0", fc.Reserve(r.Way, r.Set))
	}
}

func TestAllWaysReservedFails(t *testing.T) {
	fc := newTestCache()
	set := 5
	// Fill all 4 ways of one set with distinct tags, each held reserved.
	for i := 0; i < 4; i++ {
		a := uint64(i)<<12 | uint64(set)<<6
		r := fc.Fetch(a, false, nil)
		if !r.OK {
			t.Fatalf("fetch %d should succeed, got %+v", i, r)
		}
	}
	a := uint64(4)<<12 | uint64(set)<<6
	r := fc.Fetch(a, false, nil)
	if r.OK {
		t.Fatalf("fetch into a fully-reserved set should fail, got %+v", r)
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	fc := newTestCache()
	r := fc.Fetch(0x10000, false, nil)
	id, _, _ := fc.GetRequest()
	fc.WriteLine(r.Way, r.Set, make([]byte, 64))
	fc.FreeRequest(id, false, true)

	buf := []byte{1, 2, 3, 4}
	if !fc.Write(0x10000, r.Way, r.Set, 4, buf) {
		t.Fatal("write should succeed once line is resident")
	}
	out := make([]byte, 4)
	if !fc.Read(0x10000, r.Way, r.Set, 4, out) {
		t.Fatal("read should succeed once line is resident")
	}
	for i := range buf {
		if out[i] != buf[i] {
			t.Fatalf("round trip mismatch at %d: got %d want %d", i, out[i], buf[i])
		}
	}
	if !fc.Dirty(r.Way, r.Set) {
		t.Fatal("line should be dirty after a write")
	}
}

func TestReadFailsWhileReplacing(t *testing.T) {
	fc := newTestCache()
	r := fc.Fetch(0x10000, false, nil)
	out := make([]byte, 4)
	if fc.Read(0x10000, r.Way, r.Set, 4, out) {
		t.Fatal("read should fail while the line is still being filled")
	}
}

func TestMissAfterDirtyWriteEnqueuesFill(t *testing.T) {
	fc := newTestCache()
	set := 1
	a := uint64(set) << 6
	r := fc.Fetch(a, false, nil)
	id, _, _ := fc.GetRequest()
	fc.WriteLine(r.Way, r.Set, make([]byte, 64))
	fc.FreeRequest(id, false, true)

	buf := []byte{9, 9, 9, 9}
	fc.Write(a, r.Way, r.Set, 4, buf)
	fc.Unreserve(r.Way, r.Set)

	// Fetch three more lines into the same set, then force one more
	// miss. The dirty line was written last, so the victim ring protects
	// it and the final miss evicts a clean way; only its fill request is
	// checked here.
	for i := 1; i < 4; i++ {
		other := uint64(i)<<12 | uint64(set)<<6
		rr := fc.Fetch(other, false, nil)
		oid, _, ok := fc.GetRequest()
		if ok {
			fc.WriteLine(rr.Way, rr.Set, make([]byte, 64))
			fc.FreeRequest(oid, false, true)
		}
		fc.Unreserve(rr.Way, rr.Set)
	}

	collide := uint64(99)<<12 | uint64(set)<<6
	rc := fc.Fetch(collide, false, nil)
	if !rc.OK || !rc.Miss {
		t.Fatalf("expected a miss that evicts a way, got %+v", rc)
	}
	id2, req2, ok := fc.GetRequest()
	if !ok {
		t.Fatal("expected an active request for the eviction")
	}
	if !req2.Fill {
		t.Fatalf("expected a fill request, got %+v", req2)
	}
	fc.FreeRequest(id2, req2.Spill, req2.Fill)
}

func TestAllocateMaskedWriteBuffer(t *testing.T) {
	fc := newTestCache()
	ok, way, set := fc.Allocate(0x20000, nil)
	if !ok {
		t.Fatal("allocate should succeed on a cold miss")
	}
	mask := make([]bool, 64)
	buf := make([]byte, 64)
	for i := 0; i < 4; i++ {
		mask[i] = true
		buf[i] = byte(i + 1)
	}
	if !fc.WriteMasked(0x20000, way, set, 64, buf, mask) {
		t.Fatal("masked write should succeed")
	}
	m := fc.ReadMask(way, set)
	for i := 0; i < 4; i++ {
		if !m[i] {
			t.Fatalf("byte %d should be marked written", i)
		}
	}
	for i := 4; i < 64; i++ {
		if m[i] {
			t.Fatalf("byte %d should not be marked written", i)
		}
	}
}

func TestResetClearsQueueAndReservations(t *testing.T) {
	fc := newTestCache()
	r := fc.Fetch(0x10000, false, nil)
	fc.Reset()
	if fc.Reserve(r.Way, r.Set) != 0 {
		t.Fatal("reset should clear reservations")
	}
	if _, _, ok := fc.GetRequest(); ok {
		t.Fatal("reset should empty the active request queue")
	}
}
