package memtrans

import "testing"

func TestTicketRoundTrip(t *testing.T) {
	p := NewTicketPool(8, 42)
	if p.Free() != 8 {
		t.Fatalf("Free() = %d, want 8", p.Free())
	}
	tk, ok := p.Acquire(3, 100)
	if !ok {
		t.Fatal("Acquire should succeed")
	}
	if p.Free() != 7 {
		t.Fatalf("Free() = %d, want 7", p.Free())
	}
	idx, cycle, ok := p.Release(tk)
	if !ok || idx != 3 || cycle != 100 {
		t.Fatalf("Release = (%d, %d, %v), want (3, 100, true)", idx, cycle, ok)
	}
	if p.Free() != 8 {
		t.Fatalf("Free() = %d, want 8 after release", p.Free())
	}
}

func TestTicketPoolExhaustion(t *testing.T) {
	p := NewTicketPool(2, 1)
	if _, ok := p.Acquire(0, 0); !ok {
		t.Fatal("first acquire should succeed")
	}
	if _, ok := p.Acquire(1, 0); !ok {
		t.Fatal("second acquire should succeed")
	}
	if _, ok := p.Acquire(2, 0); ok {
		t.Fatal("third acquire should fail: pool exhausted")
	}
}

func TestTicketPoolInvariant(t *testing.T) {
	// free-tickets + outstanding-memory-requests == capacity (spec §8).
	p := NewTicketPool(MaxMemoryTickets, 7)
	var tickets []uint32
	for i := 0; i < 5; i++ {
		tk, ok := p.Acquire(i, uint64(i))
		if !ok {
			t.Fatal("acquire should succeed")
		}
		tickets = append(tickets, tk)
	}
	if p.Free()+p.Outstanding() != p.Capacity() {
		t.Fatalf("invariant broken: free=%d outstanding=%d capacity=%d", p.Free(), p.Outstanding(), p.Capacity())
	}
	for _, tk := range tickets {
		if _, _, ok := p.Release(tk); !ok {
			t.Fatal("release should succeed")
		}
	}
	if p.Free() != p.Capacity() {
		t.Fatalf("all tickets should be free again, got %d/%d", p.Free(), p.Capacity())
	}
}

func TestReleaseUnknownTicketFails(t *testing.T) {
	p := NewTicketPool(4, 9)
	if _, _, ok := p.Release(99); ok {
		t.Fatal("releasing an unacquired ticket should fail")
	}
}
