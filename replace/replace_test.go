package replace

import "testing"

func TestFIFOVictimRotates(t *testing.T) {
	p := NewFIFO(4, 1)
	for i, want := range []int{0, 1, 2, 3, 0} {
		if got := p.Victim(0); got != want {
			t.Fatalf("iteration %d: Victim = %d, want %d", i, got, want)
		}
	}
}

func TestLRUFairnessProperty(t *testing.T) {
	// spec §8: ways=4, access order [0,1,2,3,0], next victim must be 1.
	p := NewLRU(4, 1)
	for _, w := range []int{0, 1, 2, 3, 0} {
		p.Access(w, 0)
	}
	if got := p.Victim(0); got != 1 {
		t.Fatalf("Victim = %d, want 1", got)
	}
}

func TestPseudoLRURejectsUnsupportedWays(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unsupported way count")
		}
	}()
	NewPseudoLRU(3, 1)
}

func TestPseudoLRUAccessAvoidsRecentlyUsed(t *testing.T) {
	p := NewPseudoLRU(4, 1)
	// Accessing 0,1,2 leaves the root pointing at the left half (away
	// from 2) and the left node pointing at 0 (away from 1), so the tree
	// picks way 0, and never the most recent access.
	p.Access(0, 0)
	p.Access(1, 0)
	p.Access(2, 0)
	v := p.Victim(0)
	if v == 2 {
		t.Fatalf("Victim = %d, should not immediately re-select the most recent access", v)
	}
}
