// Package replace implements the pluggable cache replacement policies:
// FIFO, LRU, and a partitioned-tree Pseudo-LRU.
package replace

import "fmt"

// Policy selects and tracks victims for a set-associative cache. It is
// indexed by set; Access is called on every hit/fill, Victim on every
// replacement decision. Implementations are not safe for concurrent use,
// matching the single-threaded cooperative model the cache family runs
// under.
type Policy interface {
	// Access updates policy state for an access to (way, set).
	Access(way, set int)
	// Victim returns the way to evict for set. Only FIFO advances its own
	// state here (its rotation counter); callers must call Access once
	// the victim is actually replaced.
	Victim(set int) int
}

// FIFO is a per-set round-robin victim selector. Access is a no-op: FIFO
// does not take usage into account.
type FIFO struct {
	ways int
	next []int32
}

// NewFIFO creates a FIFO policy for a cache with the given way and set
// counts.
func NewFIFO(ways, sets int) *FIFO {
	if ways <= 0 {
		panic("replace: at least a way is required")
	}
	if sets <= 0 {
		panic("replace: at least a line per way is required")
	}
	return &FIFO{ways: ways, next: make([]int32, sets)}
}

func (f *FIFO) Access(way, set int) {}

func (f *FIFO) Victim(set int) int {
	v := int(f.next[set])
	f.next[set] = int32((v + 1) % f.ways)
	return v
}

// LRU maintains a per-set access-order list; the head is the most
// recently used way, the tail is the next victim.
type LRU struct {
	ways  int
	order [][]int32
}

// NewLRU creates an LRU policy for a cache with the given way and set
// counts.
func NewLRU(ways, sets int) *LRU {
	if ways <= 0 {
		panic("replace: at least a way is required")
	}
	if sets <= 0 {
		panic("replace: at least a line per way is required")
	}
	l := &LRU{ways: ways, order: make([][]int32, sets)}
	for s := range l.order {
		row := make([]int32, ways)
		for w := range row {
			row[w] = int32(w)
		}
		l.order[s] = row
	}
	return l
}

func (l *LRU) Access(way, set int) {
	row := l.order[set]
	if row[0] == int32(way) {
		return
	}
	// Shift the accessed way to the front, preserving the relative order
	// of everything else, exactly as the original access-order-list shift
	// does.
	to := int32(way)
	for i := 0; i < l.ways; i++ {
		found := row[i] == int32(way)
		ti := row[i]
		row[i] = to
		to = ti
		if found {
			break
		}
	}
}

func (l *LRU) Victim(set int) int {
	row := l.order[set]
	return int(row[l.ways-1])
}

// PseudoLRU is a partitioned binary-tree pseudo-LRU policy. ways must be
// one of 2, 4, 8, 16, 32.
type PseudoLRU struct {
	ways  int
	state []uint32
}

// NewPseudoLRU creates a Pseudo-LRU policy. It panics if ways is not one
// of the supported power-of-two counts.
func NewPseudoLRU(ways, sets int) *PseudoLRU {
	switch ways {
	case 2, 4, 8, 16, 32:
	default:
		panic(fmt.Sprintf("replace: unsupported way count %d for pseudo-LRU; allowed are 2, 4, 8, 16, 32", ways))
	}
	if sets <= 0 {
		panic("replace: at least a line per way is required")
	}
	return &PseudoLRU{ways: ways, state: make([]uint32, sets)}
}

func (p *PseudoLRU) Access(way, set int) {
	mask := p.ways >> 1
	i, j, k := p.ways-1, 1, 0
	st := p.state[set]
	for mask > 0 {
		b := uint32(0)
		if way&mask == 0 {
			b = 1
		}
		st = st&^(1<<(i-1)) | (b << (i - 1))
		if b == 0 {
			k = (k << 1) + 1
		} else {
			k = k << 1
		}
		i = i - j - k
		j <<= 1
		mask >>= 1
	}
	p.state[set] = st
}

func (p *PseudoLRU) Victim(set int) int {
	st := p.state[set]
	i, j, k := p.ways-1, 1, 0
	for j < p.ways {
		b := (st >> (i - 1)) & 1
		k = (k << 1) + int(b)
		i = i - j - k
		j <<= 1
	}
	return k
}
