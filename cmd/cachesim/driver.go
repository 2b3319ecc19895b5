package main

import (
	"fmt"

	"github.com/gpusim/cachesim/fetchcache"
	"github.com/gpusim/cachesim/memtrans"
	"golang.org/x/exp/constraints"
)

// cacheOps adapts one concrete cache type (texcache.Cache, inputcache.Cache,
// texcachel2.Cache — each a distinct, non-interface type by design, per
// spec §4's "the consumer sees exactly" contracts) to the single generic
// driver loop below, so the harness isn't triplicated per cache kind.
type cacheOps[A constraints.Unsigned] struct {
	fetch     func(addr A, source any) fetchcache.FetchResult
	read      func(addr A, way, set, size int, buf []byte) bool
	unreserve func(way, set int)
	update    func(cycle uint64, state memtrans.ControllerState) (*memtrans.Transaction, bool, A)
	processTx func(cycle uint64, tx memtrans.Transaction)
}

// outstanding tracks one reserved-but-not-yet-read line.
type outstanding struct {
	way, set int
}

// runLoop drives one cache for cycles logical cycles: it issues a fetch
// for the next address in a round-robin working set once per cycle (if
// the cache accepts it), drains READ_REQ/READ_DATA traffic through mem,
// and reads+unreserves a line as soon as its fill completes. It returns
// the number of successful reads and the number of fetches that failed
// (queue full / bank conflict / miss quota — all transient per spec §7).
func runLoop[A constraints.Unsigned](ops cacheOps[A], cycles, lineSize, workingSetLines int, mem *fakeMemory) (reads, fetchFailures int) {
	live := make(map[A]outstanding)
	next := 0
	buf := make([]byte, lineSize)

	for cycle := uint64(1); cycle <= uint64(cycles); cycle++ {
		addr := A(next * lineSize)
		if _, already := live[addr]; !already {
			res := ops.fetch(addr, nil)
			if res.OK {
				live[addr] = outstanding{way: res.Way, set: res.Set}
				if res.Ready {
					if ops.read(addr, res.Way, res.Set, lineSize, buf) {
						reads++
					}
					ops.unreserve(res.Way, res.Set)
					delete(live, addr)
				}
			} else {
				fetchFailures++
			}
		}
		next = (next + 1) % workingSetLines

		tx, filled, tag := ops.update(cycle, mem.State())
		if tx != nil {
			mem.Submit(*tx)
		}
		for _, resp := range mem.Tick(cycle) {
			ops.processTx(cycle, resp)
		}
		if filled {
			if e, ok := live[tag]; ok {
				if ops.read(tag, e.way, e.set, lineSize, buf) {
					reads++
				}
				ops.unreserve(e.way, e.set)
				delete(live, tag)
			}
		}
	}
	return reads, fetchFailures
}

func reportLine(name string, reads, fetchFailures int) string {
	return fmt.Sprintf("%s: %d reads completed, %d fetches rejected", name, reads, fetchFailures)
}
