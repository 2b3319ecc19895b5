// Package stats provides the minimal statistics sink every cache in the
// fetch-cache family updates: a keyed monotonic-counter collector that
// must tolerate any call order (spec §5), with an optional no-op
// implementation for tests and a per-instance key postfix for production
// use when multiple cache instances share one process.
package stats

import "github.com/google/uuid"

// Named statistics keys (spec §6). Declared as constants, each spelled
// out distinctly, to avoid the original implementation's bug of two
// counters sharing one registration name (Design Notes: "some statistic
// counters are registered with duplicate names in one constructor").
const (
	MissesFetch           = "MissesFetch"
	HitsFetch             = "HitsFetch"
	MissOKFetch           = "MissOKFetch"
	MissFailFetch         = "MissFailFetch"
	MissFailReqQueueFetch = "MissFailReqQueueFetch"
	MissFailReserveFetch  = "MissFailReserveFetch"
	MissFailMissFetch     = "MissFailMissFetch"

	MissesAlloc           = "MissesAlloc"
	HitsAlloc             = "HitsAlloc"
	MissOKAlloc           = "MissOKAlloc"
	MissFailAlloc         = "MissFailAlloc"
	MissFailReqQueueAlloc = "MissFailReqQueueAlloc"
	MissFailReserveAlloc  = "MissFailReserveAlloc"

	ReadsOK  = "ReadsOK"
	ReadsFail = "ReadsFail"
	WritesOK  = "WritesOK"
	WritesFail = "WritesFail"

	ReadBytes  = "ReadBytes"
	WriteBytes = "WriteBytes"
	Unreserves = "Unreserves"

	FetchBankConflicts = "FetchBankConflicts"
	ReadBankConflicts  = "ReadBankConflicts"

	MemoryRequests       = "MemoryRequests"
	MemoryRequestLatency = "MemoryRequestLatency"
)

// Sink accepts monotonic counter increments. Implementations must
// tolerate calls in any order and must not block (spec §5).
type Sink interface {
	Add(key string, n int64)
}

// nopSink discards every update.
type nopSink struct{}

// Nop is a Sink that does nothing, useful for tests and for callers that
// don't want statistics overhead.
var Nop Sink = nopSink{}

func (nopSink) Add(string, int64) {}

// MapSink accumulates counters in memory. It is not safe for concurrent
// use, matching the single-threaded cooperative model the rest of the
// cache family runs under.
type MapSink struct {
	prefix  string
	counts  map[string]int64
}

// New creates a MapSink whose keys are postfixed with a fresh UUID-based
// instance identifier, so that statistics from multiple cache instances
// sharing one process (e.g. several texture cache units) don't collide
// (spec §6: "Statistics keys ... per-cache instance, with an instance
// postfix").
func New(name string) *MapSink {
	return &MapSink{
		prefix: name + "." + uuid.New().String(),
		counts: make(map[string]int64),
	}
}

// NewNamed creates a MapSink with an explicit, caller-chosen postfix
// instead of a random UUID — useful for deterministic tests that want to
// assert on exact key names.
func NewNamed(name, instance string) *MapSink {
	return &MapSink{
		prefix: name + "." + instance,
		counts: make(map[string]int64),
	}
}

func (m *MapSink) Add(key string, n int64) {
	m.counts[key+"."+m.prefix] += n
}

// Get returns the current value for key (after the instance postfix has
// been applied), or 0 if it was never incremented.
func (m *MapSink) Get(key string) int64 {
	return m.counts[key+"."+m.prefix]
}

// All returns a snapshot of every counter, keyed by fully-qualified name.
func (m *MapSink) All() map[string]int64 {
	out := make(map[string]int64, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out
}
