// Command cachesim is a minimal CLI harness: it loads a simcfg.Scenario,
// wires a deterministic in-memory memory-controller fake, drives one of
// the scenario's cache instances for the configured number of cycles,
// and prints the resulting statistics. It is a runnable demonstration of
// the "consumer" role the fetch-cache family assumes, not part of the
// simulator core.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/gpusim/cachesim/inputcache"
	"github.com/gpusim/cachesim/ints"
	"github.com/gpusim/cachesim/simcfg"
	"github.com/gpusim/cachesim/stats"
	"github.com/gpusim/cachesim/texcache"
	"github.com/gpusim/cachesim/texcachel2"
)

func main() {
	var (
		scenarioPath = flag.String("scenario", "", "path to a simcfg scenario YAML file")
		cacheName    = flag.String("cache", "", "name of the cache within the scenario to drive (default: the first one)")
		workingSet   = flag.Int("lines", 64, "number of distinct lines in the synthetic access pattern")
	)
	flag.Parse()

	if *scenarioPath == "" {
		fmt.Fprintln(os.Stderr, "usage: cachesim -scenario <path> [-cache <name>] [-lines <n>]")
		os.Exit(2)
	}

	scenario, err := simcfg.Load(*scenarioPath)
	if err != nil {
		log.Fatal(err)
	}

	cfg := scenario.Caches[0]
	if *cacheName != "" {
		found := false
		for _, c := range scenario.Caches {
			if c.Name == *cacheName {
				cfg = c
				found = true
				break
			}
		}
		if !found {
			log.Fatalf("cachesim: no cache named %q in %s", *cacheName, *scenarioPath)
		}
	}

	latency := ints.Max(scenario.Latency, 1)
	mem := newFakeMemory(latency, scenario.BusWidth, uint64(scenario.Seed))
	sink := stats.New(cfg.Name)

	var reads, fetchFailures int
	switch cfg.Kind {
	case "texture":
		c := texcache.New(cfg.Ways, cfg.Sets, cfg.LineSize, cfg.PortWidth, cfg.RequestQueueSize,
			cfg.Banks, cfg.MaxAccesses, cfg.BankWidth, cfg.MaxMisses, cfg.DecomprLatency, cfg.Name, sink)
		reads, fetchFailures = runLoop(cacheOps[uint64]{
			fetch:     c.Fetch,
			read:      c.Read,
			unreserve: c.Unreserve,
			update:    c.Update,
			processTx: c.ProcessMemoryTransaction,
		}, scenario.Cycles, cfg.LineSize, *workingSet, mem)

	case "texturel2":
		c := texcachel2.New(cfg.Ways, cfg.Sets, cfg.LineSize, cfg.WaysL1, cfg.SetsL1, cfg.PortWidth,
			cfg.RequestQueueSize, cfg.RequestQueueSizeL1, cfg.Banks, cfg.MaxAccesses, cfg.BankWidth,
			cfg.MaxMisses, cfg.DecomprLatency, cfg.Name, sink)
		reads, fetchFailures = runLoop(cacheOps[uint64]{
			fetch:     c.Fetch,
			read:      c.Read,
			unreserve: c.Unreserve,
			update:    c.Update,
			processTx: c.ProcessMemoryTransaction,
		}, scenario.Cycles, cfg.LineSize, *workingSet, mem)

	case "input":
		c := inputcache.New(cfg.Ways, cfg.Sets, cfg.LineSize, cfg.NumPorts, cfg.PortWidth, cfg.RequestQueueSize, cfg.Name, sink)
		reads, fetchFailures = runLoop(cacheOps[uint32]{
			fetch:     c.Fetch,
			read:      c.Read,
			unreserve: c.Unreserve,
			update:    c.Update,
			processTx: c.ProcessMemoryTransaction,
		}, scenario.Cycles, cfg.LineSize, *workingSet, mem)

	default:
		log.Fatalf("cachesim: unsupported cache kind %q", cfg.Kind)
	}

	fmt.Println(reportLine(cfg.Name, reads, fetchFailures))

	counts := sink.All()
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s = %d\n", k, counts[k])
	}
}
