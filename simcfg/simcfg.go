// Package simcfg loads the YAML scenario files that describe a set of
// cache topologies for cmd/cachesim to drive, the "Configuration"
// ambient-stack concern spec.md leaves implicit beyond each cache
// constructor's parameter list.
package simcfg

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// CacheConfig describes one cache instance's topology. Ways, Sets,
// LineSize, and RequestQueueSize apply to every cache kind; the
// remaining fields only apply to the kinds marked below and are
// zero/ignored otherwise.
type CacheConfig struct {
	Name             string `json:"name"`
	Kind             string `json:"kind"` // "texture", "texturel2", "input"
	Ways             int    `json:"ways"`
	Sets             int    `json:"sets"`
	LineSize         int    `json:"lineSize"`
	RequestQueueSize int    `json:"requestQueueSize"`

	// texture / texturel2 only, except PortWidth, which input uses too.
	PortWidth      int `json:"portWidth,omitempty"`
	Banks          int `json:"banks,omitempty"`
	MaxAccesses    int `json:"maxAccesses,omitempty"`
	BankWidth      int `json:"bankWidth,omitempty"`
	MaxMisses      int `json:"maxMisses,omitempty"`
	DecomprLatency int `json:"decomprLatency,omitempty"`

	// texturel2 only: L1 geometry (L0 geometry comes from the fields
	// above).
	WaysL1             int `json:"waysL1,omitempty"`
	SetsL1             int `json:"setsL1,omitempty"`
	RequestQueueSizeL1 int `json:"requestQueueSizeL1,omitempty"`

	// input only.
	NumPorts int `json:"numPorts,omitempty"`
}

// Scenario is one or more cache topologies to run side by side, plus the
// number of simulated cycles and the memory model driving them.
type Scenario struct {
	Cycles   int           `json:"cycles"`
	Caches   []CacheConfig `json:"caches"`
	Seed     int64         `json:"seed"`
	Latency  int           `json:"memoryLatency"`            // fixed cycles for the in-memory fake to respond
	BusWidth int           `json:"memoryBusWidth,omitempty"` // bytes/cycle the fake memory bus transfers; defaults to 1
}

// Load reads and validates a Scenario from a YAML file.
func Load(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("simcfg: reading %s: %w", path, err)
	}
	var s Scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("simcfg: parsing %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("simcfg: %s: %w", path, err)
	}
	return &s, nil
}

// Validate checks the invariants spec §6 places on cache configuration:
// all size parameters positive, lines and bytesPerLine powers of two.
func (s *Scenario) Validate() error {
	if s.Cycles <= 0 {
		return fmt.Errorf("cycles must be positive, got %d", s.Cycles)
	}
	if len(s.Caches) == 0 {
		return fmt.Errorf("scenario must declare at least one cache")
	}
	for i, c := range s.Caches {
		if err := c.validate(); err != nil {
			return fmt.Errorf("caches[%d] (%s): %w", i, c.Name, err)
		}
	}
	return nil
}

func isPowerOfTwo(n int) bool { return n > 0 && n&(n-1) == 0 }

func (c CacheConfig) validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("name must not be empty")
	case c.Ways <= 0:
		return fmt.Errorf("ways must be positive, got %d", c.Ways)
	case !isPowerOfTwo(c.Sets):
		return fmt.Errorf("sets must be a power of two, got %d", c.Sets)
	case !isPowerOfTwo(c.LineSize):
		return fmt.Errorf("lineSize must be a power of two, got %d", c.LineSize)
	case c.RequestQueueSize <= 0:
		return fmt.Errorf("requestQueueSize must be positive, got %d", c.RequestQueueSize)
	}
	switch c.Kind {
	case "texture":
		if c.PortWidth <= 0 || c.Banks <= 0 || c.MaxAccesses <= 0 || c.BankWidth <= 0 || c.MaxMisses <= 0 {
			return fmt.Errorf("texture cache requires positive portWidth, banks, maxAccesses, bankWidth, maxMisses")
		}
	case "texturel2":
		if c.PortWidth <= 0 || c.Banks <= 0 || c.MaxAccesses <= 0 || c.BankWidth <= 0 || c.MaxMisses <= 0 {
			return fmt.Errorf("texturel2 cache requires positive portWidth, banks, maxAccesses, bankWidth, maxMisses")
		}
		if c.WaysL1 <= 0 || !isPowerOfTwo(c.SetsL1) || c.RequestQueueSizeL1 <= 0 {
			return fmt.Errorf("texturel2 cache requires positive waysL1, power-of-two setsL1, positive requestQueueSizeL1")
		}
	case "input":
		if c.NumPorts <= 0 || c.PortWidth <= 0 {
			return fmt.Errorf("input cache requires positive numPorts and portWidth")
		}
	default:
		return fmt.Errorf("unknown cache kind %q", c.Kind)
	}
	return nil
}
