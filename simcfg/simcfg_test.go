package simcfg

import (
	"os"
	"path/filepath"
	"testing"
)

const validScenario = `
cycles: 1000
seed: 42
memoryLatency: 4
caches:
  - name: Tex0
    kind: texture
    ways: 4
    sets: 64
    lineSize: 64
    requestQueueSize: 16
    portWidth: 4
    banks: 2
    maxAccesses: 2
    bankWidth: 64
    maxMisses: 2
    decomprLatency: 2
  - name: Input0
    kind: input
    ways: 4
    sets: 64
    lineSize: 64
    requestQueueSize: 8
    numPorts: 2
    portWidth: 16
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidScenario(t *testing.T) {
	path := writeTemp(t, validScenario)
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Cycles != 1000 || s.Seed != 42 || s.Latency != 4 {
		t.Fatalf("unexpected top-level fields: %+v", s)
	}
	if len(s.Caches) != 2 {
		t.Fatalf("expected 2 caches, got %d", len(s.Caches))
	}
	if s.Caches[0].Kind != "texture" || s.Caches[0].Banks != 2 {
		t.Fatalf("texture cache not parsed correctly: %+v", s.Caches[0])
	}
	if s.Caches[1].Kind != "input" || s.Caches[1].NumPorts != 2 {
		t.Fatalf("input cache not parsed correctly: %+v", s.Caches[1])
	}
}

func TestLoadRejectsNonPowerOfTwoSets(t *testing.T) {
	path := writeTemp(t, `
cycles: 10
caches:
  - name: Bad
    kind: input
    ways: 4
    sets: 63
    lineSize: 64
    requestQueueSize: 8
    numPorts: 1
    portWidth: 16
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for non-power-of-two sets")
	}
}

func TestLoadRejectsUnknownKind(t *testing.T) {
	path := writeTemp(t, `
cycles: 10
caches:
  - name: Mystery
    kind: unknown
    ways: 4
    sets: 64
    lineSize: 64
    requestQueueSize: 8
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unknown cache kind")
	}
}

func TestLoadRejectsZeroCycles(t *testing.T) {
	path := writeTemp(t, `
cycles: 0
caches:
  - name: Tex0
    kind: input
    ways: 4
    sets: 64
    lineSize: 64
    requestQueueSize: 8
    numPorts: 1
    portWidth: 16
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for zero cycles")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
