package addr

import "testing"

func TestLayoutRoundTrip(t *testing.T) {
	l := NewLayout[uint64](64, 64) // 64B lines, 64 sets
	a := uint64(0x1_2345_6789_ABC0)
	line := l.LineAddress(l.Tag(a), l.Set(a))
	if line != a-l.Offset(a) {
		t.Fatalf("LineAddress round trip: got %#x want %#x", line, a-l.Offset(a))
	}
}

func TestLayoutOffsetSetTag(t *testing.T) {
	l := NewLayout[uint32](64, 64) // byteMask=0x3f, lineMask=0x3f, lineShift=6, tagShift=12
	a := uint32(0x12345)
	if got, want := l.Offset(a), a&0x3f; got != want {
		t.Fatalf("Offset = %#x, want %#x", got, want)
	}
	if got, want := l.Set(a), (a>>6)&0x3f; got != want {
		t.Fatalf("Set = %#x, want %#x", got, want)
	}
	if got, want := l.Tag(a), a>>12; got != want {
		t.Fatalf("Tag = %#x, want %#x", got, want)
	}
}

func TestFullyAssociative(t *testing.T) {
	l := NewLayout[uint64](32, 1)
	a := uint64(0xdeadbeef)
	if l.Set(a) != 0 {
		t.Fatalf("fully associative Set must be 0, got %d", l.Set(a))
	}
	if got, want := l.Tag(a), a>>5; got != want {
		t.Fatalf("Tag = %#x, want %#x", got, want)
	}
}

func TestNewLayoutRejectsNonPowerOfTwo(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non-power-of-two line size")
		}
	}()
	NewLayout[uint32](24, 16)
}
