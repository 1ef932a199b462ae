package idgen

import (
	"strings"
	"testing"
)

func TestUUIDv7Sortable(t *testing.T) {
	gen := UUIDv7()
	a := gen()
	b := gen()
	if a == b {
		t.Fatal("consecutive IDs collided")
	}
	if len(a) != 36 {
		t.Fatalf("len = %d, want canonical UUID form", len(a))
	}
	// UUIDv7 is time-ordered, so later IDs sort after earlier ones.
	if !(a < b) {
		t.Fatalf("ordering violated: %s >= %s", a, b)
	}
}

func TestNanoID(t *testing.T) {
	gen := NanoID(8)
	id := gen()
	if len(id) != 8 {
		t.Fatalf("len = %d, want 8", len(id))
	}
	if id == gen() {
		t.Fatal("consecutive IDs collided")
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("cx_", NanoID(6))
	id := gen()
	if !strings.HasPrefix(id, "cx_") || len(id) != 9 {
		t.Fatalf("id = %q", id)
	}
}

func TestTimestamped(t *testing.T) {
	gen := Timestamped(NanoID(4))
	id := gen()
	if !strings.Contains(id, "_") {
		t.Fatalf("id = %q, want timestamp_suffix form", id)
	}
}
