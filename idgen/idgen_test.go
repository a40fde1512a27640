package idgen

import (
	"strings"
	"testing"
)

func TestNanoID(t *testing.T) {
	gen := NanoID(16)
	seen := make(map[string]struct{}, 500)
	for i := 0; i < 500; i++ {
		id := gen()
		if len(id) != 16 {
			t.Fatalf("length: got %d, want 16", len(id))
		}
		for _, c := range id {
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')) {
				t.Fatalf("unexpected character %q in %q", c, id)
			}
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate at iteration %d: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestUUIDv7Sortable(t *testing.T) {
	gen := UUIDv7()
	prev := gen()
	if _, err := Parse(prev); err != nil {
		t.Fatalf("Parse(%q): %v", prev, err)
	}
	for i := 0; i < 100; i++ {
		id := gen()
		if id <= prev {
			t.Fatalf("not increasing: %q after %q", id, prev)
		}
		prev = id
	}
}

func TestNamedGenerators(t *testing.T) {
	tests := []struct {
		gen    Generator
		prefix string
		length int
	}{
		{Session, "ses_", 4 + 36},
		{Batch, "bat_", 4 + 8},
		{Request, "req_", 4 + 12},
	}
	for _, tt := range tests {
		id := tt.gen()
		if !strings.HasPrefix(id, tt.prefix) || len(id) != tt.length {
			t.Errorf("got %q, want prefix %q and length %d", id, tt.prefix, tt.length)
		}
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse("not-a-uuid"); err == nil {
		t.Fatal("expected error")
	}
	if New() == "" {
		t.Fatal("New: empty ID")
	}
}
