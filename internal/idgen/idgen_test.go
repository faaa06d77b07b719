package idgen

import (
	"strings"
	"testing"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("pair_")
	if !strings.HasPrefix(id, "pair_") {
		t.Errorf("expected pair_ prefix, got %q", id)
	}
	if len(id) != len("pair_")+24 {
		t.Errorf("expected 24 hex chars after prefix, got %q", id)
	}
}

func TestWithPrefixUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := WithPrefix("dlv_")
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
