package xid

import (
	"strings"
	"testing"
)

func TestNewUsesPrefixAndIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New("sale")
		if !strings.HasPrefix(id, "sale-") {
			t.Fatalf("expected sale- prefix, got %s", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}
