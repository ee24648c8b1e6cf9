package memory

import (
	"reflect"
	"strings"
	"testing"

	"github.com/sweetpotato0/askdb/tool"
)

func TestNewKnowledge(t *testing.T) {
	queries := []tool.Query{
		{SQL: "SELECT count(*) FROM orders WHERE shipped_at > now() - interval '7 days'"},
		{SQL: "SELECT 1", Connection: "analytics"},
	}
	mem := NewKnowledge("How many orders shipped last week?", "42 orders shipped.", queries)

	if mem.ID == "" || !strings.HasPrefix(mem.ID, "mem_") {
		t.Errorf("Unexpected ID %q", mem.ID)
	}
	if mem.CreatedAt.IsZero() || mem.UpdatedAt.IsZero() {
		t.Error("Expected timestamps")
	}

	queries[0].SQL = "changed"
	if mem.Queries[0].SQL == "changed" {
		t.Error("Expected queries to be copied")
	}

	want := "Q: How many orders shipped last week?\n" +
		"A: 42 orders shipped.\n" +
		"SQL: SELECT count(*) FROM orders WHERE shipped_at > now() - interval '7 days'\n" +
		"SQL [analytics]: SELECT 1"
	if mem.Content != want {
		t.Errorf("Unexpected content:\n%s\nwant:\n%s", mem.Content, want)
	}
}

func TestPrepare(t *testing.T) {
	mem := &Memory{Content: "orders.status is one of pending, shipped, cancelled"}
	Prepare(mem)

	if mem.ID == "" {
		t.Error("Expected generated ID")
	}
	if mem.Metadata == nil {
		t.Error("Expected metadata map")
	}
	if mem.Content != "orders.status is one of pending, shipped, cancelled" {
		t.Errorf("Prepare must keep explicit content, got %q", mem.Content)
	}
}

func TestGenerateMemoryID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateMemoryID()
		if seen[id] {
			t.Fatalf("Generated duplicate ID %s", id)
		}
		seen[id] = true
	}
}

func TestKeywords(t *testing.T) {
	got := Keywords("How many Orders shipped, orders by customer_id?")
	want := []string{"how", "many", "orders", "shipped", "customer_id"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Keywords() = %v, want %v", got, want)
	}

	if len(Keywords("a b")) != 0 {
		t.Error("Expected short words to be dropped")
	}
}
