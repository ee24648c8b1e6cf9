package session

import (
	"context"
	"sync"
	"testing"

	"github.com/sweetpotato0/askdb/message"
)

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(0)

	history, err := store.History(ctx, "unknown")
	if err != nil || len(history) != 0 {
		t.Fatalf("Expected empty history, got %d (%v)", len(history), err)
	}

	q := message.NewMessage(message.RoleUser, "How many users?")
	a := message.NewMessage(message.RoleAssistant, "12")
	if err := store.Append(ctx, "c1", q, a); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	history, _ = store.History(ctx, "c1")
	if len(history) != 2 || history[0].Content != "How many users?" || history[1].Role != message.RoleAssistant {
		t.Fatalf("Unexpected history %+v", history)
	}

	history[0].Content = "mutated"
	again, _ := store.History(ctx, "c1")
	if again[0].Content != "How many users?" {
		t.Error("History must return copies")
	}

	if err := store.Append(ctx, "", q); err == nil {
		t.Error("Expected error for empty conversation id")
	}

	store.Clear(ctx, "c1")
	if store.Count() != 0 {
		t.Error("Expected conversation to be cleared")
	}
}

func TestInMemoryStoreLimit(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(3)

	for _, text := range []string{"1", "2", "3", "4", "5"} {
		store.Append(ctx, "c", message.NewMessage(message.RoleUser, text))
	}

	history, _ := store.History(ctx, "c")
	if len(history) != 3 || history[0].Content != "3" || history[2].Content != "5" {
		t.Errorf("Expected the three newest messages, got %d", len(history))
	}
}

func TestInMemoryStoreConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Append(ctx, "c", message.NewMessage(message.RoleUser, "x"))
		}()
	}
	wg.Wait()

	history, _ := store.History(ctx, "c")
	if len(history) != 50 {
		t.Errorf("Expected 50 messages, got %d", len(history))
	}
}
