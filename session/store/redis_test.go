package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sweetpotato0/askdb/message"
)

// TestRedisStore requires a running Redis server reachable via REDIS_ADDR.
func TestRedisStore(t *testing.T) {
	if os.Getenv("REDIS_ADDR") == "" {
		t.Skip("REDIS_ADDR not set, skipping Redis store tests")
	}

	ctx := context.Background()
	cfg := RedisConfigFromEnv()
	cfg.Prefix = "askdb:test:"
	cfg.TTL = time.Minute
	cfg.MaxMessages = 3
	store := NewRedisStore(cfg)
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		t.Skipf("Failed to connect to Redis: %v", err)
	}

	id := uuid.NewString()
	defer store.Clear(ctx, id)

	call := message.NewToolCallMessage("", []message.ToolCall{
		message.NewToolCall("call_1", "run_sql", map[string]any{"sql": "SELECT 1"}),
	})
	msgs := []*message.Message{
		message.NewMessage(message.RoleUser, "q1"),
		call,
		message.NewToolResponseMessage("call_1", "run_sql", "[]", false),
		message.NewMessage(message.RoleAssistant, "a1"),
	}
	if err := store.Append(ctx, id, msgs...); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	history, err := store.History(ctx, id)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("Expected trimming to 3 messages, got %d", len(history))
	}
	if history[0].ToolCalls[0].ID != "call_1" || history[0].ToolCalls[0].Args["sql"] != "SELECT 1" {
		t.Errorf("Tool call did not round trip: %+v", history[0].ToolCalls)
	}
	if history[1].ToolName != "run_sql" {
		t.Errorf("Expected tool name, got %q", history[1].ToolName)
	}

	if err := store.Clear(ctx, id); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	history, _ = store.History(ctx, id)
	if len(history) != 0 {
		t.Errorf("Expected cleared history, got %d", len(history))
	}
}

func TestRedisConfigFromEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REDIS_PREFIX", "")
	t.Setenv("REDIS_TTL", "90m")

	cfg := RedisConfigFromEnv()
	if cfg.Addr != "cache:6380" || cfg.Password != "secret" || cfg.DB != 2 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Prefix != DefaultRedisConfig().Prefix || cfg.TTL != 90*time.Minute {
		t.Errorf("unexpected prefix/ttl %q %s", cfg.Prefix, cfg.TTL)
	}
}
