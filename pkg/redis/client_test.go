package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type mockCmdable struct {
	values map[string]string
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{values: map[string]string{}}
}

func (m *mockCmdable) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("PONG")
	return cmd
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	m.values[key] = asString(value)
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if value, ok := m.values[key]; ok {
		cmd.SetVal(value)
	} else {
		cmd.SetErr(redis.Nil)
	}
	return cmd
}

func (m *mockCmdable) GetDel(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if value, ok := m.values[key]; ok {
		cmd.SetVal(value)
		delete(m.values, key)
	} else {
		cmd.SetErr(redis.Nil)
	}
	return cmd
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	if _, ok := m.values[key]; ok {
		cmd.SetVal(false)
		return cmd
	}
	m.values[key] = asString(value)
	cmd.SetVal(true)
	return cmd
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	var removed int64
	for _, key := range keys {
		if _, ok := m.values[key]; ok {
			delete(m.values, key)
			removed++
		}
	}
	cmd.SetVal(removed)
	return cmd
}

func asString(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	return ""
}

func TestGetDelReadsOnce(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	key := client.QuoteKey("quote-1")
	if err := client.Set(ctx, key, `{"fee_cents":499}`, time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	value, err := client.GetDel(ctx, key)
	if err != nil {
		t.Fatalf("getdel failed: %v", err)
	}
	if value != `{"fee_cents":499}` {
		t.Fatalf("unexpected value %q", value)
	}

	if _, err := client.GetDel(ctx, key); err != Nil {
		t.Fatalf("expected second read to miss, got %v", err)
	}
}

func TestSetNXGuardsDuplicates(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	key := client.IdempotencyKey("stripe-webhook", "evt_123")
	first, err := client.SetNX(ctx, key, "1", time.Hour)
	if err != nil {
		t.Fatalf("setnx failed: %v", err)
	}
	if !first {
		t.Fatal("expected first SetNX to win")
	}
	second, err := client.SetNX(ctx, key, "1", time.Hour)
	if err != nil {
		t.Fatalf("setnx failed: %v", err)
	}
	if second {
		t.Fatal("expected second SetNX to lose")
	}
}

func TestKeyNamespacing(t *testing.T) {
	client := &Client{}
	if got := client.QuoteKey("q1"); got != "tv:quote:q1" {
		t.Fatalf("unexpected quote key %q", got)
	}
	if got := client.SessionKey("s1"); got != "tv:checkout_session:s1" {
		t.Fatalf("unexpected session key %q", got)
	}
	if got := client.IdempotencyKey("scope", "id"); got != "tv:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %q", got)
	}
	if got := client.LockKey("cron"); got != "tv:lock:cron" {
		t.Fatalf("unexpected lock key %q", got)
	}
}
