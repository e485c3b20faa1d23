package cache

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local Redis on DB 15 and skips the test when
// none is running. Containerized runs live in the integration tests.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewRedisStore(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	store := NewRedisStore(client, "openalex")
	if store.redis != client {
		t.Error("RedisStore redis client not set correctly")
	}
	if store.prefix != "openalex:" {
		t.Errorf("prefix = %q, want %q", store.prefix, "openalex:")
	}
}

func TestNewRedisStore_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisStore should panic with nil redis client")
		}
	}()
	NewRedisStore(nil, "")
}

func TestRedisStore_SetAndGet(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, "test")
	ctx := context.Background()

	entry := newEntry([]byte(`{"results": []}`), time.Now(), 5*time.Minute)
	if err := store.Set(ctx, "search:limit=10", entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Get(ctx, "search:limit=10")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Value) != string(entry.Value) {
		t.Errorf("Value mismatch: got %s, want %s", got.Value, entry.Value)
	}

	ttl, err := client.TTL(ctx, "test:search:limit=10").Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 4*time.Minute || ttl > 5*time.Minute {
		t.Errorf("redis TTL = %v, want about 5m", ttl)
	}
}

func TestRedisStore_Get_CacheMiss(t *testing.T) {
	store := NewRedisStore(setupTestRedis(t), "test")

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

func TestRedisStore_ExpiredEntryNotStored(t *testing.T) {
	store := NewRedisStore(setupTestRedis(t), "test")
	ctx := context.Background()

	entry := &Entry{Value: []byte("x"), Expires: time.Now().Add(-time.Hour)}
	if err := store.Set(ctx, "old", entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := store.Get(ctx, "old"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss for expired entry, got %v", err)
	}
}

func TestRedisStore_InvalidEntry(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, "test")
	ctx := context.Background()

	client.Set(ctx, "test:broken", "not json", time.Minute)
	if _, err := store.Get(ctx, "broken"); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Expected ErrInvalidEntry, got %v", err)
	}
}

func TestRedisStore_KeysAndDelete(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, "test")
	ctx := context.Background()

	for _, k := range []string{"search:a", "search:b", "collab:ids=2.x"} {
		if err := store.Set(ctx, k, newEntry([]byte("v"), time.Now(), time.Minute)); err != nil {
			t.Fatalf("Set(%s) failed: %v", k, err)
		}
	}
	// a foreign key outside the prefix is never listed
	client.Set(ctx, "other:search:c", "v", time.Minute)

	keys, err := store.Keys(ctx, "search:*")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "search:a" || keys[1] != "search:b" {
		t.Errorf("Keys() = %v, want [search:a search:b]", keys)
	}

	n, err := store.Delete(ctx, keys...)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Delete() = %d, want 2", n)
	}
	if _, err := store.Get(ctx, "collab:ids=2.x"); err != nil {
		t.Errorf("unrelated key removed: %v", err)
	}
}
