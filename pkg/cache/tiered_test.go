package cache

import (
	"context"
	"errors"
	"path"
	"sync"
	"testing"
	"time"
)

// memoryStore is an in-process SharedStore sharing the cache's clock.
type memoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time
	failGet error
}

func newMemoryStore(now func() time.Time) *memoryStore {
	return &memoryStore{entries: make(map[string]*Entry), now: now}
}

func (s *memoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		return nil, s.failGet
	}
	e, ok := s.entries[key]
	if !ok || e.IsExpired(s.now()) {
		return nil, ErrCacheMiss
	}
	return e, nil
}

func (s *memoryStore) Set(_ context.Context, key string, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = e
	return nil
}

func (s *memoryStore) Keys(_ context.Context, match string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.entries {
		if ok, _ := path.Match(match, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *memoryStore) Delete(_ context.Context, keys ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, k := range keys {
		if _, ok := s.entries[k]; ok {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(t *testing.T, withShared bool) (*Tiered, *memoryStore, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

	var store *memoryStore
	var shared SharedStore
	if withShared {
		store = newMemoryStore(clk.now)
		shared = store
	}
	c, err := NewTiered(Config{LocalSize: 16, LocalTTL: 5 * time.Minute}, shared)
	if err != nil {
		t.Fatalf("NewTiered() error = %v", err)
	}
	c.now = clk.now
	return c, store, clk
}

func TestTiered_LocalOnly(t *testing.T) {
	c, _, clk := newTestCache(t, false)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "search:a"); ok {
		t.Fatal("Get() on empty cache = hit")
	}
	if err := c.Set(ctx, "search:a", []byte("v"), time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, ok := c.Get(ctx, "search:a"); !ok || string(got) != "v" {
		t.Errorf("Get() = %q, %v; want v, true", got, ok)
	}

	// local copy is capped at LocalTTL even though ttl is an hour
	clk.advance(5 * time.Minute)
	if _, ok := c.Get(ctx, "search:a"); ok {
		t.Error("Get() after LocalTTL = hit, want miss")
	}
	if c.local.len() != 0 {
		t.Errorf("expired entry not evicted on read, len = %d", c.local.len())
	}
}

func TestTiered_NonPositiveTTLStoresNothing(t *testing.T) {
	c, store, _ := newTestCache(t, true)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("Get() = hit for ttl 0")
	}
	if len(store.entries) != 0 {
		t.Errorf("shared tier holds %d entries, want 0", len(store.entries))
	}
}

func TestTiered_SharedHitPromotes(t *testing.T) {
	c, store, clk := newTestCache(t, true)
	ctx := context.Background()

	// Another replica wrote the value 23 hours ago with a 24h TTL.
	written := clk.t.Add(-23 * time.Hour)
	store.entries["collab:ids=2.x"] = newEntry([]byte("m"), written, 24*time.Hour)

	got, ok := c.Get(ctx, "collab:ids=2.x")
	if !ok || string(got) != "m" {
		t.Fatalf("Get() = %q, %v; want m, true", got, ok)
	}

	e, ok := c.local.get("collab:ids=2.x", clk.t)
	if !ok {
		t.Fatal("shared hit not promoted")
	}
	if want := clk.t.Add(5 * time.Minute); !e.Expires.Equal(want) {
		t.Errorf("promoted Expires = %v, want %v (LocalTTL)", e.Expires, want)
	}
}

func TestTiered_PromotionNeverExtendsFreshness(t *testing.T) {
	c, store, clk := newTestCache(t, true)
	ctx := context.Background()

	// 90 seconds left in the shared tier, less than LocalTTL.
	store.entries["k"] = newEntry([]byte("v"), clk.t.Add(-time.Hour), time.Hour+90*time.Second)

	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatal("Get() = miss")
	}
	e, _ := c.local.get("k", clk.t)
	if want := clk.t.Add(90 * time.Second); !e.Expires.Equal(want) {
		t.Errorf("promoted Expires = %v, want %v", e.Expires, want)
	}

	clk.advance(90 * time.Second)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("Get() after shared expiry = hit; promotion extended freshness")
	}
}

func TestTiered_SharedErrorIsMiss(t *testing.T) {
	c, store, _ := newTestCache(t, true)
	store.failGet = errors.New("connection refused")

	if _, ok := c.Get(context.Background(), "k"); ok {
		t.Error("Get() = hit with failing shared tier")
	}
}

func TestTiered_SetWritesBothTiers(t *testing.T) {
	c, store, clk := newTestCache(t, true)
	ctx := context.Background()

	if err := c.Set(ctx, "search:a", []byte("v"), 24*time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	e, ok := store.entries["search:a"]
	if !ok {
		t.Fatal("shared tier missing entry")
	}
	if want := clk.t.Add(24 * time.Hour); !e.Expires.Equal(want) {
		t.Errorf("shared Expires = %v, want %v", e.Expires, want)
	}

	// after the local copy lapses the shared one still serves
	clk.advance(10 * time.Minute)
	if _, ok := c.Get(ctx, "search:a"); !ok {
		t.Error("Get() = miss, want shared hit")
	}
}

func TestTiered_JSON(t *testing.T) {
	c, _, _ := newTestCache(t, false)
	ctx := context.Background()

	type payload struct {
		IDs []string `json:"ids"`
	}
	if err := c.SetJSON(ctx, "authors:x", payload{IDs: []string{"A1", "A2"}}, time.Hour); err != nil {
		t.Fatalf("SetJSON() error = %v", err)
	}

	var got payload
	if !c.GetJSON(ctx, "authors:x", &got) {
		t.Fatal("GetJSON() = miss")
	}
	if len(got.IDs) != 2 || got.IDs[1] != "A2" {
		t.Errorf("GetJSON() = %+v", got)
	}

	if err := c.Set(ctx, "authors:bad", []byte("{"), time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if c.GetJSON(ctx, "authors:bad", &got) {
		t.Error("GetJSON() on undecodable value = hit")
	}
}

func TestTiered_Invalidate(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		want    int
		kept    []string
	}{
		{name: "prefix", pattern: "search:", want: 2, kept: []string{"collab:ids=2.x", "authors:ids=3.y"}},
		{name: "glob", pattern: "collab:*", want: 1, kept: []string{"search:year_min=2020", "search:limit=10", "authors:ids=3.y"}},
		{name: "single char glob", pattern: "search:limit=1?", want: 1, kept: []string{"search:year_min=2020"}},
		{name: "everything", pattern: "*", want: 4},
		{name: "no match", pattern: "works:", want: 0, kept: []string{"search:limit=10"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, store, clk := newTestCache(t, true)
			ctx := context.Background()

			for _, k := range []string{"search:year_min=2020", "search:limit=10", "collab:ids=2.x"} {
				if err := c.Set(ctx, k, []byte("v"), time.Hour); err != nil {
					t.Fatalf("Set() error = %v", err)
				}
			}
			// present only in the shared tier
			store.entries["authors:ids=3.y"] = newEntry([]byte("v"), clk.t, time.Hour)

			n, err := c.Invalidate(ctx, tt.pattern)
			if err != nil {
				t.Fatalf("Invalidate() error = %v", err)
			}
			if n != tt.want {
				t.Errorf("Invalidate() = %d, want %d", n, tt.want)
			}
			for _, k := range tt.kept {
				if _, ok := c.Get(ctx, k); !ok {
					t.Errorf("key %s removed, want kept", k)
				}
			}
		})
	}
}

func TestTiered_InvalidateRemovesFromBothTiers(t *testing.T) {
	c, store, _ := newTestCache(t, true)
	ctx := context.Background()

	if err := c.Set(ctx, "collab:ids=2.x", []byte("v"), time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := c.Invalidate(ctx, "collab:*"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if c.local.len() != 0 || len(store.entries) != 0 {
		t.Errorf("local=%d shared=%d, want both empty", c.local.len(), len(store.entries))
	}
}

func TestTiered_InvalidateRejectsEmptyPattern(t *testing.T) {
	c, _, _ := newTestCache(t, false)
	if _, err := c.Invalidate(context.Background(), ""); !errors.Is(err, ErrInvalidPattern) {
		t.Errorf("Invalidate(\"\") error = %v, want ErrInvalidPattern", err)
	}
}

func TestTiered_LocalEviction(t *testing.T) {
	clk := &clock{t: time.Now()}
	c, err := NewTiered(Config{LocalSize: 2, LocalTTL: time.Minute}, nil)
	if err != nil {
		t.Fatalf("NewTiered() error = %v", err)
	}
	c.now = clk.now
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		_ = c.Set(ctx, k, []byte(k), time.Hour)
	}
	if _, ok := c.Get(ctx, "a"); ok {
		t.Error("least recently used entry survived")
	}
	if c.local.len() != 2 {
		t.Errorf("local len = %d, want 2", c.local.len())
	}
}

func TestCompilePattern(t *testing.T) {
	tests := []struct {
		pattern string
		scan    string
		key     string
		match   bool
	}{
		{"search:", "search:*", "search:limit=10", true},
		{"search:", "search:*", "xsearch:", false},
		{"collab:*", "collab:*", "collab:ids=2.x", true},
		{"*:ids=2.x", "*", "collab:ids=2.x", true},
		{"search:year_min=20?0", "search:year_min=20*", "search:year_min=2010", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			match, scan, err := compilePattern(tt.pattern)
			if err != nil {
				t.Fatalf("compilePattern() error = %v", err)
			}
			if scan != tt.scan {
				t.Errorf("scan = %q, want %q", scan, tt.scan)
			}
			if got := match(tt.key); got != tt.match {
				t.Errorf("match(%q) = %v, want %v", tt.key, got, tt.match)
			}
		})
	}
}
