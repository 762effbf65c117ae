package kv

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}

	if err := store.Set(ctx, "k", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	raw, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(raw) != `{"a":1}` {
		t.Fatalf("unexpected value: %s", raw)
	}

	// Mutating the returned slice must not affect the stored copy.
	raw[0] = 'X'
	raw2, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(raw2) != `{"a":1}` {
		t.Fatalf("stored value mutated: %s", raw2)
	}

	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "k"); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client)
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}

	if err := store.Set(ctx, "k", []byte(`[1,2,3]`)); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	raw, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(raw) != `[1,2,3]` {
		t.Fatalf("unexpected value: %s", raw)
	}

	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "k"); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestLoadJSONMissingKeyLeavesDestUntouched(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	dest := []string{"seeded"}
	if err := LoadJSON(ctx, store, "absent", &dest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dest) != 1 || dest[0] != "seeded" {
		t.Fatalf("dest should be untouched, got %#v", dest)
	}
}

func TestSaveThenLoadJSON(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	type record struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	if err := SaveJSON(ctx, store, "rec", record{Name: "a", Count: 2}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	var got record
	if err := LoadJSON(ctx, store, "rec", &got); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.Name != "a" || got.Count != 2 {
		t.Fatalf("unexpected record: %#v", got)
	}
}
