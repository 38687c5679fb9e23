package kvcache

import (
	"context"
	"testing"
	"time"
)

func TestMemorySetGet(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	c := NewMemory(func() time.Time { return now })
	ctx := context.Background()

	if err := c.Set(ctx, "k1", []byte("hello"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	value, found, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || string(value) != "hello" {
		t.Fatalf("Get() = %q, %v", value, found)
	}
}

func TestMemoryGetMissing(t *testing.T) {
	c := NewMemory(nil)
	_, found, err := c.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found {
		t.Fatalf("expected a miss")
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	c := NewMemory(func() time.Time { return now })
	ctx := context.Background()

	if err := c.Set(ctx, "k1", []byte("v"), 30*time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	now = now.Add(31 * time.Second)
	if _, found, _ := c.Get(ctx, "k1"); found {
		t.Fatalf("entry should have expired")
	}
}

func TestMemoryZeroTTLNeverExpires(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	c := NewMemory(func() time.Time { return now })
	ctx := context.Background()

	if err := c.Set(ctx, "k1", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	now = now.Add(1000 * time.Hour)
	if _, found, _ := c.Get(ctx, "k1"); !found {
		t.Fatalf("zero-ttl entry should persist")
	}
}

func TestMemoryDelete(t *testing.T) {
	c := NewMemory(nil)
	ctx := context.Background()
	if err := c.Set(ctx, "k1", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := c.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, found, _ := c.Get(ctx, "k1"); found {
		t.Fatalf("entry should be gone")
	}
}

func TestMemoryReturnsCopy(t *testing.T) {
	c := NewMemory(nil)
	ctx := context.Background()
	if err := c.Set(ctx, "k1", []byte("abc"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	value, _, _ := c.Get(ctx, "k1")
	value[0] = 'x'
	again, _, _ := c.Get(ctx, "k1")
	if string(again) != "abc" {
		t.Fatalf("stored value mutated through the returned slice: %q", again)
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	c, err := OpenSQLite(SQLiteOptions{
		Path: t.TempDir() + "/cache.sqlite",
		Now:  func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k1", []byte("persisted"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	value, found, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || string(value) != "persisted" {
		t.Fatalf("Get() = %q, %v", value, found)
	}

	if err := c.Set(ctx, "k1", []byte("replaced"), time.Minute); err != nil {
		t.Fatalf("Set() upsert error = %v", err)
	}
	value, _, _ = c.Get(ctx, "k1")
	if string(value) != "replaced" {
		t.Fatalf("upsert value = %q", value)
	}

	now = now.Add(2 * time.Minute)
	if _, found, _ := c.Get(ctx, "k1"); found {
		t.Fatalf("entry should have expired lazily")
	}
}
