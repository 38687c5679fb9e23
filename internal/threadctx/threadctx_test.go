package threadctx

import (
	"context"
	"testing"
	"time"

	"github.com/oakpass/deskhand/internal/kvcache"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func newTestStore(t *testing.T, c *clock, ttl time.Duration) *Store {
	t.Helper()
	s, err := NewStore(Options{
		Cache: kvcache.NewMemory(c.Now),
		TTL:   ttl,
		Now:   c.Now,
	})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return s
}

func TestCreateThenRead(t *testing.T) {
	c := &clock{now: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)}
	s := newTestStore(t, c, time.Hour)
	if _, err := s.Create(context.Background(), CreateParams{
		ThreadID:   "t1",
		CustomerID: "amy@example.com",
	}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	read := s.Read(context.Background(), "t1")
	if read.State != StateActive {
		t.Fatalf("state = %q, want active", read.State)
	}
	if read.Context.CustomerID != "amy@example.com" {
		t.Fatalf("customer = %q", read.Context.CustomerID)
	}
}

func TestReadMissing(t *testing.T) {
	c := &clock{now: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)}
	s := newTestStore(t, c, time.Hour)
	if read := s.Read(context.Background(), "nope"); read.State != StateMissing {
		t.Fatalf("state = %q, want missing", read.State)
	}
}

func TestStaleReadDeletesRecord(t *testing.T) {
	c := &clock{now: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)}
	cache := kvcache.NewMemory(c.Now)
	s, err := NewStore(Options{Cache: cache, TTL: time.Hour, Now: c.Now})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, err := s.Create(context.Background(), CreateParams{ThreadID: "t1"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	c.now = c.now.Add(59 * time.Minute)
	if read := s.Read(context.Background(), "t1"); read.State != StateActive {
		t.Fatalf("state at 59m = %q, want active", read.State)
	}

	c.now = c.now.Add(2 * time.Minute)
	read := s.Read(context.Background(), "t1")
	if read.State != StateStale {
		t.Fatalf("state at 61m = %q, want stale", read.State)
	}
	if read.Message == "" {
		t.Fatalf("stale read should explain itself")
	}
	// The record is gone, so the next read is a plain miss.
	if read := s.Read(context.Background(), "t1"); read.State != StateMissing {
		t.Fatalf("second read state = %q, want missing", read.State)
	}
}

func TestWriteRestartsTTLWindow(t *testing.T) {
	c := &clock{now: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)}
	s := newTestStore(t, c, time.Hour)
	tc, err := s.Create(context.Background(), CreateParams{ThreadID: "t1"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	c.now = c.now.Add(50 * time.Minute)
	tc.DraftText = "updated draft"
	if err := s.Write(context.Background(), tc); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// 70 minutes after creation, but only 20 after the last write.
	c.now = c.now.Add(20 * time.Minute)
	read := s.Read(context.Background(), "t1")
	if read.State != StateActive {
		t.Fatalf("state = %q, want active after recent write", read.State)
	}
	if read.Context.DraftText != "updated draft" {
		t.Fatalf("draft text = %q", read.Context.DraftText)
	}
}

func TestReadDoesNotSlideExpiry(t *testing.T) {
	c := &clock{now: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)}
	s := newTestStore(t, c, time.Hour)
	if _, err := s.Create(context.Background(), CreateParams{ThreadID: "t1"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		c.now = c.now.Add(10 * time.Minute)
		if read := s.Read(context.Background(), "t1"); read.State != StateActive {
			t.Fatalf("read %d state = %q, want active", i, read.State)
		}
	}
	c.now = c.now.Add(11 * time.Minute)
	if read := s.Read(context.Background(), "t1"); read.State != StateStale {
		t.Fatalf("state = %q, want stale; reads must not extend the window", read.State)
	}
}

func TestClear(t *testing.T) {
	c := &clock{now: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)}
	s := newTestStore(t, c, time.Hour)
	if _, err := s.Create(context.Background(), CreateParams{ThreadID: "t1"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := s.Clear(context.Background(), "t1"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if read := s.Read(context.Background(), "t1"); read.State != StateMissing {
		t.Fatalf("state = %q, want missing after clear", read.State)
	}
}

func TestIsResetPhrase(t *testing.T) {
	cases := map[string]bool{
		"new topic":                    true,
		"ok, different customer now":   true,
		"this is about a New Customer": true,
		"what's the status":            false,
		"":                             false,
	}
	for text, want := range cases {
		if got := IsResetPhrase(text); got != want {
			t.Fatalf("IsResetPhrase(%q) = %v, want %v", text, got, want)
		}
	}
}
