package statuscache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/oakpass/deskhand/internal/crm"
)

type countingCRM struct {
	searches []string
	result   []crm.Conversation
}

func (f *countingCRM) SearchConversations(_ context.Context, query string) ([]crm.Conversation, error) {
	f.searches = append(f.searches, query)
	return f.result, nil
}

func (f *countingCRM) UpdateConversation(_ context.Context, _ string, _ crm.ConversationUpdate) error {
	return nil
}

func (f *countingCRM) AddComment(_ context.Context, _, _ string) error    { return nil }
func (f *countingCRM) CreateMessage(_ context.Context, _, _ string) error { return nil }

func newTestService(t *testing.T, api crm.API, now *time.Time) *Service {
	t.Helper()
	s, err := New(Options{
		CRM: api,
		TTL: 30 * time.Second,
		Now: func() time.Time { return *now },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestUrgentCachesWithinTTL(t *testing.T) {
	api := &countingCRM{result: []crm.Conversation{
		{ID: "cnv_1", Subject: "Payment failed", Tags: []string{"urgent"}},
	}}
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	s := newTestService(t, api, &now)
	ctx := context.Background()

	first, err := s.Urgent(ctx, nil)
	if err != nil {
		t.Fatalf("Urgent() error = %v", err)
	}
	if first.CacheHit {
		t.Fatalf("first query should miss the cache")
	}

	now = now.Add(20 * time.Second)
	second, err := s.Urgent(ctx, nil)
	if err != nil {
		t.Fatalf("Urgent() error = %v", err)
	}
	if !second.CacheHit {
		t.Fatalf("second query within ttl should hit the cache")
	}
	if second.Text != first.Text {
		t.Fatalf("cached text differs: %q vs %q", second.Text, first.Text)
	}
	if len(api.searches) != 1 {
		t.Fatalf("searches = %d, want 1", len(api.searches))
	}

	now = now.Add(11 * time.Second)
	third, err := s.Urgent(ctx, nil)
	if err != nil {
		t.Fatalf("Urgent() error = %v", err)
	}
	if third.CacheHit {
		t.Fatalf("query past ttl should recompute")
	}
	if len(api.searches) != 2 {
		t.Fatalf("searches = %d, want 2", len(api.searches))
	}
}

func TestCacheKeyIgnoresFilterOrder(t *testing.T) {
	a := cacheKey(QueryPending, map[string]string{"product": "widgets", "team": "emea"})
	b := cacheKey(QueryPending, map[string]string{"team": "emea", "product": "widgets"})
	if a != b {
		t.Fatalf("cache keys differ for equivalent filters:\n%s\n%s", a, b)
	}
	c := cacheKey(QueryPending, map[string]string{"product": "gadgets"})
	if a == c {
		t.Fatalf("different filters must not share a key")
	}
	if cacheKey(QueryUrgent, nil) == cacheKey(QueryPending, nil) {
		t.Fatalf("query types must not share a key")
	}
}

func TestUrgentFiltersUnassignedTagged(t *testing.T) {
	api := &countingCRM{result: []crm.Conversation{
		{ID: "cnv_1", Subject: "Down for everyone", Tags: []string{"urgent"}},
		{ID: "cnv_2", Subject: "Owned already", Tags: []string{"urgent"}, AssigneeID: "tea_1"},
		{ID: "cnv_3", Subject: "Not urgent", Tags: []string{"billing"}},
	}}
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	s := newTestService(t, api, &now)

	result, err := s.Urgent(context.Background(), nil)
	if err != nil {
		t.Fatalf("Urgent() error = %v", err)
	}
	if result.Cardinality != 1 {
		t.Fatalf("cardinality = %d, want 1", result.Cardinality)
	}
	if !strings.Contains(result.Text, "Down for everyone") {
		t.Fatalf("text = %q", result.Text)
	}
}

func TestPendingGroupsByProduct(t *testing.T) {
	api := &countingCRM{result: []crm.Conversation{
		{ID: "cnv_1", Tags: []string{"product:widgets"}},
		{ID: "cnv_2", Tags: []string{"product:widgets"}},
		{ID: "cnv_3", Tags: []string{"billing"}},
		{ID: "cnv_4"},
	}}
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	s := newTestService(t, api, &now)

	result, err := s.Pending(context.Background(), nil)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if result.Cardinality != 4 {
		t.Fatalf("cardinality = %d, want 4", result.Cardinality)
	}
	for _, line := range []string{"widgets: 2", "billing: 1", "general: 1"} {
		if !strings.Contains(result.Text, line) {
			t.Fatalf("text missing %q:\n%s", line, result.Text)
		}
	}
}

func TestHealthAveragesWaitTime(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	api := &countingCRM{result: []crm.Conversation{
		{ID: "cnv_1", WaitingSince: now.Add(-2 * time.Hour)},
		{ID: "cnv_2", WaitingSince: now.Add(-4 * time.Hour)},
	}}
	s := newTestService(t, api, &now)

	result, err := s.Health(context.Background(), nil)
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if !strings.Contains(result.Text, "average wait 3h") {
		t.Fatalf("text = %q", result.Text)
	}
	// Health issues an open and a closed-today search per compute.
	if len(api.searches) != 2 {
		t.Fatalf("searches = %d, want 2", len(api.searches))
	}
}

func TestFreeSearchCapsResults(t *testing.T) {
	conversations := make([]crm.Conversation, 0, 15)
	for i := 0; i < 15; i++ {
		conversations = append(conversations, crm.Conversation{ID: "cnv", Subject: "hit"})
	}
	api := &countingCRM{result: conversations}
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	s := newTestService(t, api, &now)

	result, err := s.FreeSearch(context.Background(), "amy@example.com")
	if err != nil {
		t.Fatalf("FreeSearch() error = %v", err)
	}
	if result.Cardinality != 10 {
		t.Fatalf("cardinality = %d, want capped at 10", result.Cardinality)
	}

	// FreeSearch is never cached; a repeat always hits the CRM.
	if _, err := s.FreeSearch(context.Background(), "amy@example.com"); err != nil {
		t.Fatalf("FreeSearch() error = %v", err)
	}
	if len(api.searches) != 2 {
		t.Fatalf("searches = %d, want 2", len(api.searches))
	}
}

func TestSearchQueryAppendsFilters(t *testing.T) {
	got := searchQuery("is:open", map[string]string{"product": "widgets"})
	if got != "is:open product:widgets" {
		t.Fatalf("searchQuery() = %q", got)
	}
	if got := searchQuery("is:open", nil); got != "is:open" {
		t.Fatalf("searchQuery() = %q", got)
	}
}
