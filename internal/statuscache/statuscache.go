package statuscache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"

	"github.com/oakpass/deskhand/internal/crm"
)

type QueryType string

const (
	QueryUrgent  QueryType = "urgent"
	QueryPending QueryType = "pending"
	QueryHealth  QueryType = "health"
)

const (
	defaultTTL        = 30 * time.Second
	defaultUrgencyTag = "urgent"
	freeSearchLimit   = 10
)

// Result is one answered dashboard query. CacheHit is surfaced so tests and
// logs can tell whether the CRM was actually called.
type Result struct {
	Text        string
	Cardinality int
	CacheHit    bool
}

type cacheEntry struct {
	expiresAt   time.Time
	text        string
	cardinality int
}

type Options struct {
	CRM        crm.API
	TTL        time.Duration
	UrgencyTag string
	Now        func() time.Time
	Logger     *slog.Logger
}

// Service answers aggregate dashboard queries with a short-lived result
// cache. The cache is shared across threads on purpose: bursts of similar
// questions from different channels collapse into one CRM call.
type Service struct {
	crm        crm.API
	ttl        time.Duration
	urgencyTag string
	nowFn      func() time.Time
	logger     *slog.Logger

	mu      sync.Mutex
	entries map[string]cacheEntry
}

func New(opts Options) (*Service, error) {
	if opts.CRM == nil {
		return nil, fmt.Errorf("crm api is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	urgencyTag := strings.TrimSpace(opts.UrgencyTag)
	if urgencyTag == "" {
		urgencyTag = defaultUrgencyTag
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		crm:        opts.CRM,
		ttl:        ttl,
		urgencyTag: urgencyTag,
		nowFn:      nowFn,
		logger:     logger,
		entries:    make(map[string]cacheEntry),
	}, nil
}

func (s *Service) Urgent(ctx context.Context, filters map[string]string) (Result, error) {
	return s.query(ctx, QueryUrgent, filters, s.computeUrgent)
}

func (s *Service) Pending(ctx context.Context, filters map[string]string) (Result, error) {
	return s.query(ctx, QueryPending, filters, s.computePending)
}

func (s *Service) Health(ctx context.Context, filters map[string]string) (Result, error) {
	return s.query(ctx, QueryHealth, filters, s.computeHealth)
}

func (s *Service) query(ctx context.Context, queryType QueryType, filters map[string]string, compute func(context.Context, map[string]string) (string, int, error)) (Result, error) {
	key := cacheKey(queryType, filters)
	now := s.nowFn().UTC()

	s.mu.Lock()
	entry, ok := s.entries[key]
	s.mu.Unlock()
	if ok && now.Before(entry.expiresAt) {
		s.logger.Info("status_query", "query", string(queryType), "cache_hit", true, "results", entry.cardinality)
		return Result{Text: entry.text, Cardinality: entry.cardinality, CacheHit: true}, nil
	}

	text, cardinality, err := compute(ctx, filters)
	if err != nil {
		s.logger.Error("status_query_error", "query", string(queryType), "error", err.Error())
		return Result{}, err
	}
	s.mu.Lock()
	s.entries[key] = cacheEntry{
		expiresAt:   now.Add(s.ttl),
		text:        text,
		cardinality: cardinality,
	}
	s.mu.Unlock()
	s.logger.Info("status_query", "query", string(queryType), "cache_hit", false, "results", cardinality)
	return Result{Text: text, Cardinality: cardinality}, nil
}

func (s *Service) computeUrgent(ctx context.Context, filters map[string]string) (string, int, error) {
	conversations, err := s.crm.SearchConversations(ctx, searchQuery("is:open", filters))
	if err != nil {
		return "", 0, err
	}
	urgent := make([]crm.Conversation, 0, len(conversations))
	for _, conv := range conversations {
		if conv.AssigneeID == "" && conv.HasTag(s.urgencyTag) {
			urgent = append(urgent, conv)
		}
	}
	if len(urgent) == 0 {
		return "No unassigned urgent conversations right now.", 0, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d urgent conversation%s without an owner:\n", len(urgent), plural(len(urgent)))
	for _, conv := range urgent {
		b.WriteString("• " + conversationLine(conv) + "\n")
	}
	return strings.TrimRight(b.String(), "\n"), len(urgent), nil
}

func (s *Service) computePending(ctx context.Context, filters map[string]string) (string, int, error) {
	conversations, err := s.crm.SearchConversations(ctx, searchQuery("is:open", filters))
	if err != nil {
		return "", 0, err
	}
	if len(conversations) == 0 {
		return "Nothing pending. Inbox zero.", 0, nil
	}
	counts := make(map[string]int)
	for _, conv := range conversations {
		counts[productLabel(conv)]++
	}
	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	var b strings.Builder
	fmt.Fprintf(&b, "%d open conversation%s:\n", len(conversations), plural(len(conversations)))
	for _, label := range labels {
		fmt.Fprintf(&b, "• %s: %d\n", label, counts[label])
	}
	return strings.TrimRight(b.String(), "\n"), len(conversations), nil
}

func (s *Service) computeHealth(ctx context.Context, filters map[string]string) (string, int, error) {
	open, err := s.crm.SearchConversations(ctx, searchQuery("is:open", filters))
	if err != nil {
		return "", 0, err
	}
	closedToday, err := s.crm.SearchConversations(ctx, searchQuery("is:closed closed:today", filters))
	if err != nil {
		return "", 0, err
	}
	var waitTotal time.Duration
	waited := 0
	now := s.nowFn().UTC()
	for _, conv := range open {
		if !conv.WaitingSince.IsZero() {
			waitTotal += now.Sub(conv.WaitingSince)
			waited++
		}
	}
	avgWait := "n/a"
	if waited > 0 {
		avgWait = formatWait(waitTotal / time.Duration(waited))
	}
	text := fmt.Sprintf("Queue health: %d pending, %d closed today, average wait %s.",
		len(open), len(closedToday), avgWait)
	return text, len(open), nil
}

// FreeSearch routes a confident generic query to a raw CRM search instead
// of dropping it. Results are capped and never cached.
func (s *Service) FreeSearch(ctx context.Context, query string) (Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{}, fmt.Errorf("query is required")
	}
	conversations, err := s.crm.SearchConversations(ctx, query)
	if err != nil {
		s.logger.Error("free_search_error", "error", err.Error())
		return Result{}, err
	}
	if len(conversations) > freeSearchLimit {
		conversations = conversations[:freeSearchLimit]
	}
	s.logger.Info("free_search", "results", len(conversations))
	if len(conversations) == 0 {
		return Result{Text: "No conversations matched \"" + query + "\"."}, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d match%s for \"%s\":\n", len(conversations), matchPlural(len(conversations)), query)
	for _, conv := range conversations {
		b.WriteString("• " + conversationLine(conv) + "\n")
	}
	return Result{Text: strings.TrimRight(b.String(), "\n"), Cardinality: len(conversations)}, nil
}

// cacheKey canonicalizes (queryType, filters) so that equivalent filter sets
// hit the same entry regardless of construction order.
func cacheKey(queryType QueryType, filters map[string]string) string {
	payload, err := json.Marshal(map[string]any{
		"query":   string(queryType),
		"filters": filters,
	})
	if err != nil {
		return string(queryType)
	}
	canonical, err := jsoncanonicalizer.Transform(payload)
	if err != nil {
		return string(queryType) + ":" + string(payload)
	}
	return string(canonical)
}

func searchQuery(base string, filters map[string]string) string {
	if len(filters) == 0 {
		return base
	}
	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := []string{base}
	for _, key := range keys {
		if value := strings.TrimSpace(filters[key]); value != "" {
			parts = append(parts, key+":"+value)
		}
	}
	return strings.Join(parts, " ")
}

func productLabel(conv crm.Conversation) string {
	for _, tag := range conv.Tags {
		tag = strings.TrimSpace(tag)
		if rest, ok := strings.CutPrefix(strings.ToLower(tag), "product:"); ok {
			if rest = strings.TrimSpace(rest); rest != "" {
				return rest
			}
		}
	}
	if len(conv.Tags) > 0 && strings.TrimSpace(conv.Tags[0]) != "" {
		return strings.ToLower(strings.TrimSpace(conv.Tags[0]))
	}
	return "general"
}

func conversationLine(conv crm.Conversation) string {
	subject := strings.TrimSpace(conv.Subject)
	if subject == "" {
		subject = conv.ID
	}
	if conv.Link != "" {
		return subject + " (" + conv.Link + ")"
	}
	return subject
}

func formatWait(d time.Duration) string {
	if d < time.Minute {
		return "under a minute"
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) - hours*60
	if minutes == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh%dm", hours, minutes)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func matchPlural(n int) string {
	if n == 1 {
		return ""
	}
	return "es"
}
