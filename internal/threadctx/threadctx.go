package threadctx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oakpass/deskhand/internal/kvcache"
)

// Context is the cross-message state for one chat thread. Staleness is
// computed from LastActivityAt, which is stamped on writes only: reads do
// not slide the expiry window.
type Context struct {
	ThreadID       string    `json:"thread_id"`
	ChannelID      string    `json:"channel_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	DraftText      string    `json:"draft_text,omitempty"`
	DraftVersions  int       `json:"draft_versions,omitempty"`
	CustomerID     string    `json:"customer_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	TTLSeconds     int64     `json:"ttl_seconds"`
}

type State string

const (
	StateActive  State = "active"
	StateMissing State = "missing"
	StateStale   State = "stale"
	StateError   State = "error"
)

// ReadResult is the typed outcome of Read; cache failures surface here as
// StateError instead of propagating.
type ReadResult struct {
	State   State
	Context Context
	Message string
}

const defaultTTL = 3600 * time.Second

type Options struct {
	Cache  kvcache.Cache
	TTL    time.Duration
	Now    func() time.Time
	Logger *slog.Logger
}

type Store struct {
	cache  kvcache.Cache
	ttl    time.Duration
	nowFn  func() time.Time
	logger *slog.Logger
}

func NewStore(opts Options) (*Store, error) {
	if opts.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cache:  opts.Cache,
		ttl:    ttl,
		nowFn:  nowFn,
		logger: logger,
	}, nil
}

type CreateParams struct {
	ThreadID       string
	ChannelID      string
	ConversationID string
	DraftText      string
	DraftVersions  int
	CustomerID     string
}

func (s *Store) Create(ctx context.Context, params CreateParams) (Context, error) {
	threadID := strings.TrimSpace(params.ThreadID)
	if threadID == "" {
		return Context{}, fmt.Errorf("thread id is required")
	}
	now := s.nowFn().UTC()
	tc := Context{
		ThreadID:       threadID,
		ChannelID:      strings.TrimSpace(params.ChannelID),
		ConversationID: strings.TrimSpace(params.ConversationID),
		DraftText:      params.DraftText,
		DraftVersions:  params.DraftVersions,
		CustomerID:     strings.TrimSpace(params.CustomerID),
		CreatedAt:      now,
		LastActivityAt: now,
		TTLSeconds:     int64(s.ttl / time.Second),
	}
	if err := s.persist(ctx, tc); err != nil {
		return Context{}, err
	}
	s.logger.Info("thread_context_created", "thread_id", threadID, "ttl_seconds", tc.TTLSeconds)
	return tc, nil
}

// Write persists an updated context and refreshes LastActivityAt; this is
// the only place the TTL window restarts.
func (s *Store) Write(ctx context.Context, tc Context) error {
	tc.ThreadID = strings.TrimSpace(tc.ThreadID)
	if tc.ThreadID == "" {
		return fmt.Errorf("thread id is required")
	}
	if tc.TTLSeconds <= 0 {
		tc.TTLSeconds = int64(s.ttl / time.Second)
	}
	tc.LastActivityAt = s.nowFn().UTC()
	if tc.CreatedAt.IsZero() {
		tc.CreatedAt = tc.LastActivityAt
	}
	if err := s.persist(ctx, tc); err != nil {
		s.logger.Error("thread_context_write_error", "thread_id", tc.ThreadID, "error", err.Error())
		return err
	}
	s.logger.Debug("thread_context_written", "thread_id", tc.ThreadID)
	return nil
}

func (s *Store) persist(ctx context.Context, tc Context) error {
	raw, err := json.Marshal(tc)
	if err != nil {
		return fmt.Errorf("encode thread context: %w", err)
	}
	// Staleness is decided here from LastActivityAt; the cache entry lives
	// twice as long so an expired thread can still be reported stale once
	// before it disappears.
	return s.cache.Set(ctx, cacheKey(tc.ThreadID), raw, 2*time.Duration(tc.TTLSeconds)*time.Second)
}

// Read never returns expired data: a record past its TTL is deleted and
// reported stale, and a subsequent read reports missing.
func (s *Store) Read(ctx context.Context, threadID string) ReadResult {
	threadID = strings.TrimSpace(threadID)
	raw, found, err := s.cache.Get(ctx, cacheKey(threadID))
	if err != nil {
		s.logger.Error("thread_context_read_error", "thread_id", threadID, "error", err.Error())
		return ReadResult{State: StateError, Message: "I couldn't load the thread context. Please try again."}
	}
	if !found {
		s.logger.Debug("thread_context_missing", "thread_id", threadID)
		return ReadResult{State: StateMissing}
	}
	var tc Context
	if err := json.Unmarshal(raw, &tc); err != nil {
		s.logger.Error("thread_context_decode_error", "thread_id", threadID, "error", err.Error())
		return ReadResult{State: StateError, Message: "I couldn't load the thread context. Please try again."}
	}
	age := s.nowFn().UTC().Sub(tc.LastActivityAt)
	if tc.TTLSeconds > 0 && age > time.Duration(tc.TTLSeconds)*time.Second {
		if err := s.cache.Delete(ctx, cacheKey(threadID)); err != nil {
			s.logger.Warn("thread_context_delete_error", "thread_id", threadID, "error", err.Error())
		}
		s.logger.Info("thread_context_stale", "thread_id", threadID, "age_seconds", int64(age/time.Second))
		return ReadResult{State: StateStale, Message: "The context for this thread expired. Start a new lookup when you're ready."}
	}
	s.logger.Debug("thread_context_read", "thread_id", threadID)
	return ReadResult{State: StateActive, Context: tc}
}

func (s *Store) Clear(ctx context.Context, threadID string) error {
	threadID = strings.TrimSpace(threadID)
	if err := s.cache.Delete(ctx, cacheKey(threadID)); err != nil {
		s.logger.Error("thread_context_clear_error", "thread_id", threadID, "error", err.Error())
		return err
	}
	s.logger.Info("thread_context_cleared", "thread_id", threadID)
	return nil
}

var resetPhrases = []string{"new topic", "different customer", "new customer"}

// IsResetPhrase reports whether the user is signalling a topic change that
// should clear the thread context instead of leaving stale customer data
// attached to unrelated follow-ups.
func IsResetPhrase(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, phrase := range resetPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func cacheKey(threadID string) string {
	return "threadctx:" + threadID
}
