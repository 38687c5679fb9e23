package confirm

import (
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oakpass/deskhand/internal/quickaction"
)

// RequiresConfirmation reports whether an action type is destructive or
// customer-facing enough to need an explicit human yes. The table is static
// and not user-configurable.
func RequiresConfirmation(t quickaction.Type) bool {
	switch t {
	case quickaction.TypeApproveSend, quickaction.TypeArchive, quickaction.TypeClose:
		return true
	default:
		return false
	}
}

const defaultPendingTTL = 10 * time.Minute

const draftPreviewLimit = 160

// Pending is the single in-flight confirmation slot for a thread.
type Pending struct {
	ThreadID  string
	Action    quickaction.Action
	Env       quickaction.ExecutionContext
	CreatedAt time.Time
}

type ResolutionKind string

const (
	ResolutionNone      ResolutionKind = "none"
	ResolutionConfirmed ResolutionKind = "confirmed"
	ResolutionCanceled  ResolutionKind = "canceled"
	ResolutionIgnored   ResolutionKind = "ignored"
)

type Resolution struct {
	Kind   ResolutionKind
	Action quickaction.Action
	Env    quickaction.ExecutionContext
}

type Options struct {
	PendingTTL time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

// Gate holds at most one pending confirmation per thread. A newer
// confirmable action overwrites the older slot; expiry is checked lazily.
type Gate struct {
	mu      sync.Mutex
	pending map[string]Pending
	ttl     time.Duration
	nowFn   func() time.Time
	logger  *slog.Logger
}

func NewGate(opts Options) *Gate {
	ttl := opts.PendingTTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		pending: make(map[string]Pending),
		ttl:     ttl,
		nowFn:   nowFn,
		logger:  logger,
	}
}

// Request stores a pending confirmation for the thread and returns the
// prompt to post. Any prior pending confirmation for the thread is replaced.
func (g *Gate) Request(threadID string, action quickaction.Action, env quickaction.ExecutionContext) (string, Pending) {
	threadID = strings.TrimSpace(threadID)
	state := Pending{
		ThreadID:  threadID,
		Action:    action,
		Env:       env,
		CreatedAt: g.nowFn().UTC(),
	}
	g.mu.Lock()
	g.pending[threadID] = state
	g.mu.Unlock()
	g.logger.Info("confirmation_requested", "thread_id", threadID, "action", string(action.Type))
	return buildPrompt(action, env), state
}

// Pending returns the live confirmation slot for a thread, dropping it when
// it has outlived the gate TTL.
func (g *Gate) Pending(threadID string) (Pending, bool) {
	threadID = strings.TrimSpace(threadID)
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.pending[threadID]
	if !ok {
		return Pending{}, false
	}
	if g.nowFn().UTC().Sub(state.CreatedAt) > g.ttl {
		delete(g.pending, threadID)
		g.logger.Info("confirmation_expired", "thread_id", threadID, "action", string(state.Action.Type))
		return Pending{}, false
	}
	return state, true
}

var (
	affirmativeReplies = map[string]bool{
		"yes": true, "y": true, "confirm": true, "approve": true, "approved": true,
	}
	negativeReplies = map[string]bool{
		"no": true, "cancel": true, "stop": true, "abort": true, "nevermind": true,
	}
)

// Resolve interprets a reply against the thread's pending confirmation.
// Replies outside the fixed yes/no vocabulary leave the slot untouched so a
// later, clearer reply can still resolve it.
func (g *Gate) Resolve(threadID, reply string) Resolution {
	state, ok := g.Pending(threadID)
	if !ok {
		return Resolution{Kind: ResolutionNone}
	}
	normalized := strings.ToLower(strings.Trim(strings.TrimSpace(reply), " .!?,"))
	switch {
	case affirmativeReplies[normalized]:
		g.clear(state.ThreadID)
		g.logger.Info("confirmation_confirmed", "thread_id", state.ThreadID, "action", string(state.Action.Type))
		return Resolution{Kind: ResolutionConfirmed, Action: state.Action, Env: state.Env}
	case negativeReplies[normalized]:
		g.clear(state.ThreadID)
		g.logger.Info("confirmation_canceled", "thread_id", state.ThreadID, "action", string(state.Action.Type))
		return Resolution{Kind: ResolutionCanceled, Action: state.Action, Env: state.Env}
	default:
		return Resolution{Kind: ResolutionIgnored, Action: state.Action, Env: state.Env}
	}
}

func (g *Gate) clear(threadID string) {
	g.mu.Lock()
	delete(g.pending, threadID)
	g.mu.Unlock()
}

func buildPrompt(action quickaction.Action, env quickaction.ExecutionContext) string {
	switch action.Type {
	case quickaction.TypeApproveSend:
		var b strings.Builder
		b.WriteString("About to send this reply")
		if recipient := strings.TrimSpace(env.RecipientEmail); recipient != "" {
			b.WriteString(" to " + recipient)
		}
		b.WriteString(":\n> ")
		b.WriteString(truncate(strings.TrimSpace(env.DraftText), draftPreviewLimit))
		b.WriteString("\nReply *yes* to send it or *no* to cancel.")
		return b.String()
	default:
		return "Just to be sure: " + action.Describe() + "? Reply *yes* or *no*."
	}
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	// Back off to a rune start so the cut never leaves a broken UTF-8
	// sequence in the preview.
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimSpace(s[:cut]) + "…"
}
