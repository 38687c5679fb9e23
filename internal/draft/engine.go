package draft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oakpass/deskhand/llm"
)

var (
	ErrNoDraft  = errors.New("draft: no draft for thread")
	ErrTerminal = errors.New("draft: thread is no longer in draft state")
)

type Options struct {
	Client llm.Client
	Model  string
	Store  *Store
	Now    func() time.Time
	Logger *slog.Logger
}

// Engine owns the version history of a reply draft per thread and applies
// natural-language refinement instructions to produce new versions.
type Engine struct {
	client llm.Client
	model  string
	store  *Store
	nowFn  func() time.Time
	logger *slog.Logger
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		client: opts.Client,
		model:  strings.TrimSpace(opts.Model),
		store:  opts.Store,
		nowFn:  nowFn,
		logger: logger,
	}, nil
}

type StartParams struct {
	ThreadID       string
	SeedText       string
	ConversationID string
	RecipientEmail string
}

// Start seeds a thread with version v0 and status draft. Starting over an
// existing thread replaces its state.
func (e *Engine) Start(params StartParams) (ThreadState, error) {
	threadID := strings.TrimSpace(params.ThreadID)
	if threadID == "" {
		return ThreadState{}, fmt.Errorf("thread id is required")
	}
	seed := strings.TrimSpace(params.SeedText)
	if seed == "" {
		return ThreadState{}, fmt.Errorf("seed text is required")
	}
	state := ThreadState{
		ThreadID: threadID,
		Status:   StatusDraft,
		Versions: []Version{{
			ID:        versionID(0),
			Text:      seed,
			CreatedAt: e.nowFn().UTC(),
		}},
		ConversationID: strings.TrimSpace(params.ConversationID),
		RecipientEmail: strings.TrimSpace(params.RecipientEmail),
	}
	e.store.put(state)
	e.logger.Info("draft_started", "thread_id", threadID, "version", state.Current().ID)
	return cloneState(state), nil
}

func (e *Engine) State(threadID string) (ThreadState, bool) {
	return e.store.Get(threadID)
}

// Revision reports one applied refinement for operator visibility.
type Revision struct {
	VersionID  string
	Text       string
	DeltaLabel string
}

// Refine builds an instruction from the intent, asks the text generator for
// a revision of the current version, and appends it. Status stays draft.
// Empty generation output falls back to the previous text so an empty draft
// is never persisted.
func (e *Engine) Refine(ctx context.Context, threadID string, intent RefinementIntent) (Revision, error) {
	state, ok := e.store.Get(threadID)
	if !ok {
		return Revision{}, ErrNoDraft
	}
	if state.Status != StatusDraft {
		return Revision{}, ErrTerminal
	}
	current := state.Current()
	text, err := e.generate(ctx, current.Text, intent)
	if err != nil {
		return Revision{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = current.Text
	}

	intentCopy := intent
	next := Version{
		ID:        versionID(len(state.Versions)),
		Text:      text,
		CreatedAt: e.nowFn().UTC(),
		Intent:    &intentCopy,
	}
	state.Versions = append(state.Versions, next)
	e.store.put(state)

	delta := len(text) - len(current.Text)
	revision := Revision{
		VersionID:  next.ID,
		Text:       text,
		DeltaLabel: deltaLabel(delta),
	}
	e.logger.Info("draft_refined",
		"thread_id", threadID,
		"intent", string(intent.Kind),
		"version", next.ID,
		"char_delta", delta,
	)
	return revision, nil
}

// Approve moves draft → approved. Approved and rejected are terminal here;
// delivery and archival are the execution layer's job.
func (e *Engine) Approve(threadID string) (ThreadState, error) {
	state, ok := e.store.Get(threadID)
	if !ok {
		return ThreadState{}, ErrNoDraft
	}
	if state.Status != StatusDraft {
		return ThreadState{}, ErrTerminal
	}
	now := e.nowFn().UTC()
	state.Status = StatusApproved
	state.ApprovedAt = &now
	e.store.put(state)
	e.logger.Info("draft_approved", "thread_id", threadID, "version", state.Current().ID)
	return cloneState(state), nil
}

func (e *Engine) Reject(threadID, reason string) (ThreadState, error) {
	state, ok := e.store.Get(threadID)
	if !ok {
		return ThreadState{}, ErrNoDraft
	}
	if state.Status != StatusDraft {
		return ThreadState{}, ErrTerminal
	}
	now := e.nowFn().UTC()
	state.Status = StatusRejected
	state.RejectedAt = &now
	state.RejectReason = strings.TrimSpace(reason)
	e.store.put(state)
	e.logger.Info("draft_rejected", "thread_id", threadID, "version", state.Current().ID, "has_reason", state.RejectReason != "")
	return cloneState(state), nil
}

// Discard drops a thread's draft state entirely, whatever its status, so a
// topic reset leaves no draft behind.
func (e *Engine) Discard(threadID string) {
	if _, ok := e.store.Get(threadID); !ok {
		return
	}
	e.store.Delete(threadID)
	e.logger.Info("draft_discarded", "thread_id", threadID)
}

// MarkSent records downstream delivery on an approved draft.
func (e *Engine) MarkSent(threadID string) (ThreadState, error) {
	state, ok := e.store.Get(threadID)
	if !ok {
		return ThreadState{}, ErrNoDraft
	}
	if state.Status != StatusApproved {
		return ThreadState{}, ErrTerminal
	}
	now := e.nowFn().UTC()
	state.Status = StatusSent
	state.SentAt = &now
	e.store.put(state)
	return cloneState(state), nil
}

const refineSystemPrompt = `You revise customer-support reply drafts.
Apply the instruction to the draft and return only the revised reply text, nothing else.
Keep the factual content intact unless the instruction says otherwise.`

func (e *Engine) generate(ctx context.Context, current string, intent RefinementIntent) (string, error) {
	if e.client == nil || e.model == "" {
		return "", fmt.Errorf("text generation is not configured")
	}
	res, err := e.client.Chat(ctx, llm.Request{
		Model: e.model,
		Messages: []llm.Message{
			{Role: "system", Content: refineSystemPrompt},
			{Role: "user", Content: "Draft:\n" + current + "\n\nInstruction: " + instructionFor(intent)},
		},
	})
	if err != nil {
		e.logger.Error("draft_generate_error", "intent", string(intent.Kind), "error", err.Error())
		return "", err
	}
	return res.Text, nil
}

func instructionFor(intent RefinementIntent) string {
	switch intent.Kind {
	case RefineSimplify:
		return "Simplify the reply. Use plain language and keep the meaning."
	case RefineFormalize:
		return "Make the reply more formal and professional in tone."
	case RefineShorten:
		return "Shorten the reply. Keep only what the customer needs."
	case RefineAddContent:
		return "Revise the reply to also cover: " + intent.Content
	case RefineMentionTopic:
		return "Revise the reply so it mentions " + intent.Topic + "."
	default:
		return "Improve the reply."
	}
}

func deltaLabel(delta int) string {
	switch {
	case delta > 0:
		return fmt.Sprintf("+%d chars", delta)
	case delta < 0:
		return fmt.Sprintf("%d chars", delta)
	default:
		return "no length change"
	}
}
