package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/oakpass/deskhand/internal/confirm"
	"github.com/oakpass/deskhand/internal/draft"
	"github.com/oakpass/deskhand/internal/intent"
	"github.com/oakpass/deskhand/internal/quickaction"
	"github.com/oakpass/deskhand/internal/statuscache"
	"github.com/oakpass/deskhand/internal/threadctx"
)

// Event is one inbound chat message already addressed to the bot. ThreadTS
// is empty for root messages.
type Event struct {
	Type     string
	User     string
	Channel  string
	Text     string
	TS       string
	ThreadTS string
}

// ThreadID returns the canonical per-conversation key: the thread root when
// present, otherwise the message's own timestamp.
func (e Event) ThreadID() string {
	if ts := strings.TrimSpace(e.ThreadTS); ts != "" {
		return ts
	}
	return strings.TrimSpace(e.TS)
}

const helpText = `Here's what I can do in this thread:
• ` + "`status`" + ` / ` + "`urgent`" + ` / ` + "`pending`" + ` / ` + "`health`" + ` - queue overview
• ` + "`draft: <text>`" + ` - start a reply draft, then refine it with ` + "`simplify`" + `, ` + "`shorten`" + `, ` + "`make it formal`" + `, or ` + "`add [...]`" + `
• ` + "`approve and send`" + `, ` + "`archive`" + `, ` + "`close`" + `, ` + "`escalate to <name>`" + `, ` + "`add context: <note>`" + `
• ` + "`lookup <email>`" + ` - customer history
Say ` + "`new topic`" + ` to reset this thread.`

type Options struct {
	Intent   *intent.Classifier
	Gate     *confirm.Gate
	Drafts   *draft.Engine
	Contexts *threadctx.Store
	Status   *statuscache.Service
	Actions  *quickaction.Executor
	Logger   *slog.Logger
}

// Orchestrator decides which component handles an inbound event and builds
// the outbound reply text. It only reads and passes identifiers; every
// stored state is owned by exactly one component.
type Orchestrator struct {
	intent   *intent.Classifier
	gate     *confirm.Gate
	drafts   *draft.Engine
	contexts *threadctx.Store
	status   *statuscache.Service
	actions  *quickaction.Executor
	logger   *slog.Logger
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Intent == nil {
		return nil, fmt.Errorf("intent classifier is required")
	}
	if opts.Gate == nil {
		return nil, fmt.Errorf("confirmation gate is required")
	}
	if opts.Drafts == nil {
		return nil, fmt.Errorf("draft engine is required")
	}
	if opts.Contexts == nil {
		return nil, fmt.Errorf("thread context store is required")
	}
	if opts.Status == nil {
		return nil, fmt.Errorf("status service is required")
	}
	if opts.Actions == nil {
		return nil, fmt.Errorf("action executor is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		intent:   opts.Intent,
		gate:     opts.Gate,
		drafts:   opts.Drafts,
		contexts: opts.Contexts,
		status:   opts.Status,
		actions:  opts.Actions,
		logger:   logger,
	}, nil
}

// HandleEvent runs one event to completion and returns the reply to post.
// Every failure path comes back as a short user-facing message; nothing
// escapes as an error.
func (o *Orchestrator) HandleEvent(ctx context.Context, event Event) string {
	threadID := event.ThreadID()
	text := intent.StripMention(event.Text)
	if text == "" {
		return helpText
	}

	// A pending confirmation owns the thread until resolved or replaced.
	switch resolution := o.gate.Resolve(threadID, text); resolution.Kind {
	case confirm.ResolutionConfirmed:
		return o.runConfirmed(ctx, threadID, resolution)
	case confirm.ResolutionCanceled:
		return "Okay, canceled. Nothing was changed."
	case confirm.ResolutionIgnored:
		// Not a yes/no; keep the slot and route the message normally. A new
		// confirmable action below will overwrite it.
	}

	if seed, ok := parseDraftSeed(text); ok {
		return o.startDraft(ctx, event, threadID, seed)
	}

	if action, ok := quickaction.Parse(text); ok {
		return o.runQuickAction(ctx, event, threadID, action)
	}

	if state, ok := o.drafts.State(threadID); ok && state.Status == draft.StatusDraft {
		if feedback, ok := draft.ParseFeedback(text); ok {
			return o.applyDraftFeedback(ctx, event, threadID, feedback)
		}
	}

	if threadctx.IsResetPhrase(text) {
		o.drafts.Discard(threadID)
		if err := o.contexts.Clear(ctx, threadID); err != nil {
			return "I couldn't reset this thread. Please try again."
		}
		return "Started fresh. I dropped the saved context for this thread."
	}

	return o.routeIntent(ctx, event, threadID, text)
}

func (o *Orchestrator) runConfirmed(ctx context.Context, threadID string, resolution confirm.Resolution) string {
	result := o.actions.Execute(ctx, resolution.Action, resolution.Env)
	if result.OK && resolution.Action.Type == quickaction.TypeApproveSend {
		// The draft lifecycle trails the executed action: approve, then sent.
		if _, err := o.drafts.Approve(threadID); err == nil {
			_, _ = o.drafts.MarkSent(threadID)
		}
	}
	return result.Message
}

func (o *Orchestrator) runQuickAction(ctx context.Context, event Event, threadID string, action quickaction.Action) string {
	env := o.buildEnv(ctx, event, threadID)
	if confirm.RequiresConfirmation(action.Type) {
		prompt, _ := o.gate.Request(threadID, action, env)
		return prompt
	}
	return o.actions.Execute(ctx, action, env).Message
}

func (o *Orchestrator) applyDraftFeedback(ctx context.Context, event Event, threadID string, feedback draft.Feedback) string {
	switch feedback.Kind {
	case draft.FeedbackApprove:
		state, err := o.drafts.Approve(threadID)
		if err != nil {
			return "There's no draft to approve in this thread."
		}
		return "Approved " + state.Current().ID + ". Say `approve and send` when you want it delivered."
	case draft.FeedbackReject:
		if _, err := o.drafts.Reject(threadID, feedback.Reason); err != nil {
			return "There's no draft to reject in this thread."
		}
		return "Got it, draft rejected. Start a new one with `draft: <text>`."
	default:
		revision, err := o.drafts.Refine(ctx, threadID, feedback.Intent)
		if err != nil {
			return "I couldn't revise the draft. Please try again."
		}
		o.refreshDraftContext(ctx, threadID, revision)
		return "Here's " + revision.VersionID + " (" + revision.DeltaLabel + "):\n" + revision.Text
	}
}

func (o *Orchestrator) refreshDraftContext(ctx context.Context, threadID string, revision draft.Revision) {
	read := o.contexts.Read(ctx, threadID)
	if read.State != threadctx.StateActive {
		return
	}
	tc := read.Context
	tc.DraftText = revision.Text
	tc.DraftVersions++
	_ = o.contexts.Write(ctx, tc)
}

func (o *Orchestrator) startDraft(ctx context.Context, event Event, threadID, seed string) string {
	env := o.buildEnv(ctx, event, threadID)
	state, err := o.drafts.Start(draft.StartParams{
		ThreadID:       threadID,
		SeedText:       seed,
		ConversationID: env.ConversationID,
		RecipientEmail: env.RecipientEmail,
	})
	if err != nil {
		return "I couldn't start a draft from that."
	}
	if read := o.contexts.Read(ctx, threadID); read.State == threadctx.StateActive {
		tc := read.Context
		tc.DraftText = state.Current().Text
		tc.DraftVersions = len(state.Versions)
		_ = o.contexts.Write(ctx, tc)
	} else if _, err := o.contexts.Create(ctx, threadctx.CreateParams{
		ThreadID:       threadID,
		ChannelID:      event.Channel,
		ConversationID: env.ConversationID,
		DraftText:      state.Current().Text,
		DraftVersions:  1,
	}); err != nil {
		o.logger.Warn("draft_context_create_error", "thread_id", threadID, "error", err.Error())
	}
	return "Draft " + state.Current().ID + " saved:\n> " + state.Current().Text + "\nRefine it, or say `approve and send`."
}

func (o *Orchestrator) routeIntent(ctx context.Context, event Event, threadID, text string) string {
	parsed := o.intent.Parse(ctx, event.Text)
	switch parsed.Category {
	case intent.CategoryStatusQuery:
		return o.answerStatus(ctx, text, parsed)
	case intent.CategoryContextLookup:
		return o.answerContextLookup(ctx, threadID, parsed, text)
	case intent.CategoryEscalation:
		name := parsed.Entities["name"]
		if strings.TrimSpace(name) == "" {
			return "Who should I escalate to? Try `escalate to <name>`."
		}
		env := o.buildEnv(ctx, event, threadID)
		return o.actions.Execute(ctx, quickaction.Action{Type: quickaction.TypeEscalate, Assignee: name}, env).Message
	case intent.CategoryDraftAction:
		return "There's no active draft in this thread. Start one with `draft: <text>`."
	case intent.CategoryGeneralQuery:
		query := parsed.Entities["query"]
		if strings.TrimSpace(query) == "" {
			query = text
		}
		result, err := o.status.FreeSearch(ctx, query)
		if err != nil {
			return "I couldn't search conversations right now. Please try again."
		}
		return result.Text
	default:
		return helpText
	}
}

func (o *Orchestrator) answerStatus(ctx context.Context, text string, parsed intent.ParsedIntent) string {
	var filters map[string]string
	if product := strings.TrimSpace(parsed.Entities["product"]); product != "" {
		filters = map[string]string{"product": product}
	}
	lower := strings.ToLower(text)
	var result statuscache.Result
	var err error
	switch {
	case strings.Contains(lower, "urgent"):
		result, err = o.status.Urgent(ctx, filters)
	case strings.Contains(lower, "health"):
		result, err = o.status.Health(ctx, filters)
	default:
		result, err = o.status.Pending(ctx, filters)
	}
	if err != nil {
		return "I couldn't reach the helpdesk. Please try again."
	}
	return result.Text
}

func (o *Orchestrator) answerContextLookup(ctx context.Context, threadID string, parsed intent.ParsedIntent, text string) string {
	if email := strings.TrimSpace(parsed.Entities["email"]); email != "" {
		result, err := o.status.FreeSearch(ctx, email)
		if err != nil {
			return "I couldn't look that customer up. Please try again."
		}
		o.rememberCustomer(ctx, threadID, email)
		return result.Text
	}
	if name := strings.TrimSpace(parsed.Entities["name"]); name != "" {
		result, err := o.status.FreeSearch(ctx, name)
		if err != nil {
			return "I couldn't look that up. Please try again."
		}
		return result.Text
	}
	read := o.contexts.Read(ctx, threadID)
	switch read.State {
	case threadctx.StateActive:
		return describeContext(read.Context)
	case threadctx.StateStale:
		return read.Message
	case threadctx.StateError:
		return read.Message
	default:
		return "No context saved for this thread yet. Look up a customer with `lookup <email>`."
	}
}

func (o *Orchestrator) rememberCustomer(ctx context.Context, threadID, customerID string) {
	read := o.contexts.Read(ctx, threadID)
	if read.State == threadctx.StateActive {
		tc := read.Context
		tc.CustomerID = customerID
		_ = o.contexts.Write(ctx, tc)
		return
	}
	if _, err := o.contexts.Create(ctx, threadctx.CreateParams{
		ThreadID:   threadID,
		CustomerID: customerID,
	}); err != nil {
		o.logger.Warn("context_create_error", "thread_id", threadID, "error", err.Error())
	}
}

// buildEnv assembles the execution context for quick actions from whatever
// the thread already knows: saved context first, live draft state on top.
func (o *Orchestrator) buildEnv(ctx context.Context, event Event, threadID string) quickaction.ExecutionContext {
	env := quickaction.ExecutionContext{
		ThreadID:    threadID,
		RequesterID: strings.TrimSpace(event.User),
	}
	if read := o.contexts.Read(ctx, threadID); read.State == threadctx.StateActive {
		env.ConversationID = read.Context.ConversationID
		env.DraftText = read.Context.DraftText
		env.RecipientEmail = read.Context.CustomerID
	}
	if state, ok := o.drafts.State(threadID); ok {
		env.DraftText = state.Current().Text
		if state.ConversationID != "" {
			env.ConversationID = state.ConversationID
		}
		if state.RecipientEmail != "" {
			env.RecipientEmail = state.RecipientEmail
		}
	}
	return env
}

// ThreadEngaged reports whether the thread has live in-process state (a
// pending confirmation or an open draft), so the runtime can route plain
// thread replies to the bot without an explicit mention.
func (o *Orchestrator) ThreadEngaged(threadID string) bool {
	if _, ok := o.gate.Pending(threadID); ok {
		return true
	}
	if state, ok := o.drafts.State(threadID); ok && state.Status == draft.StatusDraft {
		return true
	}
	return false
}

func describeContext(tc threadctx.Context) string {
	var b strings.Builder
	b.WriteString("Here's what I have for this thread:")
	if tc.CustomerID != "" {
		b.WriteString("\n• customer: " + tc.CustomerID)
	}
	if tc.ConversationID != "" {
		b.WriteString("\n• conversation: " + tc.ConversationID)
	}
	if tc.DraftVersions > 0 {
		fmt.Fprintf(&b, "\n• draft: %d version", tc.DraftVersions)
		if tc.DraftVersions != 1 {
			b.WriteString("s")
		}
	}
	if b.Len() == len("Here's what I have for this thread:") {
		return "This thread has context saved, but nothing notable in it yet."
	}
	return b.String()
}

func parseDraftSeed(text string) (string, bool) {
	lower := strings.ToLower(text)
	if !strings.HasPrefix(lower, "draft:") {
		return "", false
	}
	seed := strings.TrimSpace(text[len("draft:"):])
	if seed == "" {
		return "", false
	}
	return seed, true
}
