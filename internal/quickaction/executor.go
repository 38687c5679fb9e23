package quickaction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/oakpass/deskhand/internal/crm"
)

// ExecutionContext carries the per-thread facts an action needs. Missing
// required fields are local failures, never panics.
type ExecutionContext struct {
	ThreadID       string
	RequesterID    string
	ConversationID string
	DraftText      string
	RecipientEmail string
}

// Result is the typed outcome every execution returns. Partial marks the
// sent-but-not-archived case so the caller never re-sends a customer reply.
type Result struct {
	OK      bool
	Partial bool
	Message string
}

type ExecutorOptions struct {
	CRM             crm.API
	ResolveAssignee func(name string) (string, bool)
	Logger          *slog.Logger
}

type Executor struct {
	crm     crm.API
	resolve func(name string) (string, bool)
	logger  *slog.Logger
}

func NewExecutor(opts ExecutorOptions) (*Executor, error) {
	if opts.CRM == nil {
		return nil, fmt.Errorf("crm api is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		crm:     opts.CRM,
		resolve: opts.ResolveAssignee,
		logger:  logger,
	}, nil
}

func (e *Executor) Execute(ctx context.Context, action Action, env ExecutionContext) Result {
	result := e.execute(ctx, action, env)
	outcome := "failed"
	switch {
	case result.OK && result.Partial:
		outcome = "partial"
	case result.OK:
		outcome = "ok"
	}
	e.logger.Info("quick_action_result",
		"action", string(action.Type),
		"thread_id", env.ThreadID,
		"requester", env.RequesterID,
		"outcome", outcome,
	)
	return result
}

func (e *Executor) execute(ctx context.Context, action Action, env ExecutionContext) Result {
	conversationID := strings.TrimSpace(env.ConversationID)
	if conversationID == "" {
		return Result{Message: "I don't have a linked conversation for this thread, so I can't " + action.Describe() + "."}
	}

	switch action.Type {
	case TypeApproveSend:
		return e.approveSend(ctx, conversationID, env)
	case TypeEscalate:
		return e.escalate(ctx, conversationID, action.Assignee)
	case TypeAddContext:
		note := strings.TrimSpace(action.Note)
		if note == "" {
			return Result{Message: "There's no note text to add."}
		}
		if err := e.crm.AddComment(ctx, conversationID, note); err != nil {
			e.logger.Error("quick_action_comment_error", "conversation_id", conversationID, "error", err.Error())
			return Result{Message: "I couldn't add the note. Please try again."}
		}
		return Result{OK: true, Message: "Added the internal note to the conversation."}
	case TypeArchive:
		return e.setStatus(ctx, conversationID, crm.StatusArchived, "Archived the conversation.")
	case TypeClose:
		return e.setStatus(ctx, conversationID, crm.StatusClosed, "Closed the conversation.")
	default:
		return Result{Message: "I don't know how to run that action."}
	}
}

func (e *Executor) approveSend(ctx context.Context, conversationID string, env ExecutionContext) Result {
	draft := strings.TrimSpace(env.DraftText)
	if draft == "" {
		return Result{Message: "There's no draft to send for this thread."}
	}
	// Fail closed: nothing customer-facing happens unless the post succeeds.
	if err := e.crm.CreateMessage(ctx, conversationID, draft); err != nil {
		e.logger.Error("quick_action_send_error", "conversation_id", conversationID, "error", err.Error())
		return Result{Message: "I couldn't send the response. Please try again."}
	}
	status := crm.StatusArchived
	if err := e.crm.UpdateConversation(ctx, conversationID, crm.ConversationUpdate{Status: &status}); err != nil {
		// The customer already got the reply; report that honestly instead
		// of inviting a duplicate send.
		e.logger.Error("quick_action_archive_error", "conversation_id", conversationID, "error", err.Error())
		return Result{OK: true, Partial: true, Message: "Reply sent, but I couldn't archive the conversation. Archive it manually when you get a chance."}
	}
	return Result{OK: true, Message: "Reply sent and conversation archived."}
}

func (e *Executor) escalate(ctx context.Context, conversationID, assignee string) Result {
	assignee = strings.TrimSpace(assignee)
	if assignee == "" {
		return Result{Message: "Tell me who to escalate to, e.g. `escalate to dana`."}
	}
	if e.resolve == nil {
		return Result{Message: "I don't have a teammate roster configured, so I can't escalate."}
	}
	assigneeID, ok := e.resolve(assignee)
	if !ok {
		return Result{Message: "I couldn't find " + assignee + " in the roster."}
	}
	if err := e.crm.UpdateConversation(ctx, conversationID, crm.ConversationUpdate{AssigneeID: &assigneeID}); err != nil {
		e.logger.Error("quick_action_escalate_error", "conversation_id", conversationID, "error", err.Error())
		return Result{Message: "I couldn't reassign the conversation. Please try again."}
	}
	return Result{OK: true, Message: "Escalated to " + assignee + "."}
}

func (e *Executor) setStatus(ctx context.Context, conversationID string, status crm.Status, okMessage string) Result {
	if err := e.crm.UpdateConversation(ctx, conversationID, crm.ConversationUpdate{Status: &status}); err != nil {
		e.logger.Error("quick_action_status_error", "conversation_id", conversationID, "status", string(status), "error", err.Error())
		return Result{Message: "I couldn't update the conversation. Please try again."}
	}
	return Result{OK: true, Message: okMessage}
}
