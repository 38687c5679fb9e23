package quickaction

import (
	"regexp"
	"strings"
)

type Type string

const (
	TypeApproveSend Type = "approve_send"
	TypeEscalate    Type = "escalate"
	TypeAddContext  Type = "add_context"
	TypeArchive     Type = "archive"
	TypeClose       Type = "close"
)

// Action is immutable once parsed. Assignee is set only for escalate, Note
// only for add_context.
type Action struct {
	Type     Type
	Assignee string
	Note     string
}

const moreContextNote = "Needs more context from the customer before we can respond."

var (
	escalateToPattern = regexp.MustCompile(`(?i)^escalate\s+to\s+(.+)$`)
	addContextPattern = regexp.MustCompile(`(?i)^add\s+context:?\s+(.+)$`)
	needsMorePattern  = regexp.MustCompile(`(?i)^needs?\s+more\s+context[.!]?$`)
)

// Parse recognizes at most one quick action per message; the first matching
// rule wins. An escalation without a capturable assignee is no match rather
// than a guess.
func Parse(text string) (Action, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Action{}, false
	}
	normalized := strings.ToLower(strings.Trim(text, " .!?"))

	if normalized == "approve and send" {
		return Action{Type: TypeApproveSend}, true
	}
	if m := escalateToPattern.FindStringSubmatch(text); len(m) == 2 {
		assignee := strings.Trim(strings.TrimSpace(m[1]), ".!?,")
		if assignee == "" {
			return Action{}, false
		}
		return Action{Type: TypeEscalate, Assignee: assignee}, true
	}
	if m := addContextPattern.FindStringSubmatch(text); len(m) == 2 {
		if note := strings.TrimSpace(m[1]); note != "" {
			return Action{Type: TypeAddContext, Note: note}, true
		}
	}
	if needsMorePattern.MatchString(text) {
		return Action{Type: TypeAddContext, Note: moreContextNote}, true
	}
	if normalized == "archive" {
		return Action{Type: TypeArchive}, true
	}
	if normalized == "close" {
		return Action{Type: TypeClose}, true
	}
	return Action{}, false
}

func (t Type) String() string { return string(t) }

// Describe renders the action for confirmation prompts and logs.
func (a Action) Describe() string {
	switch a.Type {
	case TypeApproveSend:
		return "approve and send the draft reply"
	case TypeEscalate:
		return "escalate to " + a.Assignee
	case TypeAddContext:
		return "add an internal note"
	case TypeArchive:
		return "archive the conversation"
	case TypeClose:
		return "close the conversation"
	default:
		return string(a.Type)
	}
}
