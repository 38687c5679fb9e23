package crm

import (
	"context"
	"strings"
	"time"
)

type Status string

const (
	StatusOpen     Status = "open"
	StatusClosed   Status = "closed"
	StatusArchived Status = "archived"
)

type Conversation struct {
	ID           string
	Subject      string
	Status       Status
	Tags         []string
	AssigneeID   string
	CreatedAt    time.Time
	WaitingSince time.Time
	Link         string
}

// ConversationUpdate carries the mutable fields of a conversation. Nil
// fields are left untouched.
type ConversationUpdate struct {
	Status     *Status
	AssigneeID *string
}

// API is the verb set core components consume. The HTTP client implements
// it for production; tests use an in-memory fake.
type API interface {
	SearchConversations(ctx context.Context, query string) ([]Conversation, error)
	UpdateConversation(ctx context.Context, id string, update ConversationUpdate) error
	AddComment(ctx context.Context, id, body string) error
	CreateMessage(ctx context.Context, id, body string) error
}

func (c Conversation) HasTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, t := range c.Tags {
		if strings.ToLower(strings.TrimSpace(t)) == tag {
			return true
		}
	}
	return false
}
