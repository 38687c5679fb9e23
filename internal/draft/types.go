package draft

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusDraft    Status = "draft"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusSent     Status = "sent"
)

type RefinementKind string

const (
	RefineSimplify     RefinementKind = "simplify"
	RefineFormalize    RefinementKind = "formalize"
	RefineShorten      RefinementKind = "shorten"
	RefineAddContent   RefinementKind = "add_content"
	RefineMentionTopic RefinementKind = "mention_topic"
)

// RefinementIntent is one revision instruction. Content is set for
// add_content, Topic for mention_topic.
type RefinementIntent struct {
	Kind    RefinementKind
	Content string
	Topic   string
}

// Version is append-only: once created it is never mutated. IDs form the
// contiguous sequence v0, v1, ... per thread.
type Version struct {
	ID        string
	Text      string
	CreatedAt time.Time
	Intent    *RefinementIntent
}

// ThreadState is the per-thread draft lifecycle. Index 0 of Versions is the
// original AI-generated draft; Status only moves draft → approved|rejected,
// with sent applied afterwards by the delivery side.
type ThreadState struct {
	ThreadID       string
	Versions       []Version
	Status         Status
	ApprovedAt     *time.Time
	RejectedAt     *time.Time
	SentAt         *time.Time
	RejectReason   string
	ConversationID string
	RecipientEmail string
}

// Current returns the newest version. Versions is non-empty by construction.
func (s ThreadState) Current() Version {
	return s.Versions[len(s.Versions)-1]
}

func versionID(index int) string {
	return fmt.Sprintf("v%d", index)
}

func cloneState(s ThreadState) ThreadState {
	cp := s
	cp.Versions = make([]Version, len(s.Versions))
	for i, v := range s.Versions {
		cv := v
		if v.Intent != nil {
			intent := *v.Intent
			cv.Intent = &intent
		}
		cp.Versions[i] = cv
	}
	cp.ApprovedAt = cloneTime(s.ApprovedAt)
	cp.RejectedAt = cloneTime(s.RejectedAt)
	cp.SentAt = cloneTime(s.SentAt)
	return cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
