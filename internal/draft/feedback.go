package draft

import (
	"regexp"
	"strings"
)

type FeedbackKind string

const (
	FeedbackApprove FeedbackKind = "approve"
	FeedbackReject  FeedbackKind = "reject"
	FeedbackRefine  FeedbackKind = "refine"
)

// Feedback is the parsed reading of a human reply inside a draft thread.
type Feedback struct {
	Kind   FeedbackKind
	Reason string
	Intent RefinementIntent
}

var (
	approvalPhrases = []string{"looks good", "ship it", "send it", "approved", "approve", "lgtm"}
	rejectReplies   = []string{"reject", "rejected", "scrap it", "start over"}

	// Checked before the approval phrases: "don't send it" contains the
	// approval substring "send it" and must read as a rejection.
	negatedSendPhrases = []string{"don't send", "do not send", "dont send"}

	addContentPattern   = regexp.MustCompile(`(?i)^(?:add|include)\s+(.+)$`)
	mentionTopicPattern = regexp.MustCompile(`(?i)^mention\s+(?:the\s+)?(?:topic\s+)?(.+)$`)
)

// ParseFeedback reads free-text draft feedback. Matching order is fixed:
// negated send, approval, rejection, tone/length keywords, content addition,
// topic mention. Unmatched text yields no feedback so the caller can fall
// back to generic routing instead of guessing.
func ParseFeedback(text string) (Feedback, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Feedback{}, false
	}
	lower := strings.ToLower(strings.Trim(text, " .!?"))

	for _, phrase := range negatedSendPhrases {
		if strings.Contains(lower, phrase) {
			return Feedback{Kind: FeedbackReject, Reason: text}, true
		}
	}
	for _, phrase := range approvalPhrases {
		if strings.Contains(lower, phrase) {
			return Feedback{Kind: FeedbackApprove}, true
		}
	}
	for _, phrase := range rejectReplies {
		if strings.Contains(lower, phrase) {
			return Feedback{Kind: FeedbackReject, Reason: text}, true
		}
	}
	switch {
	case strings.Contains(lower, "simplif"), strings.Contains(lower, "simpler"), strings.Contains(lower, "plain language"):
		return Feedback{Kind: FeedbackRefine, Intent: RefinementIntent{Kind: RefineSimplify}}, true
	case strings.Contains(lower, "formal"), strings.Contains(lower, "professional"):
		return Feedback{Kind: FeedbackRefine, Intent: RefinementIntent{Kind: RefineFormalize}}, true
	case strings.Contains(lower, "shorten"), strings.Contains(lower, "shorter"), strings.Contains(lower, "too long"):
		return Feedback{Kind: FeedbackRefine, Intent: RefinementIntent{Kind: RefineShorten}}, true
	}
	if m := addContentPattern.FindStringSubmatch(text); len(m) == 2 {
		content := strings.Trim(strings.TrimSpace(m[1]), "[]")
		if content = strings.TrimSpace(content); content != "" {
			return Feedback{Kind: FeedbackRefine, Intent: RefinementIntent{Kind: RefineAddContent, Content: content}}, true
		}
	}
	if m := mentionTopicPattern.FindStringSubmatch(text); len(m) == 2 {
		if topic := strings.Trim(strings.TrimSpace(m[1]), ".!?,"); topic != "" {
			return Feedback{Kind: FeedbackRefine, Intent: RefinementIntent{Kind: RefineMentionTopic, Topic: topic}}, true
		}
	}
	return Feedback{}, false
}
