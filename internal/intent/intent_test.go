package intent

import (
	"context"
	"testing"

	"github.com/oakpass/deskhand/llm"
)

func TestStripMention(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"<@U12345> what's urgent", "what's urgent"},
		{"<@U12345|deskhand> status", "status"},
		{"no mention here", "no mention here"},
		{"  <@UABCDE>  ", ""},
	}
	for _, tc := range cases {
		if got := StripMention(tc.in); got != tc.want {
			t.Fatalf("StripMention(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseEmptyMessage(t *testing.T) {
	c := NewClassifier(Options{})
	parsed := c.Parse(context.Background(), "<@U12345>")
	if parsed.Category != CategoryUnknown {
		t.Fatalf("category = %q, want unknown", parsed.Category)
	}
	if parsed.Confidence != 0.1 {
		t.Fatalf("confidence = %v, want 0.1", parsed.Confidence)
	}
}

func TestParseStatusKeywords(t *testing.T) {
	c := NewClassifier(Options{})
	for _, text := range []string{"what's urgent?", "show me pending tickets", "status please"} {
		parsed := c.Parse(context.Background(), text)
		if parsed.Category != CategoryStatusQuery {
			t.Fatalf("Parse(%q) category = %q, want status_query", text, parsed.Category)
		}
		if parsed.Confidence != 0.85 {
			t.Fatalf("Parse(%q) confidence = %v, want 0.85", text, parsed.Confidence)
		}
	}
}

func TestParseEscalationCapturesName(t *testing.T) {
	c := NewClassifier(Options{})
	parsed := c.Parse(context.Background(), "please escalate to Dana.")
	if parsed.Category != CategoryEscalation {
		t.Fatalf("category = %q, want escalation", parsed.Category)
	}
	if parsed.Entities["name"] != "Dana" {
		t.Fatalf("name entity = %q, want Dana", parsed.Entities["name"])
	}
}

func TestParseEmailLookup(t *testing.T) {
	c := NewClassifier(Options{})
	parsed := c.Parse(context.Background(), "any tickets from amy@example.com?")
	if parsed.Category != CategoryContextLookup {
		t.Fatalf("category = %q, want context_lookup", parsed.Category)
	}
	if parsed.Entities["email"] != "amy@example.com" {
		t.Fatalf("email entity = %q, want amy@example.com", parsed.Entities["email"])
	}
}

func TestParseWhoIsCapturesName(t *testing.T) {
	c := NewClassifier(Options{})
	parsed := c.Parse(context.Background(), "who is Marcus Webb?")
	if parsed.Category != CategoryContextLookup {
		t.Fatalf("category = %q, want context_lookup", parsed.Category)
	}
	if parsed.Entities["name"] != "Marcus Webb" {
		t.Fatalf("name entity = %q, want Marcus Webb", parsed.Entities["name"])
	}
}

func TestParseDraftKeywordsBeatEscalation(t *testing.T) {
	c := NewClassifier(Options{})
	parsed := c.Parse(context.Background(), "simplify the reply")
	if parsed.Category != CategoryDraftAction {
		t.Fatalf("category = %q, want draft_action", parsed.Category)
	}
}

func TestParseUnmatchedWithoutClientFallsToUnknown(t *testing.T) {
	c := NewClassifier(Options{})
	parsed := c.Parse(context.Background(), "bananas are on sale")
	if parsed.Category != CategoryUnknown {
		t.Fatalf("category = %q, want unknown", parsed.Category)
	}
	if parsed.Confidence != 0.2 {
		t.Fatalf("confidence = %v, want 0.2", parsed.Confidence)
	}
}

type scriptedLLM struct {
	text string
	err  error
}

func (s *scriptedLLM) Chat(_ context.Context, _ llm.Request) (llm.Response, error) {
	if s.err != nil {
		return llm.Response{}, s.err
	}
	return llm.Response{Text: s.text}, nil
}

func TestParseLLMFallbackClassifies(t *testing.T) {
	c := NewClassifier(Options{
		Client: &scriptedLLM{text: `{"category":"general_query","confidence":0.7,"entities":{"query":"billing refunds"}}`},
		Model:  "test-model",
	})
	parsed := c.Parse(context.Background(), "anything about billing refunds lately?")
	if parsed.Category != CategoryGeneralQuery {
		t.Fatalf("category = %q, want general_query", parsed.Category)
	}
	if parsed.Entities["query"] != "billing refunds" {
		t.Fatalf("query entity = %q, want billing refunds", parsed.Entities["query"])
	}
}

func TestParseLLMLowConfidenceBecomesUnknown(t *testing.T) {
	c := NewClassifier(Options{
		Client: &scriptedLLM{text: `{"category":"general_query","confidence":0.3}`},
		Model:  "test-model",
	})
	parsed := c.Parse(context.Background(), "hmm not sure what I want")
	if parsed.Category != CategoryUnknown {
		t.Fatalf("category = %q, want unknown", parsed.Category)
	}
}

func TestParseLLMInvalidEntityKeysDropped(t *testing.T) {
	c := NewClassifier(Options{
		Client: &scriptedLLM{text: `{"category":"context_lookup","confidence":0.8,"entities":{"email":"a@b.co","mood":"curious"}}`},
		Model:  "test-model",
	})
	parsed := c.Parse(context.Background(), "tell me about that one customer")
	if parsed.Entities["email"] != "a@b.co" {
		t.Fatalf("email entity = %q, want a@b.co", parsed.Entities["email"])
	}
	if _, ok := parsed.Entities["mood"]; ok {
		t.Fatalf("unexpected mood entity kept: %#v", parsed.Entities)
	}
}
