package intent

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/oakpass/deskhand/internal/jsonutil"
	"github.com/oakpass/deskhand/llm"
)

type Category string

const (
	CategoryStatusQuery   Category = "status_query"
	CategoryDraftAction   Category = "draft_action"
	CategoryContextLookup Category = "context_lookup"
	CategoryEscalation    Category = "escalation"
	CategoryQuickAction   Category = "quick_action"
	CategoryGeneralQuery  Category = "general_query"
	CategoryUnknown       Category = "unknown"
)

func ParseCategory(raw string) (Category, bool) {
	switch Category(strings.TrimSpace(strings.ToLower(raw))) {
	case CategoryStatusQuery:
		return CategoryStatusQuery, true
	case CategoryDraftAction:
		return CategoryDraftAction, true
	case CategoryContextLookup:
		return CategoryContextLookup, true
	case CategoryEscalation:
		return CategoryEscalation, true
	case CategoryQuickAction:
		return CategoryQuickAction, true
	case CategoryGeneralQuery:
		return CategoryGeneralQuery, true
	case CategoryUnknown:
		return CategoryUnknown, true
	default:
		return "", false
	}
}

// ParsedIntent is produced fresh per message and never persisted. Entities
// carries only the keys that actually matched.
type ParsedIntent struct {
	Category   Category
	Confidence float64
	Entities   map[string]string
	Raw        string
}

type Options struct {
	Client llm.Client
	Model  string
	Logger *slog.Logger
}

// Classifier layers deterministic keyword rules over an LLM fallback. The
// rule order is fixed: cheap specific patterns run first so common commands
// stay deterministic and never pay for a network call.
type Classifier struct {
	client llm.Client
	model  string
	logger *slog.Logger
}

func NewClassifier(opts Options) *Classifier {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		client: opts.Client,
		model:  strings.TrimSpace(opts.Model),
		logger: logger,
	}
}

var (
	mentionPattern  = regexp.MustCompile(`^<@[A-Z0-9]+(?:\|[^>]+)?>\s*`)
	emailPattern    = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	escalatePattern = regexp.MustCompile(`(?i)escalate\s+to\s+(.+)$`)
	whoIsPattern    = regexp.MustCompile(`(?i)who\s+is\s+(.+)$`)

	statusKeywords  = []string{"status", "urgent", "pending"}
	draftKeywords   = []string{"approve", "send", "simplify", "rewrite", "shorten"}
	contextKeywords = []string{"history", "who is", "lookup", "context"}
)

// StripMention removes a leading bot-mention token so downstream matchers
// see only the command text.
func StripMention(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(strings.TrimSpace(text), ""))
}

func (c *Classifier) Parse(ctx context.Context, raw string) ParsedIntent {
	text := StripMention(raw)
	if text == "" {
		return ParsedIntent{Category: CategoryUnknown, Confidence: 0.1, Raw: raw}
	}
	if parsed, ok := parseByRules(text); ok {
		parsed.Raw = raw
		return parsed
	}
	return c.parseViaLLM(ctx, text, raw)
}

func parseByRules(text string) (ParsedIntent, bool) {
	lower := strings.ToLower(text)

	if containsAny(lower, statusKeywords) {
		return ParsedIntent{Category: CategoryStatusQuery, Confidence: 0.85}, true
	}
	if containsAny(lower, draftKeywords) {
		return ParsedIntent{Category: CategoryDraftAction, Confidence: 0.8}, true
	}
	if strings.Contains(lower, "escalate") {
		parsed := ParsedIntent{Category: CategoryEscalation, Confidence: 0.8}
		if m := escalatePattern.FindStringSubmatch(text); len(m) == 2 {
			if name := strings.Trim(strings.TrimSpace(m[1]), ".!?,"); name != "" {
				parsed.Entities = map[string]string{"name": name}
			}
		}
		return parsed, true
	}
	if email := emailPattern.FindString(text); email != "" {
		return ParsedIntent{
			Category:   CategoryContextLookup,
			Confidence: 0.78,
			Entities:   map[string]string{"email": email},
		}, true
	}
	if containsAny(lower, contextKeywords) {
		parsed := ParsedIntent{Category: CategoryContextLookup, Confidence: 0.78}
		if m := whoIsPattern.FindStringSubmatch(text); len(m) == 2 {
			if name := strings.Trim(strings.TrimSpace(m[1]), ".!?,"); name != "" {
				parsed.Entities = map[string]string{"name": name}
			}
		}
		return parsed, true
	}
	return ParsedIntent{}, false
}

type llmClassification struct {
	Category   string            `json:"category"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities,omitempty"`
}

const classifySystemPrompt = `You classify support-bot chat messages.
Return strict JSON: {"category": "...", "confidence": 0..1, "entities": {...}}.
Category must be one of: status_query, draft_action, context_lookup, escalation, quick_action, general_query, unknown.
Entities may include email, name, query, product; omit keys you did not find.`

func (c *Classifier) parseViaLLM(ctx context.Context, text, raw string) ParsedIntent {
	unknown := ParsedIntent{Category: CategoryUnknown, Confidence: 0.2, Raw: raw}
	if c == nil || c.client == nil || c.model == "" {
		return unknown
	}
	res, err := c.client.Chat(ctx, llm.Request{
		Model:     c.model,
		ForceJSON: true,
		Messages: []llm.Message{
			{Role: "system", Content: classifySystemPrompt},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		c.logger.Error("intent_llm_error", "error", err.Error())
		return unknown
	}
	var out llmClassification
	if err := jsonutil.DecodeWithFallback(res.Text, &out); err != nil {
		c.logger.Warn("intent_llm_invalid_json", "error", err.Error())
		return unknown
	}
	category, ok := ParseCategory(out.Category)
	if !ok {
		category = CategoryUnknown
	}
	confidence := clamp01(out.Confidence)
	// A hedging classification is as useless as none; route it to the help text.
	if category == CategoryUnknown || confidence < 0.5 {
		unknown.Confidence = confidence
		return unknown
	}
	parsed := ParsedIntent{
		Category:   category,
		Confidence: confidence,
		Raw:        raw,
	}
	if entities := trimEntities(out.Entities); len(entities) > 0 {
		parsed.Entities = entities
	}
	c.logger.Debug("intent_llm_classified", "category", string(category), "confidence", confidence)
	return parsed
}

func trimEntities(entities map[string]string) map[string]string {
	if len(entities) == 0 {
		return nil
	}
	out := make(map[string]string, len(entities))
	for key, value := range entities {
		key = strings.TrimSpace(strings.ToLower(key))
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		switch key {
		case "email", "name", "query", "product":
			out[key] = value
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func containsAny(lower string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
